package ledger

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pool-rewards/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestCreditAndBalance(t *testing.T) {
	l := New(0, testLogger())

	assert.Equal(t, int64(0), l.Balance("alice"), "unknown user should hold zero")

	balance, err := l.Credit("alice", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	balance, err = l.Credit("alice", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance)
	assert.Equal(t, int64(150), l.Balance("alice"))
}

func TestCreditInvalidAmount(t *testing.T) {
	l := New(0, testLogger())

	_, err := l.Credit("alice", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = l.Credit("alice", -10)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	assert.Equal(t, int64(0), l.Balance("alice"))
}

func TestCreditBalanceCap(t *testing.T) {
	l := New(100, testLogger())

	_, err := l.Credit("alice", 80)
	require.NoError(t, err)

	_, err = l.Credit("alice", 30)
	assert.ErrorIs(t, err, domain.ErrBalanceCapExceeded)
	assert.Equal(t, int64(80), l.Balance("alice"), "failed credit must not change the balance")

	balance, err := l.Credit("alice", 20)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance, "crediting exactly to the cap is allowed")
}

func TestDebit(t *testing.T) {
	l := New(0, testLogger())

	_, err := l.Credit("alice", 100)
	require.NoError(t, err)

	balance, err := l.Debit("alice", 40)
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)

	_, err = l.Debit("alice", 100)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(60), l.Balance("alice"))

	_, err = l.Debit("alice", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	balance, err = l.Debit("alice", 60)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance, "debiting down to zero is allowed")
}

func TestDebitUnknownUser(t *testing.T) {
	l := New(0, testLogger())

	_, err := l.Debit("nobody", 10)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestTransfer(t *testing.T) {
	l := New(0, testLogger())

	_, err := l.Credit("alice", 100)
	require.NoError(t, err)

	err = l.Transfer("alice", "bob", 40)
	require.NoError(t, err)
	assert.Equal(t, int64(60), l.Balance("alice"))
	assert.Equal(t, int64(40), l.Balance("bob"))
}

func TestTransferAtomicity(t *testing.T) {
	l := New(100, testLogger())

	_, err := l.Credit("alice", 100)
	require.NoError(t, err)
	_, err = l.Credit("bob", 90)
	require.NoError(t, err)

	// Sender has funds but the receiver would blow the cap.
	err = l.Transfer("alice", "bob", 50)
	assert.ErrorIs(t, err, domain.ErrBalanceCapExceeded)
	assert.Equal(t, int64(100), l.Balance("alice"), "failed transfer must not debit the sender")
	assert.Equal(t, int64(90), l.Balance("bob"))

	// Insufficient funds on the sender side.
	err = l.Transfer("bob", "carol", 200)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(90), l.Balance("bob"))
	assert.Equal(t, int64(0), l.Balance("carol"))

	err = l.Transfer("alice", "bob", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCreditBatchAtomicity(t *testing.T) {
	l := New(100, testLogger())

	_, err := l.Credit("bob", 90)
	require.NoError(t, err)

	// One credit in the batch exceeds the cap so none may apply.
	_, err = l.CreditBatch(map[string]int64{
		"alice": 50,
		"bob":   20,
	})
	assert.ErrorIs(t, err, domain.ErrBalanceCapExceeded)
	assert.Equal(t, int64(0), l.Balance("alice"))
	assert.Equal(t, int64(90), l.Balance("bob"))

	_, err = l.CreditBatch(map[string]int64{
		"alice": 50,
		"bob":   0,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, int64(0), l.Balance("alice"))

	updated, err := l.CreditBatch(map[string]int64{
		"alice": 50,
		"bob":   10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), updated["alice"])
	assert.Equal(t, int64(100), updated["bob"])
}

func TestSnapshotRestore(t *testing.T) {
	l := New(0, testLogger())

	_, err := l.Credit("alice", 100)
	require.NoError(t, err)
	_, err = l.Credit("bob", 50)
	require.NoError(t, err)

	snap := l.Snapshot()
	assert.Equal(t, map[string]int64{"alice": 100, "bob": 50}, snap)

	// Mutating the snapshot must not affect the ledger.
	snap["alice"] = 0
	assert.Equal(t, int64(100), l.Balance("alice"))

	restored := New(0, testLogger())
	restored.Restore(map[string]int64{
		"alice": 100,
		"bob":   50,
		"evil":  -10,
	})
	assert.Equal(t, int64(100), restored.Balance("alice"))
	assert.Equal(t, int64(50), restored.Balance("bob"))
	assert.Equal(t, int64(0), restored.Balance("evil"), "negative snapshot entries are skipped")
}
