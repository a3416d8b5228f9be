package ledger

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pool-rewards/internal/domain"
)

// Ledger maintains per-user virtual-currency balances. Balances are
// integers in minor currency units and never go negative. A zero
// maxBalance disables the cap.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[string]int64
	maxBalance int64
	logger     *slog.Logger
}

// New creates a ledger. maxBalance of 0 means uncapped.
func New(maxBalance int64, logger *slog.Logger) *Ledger {
	return &Ledger{
		balances:   make(map[string]int64),
		maxBalance: maxBalance,
		logger:     logger,
	}
}

// Balance returns a user's current balance. Unknown users hold zero.
func (l *Ledger) Balance(userID string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[userID]
}

// Credit increases a user's balance and returns the new balance.
func (l *Ledger) Credit(userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("crediting user %s with %d: %w", userID, amount, domain.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxBalance > 0 && l.balances[userID]+amount > l.maxBalance {
		return 0, fmt.Errorf("crediting user %s with %d would exceed cap %d: %w",
			userID, amount, l.maxBalance, domain.ErrBalanceCapExceeded)
	}

	l.balances[userID] += amount
	return l.balances[userID], nil
}

// Debit decreases a user's balance and returns the new balance.
func (l *Ledger) Debit(userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debiting user %s with %d: %w", userID, amount, domain.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.balances[userID] {
		return 0, fmt.Errorf("debiting user %s with %d (balance %d): %w",
			userID, amount, l.balances[userID], domain.ErrInsufficientFunds)
	}

	l.balances[userID] -= amount
	return l.balances[userID], nil
}

// Transfer moves funds between two users. All-or-nothing: on failure
// neither balance changes.
func (l *Ledger) Transfer(fromUserID, toUserID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transferring %d from %s to %s: %w",
			amount, fromUserID, toUserID, domain.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.balances[fromUserID] {
		return fmt.Errorf("transferring %d from %s (balance %d): %w",
			amount, fromUserID, l.balances[fromUserID], domain.ErrInsufficientFunds)
	}
	if l.maxBalance > 0 && l.balances[toUserID]+amount > l.maxBalance {
		return fmt.Errorf("transferring %d to %s would exceed cap %d: %w",
			amount, toUserID, l.maxBalance, domain.ErrBalanceCapExceeded)
	}

	l.balances[fromUserID] -= amount
	l.balances[toUserID] += amount
	return nil
}

// CreditBatch applies a set of credits atomically: every credit is
// validated against the balance cap first and nothing is applied unless
// all pass. Returns the new balances keyed by user.
func (l *Ledger) CreditBatch(credits map[string]int64) (map[string]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Validate the whole batch before touching any balance.
	for userID, amount := range credits {
		if amount <= 0 {
			return nil, fmt.Errorf("crediting user %s with %d: %w", userID, amount, domain.ErrInvalidAmount)
		}
		if l.maxBalance > 0 && l.balances[userID]+amount > l.maxBalance {
			return nil, fmt.Errorf("crediting user %s with %d would exceed cap %d: %w",
				userID, amount, l.maxBalance, domain.ErrBalanceCapExceeded)
		}
	}

	updated := make(map[string]int64, len(credits))
	for userID, amount := range credits {
		l.balances[userID] += amount
		updated[userID] = l.balances[userID]
	}
	return updated, nil
}

// Snapshot returns a copy of all balances, for persistence.
func (l *Ledger) Snapshot() map[string]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]int64, len(l.balances))
	for userID, balance := range l.balances {
		out[userID] = balance
	}
	return out
}

// Restore loads balances from a persisted snapshot, replacing current state.
// Used at startup recovery before any traffic is served.
func (l *Ledger) Restore(balances map[string]int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances = make(map[string]int64, len(balances))
	for userID, balance := range balances {
		if balance < 0 {
			l.logger.Warn("skipping negative balance in snapshot", "user_id", userID, "balance", balance)
			continue
		}
		l.balances[userID] = balance
	}
}
