package reward

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pool-rewards/internal/domain"
	"github.com/pool-rewards/internal/ledger"
	"github.com/pool-rewards/internal/pool"
	"github.com/pool-rewards/internal/rank"
)

type fixture struct {
	pools       *pool.Engine
	ledger      *ledger.Ledger
	ranks       *rank.Engine
	coordinator *Coordinator
	poolID      string
}

func newFixture(t *testing.T, maxBalance, tokensPerUnit int64) *fixture {
	t.Helper()
	logger := slog.Default()

	pools := pool.NewEngine(logger)
	l := ledger.New(maxBalance, logger)
	ranks, err := rank.NewEngine([]domain.Badge{
		{ID: "rookie", Name: "Rookie", RequiredTokens: 0},
		{ID: "contender", Name: "Contender", RequiredTokens: 100},
		{ID: "champion", Name: "Champion", RequiredTokens: 500},
	}, logger)
	require.NoError(t, err)

	p, err := pools.CreatePool(domain.CreatePoolRequest{
		ChallengeID:     "challenge1",
		MinContribution: 10,
		MaxContribution: 1000,
	})
	require.NoError(t, err)

	return &fixture{
		pools:       pools,
		ledger:      l,
		ranks:       ranks,
		coordinator: NewCoordinator(pools, l, ranks, tokensPerUnit, logger),
		poolID:      p.ID,
	}
}

func (f *fixture) contribute(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, _, err := f.pools.Contribute(domain.ContributionRequest{
		PoolID: f.poolID, UserID: userID, Amount: amount,
	})
	require.NoError(t, err)
}

func TestFinalizeChallenge(t *testing.T) {
	f := newFixture(t, 0, 1)
	f.contribute(t, "A", 50)
	f.contribute(t, "B", 30)
	f.contribute(t, "C", 20)

	result, err := f.coordinator.FinalizeChallenge(f.poolID, []domain.RankedParticipant{
		{UserID: "A", Rank: 1},
		{UserID: "B", Rank: 2},
		{UserID: "C", Rank: 3},
	})
	require.NoError(t, err)

	// Pool total 100 on the standard split settles as 58/26/16.
	assert.Equal(t, int64(58), f.ledger.Balance("A"))
	assert.Equal(t, int64(26), f.ledger.Balance("B"))
	assert.Equal(t, int64(16), f.ledger.Balance("C"))

	assert.Equal(t, int64(58), f.ranks.GetUserRank("A").TotalTokensEarned)
	assert.Equal(t, int64(26), f.ranks.GetUserRank("B").TotalTokensEarned)
	assert.Len(t, result.UpdatedRanks, 3)

	got, err := f.pools.GetPool(f.poolID)
	require.NoError(t, err)
	assert.True(t, got.IsDistributed)

	var paid int64
	for _, payout := range result.Plan.Payouts {
		paid += payout.Amount
	}
	assert.Equal(t, result.Plan.TotalAmount, paid+result.Plan.PlatformCut)
}

func TestFinalizeChallengeTwice(t *testing.T) {
	f := newFixture(t, 0, 1)
	f.contribute(t, "A", 100)

	ranked := []domain.RankedParticipant{{UserID: "A", Rank: 1}}

	_, err := f.coordinator.FinalizeChallenge(f.poolID, ranked)
	require.NoError(t, err)

	_, err = f.coordinator.FinalizeChallenge(f.poolID, ranked)
	assert.ErrorIs(t, err, domain.ErrAlreadyDistributed)
	assert.Equal(t, int64(100), f.ledger.Balance("A"), "a repeated finalize must not pay twice")
}

func TestFinalizeChallengeTokenConversion(t *testing.T) {
	f := newFixture(t, 0, 10)
	f.contribute(t, "A", 100)

	_, err := f.coordinator.FinalizeChallenge(f.poolID, []domain.RankedParticipant{
		{UserID: "A", Rank: 1},
	})
	require.NoError(t, err)

	// Payout of 100 minor units at 10 tokens per unit.
	assert.Equal(t, int64(100), f.ledger.Balance("A"))
	r := f.ranks.GetUserRank("A")
	assert.Equal(t, int64(1000), r.TotalTokensEarned)
	assert.Equal(t, "champion", r.CurrentBadge.ID)
}

func TestFinalizeChallengeBalanceCapAborts(t *testing.T) {
	f := newFixture(t, 100, 1)
	f.contribute(t, "A", 60)
	f.contribute(t, "B", 40)

	// A already sits near the cap, so its payout cannot be credited.
	_, err := f.ledger.Credit("A", 90)
	require.NoError(t, err)

	_, err = f.coordinator.FinalizeChallenge(f.poolID, []domain.RankedParticipant{
		{UserID: "A", Rank: 1},
		{UserID: "B", Rank: 2},
	})
	assert.ErrorIs(t, err, domain.ErrBalanceCapExceeded)

	// Nothing moved on either store and the pool is untouched.
	assert.Equal(t, int64(90), f.ledger.Balance("A"))
	assert.Equal(t, int64(0), f.ledger.Balance("B"))
	assert.Equal(t, int64(0), f.ranks.GetUserRank("A").TotalTokensEarned)
	assert.Equal(t, int64(0), f.ranks.GetUserRank("B").TotalTokensEarned)

	got, err := f.pools.GetPool(f.poolID)
	require.NoError(t, err)
	assert.False(t, got.IsDistributed, "a failed distribution leaves the pool open")

	// The pool still accepts contributions and a later finalize.
	f.contribute(t, "C", 10)
}

func TestFinalizeChallengeUnknownPool(t *testing.T) {
	f := newFixture(t, 0, 1)

	_, err := f.coordinator.FinalizeChallenge("missing", []domain.RankedParticipant{
		{UserID: "A", Rank: 1},
	})
	assert.ErrorIs(t, err, domain.ErrPoolNotFound)
}

func TestFinalizeChallengeEmptyRanking(t *testing.T) {
	f := newFixture(t, 0, 1)
	f.contribute(t, "A", 100)

	_, err := f.coordinator.FinalizeChallenge(f.poolID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	got, err := f.pools.GetPool(f.poolID)
	require.NoError(t, err)
	assert.False(t, got.IsDistributed)
}

func TestNewCoordinatorDefaultsTokensPerUnit(t *testing.T) {
	f := newFixture(t, 0, 0)
	assert.Equal(t, int64(1), f.coordinator.TokensPerUnit())
}
