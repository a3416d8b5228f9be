package pool

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pool-rewards/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(slog.Default())
}

func createTestPool(t *testing.T, e *Engine, challengeID string) domain.ChallengePool {
	t.Helper()
	p, err := e.CreatePool(domain.CreatePoolRequest{
		ChallengeID:     challengeID,
		MinContribution: 10,
		MaxContribution: 100,
	})
	require.NoError(t, err)
	return p
}

func TestCreatePool(t *testing.T) {
	e := newTestEngine(t)

	p := createTestPool(t, e, "challenge1")
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "challenge1", p.ChallengeID)
	assert.Equal(t, domain.StrategyStandard, p.Strategy, "strategy defaults to standard")
	assert.False(t, p.IsDistributed)

	got, err := e.GetPool(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	got, err = e.PoolByChallenge("challenge1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestCreatePoolValidation(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.CreatePool(domain.CreatePoolRequest{MinContribution: 10, MaxContribution: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration, "challenge id is required")

	_, err = e.CreatePool(domain.CreatePoolRequest{
		ChallengeID:     "c1",
		MinContribution: 0,
		MaxContribution: 100,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration, "min must be positive")

	_, err = e.CreatePool(domain.CreatePoolRequest{
		ChallengeID:     "c1",
		MinContribution: 200,
		MaxContribution: 100,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration, "min must not exceed max")

	_, err = e.CreatePool(domain.CreatePoolRequest{
		ChallengeID:     "c1",
		MinContribution: 10,
		MaxContribution: 100,
		Strategy:        domain.StrategyCustom,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration, "custom strategy needs percentages")

	_, err = e.CreatePool(domain.CreatePoolRequest{
		ChallengeID:     "c1",
		MinContribution: 10,
		MaxContribution: 100,
		Strategy:        domain.StrategyCustom,
		CustomDistribution: &domain.CustomDistribution{
			FirstPlace: 50, SecondPlace: 20, ThirdPlace: 10, Participation: 10, Platform: 5,
		},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration, "custom percentages must sum to 100")

	createTestPool(t, e, "c1")
	_, err = e.CreatePool(domain.CreatePoolRequest{
		ChallengeID:     "c1",
		MinContribution: 10,
		MaxContribution: 100,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration, "one pool per challenge")
}

func TestContribute(t *testing.T) {
	e := newTestEngine(t)
	p := createTestPool(t, e, "challenge1")

	updated, contribution, err := e.Contribute(domain.ContributionRequest{
		PoolID: p.ID, UserID: "alice", Amount: 50,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, contribution.ID)
	assert.Equal(t, int64(50), updated.TotalAmount)

	updated, _, err = e.Contribute(domain.ContributionRequest{
		PoolID: p.ID, UserID: "bob", Amount: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(80), updated.TotalAmount)
	assert.Len(t, updated.Contributions, 2)
}

func TestContributeOutOfBounds(t *testing.T) {
	e := newTestEngine(t)
	p := createTestPool(t, e, "challenge1")

	_, _, err := e.Contribute(domain.ContributionRequest{PoolID: p.ID, UserID: "alice", Amount: 5})
	assert.ErrorIs(t, err, domain.ErrOutOfBounds)

	_, _, err = e.Contribute(domain.ContributionRequest{PoolID: p.ID, UserID: "alice", Amount: 101})
	assert.ErrorIs(t, err, domain.ErrOutOfBounds)

	got, err := e.GetPool(p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TotalAmount, "rejected contributions must not change the total")
	assert.Empty(t, got.Contributions)

	// Boundary values are accepted.
	_, _, err = e.Contribute(domain.ContributionRequest{PoolID: p.ID, UserID: "alice", Amount: 10})
	assert.NoError(t, err)
	_, _, err = e.Contribute(domain.ContributionRequest{PoolID: p.ID, UserID: "alice", Amount: 100})
	assert.NoError(t, err)
}

func TestContributeUnknownPool(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Contribute(domain.ContributionRequest{PoolID: "missing", UserID: "alice", Amount: 50})
	assert.ErrorIs(t, err, domain.ErrPoolNotFound)
}

func TestContributeAfterDistribution(t *testing.T) {
	e := newTestEngine(t)
	p := createTestPool(t, e, "challenge1")

	_, _, err := e.Contribute(domain.ContributionRequest{PoolID: p.ID, UserID: "alice", Amount: 50})
	require.NoError(t, err)
	require.NoError(t, e.MarkDistributed(p.ID))

	_, _, err = e.Contribute(domain.ContributionRequest{PoolID: p.ID, UserID: "bob", Amount: 50})
	assert.ErrorIs(t, err, domain.ErrPoolClosed)
}

func TestMarkDistributedIsTerminal(t *testing.T) {
	e := newTestEngine(t)
	p := createTestPool(t, e, "challenge1")

	require.NoError(t, e.MarkDistributed(p.ID))

	got, err := e.GetPool(p.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDistributed)
	require.NotNil(t, got.DistributedAt)

	err = e.MarkDistributed(p.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyDistributed)
}

func TestComputeDistributionDoesNotMutate(t *testing.T) {
	e := newTestEngine(t)
	p := createTestPool(t, e, "challenge1")

	_, _, err := e.Contribute(domain.ContributionRequest{PoolID: p.ID, UserID: "alice", Amount: 100})
	require.NoError(t, err)

	ranked := []domain.RankedParticipant{{UserID: "alice", Rank: 1}}
	plan, err := e.ComputeDistribution(p.ID, ranked)
	require.NoError(t, err)
	assert.Equal(t, int64(100), plan.TotalAmount)

	got, err := e.GetPool(p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDistributed, "computing a plan must not close the pool")

	// Still computable and contributable.
	_, err = e.ComputeDistribution(p.ID, ranked)
	assert.NoError(t, err)
}

func TestFinalize(t *testing.T) {
	e := newTestEngine(t)
	p := createTestPool(t, e, "challenge1")

	_, _, err := e.Contribute(domain.ContributionRequest{PoolID: p.ID, UserID: "alice", Amount: 60})
	require.NoError(t, err)
	_, _, err = e.Contribute(domain.ContributionRequest{PoolID: p.ID, UserID: "bob", Amount: 40})
	require.NoError(t, err)

	ranked := []domain.RankedParticipant{
		{UserID: "alice", Rank: 1},
		{UserID: "bob", Rank: 2},
	}

	var committed *domain.DistributionPlan
	plan, err := e.Finalize(p.ID, ranked, func(plan *domain.DistributionPlan) error {
		committed = plan
		return nil
	})
	require.NoError(t, err)
	assert.Same(t, committed, plan)

	got, err := e.GetPool(p.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDistributed)

	_, err = e.Finalize(p.ID, ranked, func(*domain.DistributionPlan) error { return nil })
	assert.ErrorIs(t, err, domain.ErrAlreadyDistributed)
}

func TestFinalizeCommitFailureLeavesPoolOpen(t *testing.T) {
	e := newTestEngine(t)
	p := createTestPool(t, e, "challenge1")

	_, _, err := e.Contribute(domain.ContributionRequest{PoolID: p.ID, UserID: "alice", Amount: 100})
	require.NoError(t, err)

	ranked := []domain.RankedParticipant{{UserID: "alice", Rank: 1}}
	commitErr := errors.New("commit failed")

	_, err = e.Finalize(p.ID, ranked, func(*domain.DistributionPlan) error { return commitErr })
	assert.ErrorIs(t, err, commitErr)

	got, err := e.GetPool(p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDistributed, "failed commit must leave the pool open")

	// A later finalize succeeds.
	_, err = e.Finalize(p.ID, ranked, func(*domain.DistributionPlan) error { return nil })
	assert.NoError(t, err)
}

func TestConcurrentContributions(t *testing.T) {
	e := newTestEngine(t)
	p := createTestPool(t, e, "challenge1")

	const workers = 20
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, _, err := e.Contribute(domain.ContributionRequest{
					PoolID: p.ID, UserID: "alice", Amount: 10,
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := e.GetPool(p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker*10), got.TotalAmount)
	assert.Len(t, got.Contributions, workers*perWorker)
}

func TestSnapshotRestore(t *testing.T) {
	e := newTestEngine(t)
	p := createTestPool(t, e, "challenge1")

	_, _, err := e.Contribute(domain.ContributionRequest{PoolID: p.ID, UserID: "alice", Amount: 50})
	require.NoError(t, err)

	snap := e.Snapshot()
	require.Len(t, snap, 1)

	// Corrupt the stored total; restore repairs it from contributions.
	snap[0].TotalAmount = 999

	restored := newTestEngine(t)
	restored.Restore(snap)

	got, err := restored.GetPool(p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.TotalAmount)

	got, err = restored.PoolByChallenge("challenge1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}
