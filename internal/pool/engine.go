package pool

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pool-rewards/internal/domain"
)

// Engine owns the lifecycle of challenge pools. Every mutating operation
// on a given pool is serialized through that pool's mutex; operations on
// different pools proceed in parallel.
type Engine struct {
	mu          sync.RWMutex
	pools       map[string]*poolState
	byChallenge map[string]string
	logger      *slog.Logger
}

type poolState struct {
	mu   sync.Mutex
	pool domain.ChallengePool
}

// NewEngine creates an empty pool engine
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		pools:       make(map[string]*poolState),
		byChallenge: make(map[string]string),
		logger:      logger,
	}
}

// CreatePool creates the contribution pool for a challenge. A challenge
// carries at most one pool.
func (e *Engine) CreatePool(req domain.CreatePoolRequest) (domain.ChallengePool, error) {
	if req.ChallengeID == "" {
		return domain.ChallengePool{}, fmt.Errorf("creating pool: challenge id required: %w", domain.ErrInvalidConfiguration)
	}
	if req.MinContribution <= 0 || req.MinContribution > req.MaxContribution {
		return domain.ChallengePool{}, fmt.Errorf("creating pool for challenge %s: bounds [%d, %d]: %w",
			req.ChallengeID, req.MinContribution, req.MaxContribution, domain.ErrInvalidConfiguration)
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = domain.StrategyStandard
	}
	var custom *domain.CustomDistribution
	switch strategy {
	case domain.StrategyStandard:
	case domain.StrategyCustom:
		if req.CustomDistribution == nil {
			return domain.ChallengePool{}, fmt.Errorf("creating pool for challenge %s: custom strategy without percentages: %w",
				req.ChallengeID, domain.ErrInvalidConfiguration)
		}
		if total := req.CustomDistribution.Total(); total != 100 {
			return domain.ChallengePool{}, fmt.Errorf("creating pool for challenge %s: custom percentages sum to %d: %w",
				req.ChallengeID, total, domain.ErrInvalidConfiguration)
		}
		d := *req.CustomDistribution
		custom = &d
	default:
		return domain.ChallengePool{}, fmt.Errorf("creating pool for challenge %s: unknown strategy %q: %w",
			req.ChallengeID, strategy, domain.ErrInvalidConfiguration)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.byChallenge[req.ChallengeID]; ok {
		return domain.ChallengePool{}, fmt.Errorf("creating pool for challenge %s: pool %s already exists: %w",
			req.ChallengeID, existing, domain.ErrInvalidConfiguration)
	}

	p := domain.ChallengePool{
		ID:                 uuid.New().String(),
		ChallengeID:        req.ChallengeID,
		MinContribution:    req.MinContribution,
		MaxContribution:    req.MaxContribution,
		Strategy:           strategy,
		CustomDistribution: custom,
		CreatedAt:          time.Now(),
	}
	e.pools[p.ID] = &poolState{pool: p}
	e.byChallenge[p.ChallengeID] = p.ID

	e.logger.Info("pool created",
		"pool_id", p.ID,
		"challenge_id", p.ChallengeID,
		"strategy", string(p.Strategy),
	)
	return p, nil
}

func (e *Engine) state(poolID string) (*poolState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.pools[poolID]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", poolID, domain.ErrPoolNotFound)
	}
	return st, nil
}

// snapshot returns a deep copy so callers never observe a pool mid-mutation.
// Callers must hold st.mu.
func snapshot(st *poolState) domain.ChallengePool {
	p := st.pool
	p.Contributions = make([]domain.PoolContribution, len(st.pool.Contributions))
	copy(p.Contributions, st.pool.Contributions)
	if st.pool.CustomDistribution != nil {
		d := *st.pool.CustomDistribution
		p.CustomDistribution = &d
	}
	if st.pool.DistributedAt != nil {
		t := *st.pool.DistributedAt
		p.DistributedAt = &t
	}
	return p
}

// GetPool returns a snapshot of a pool
func (e *Engine) GetPool(poolID string) (domain.ChallengePool, error) {
	st, err := e.state(poolID)
	if err != nil {
		return domain.ChallengePool{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return snapshot(st), nil
}

// PoolByChallenge returns the pool snapshot for a challenge
func (e *Engine) PoolByChallenge(challengeID string) (domain.ChallengePool, error) {
	e.mu.RLock()
	poolID, ok := e.byChallenge[challengeID]
	e.mu.RUnlock()
	if !ok {
		return domain.ChallengePool{}, fmt.Errorf("challenge %s: %w", challengeID, domain.ErrPoolNotFound)
	}
	return e.GetPool(poolID)
}

// ListPools returns snapshots of all pools
func (e *Engine) ListPools() []domain.ChallengePool {
	e.mu.RLock()
	states := make([]*poolState, 0, len(e.pools))
	for _, st := range e.pools {
		states = append(states, st)
	}
	e.mu.RUnlock()

	pools := make([]domain.ChallengePool, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		pools = append(pools, snapshot(st))
		st.mu.Unlock()
	}
	return pools
}

// Contribute appends a stake to a pool and returns the contribution and
// the updated pool snapshot. Rejected once the pool is distributed or when
// the amount falls outside the pool's bounds.
func (e *Engine) Contribute(req domain.ContributionRequest) (domain.ChallengePool, domain.PoolContribution, error) {
	if req.UserID == "" {
		return domain.ChallengePool{}, domain.PoolContribution{},
			fmt.Errorf("contributing to pool %s: user id required: %w", req.PoolID, domain.ErrInvalidRequest)
	}

	st, err := e.state(req.PoolID)
	if err != nil {
		return domain.ChallengePool{}, domain.PoolContribution{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pool.IsDistributed {
		return domain.ChallengePool{}, domain.PoolContribution{},
			fmt.Errorf("contributing %d to pool %s for user %s: %w",
				req.Amount, req.PoolID, req.UserID, domain.ErrPoolClosed)
	}
	if req.Amount < st.pool.MinContribution || req.Amount > st.pool.MaxContribution {
		return domain.ChallengePool{}, domain.PoolContribution{},
			fmt.Errorf("contributing %d to pool %s for user %s (bounds [%d, %d]): %w",
				req.Amount, req.PoolID, req.UserID,
				st.pool.MinContribution, st.pool.MaxContribution, domain.ErrOutOfBounds)
	}

	contribution := domain.PoolContribution{
		ID:        uuid.New().String(),
		PoolID:    st.pool.ID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Timestamp: time.Now(),
	}
	st.pool.Contributions = append(st.pool.Contributions, contribution)
	st.pool.TotalAmount += req.Amount

	return snapshot(st), contribution, nil
}

// ComputeDistribution computes the distribution plan for a pool without
// mutating any state.
func (e *Engine) ComputeDistribution(poolID string, ranked []domain.RankedParticipant) (*domain.DistributionPlan, error) {
	st, err := e.state(poolID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pool.IsDistributed {
		return nil, fmt.Errorf("computing distribution for pool %s: %w", poolID, domain.ErrAlreadyDistributed)
	}
	return computePlan(&st.pool, ranked, time.Now())
}

// MarkDistributed transitions a pool to its terminal distributed state.
// The transition happens exactly once.
func (e *Engine) MarkDistributed(poolID string) error {
	st, err := e.state(poolID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return markDistributedLocked(st)
}

func markDistributedLocked(st *poolState) error {
	if st.pool.IsDistributed {
		return fmt.Errorf("marking pool %s distributed: %w", st.pool.ID, domain.ErrAlreadyDistributed)
	}
	now := time.Now()
	st.pool.IsDistributed = true
	st.pool.DistributedAt = &now
	return nil
}

// Finalize computes the distribution plan, runs commit under the pool's
// lock, and marks the pool distributed only if commit succeeds. The lock
// spans the whole sequence so no contribution can slip in between the
// plan being computed and the pool closing.
func (e *Engine) Finalize(poolID string, ranked []domain.RankedParticipant, commit func(*domain.DistributionPlan) error) (*domain.DistributionPlan, error) {
	st, err := e.state(poolID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pool.IsDistributed {
		return nil, fmt.Errorf("finalizing pool %s: %w", poolID, domain.ErrAlreadyDistributed)
	}

	plan, err := computePlan(&st.pool, ranked, time.Now())
	if err != nil {
		return nil, err
	}
	if err := commit(plan); err != nil {
		return nil, err
	}
	if err := markDistributedLocked(st); err != nil {
		return nil, err
	}

	e.logger.Info("pool distributed",
		"pool_id", poolID,
		"total_amount", plan.TotalAmount,
		"payouts", len(plan.Payouts),
		"platform_cut", plan.PlatformCut,
	)
	return plan, nil
}

// Snapshot returns deep copies of all pools, for persistence.
func (e *Engine) Snapshot() []domain.ChallengePool {
	return e.ListPools()
}

// Restore loads pools from persisted state, replacing current state.
// Used at startup recovery before any traffic is served.
func (e *Engine) Restore(pools []domain.ChallengePool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pools = make(map[string]*poolState, len(pools))
	e.byChallenge = make(map[string]string, len(pools))
	for _, p := range pools {
		var total int64
		for _, c := range p.Contributions {
			total += c.Amount
		}
		if total != p.TotalAmount {
			e.logger.Warn("repairing pool total from contributions",
				"pool_id", p.ID, "stored", p.TotalAmount, "computed", total)
			p.TotalAmount = total
		}
		e.pools[p.ID] = &poolState{pool: p}
		e.byChallenge[p.ChallengeID] = p.ID
	}
}
