package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pool-rewards/internal/config"
	"github.com/pool-rewards/internal/domain"
)

// Event types recorded in the reward_events audit table
const (
	EventTypeContribution = "contribution"
	EventTypePayout       = "payout"
	EventTypePlatformCut  = "platform_cut"
)

// Repository provides PostgreSQL-based durable storage for pools,
// contributions, balances and rank progression. The engines own the live
// state; this layer is the recovery source and audit trail.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS challenge_pools (
			id VARCHAR(64) PRIMARY KEY,
			challenge_id VARCHAR(64) NOT NULL UNIQUE,
			total_amount BIGINT NOT NULL DEFAULT 0,
			min_contribution BIGINT NOT NULL,
			max_contribution BIGINT NOT NULL,
			strategy VARCHAR(20) NOT NULL DEFAULT 'standard',
			custom_distribution JSONB,
			is_distributed BOOLEAN NOT NULL DEFAULT FALSE,
			distributed_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS pool_contributions (
			id VARCHAR(64) PRIMARY KEY,
			pool_id VARCHAR(64) NOT NULL REFERENCES challenge_pools(id) ON DELETE CASCADE,
			user_id VARCHAR(64) NOT NULL,
			amount BIGINT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS balances (
			user_id VARCHAR(64) PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_ranks (
			user_id VARCHAR(64) PRIMARY KEY,
			total_tokens BIGINT NOT NULL DEFAULT 0,
			current_badge_id VARCHAR(64),
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS badge_awards (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			badge_id VARCHAR(64) NOT NULL,
			badge_name VARCHAR(255) NOT NULL,
			earned_at TIMESTAMP NOT NULL,
			UNIQUE(user_id, badge_id)
		)`,
		`CREATE TABLE IF NOT EXISTS reward_events (
			id BIGSERIAL PRIMARY KEY,
			pool_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64),
			amount BIGINT NOT NULL,
			event_type VARCHAR(20) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contributions_pool ON pool_contributions(pool_id)`,
		`CREATE INDEX IF NOT EXISTS idx_contributions_user ON pool_contributions(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_badge_awards_user ON badge_awards(user_id, earned_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reward_events_pool ON reward_events(pool_id, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// UpsertPool persists a pool's configuration and running totals
func (r *Repository) UpsertPool(ctx context.Context, p domain.ChallengePool) error {
	var customJSON []byte
	var err error
	if p.CustomDistribution != nil {
		customJSON, err = json.Marshal(p.CustomDistribution)
		if err != nil {
			return fmt.Errorf("marshaling custom distribution: %w", err)
		}
	}

	query := `
		INSERT INTO challenge_pools
			(id, challenge_id, total_amount, min_contribution, max_contribution,
			 strategy, custom_distribution, is_distributed, distributed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id)
		DO UPDATE SET total_amount = $3, is_distributed = $8, distributed_at = $9
	`
	_, err = r.pool.Exec(ctx, query,
		p.ID,
		p.ChallengeID,
		p.TotalAmount,
		p.MinContribution,
		p.MaxContribution,
		string(p.Strategy),
		customJSON,
		p.IsDistributed,
		p.DistributedAt,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting pool: %w", err)
	}
	return nil
}

// MarkPoolDistributed persists a pool's terminal distributed state
func (r *Repository) MarkPoolDistributed(ctx context.Context, poolID string, distributedAt time.Time) error {
	query := `UPDATE challenge_pools SET is_distributed = TRUE, distributed_at = $2 WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, poolID, distributedAt)
	if err != nil {
		return fmt.Errorf("marking pool distributed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("pool %s: %w", poolID, domain.ErrPoolNotFound)
	}
	return nil
}

// InsertContribution persists a single contribution
func (r *Repository) InsertContribution(ctx context.Context, c domain.PoolContribution) error {
	query := `
		INSERT INTO pool_contributions (id, pool_id, user_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, c.ID, c.PoolID, c.UserID, c.Amount, c.Timestamp)
	if err != nil {
		return fmt.Errorf("inserting contribution: %w", err)
	}
	return nil
}

// RecordEvent appends a row to the reward audit trail
func (r *Repository) RecordEvent(ctx context.Context, poolID, userID string, amount int64, eventType string, at time.Time) error {
	query := `
		INSERT INTO reward_events (pool_id, user_id, amount, event_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query, poolID, userID, amount, eventType, at)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// RecordDistribution persists a distribution plan as audit events in one batch
func (r *Repository) RecordDistribution(ctx context.Context, plan *domain.DistributionPlan) error {
	batch := &pgx.Batch{}
	query := `
		INSERT INTO reward_events (pool_id, user_id, amount, event_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, payout := range plan.Payouts {
		batch.Queue(query, plan.PoolID, payout.UserID, payout.Amount, EventTypePayout, plan.ComputedAt)
	}
	if plan.PlatformCut > 0 {
		batch.Queue(query, plan.PoolID, nil, plan.PlatformCut, EventTypePlatformCut, plan.ComputedAt)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("recording distribution: %w", err)
		}
	}
	return nil
}

// BatchUpsertBalances persists a ledger snapshot
func (r *Repository) BatchUpsertBalances(ctx context.Context, balances map[string]int64) error {
	if len(balances) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO balances (user_id, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET balance = $2, updated_at = $3
	`
	now := time.Now()
	for userID, balance := range balances {
		batch.Queue(query, userID, balance, now)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range balances {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting balances: %w", err)
		}
	}
	return nil
}

// BatchUpsertRanks persists rank snapshots including their badge history
func (r *Repository) BatchUpsertRanks(ctx context.Context, ranks []domain.UserRank) error {
	if len(ranks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	rankQuery := `
		INSERT INTO user_ranks (user_id, total_tokens, current_badge_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET total_tokens = $2, current_badge_id = $3, updated_at = $4
	`
	awardQuery := `
		INSERT INTO badge_awards (user_id, badge_id, badge_name, earned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`
	now := time.Now()
	queued := 0
	for _, rank := range ranks {
		batch.Queue(rankQuery, rank.UserID, rank.TotalTokensEarned, rank.CurrentBadge.ID, now)
		queued++
		for _, award := range rank.History {
			batch.Queue(awardQuery, rank.UserID, award.BadgeID, award.BadgeName, award.EarnedAt)
			queued++
		}
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting ranks: %w", err)
		}
	}
	return nil
}

// LoadPools retrieves all pools with their contributions, for recovery
func (r *Repository) LoadPools(ctx context.Context) ([]domain.ChallengePool, error) {
	query := `
		SELECT id, challenge_id, total_amount, min_contribution, max_contribution,
		       strategy, custom_distribution, is_distributed, distributed_at, created_at
		FROM challenge_pools
		ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.ChallengePool
	index := make(map[string]int)
	for rows.Next() {
		var p domain.ChallengePool
		var customJSON []byte
		err := rows.Scan(
			&p.ID,
			&p.ChallengeID,
			&p.TotalAmount,
			&p.MinContribution,
			&p.MaxContribution,
			&p.Strategy,
			&customJSON,
			&p.IsDistributed,
			&p.DistributedAt,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning pool: %w", err)
		}
		if len(customJSON) > 0 {
			var custom domain.CustomDistribution
			if err := json.Unmarshal(customJSON, &custom); err != nil {
				return nil, fmt.Errorf("unmarshaling custom distribution for pool %s: %w", p.ID, err)
			}
			p.CustomDistribution = &custom
		}
		index[p.ID] = len(pools)
		pools = append(pools, p)
	}
	if len(pools) == 0 {
		return nil, nil
	}

	contribQuery := `
		SELECT id, pool_id, user_id, amount, created_at
		FROM pool_contributions
		ORDER BY created_at, id
	`
	contribRows, err := r.pool.Query(ctx, contribQuery)
	if err != nil {
		return nil, fmt.Errorf("loading contributions: %w", err)
	}
	defer contribRows.Close()

	for contribRows.Next() {
		var c domain.PoolContribution
		if err := contribRows.Scan(&c.ID, &c.PoolID, &c.UserID, &c.Amount, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning contribution: %w", err)
		}
		if i, ok := index[c.PoolID]; ok {
			pools[i].Contributions = append(pools[i].Contributions, c)
		}
	}
	return pools, nil
}

// LoadBalances retrieves all persisted balances, for recovery
func (r *Repository) LoadBalances(ctx context.Context) (map[string]int64, error) {
	query := `SELECT user_id, balance FROM balances`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading balances: %w", err)
	}
	defer rows.Close()

	balances := make(map[string]int64)
	for rows.Next() {
		var userID string
		var balance int64
		if err := rows.Scan(&userID, &balance); err != nil {
			return nil, fmt.Errorf("scanning balance: %w", err)
		}
		balances[userID] = balance
	}
	return balances, nil
}

// LoadRanks retrieves all persisted ranks with their badge history, for
// recovery. Current and next badge are recomputed against the configured
// badge set when the rank engine restores them.
func (r *Repository) LoadRanks(ctx context.Context) ([]domain.UserRank, error) {
	query := `SELECT user_id, total_tokens, updated_at FROM user_ranks`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading ranks: %w", err)
	}
	defer rows.Close()

	var ranks []domain.UserRank
	index := make(map[string]int)
	for rows.Next() {
		var rank domain.UserRank
		if err := rows.Scan(&rank.UserID, &rank.TotalTokensEarned, &rank.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning rank: %w", err)
		}
		index[rank.UserID] = len(ranks)
		ranks = append(ranks, rank)
	}
	if len(ranks) == 0 {
		return nil, nil
	}

	awardQuery := `SELECT user_id, badge_id, badge_name, earned_at FROM badge_awards ORDER BY earned_at, id`
	awardRows, err := r.pool.Query(ctx, awardQuery)
	if err != nil {
		return nil, fmt.Errorf("loading badge awards: %w", err)
	}
	defer awardRows.Close()

	for awardRows.Next() {
		var userID string
		var award domain.BadgeAward
		if err := awardRows.Scan(&userID, &award.BadgeID, &award.BadgeName, &award.EarnedAt); err != nil {
			return nil, fmt.Errorf("scanning badge award: %w", err)
		}
		if i, ok := index[userID]; ok {
			ranks[i].History = append(ranks[i].History, award)
		}
	}
	return ranks, nil
}

// GetUserContributions returns one user's contribution rows, latest first
func (r *Repository) GetUserContributions(ctx context.Context, userID string, limit int) ([]domain.PoolContribution, error) {
	query := `
		SELECT id, pool_id, user_id, amount, created_at
		FROM pool_contributions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("getting user contributions: %w", err)
	}
	defer rows.Close()

	var contributions []domain.PoolContribution
	for rows.Next() {
		var c domain.PoolContribution
		if err := rows.Scan(&c.ID, &c.PoolID, &c.UserID, &c.Amount, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning contribution: %w", err)
		}
		contributions = append(contributions, c)
	}
	return contributions, nil
}
