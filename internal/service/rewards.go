package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pool-rewards/internal/config"
	"github.com/pool-rewards/internal/domain"
	"github.com/pool-rewards/internal/ledger"
	"github.com/pool-rewards/internal/pool"
	"github.com/pool-rewards/internal/postgres"
	"github.com/pool-rewards/internal/rank"
	"github.com/pool-rewards/internal/redis"
	"github.com/pool-rewards/internal/reward"
	"github.com/pool-rewards/internal/websocket"
)

// RewardService provides business logic for pool and reward operations.
// The engines hold authoritative state; PostgreSQL persists it and Redis
// serves realtime leaderboard views. Persistence failures on the hot path
// are logged, not surfaced: the snapshot worker reconciles on its next
// cycle.
type RewardService struct {
	pools       *pool.Engine
	ledger      *ledger.Ledger
	ranks       *rank.Engine
	coordinator *reward.Coordinator
	postgres    *postgres.Repository
	redis       *redis.TokenService
	config      *config.RewardsConfig
	logger      *slog.Logger
	hub         *websocket.Hub
}

// NewRewardService creates a new reward service
func NewRewardService(
	pools *pool.Engine,
	l *ledger.Ledger,
	ranks *rank.Engine,
	coordinator *reward.Coordinator,
	repo *postgres.Repository,
	tokens *redis.TokenService,
	cfg *config.RewardsConfig,
	logger *slog.Logger,
) *RewardService {
	return &RewardService{
		pools:       pools,
		ledger:      l,
		ranks:       ranks,
		coordinator: coordinator,
		postgres:    repo,
		redis:       tokens,
		config:      cfg,
		logger:      logger,
	}
}

// SetHub attaches the WebSocket hub for broadcasting updates
func (s *RewardService) SetHub(hub *websocket.Hub) {
	s.hub = hub
}

// CreatePool creates the contribution pool for a challenge
func (s *RewardService) CreatePool(ctx context.Context, req domain.CreatePoolRequest) (domain.ChallengePool, error) {
	p, err := s.pools.CreatePool(req)
	if err != nil {
		return domain.ChallengePool{}, err
	}

	if err := s.postgres.UpsertPool(ctx, p); err != nil {
		s.logger.Warn("failed to persist pool", "pool_id", p.ID, "error", err)
	}
	if err := s.redis.SetPoolTotal(ctx, p.ID, 0); err != nil {
		s.logger.Warn("failed to cache pool total", "pool_id", p.ID, "error", err)
	}

	return p, nil
}

// Contribute adds a user's stake to a pool
func (s *RewardService) Contribute(ctx context.Context, req domain.ContributionRequest) (domain.ChallengePool, domain.PoolContribution, error) {
	p, contribution, err := s.pools.Contribute(req)
	if err != nil {
		return domain.ChallengePool{}, domain.PoolContribution{}, err
	}

	if err := s.postgres.InsertContribution(ctx, contribution); err != nil {
		s.logger.Warn("failed to persist contribution", "contribution_id", contribution.ID, "error", err)
	}
	if err := s.postgres.RecordEvent(ctx, p.ID, req.UserID, req.Amount, postgres.EventTypeContribution, contribution.Timestamp); err != nil {
		s.logger.Warn("failed to record contribution event", "error", err)
	}
	if err := s.redis.SetPoolTotal(ctx, p.ID, p.TotalAmount); err != nil {
		s.logger.Warn("failed to cache pool total", "pool_id", p.ID, "error", err)
	}

	if s.hub != nil {
		s.hub.BroadcastPoolUpdate(websocket.PoolUpdate{
			PoolID:         p.ID,
			TotalAmount:    p.TotalAmount,
			Contributions:  len(p.Contributions),
			ContributionID: contribution.ID,
		})
	}

	return p, contribution, nil
}

// ContributeBatch applies multiple contributions, continuing past
// individual failures. Used by the Kafka ingestion path.
func (s *RewardService) ContributeBatch(ctx context.Context, reqs []domain.ContributionRequest) error {
	for _, req := range reqs {
		if _, _, err := s.Contribute(ctx, req); err != nil {
			s.logger.Error("failed to apply contribution in batch",
				"pool_id", req.PoolID,
				"user_id", req.UserID,
				"error", err,
			)
			// Continue processing other contributions
		}
	}
	return nil
}

// CloseChallenge settles the challenge's pool: payouts credited, ranks
// advanced, pool marked distributed, all as one unit.
func (s *RewardService) CloseChallenge(ctx context.Context, challengeID string, ranked []domain.RankedParticipant) (*domain.DistributionPlan, error) {
	p, err := s.pools.PoolByChallenge(challengeID)
	if err != nil {
		return nil, err
	}

	result, err := s.coordinator.FinalizeChallenge(p.ID, ranked)
	if err != nil {
		return nil, err
	}
	plan := result.Plan

	s.persistSettlement(ctx, plan, result.UpdatedRanks)

	if s.hub != nil {
		s.hub.BroadcastDistribution(plan)
		for _, r := range result.UpdatedRanks {
			// A fresh history entry stamped with this update means the
			// payout crossed a badge threshold.
			if n := len(r.History); n > 0 && r.History[n-1].EarnedAt.Equal(r.UpdatedAt) {
				s.hub.BroadcastBadgeEarned(websocket.BadgeEarned{
					UserID:      r.UserID,
					Badge:       r.CurrentBadge,
					TotalTokens: r.TotalTokensEarned,
				})
			}
		}
	}

	return plan, nil
}

// persistSettlement pushes a settled distribution to PostgreSQL and Redis.
// Failures are logged; the snapshot worker reconciles on its next cycle.
func (s *RewardService) persistSettlement(ctx context.Context, plan *domain.DistributionPlan, updatedRanks []domain.UserRank) {
	settled, err := s.pools.GetPool(plan.PoolID)
	if err == nil {
		if err := s.postgres.UpsertPool(ctx, settled); err != nil {
			s.logger.Warn("failed to persist settled pool", "pool_id", plan.PoolID, "error", err)
		}
	}
	if err := s.postgres.RecordDistribution(ctx, plan); err != nil {
		s.logger.Warn("failed to record distribution events", "pool_id", plan.PoolID, "error", err)
	}

	balances := make(map[string]int64, len(plan.Payouts))
	for _, payout := range plan.Payouts {
		balances[payout.UserID] = s.ledger.Balance(payout.UserID)
	}
	if err := s.postgres.BatchUpsertBalances(ctx, balances); err != nil {
		s.logger.Warn("failed to persist balances", "pool_id", plan.PoolID, "error", err)
	}
	if err := s.postgres.BatchUpsertRanks(ctx, updatedRanks); err != nil {
		s.logger.Warn("failed to persist ranks", "pool_id", plan.PoolID, "error", err)
	}

	totals := make(map[string]int64, len(updatedRanks))
	for _, r := range updatedRanks {
		totals[r.UserID] = r.TotalTokensEarned
		if err := s.redis.CacheUserRank(ctx, r); err != nil {
			s.logger.Warn("failed to cache rank", "user_id", r.UserID, "error", err)
		}
	}
	if err := s.redis.BatchSetTokenTotals(ctx, totals); err != nil {
		s.logger.Warn("failed to update token leaderboard", "pool_id", plan.PoolID, "error", err)
	}
}

// GetPool returns a pool snapshot
func (s *RewardService) GetPool(ctx context.Context, poolID string) (domain.ChallengePool, error) {
	return s.pools.GetPool(poolID)
}

// ListPools returns snapshots of all pools
func (s *RewardService) ListPools(ctx context.Context) []domain.ChallengePool {
	return s.pools.ListPools()
}

// GetPoolByChallenge returns the pool attached to a challenge
func (s *RewardService) GetPoolByChallenge(ctx context.Context, challengeID string) (domain.ChallengePool, error) {
	return s.pools.PoolByChallenge(challengeID)
}

// GetUserRank returns a user's rank snapshot
func (s *RewardService) GetUserRank(ctx context.Context, userID string) domain.UserRank {
	return s.ranks.GetUserRank(userID)
}

// GetBalance returns a user's ledger balance
func (s *RewardService) GetBalance(ctx context.Context, userID string) int64 {
	return s.ledger.Balance(userID)
}

// Badges returns the configured badge set, highest threshold first
func (s *RewardService) Badges(ctx context.Context) []domain.Badge {
	return s.ranks.Badges()
}

// GetTopEarners returns the top N users by cumulative tokens earned
func (s *RewardService) GetTopEarners(ctx context.Context, n int) ([]domain.TokenEntry, error) {
	if n <= 0 {
		n = s.config.DefaultLimit
	}
	if n > s.config.MaxLimit {
		n = s.config.MaxLimit
	}

	entries, err := s.redis.GetTopEarners(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("getting top earners from redis: %w", err)
	}
	return entries, nil
}

// GetUserTokenRank returns a user's position on the token leaderboard
func (s *RewardService) GetUserTokenRank(ctx context.Context, userID string) (*domain.TokenEntry, error) {
	return s.redis.GetTokenRank(ctx, userID)
}

// GetUserContributions returns a user's contribution history
func (s *RewardService) GetUserContributions(ctx context.Context, userID string, limit int) ([]domain.PoolContribution, error) {
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}
	return s.postgres.GetUserContributions(ctx, userID, limit)
}
