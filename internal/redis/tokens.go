package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pool-rewards/internal/config"
	"github.com/pool-rewards/internal/domain"
	"github.com/redis/go-redis/v9"
)

const tokenLeaderboardKey = "rewards:tokens:leaderboard"

// TokenService provides Redis-backed realtime views over reward state:
// the cumulative token leaderboard (sorted set) plus cached rank and pool
// snapshots for cheap reads.
type TokenService struct {
	client *redis.Client
	logger *slog.Logger
}

// NewTokenService creates a new Redis token service
func NewTokenService(cfg *config.RedisConfig, logger *slog.Logger) (*TokenService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &TokenService{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (s *TokenService) Close() error {
	return s.client.Close()
}

func (s *TokenService) rankKey(userID string) string {
	return fmt.Sprintf("rewards:user:%s:rank", userID)
}

func (s *TokenService) poolKey(poolID string) string {
	return fmt.Sprintf("rewards:pool:%s:total", poolID)
}

// SetTokenTotal sets a user's cumulative token total on the leaderboard
func (s *TokenService) SetTokenTotal(ctx context.Context, userID string, tokens int64) error {
	err := s.client.ZAdd(ctx, tokenLeaderboardKey, redis.Z{
		Score:  float64(tokens),
		Member: userID,
	}).Err()
	if err != nil {
		return fmt.Errorf("setting token total: %w", err)
	}
	return nil
}

// BatchSetTokenTotals sets multiple users' token totals using pipelining
func (s *TokenService) BatchSetTokenTotals(ctx context.Context, totals map[string]int64) error {
	if len(totals) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for userID, tokens := range totals {
		pipe.ZAdd(ctx, tokenLeaderboardKey, redis.Z{
			Score:  float64(tokens),
			Member: userID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch setting token totals: %w", err)
	}
	return nil
}

// GetTopEarners returns the top N users by cumulative tokens earned
func (s *TokenService) GetTopEarners(ctx context.Context, n int) ([]domain.TokenEntry, error) {
	results, err := s.client.ZRevRangeWithScores(ctx, tokenLeaderboardKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top earners: %w", err)
	}

	entries := make([]domain.TokenEntry, len(results))
	for i, result := range results {
		entries[i] = domain.TokenEntry{
			Rank:   int64(i + 1),
			UserID: result.Member.(string),
			Tokens: int64(result.Score),
		}
	}
	return entries, nil
}

// GetTokenRank returns a user's position on the token leaderboard
func (s *TokenService) GetTokenRank(ctx context.Context, userID string) (*domain.TokenEntry, error) {
	pipe := s.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, tokenLeaderboardKey, userID)
	scoreCmd := pipe.ZScore(ctx, tokenLeaderboardKey, userID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting token rank: %w", err)
	}

	position, err := rankCmd.Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting rank result: %w", err)
	}
	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting score result: %w", err)
	}

	return &domain.TokenEntry{
		Rank:   position + 1, // Convert 0-indexed to 1-indexed
		UserID: userID,
		Tokens: int64(score),
	}, nil
}

// CacheUserRank stores a rank snapshot for cheap reads
func (s *TokenService) CacheUserRank(ctx context.Context, rank domain.UserRank) error {
	data, err := json.Marshal(rank)
	if err != nil {
		return fmt.Errorf("marshaling rank: %w", err)
	}
	if err := s.client.Set(ctx, s.rankKey(rank.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("caching rank: %w", err)
	}
	return nil
}

// GetCachedUserRank retrieves a cached rank snapshot
func (s *TokenService) GetCachedUserRank(ctx context.Context, userID string) (*domain.UserRank, error) {
	data, err := s.client.Get(ctx, s.rankKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting cached rank: %w", err)
	}

	var rank domain.UserRank
	if err := json.Unmarshal(data, &rank); err != nil {
		return nil, fmt.Errorf("unmarshaling cached rank: %w", err)
	}
	return &rank, nil
}

// SetPoolTotal caches a pool's running total
func (s *TokenService) SetPoolTotal(ctx context.Context, poolID string, total int64) error {
	if err := s.client.Set(ctx, s.poolKey(poolID), total, 0).Err(); err != nil {
		return fmt.Errorf("setting pool total: %w", err)
	}
	return nil
}

// GetPoolTotal retrieves a pool's cached running total
func (s *TokenService) GetPoolTotal(ctx context.Context, poolID string) (int64, error) {
	total, err := s.client.Get(ctx, s.poolKey(poolID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, domain.ErrPoolNotFound
		}
		return 0, fmt.Errorf("getting pool total: %w", err)
	}
	return total, nil
}

// DeletePool removes a pool's cached state
func (s *TokenService) DeletePool(ctx context.Context, poolID string) error {
	if err := s.client.Del(ctx, s.poolKey(poolID)).Err(); err != nil {
		return fmt.Errorf("deleting pool cache: %w", err)
	}
	return nil
}
