package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pool-rewards/internal/config"
	"github.com/pool-rewards/internal/ledger"
	"github.com/pool-rewards/internal/pool"
	"github.com/pool-rewards/internal/postgres"
	"github.com/pool-rewards/internal/rank"
	"github.com/pool-rewards/internal/redis"
)

// SnapshotWorker periodically persists the engines' in-memory state to
// PostgreSQL and restores it at startup. It also rebuilds the Redis token
// leaderboard during recovery.
type SnapshotWorker struct {
	pools    *pool.Engine
	ledger   *ledger.Ledger
	ranks    *rank.Engine
	postgres *postgres.Repository
	redis    *redis.TokenService
	config   *config.SnapshotConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSnapshotWorker creates a new snapshot worker
func NewSnapshotWorker(
	pools *pool.Engine,
	l *ledger.Ledger,
	ranks *rank.Engine,
	repo *postgres.Repository,
	tokens *redis.TokenService,
	cfg *config.SnapshotConfig,
	logger *slog.Logger,
) *SnapshotWorker {
	return &SnapshotWorker{
		pools:    pools,
		ledger:   l,
		ranks:    ranks,
		postgres: repo,
		redis:    tokens,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background snapshot process
func (w *SnapshotWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("snapshot worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background snapshot process
func (w *SnapshotWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("snapshot worker stopped")
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SnapshotWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// run is the main worker loop
func (w *SnapshotWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			// Final snapshot on shutdown
			w.snapshotAll(context.Background())
			return
		case <-ticker.C:
			w.snapshotAll(ctx)
		}
	}
}

// RunOnce runs a single snapshot cycle (useful for manual triggers)
func (w *SnapshotWorker) RunOnce(ctx context.Context) {
	w.snapshotAll(ctx)
}

// snapshotAll persists all engine state to PostgreSQL
func (w *SnapshotWorker) snapshotAll(ctx context.Context) {
	w.logger.Debug("starting snapshot cycle")
	startTime := time.Now()

	errorCount := 0

	for _, p := range w.pools.Snapshot() {
		if err := w.postgres.UpsertPool(ctx, p); err != nil {
			w.logger.Error("failed to snapshot pool", "pool_id", p.ID, "error", err)
			errorCount++
		}
	}

	balances := w.ledger.Snapshot()
	if err := w.upsertBalancesBatched(ctx, balances); err != nil {
		w.logger.Error("failed to snapshot balances", "error", err)
		errorCount++
	}

	ranks := w.ranks.Snapshot()
	if err := w.postgres.BatchUpsertRanks(ctx, ranks); err != nil {
		w.logger.Error("failed to snapshot ranks", "error", err)
		errorCount++
	}

	w.logger.Debug("snapshot cycle completed",
		"duration", time.Since(startTime),
		"pools", len(w.pools.Snapshot()),
		"balances", len(balances),
		"ranks", len(ranks),
		"errors", errorCount,
	)
}

// upsertBalancesBatched writes balances in batches to avoid overwhelming
// the database.
func (w *SnapshotWorker) upsertBalancesBatched(ctx context.Context, balances map[string]int64) error {
	batchSize := w.config.BatchSize
	if batchSize == 0 {
		batchSize = 1000
	}

	batch := make(map[string]int64, batchSize)
	for userID, balance := range balances {
		batch[userID] = balance
		if len(batch) >= batchSize {
			if err := w.postgres.BatchUpsertBalances(ctx, batch); err != nil {
				return err
			}
			batch = make(map[string]int64, batchSize)
		}
	}
	if len(batch) > 0 {
		return w.postgres.BatchUpsertBalances(ctx, batch)
	}
	return nil
}

// RestoreFromDatabase loads persisted state into the engines and rebuilds
// the Redis token leaderboard. Called at startup before traffic is served.
func (w *SnapshotWorker) RestoreFromDatabase(ctx context.Context) error {
	w.logger.Info("restoring state from database")

	pools, err := w.postgres.LoadPools(ctx)
	if err != nil {
		return err
	}
	w.pools.Restore(pools)

	balances, err := w.postgres.LoadBalances(ctx)
	if err != nil {
		return err
	}
	w.ledger.Restore(balances)

	ranks, err := w.postgres.LoadRanks(ctx)
	if err != nil {
		return err
	}
	w.ranks.Restore(ranks)

	totals := make(map[string]int64, len(ranks))
	for _, r := range ranks {
		totals[r.UserID] = r.TotalTokensEarned
	}
	if err := w.redis.BatchSetTokenTotals(ctx, totals); err != nil {
		w.logger.Warn("failed to rebuild token leaderboard", "error", err)
	}
	for _, p := range pools {
		if err := w.redis.SetPoolTotal(ctx, p.ID, p.TotalAmount); err != nil {
			w.logger.Warn("failed to cache pool total", "pool_id", p.ID, "error", err)
		}
	}

	w.logger.Info("state restored from database",
		"pools", len(pools),
		"balances", len(balances),
		"ranks", len(ranks),
	)
	return nil
}
