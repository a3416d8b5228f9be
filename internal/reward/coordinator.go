package reward

import (
	"fmt"
	"log/slog"

	"github.com/pool-rewards/internal/domain"
	"github.com/pool-rewards/internal/ledger"
	"github.com/pool-rewards/internal/pool"
	"github.com/pool-rewards/internal/rank"
)

// Coordinator applies a pool's distribution plan to the ledger and the
// rank engine as one unit. Deltas are computed and validated in full
// before anything is applied, so a failure anywhere leaves all three
// stores unchanged and the pool still open.
type Coordinator struct {
	pools         *pool.Engine
	ledger        *ledger.Ledger
	ranks         *rank.Engine
	tokensPerUnit int64
	logger        *slog.Logger
}

// Result carries the outcome of a finalized challenge
type Result struct {
	Plan         *domain.DistributionPlan
	UpdatedRanks []domain.UserRank
}

// NewCoordinator creates a reward coordinator. tokensPerUnit converts a
// payout in minor currency units to earned tokens; values below 1 fall
// back to the 1:1 default.
func NewCoordinator(pools *pool.Engine, l *ledger.Ledger, ranks *rank.Engine, tokensPerUnit int64, logger *slog.Logger) *Coordinator {
	if tokensPerUnit < 1 {
		tokensPerUnit = 1
	}
	return &Coordinator{
		pools:         pools,
		ledger:        l,
		ranks:         ranks,
		tokensPerUnit: tokensPerUnit,
		logger:        logger,
	}
}

// TokensPerUnit returns the configured payout-to-token conversion rate
func (c *Coordinator) TokensPerUnit() int64 {
	return c.tokensPerUnit
}

// FinalizeChallenge computes the distribution plan for a pool, credits
// every payout, applies the earned tokens to each participant's rank, and
// marks the pool distributed. The pool's lock is held for the whole
// sequence, so no contribution can be accepted once distribution begins.
func (c *Coordinator) FinalizeChallenge(poolID string, ranked []domain.RankedParticipant) (*Result, error) {
	result := &Result{}

	plan, err := c.pools.Finalize(poolID, ranked, func(plan *domain.DistributionPlan) error {
		credits := make(map[string]int64, len(plan.Payouts))
		awards := make(map[string]int64, len(plan.Payouts))
		for _, payout := range plan.Payouts {
			credits[payout.UserID] = payout.Amount
			awards[payout.UserID] = payout.Amount * c.tokensPerUnit
		}

		// Both stores validate their whole batch before applying, so a
		// cap violation for any one participant aborts with no partial
		// payout state.
		if _, err := c.ledger.CreditBatch(credits); err != nil {
			return fmt.Errorf("crediting payouts for pool %s: %w", poolID, err)
		}

		updated, err := c.ranks.ApplyEarnedTokensBatch(awards)
		if err != nil {
			c.rollbackCredits(credits)
			return fmt.Errorf("applying tokens for pool %s: %w", poolID, err)
		}

		result.UpdatedRanks = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Plan = plan
	return result, nil
}

// rollbackCredits unwinds a committed credit batch after a downstream
// failure. Payout credits cannot have been spent in the meantime: the
// whole finalize sequence runs under the pool's lock and nothing else
// debits these accounts mid-flight.
func (c *Coordinator) rollbackCredits(credits map[string]int64) {
	for userID, amount := range credits {
		if _, err := c.ledger.Debit(userID, amount); err != nil {
			c.logger.Error("failed to roll back credit",
				"user_id", userID,
				"amount", amount,
				"error", err,
			)
		}
	}
}
