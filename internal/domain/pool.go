package domain

import (
	"time"
)

// DistributionStrategy represents how a pool is split at challenge close
type DistributionStrategy string

const (
	StrategyStandard DistributionStrategy = "standard"
	StrategyCustom   DistributionStrategy = "custom"
)

// Standard strategy percentages. The remaining 20% is the participation
// share, split evenly across all ranked participants.
const (
	StandardFirstPlacePct    = 50
	StandardSecondPlacePct   = 20
	StandardThirdPlacePct    = 10
	StandardParticipationPct = 20
)

// CustomDistribution holds per-slot percentages for the custom strategy.
// All five slots must sum to exactly 100. The platform slot is withheld
// from participant payouts.
type CustomDistribution struct {
	FirstPlace    int `json:"first_place" yaml:"first_place"`
	SecondPlace   int `json:"second_place" yaml:"second_place"`
	ThirdPlace    int `json:"third_place" yaml:"third_place"`
	Participation int `json:"participation" yaml:"participation"`
	Platform      int `json:"platform" yaml:"platform"`
}

// Total returns the sum of all slot percentages.
func (d CustomDistribution) Total() int {
	return d.FirstPlace + d.SecondPlace + d.ThirdPlace + d.Participation + d.Platform
}

// PoolContribution is a single user's stake added to a pool.
// Immutable once created.
type PoolContribution struct {
	ID        string    `json:"id"`
	PoolID    string    `json:"pool_id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// ChallengePool is the aggregated stake for one challenge. TotalAmount
// always equals the sum of the contribution amounts. All monetary values
// are integers in minor currency units.
type ChallengePool struct {
	ID                 string               `json:"id"`
	ChallengeID        string               `json:"challenge_id"`
	TotalAmount        int64                `json:"total_amount"`
	MinContribution    int64                `json:"min_contribution"`
	MaxContribution    int64                `json:"max_contribution"`
	Strategy           DistributionStrategy `json:"distribution_strategy"`
	CustomDistribution *CustomDistribution  `json:"custom_distribution,omitempty"`
	Contributions      []PoolContribution   `json:"contributions"`
	IsDistributed      bool                 `json:"is_distributed"`
	DistributedAt      *time.Time           `json:"distributed_at,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
}

// ContributionTotal returns the denormalized sum of one user's contributions.
func (p *ChallengePool) ContributionTotal(userID string) int64 {
	var total int64
	for _, c := range p.Contributions {
		if c.UserID == userID {
			total += c.Amount
		}
	}
	return total
}

// Payout is a single participant's share of a distribution plan.
type Payout struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"payout"`
}

// DistributionPlan is the finalized mapping from participant to payout,
// produced once per pool. Payouts plus PlatformCut always equal the pool's
// TotalAmount exactly.
type DistributionPlan struct {
	PoolID      string    `json:"pool_id"`
	ChallengeID string    `json:"challenge_id"`
	TotalAmount int64     `json:"total_amount"`
	Payouts     []Payout  `json:"distribution"`
	PlatformCut int64     `json:"platform_cut"`
	ComputedAt  time.Time `json:"computed_at"`
}

// CreatePoolRequest represents a request to create a pool for a challenge
type CreatePoolRequest struct {
	ChallengeID        string               `json:"challenge_id"`
	MinContribution    int64                `json:"min_contribution"`
	MaxContribution    int64                `json:"max_contribution"`
	Strategy           DistributionStrategy `json:"distribution_strategy,omitempty"`
	CustomDistribution *CustomDistribution  `json:"custom_distribution,omitempty"`
}

// ContributionRequest represents a request to add a stake to a pool
type ContributionRequest struct {
	PoolID string `json:"pool_id"`
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

// ContributionEvent is the message format for contribution ingestion
// over Kafka.
type ContributionEvent struct {
	PoolID    string    `json:"pool_id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}
