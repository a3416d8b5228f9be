package pool

import (
	"fmt"
	"sort"
	"time"

	"github.com/pool-rewards/internal/domain"
)

// slotPercentages returns the placement, participation and platform
// percentages for a pool's strategy.
func slotPercentages(p *domain.ChallengePool) (placements [3]int, participation, platform int) {
	if p.Strategy == domain.StrategyCustom && p.CustomDistribution != nil {
		d := p.CustomDistribution
		return [3]int{d.FirstPlace, d.SecondPlace, d.ThirdPlace}, d.Participation, d.Platform
	}
	return [3]int{
		domain.StandardFirstPlacePct,
		domain.StandardSecondPlacePct,
		domain.StandardThirdPlacePct,
	}, domain.StandardParticipationPct, 0
}

// computePlan splits a pool's total among ranked participants. Pure: the
// pool is read, never written.
//
// Rules:
//   - placement slots pay their percentage of the total (floor division)
//   - participants tied at a placement boundary (equal rank values) pool
//     the percentages of the placements they span and split them evenly,
//     with the integer remainder going to the earliest tied participant
//   - the participation share is split evenly across all participants,
//     remainder to rank 1
//   - the platform percentage is withheld and reported as PlatformCut
//   - any residual minor units left by floor division go to rank 1, so
//     sum(payouts) + platformCut == totalAmount holds exactly
func computePlan(p *domain.ChallengePool, ranked []domain.RankedParticipant, now time.Time) (*domain.DistributionPlan, error) {
	if len(ranked) == 0 {
		return nil, fmt.Errorf("closing pool %s with no ranked participants: %w", p.ID, domain.ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(ranked))
	for _, rp := range ranked {
		if rp.UserID == "" || rp.Rank < 1 {
			return nil, fmt.Errorf("closing pool %s: participant %q rank %d: %w",
				p.ID, rp.UserID, rp.Rank, domain.ErrInvalidRequest)
		}
		if seen[rp.UserID] {
			return nil, fmt.Errorf("closing pool %s: duplicate participant %s: %w",
				p.ID, rp.UserID, domain.ErrInvalidRequest)
		}
		seen[rp.UserID] = true
	}

	ordered := make([]domain.RankedParticipant, len(ranked))
	copy(ordered, ranked)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Rank < ordered[j].Rank })

	placements, participationPct, platformPct := slotPercentages(p)
	total := p.TotalAmount

	payouts := make(map[string]int64, len(ordered))

	// Placement shares, tie groups pooling the slots they span.
	for start := 0; start < len(ordered); {
		end := start
		for end < len(ordered) && ordered[end].Rank == ordered[start].Rank {
			end++
		}
		var groupAmount int64
		for slot := start; slot < end; slot++ {
			if slot < len(placements) {
				groupAmount += total * int64(placements[slot]) / 100
			}
		}
		size := int64(end - start)
		share := groupAmount / size
		remainder := groupAmount % size
		for i := start; i < end; i++ {
			payouts[ordered[i].UserID] += share
		}
		payouts[ordered[start].UserID] += remainder
		start = end
	}

	// Participation share, split evenly across everyone.
	participationPool := total * int64(participationPct) / 100
	n := int64(len(ordered))
	perParticipant := participationPool / n
	for _, rp := range ordered {
		payouts[rp.UserID] += perParticipant
	}
	payouts[ordered[0].UserID] += participationPool % n

	platformCut := total * int64(platformPct) / 100

	// Residual minor units from floor division go to rank 1.
	var paid int64
	for _, amount := range payouts {
		paid += amount
	}
	payouts[ordered[0].UserID] += total - paid - platformCut

	plan := &domain.DistributionPlan{
		PoolID:      p.ID,
		ChallengeID: p.ChallengeID,
		TotalAmount: total,
		PlatformCut: platformCut,
		ComputedAt:  now,
	}
	for _, rp := range ordered {
		if amount := payouts[rp.UserID]; amount > 0 {
			plan.Payouts = append(plan.Payouts, domain.Payout{UserID: rp.UserID, Amount: amount})
		}
	}
	return plan, nil
}
