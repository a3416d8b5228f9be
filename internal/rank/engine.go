package rank

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pool-rewards/internal/domain"
)

// BadgeForTokens returns the highest-threshold badge whose requirement is
// at or below the token total. badges must be sorted descending by
// RequiredTokens.
func BadgeForTokens(tokens int64, badges []domain.Badge) (domain.Badge, error) {
	for _, b := range badges {
		if b.RequiredTokens <= tokens {
			return b, nil
		}
	}
	return domain.Badge{}, fmt.Errorf("token total %d: %w", tokens, domain.ErrNoBadgeConfigured)
}

// NextBadgeFor returns the badge with the smallest threshold strictly above
// the token total, or nil when the top tier is reached. badges must be
// sorted descending by RequiredTokens.
func NextBadgeFor(tokens int64, badges []domain.Badge) *domain.Badge {
	for i := len(badges) - 1; i >= 0; i-- {
		if badges[i].RequiredTokens > tokens {
			b := badges[i]
			return &b
		}
	}
	return nil
}

// ValidateBadgeSet checks the invariants a badge set must satisfy: at
// least one badge, strictly ordered thresholds, and a zero-threshold badge
// so every token total maps to a tier.
func ValidateBadgeSet(badges []domain.Badge) error {
	if len(badges) == 0 {
		return fmt.Errorf("badge set empty: %w", domain.ErrNoBadgeConfigured)
	}
	seen := make(map[int64]string, len(badges))
	hasZero := false
	for _, b := range badges {
		if b.ID == "" {
			return fmt.Errorf("badge with threshold %d has no id: %w", b.RequiredTokens, domain.ErrInvalidConfiguration)
		}
		if b.RequiredTokens < 0 {
			return fmt.Errorf("badge %s has negative threshold %d: %w", b.ID, b.RequiredTokens, domain.ErrInvalidConfiguration)
		}
		if other, ok := seen[b.RequiredTokens]; ok {
			return fmt.Errorf("badges %s and %s share threshold %d: %w", other, b.ID, b.RequiredTokens, domain.ErrInvalidConfiguration)
		}
		seen[b.RequiredTokens] = b.ID
		if b.RequiredTokens == 0 {
			hasZero = true
		}
	}
	if !hasZero {
		return fmt.Errorf("badge set has no zero-threshold badge: %w", domain.ErrInvalidConfiguration)
	}
	return nil
}

// Engine maps cumulative earned tokens to badge tiers and tracks each
// user's progression history.
type Engine struct {
	mu     sync.RWMutex
	badges []domain.Badge // sorted descending by RequiredTokens
	ranks  map[string]*domain.UserRank
	logger *slog.Logger
}

// NewEngine creates a rank engine over a validated badge set
func NewEngine(badges []domain.Badge, logger *slog.Logger) (*Engine, error) {
	if err := ValidateBadgeSet(badges); err != nil {
		return nil, err
	}
	sorted := make([]domain.Badge, len(badges))
	copy(sorted, badges)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].RequiredTokens > sorted[j].RequiredTokens
	})
	return &Engine{
		badges: sorted,
		ranks:  make(map[string]*domain.UserRank),
		logger: logger,
	}, nil
}

// Badges returns the badge set sorted descending by threshold
func (e *Engine) Badges() []domain.Badge {
	out := make([]domain.Badge, len(e.badges))
	copy(out, e.badges)
	return out
}

// newRank builds the zero-token rank for a user. Callers must hold e.mu.
func (e *Engine) newRank(userID string) *domain.UserRank {
	base, _ := BadgeForTokens(0, e.badges)
	next := NextBadgeFor(0, e.badges)
	r := &domain.UserRank{
		UserID:       userID,
		CurrentBadge: base,
		NextBadge:    next,
	}
	if next != nil {
		r.TokensToNextBadge = next.RequiredTokens
	}
	return r
}

// GetUserRank returns a snapshot of a user's rank. Users the engine has
// never seen hold the zero-threshold badge with no history.
func (e *Engine) GetUserRank(userID string) domain.UserRank {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.ranks[userID]
	if !ok {
		return *e.newRank(userID)
	}
	return copyRank(r)
}

func copyRank(r *domain.UserRank) domain.UserRank {
	out := *r
	out.History = make([]domain.BadgeAward, len(r.History))
	copy(out.History, r.History)
	if r.NextBadge != nil {
		b := *r.NextBadge
		out.NextBadge = &b
	}
	return out
}

// ApplyEarnedTokens adds earned tokens to a user's running total,
// recomputes the badge tier, and appends a history entry on tier change.
// The total never decreases.
func (e *Engine) ApplyEarnedTokens(userID string, tokens int64) (domain.UserRank, error) {
	if tokens <= 0 {
		return domain.UserRank{}, fmt.Errorf("applying %d tokens to user %s: %w", tokens, userID, domain.ErrInvalidAmount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var current int64
	if r, ok := e.ranks[userID]; ok {
		current = r.TotalTokensEarned
	}
	if _, err := BadgeForTokens(current+tokens, e.badges); err != nil {
		return domain.UserRank{}, err
	}

	return e.applyLocked(userID, tokens, time.Now()), nil
}

// ApplyEarnedTokensBatch applies token awards to a set of users as one
// unit: every award is validated first and nothing is applied unless all
// pass. Returns the updated rank snapshots.
func (e *Engine) ApplyEarnedTokensBatch(awards map[string]int64) ([]domain.UserRank, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Validate the whole batch before touching any rank.
	for userID, tokens := range awards {
		if tokens <= 0 {
			return nil, fmt.Errorf("applying %d tokens to user %s: %w", tokens, userID, domain.ErrInvalidAmount)
		}
		var current int64
		if r, ok := e.ranks[userID]; ok {
			current = r.TotalTokensEarned
		}
		if _, err := BadgeForTokens(current+tokens, e.badges); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	updated := make([]domain.UserRank, 0, len(awards))
	for userID, tokens := range awards {
		updated = append(updated, e.applyLocked(userID, tokens, now))
	}
	return updated, nil
}

// applyLocked advances one user's rank by tokens. Callers must hold e.mu
// and must have validated the award.
func (e *Engine) applyLocked(userID string, tokens int64, now time.Time) domain.UserRank {
	r, ok := e.ranks[userID]
	if !ok {
		r = e.newRank(userID)
		e.ranks[userID] = r
	}

	newTotal := r.TotalTokensEarned + tokens
	badge, _ := BadgeForTokens(newTotal, e.badges)

	if badge.ID != r.CurrentBadge.ID {
		r.History = append(r.History, domain.BadgeAward{
			BadgeID:   badge.ID,
			BadgeName: badge.Name,
			EarnedAt:  now,
		})
		e.logger.Info("badge earned",
			"user_id", userID,
			"badge_id", badge.ID,
			"total_tokens", newTotal,
		)
	}

	r.TotalTokensEarned = newTotal
	r.CurrentBadge = badge
	r.NextBadge = NextBadgeFor(newTotal, e.badges)
	if r.NextBadge != nil {
		r.TokensToNextBadge = r.NextBadge.RequiredTokens - newTotal
	} else {
		r.TokensToNextBadge = 0
	}
	r.UpdatedAt = now

	return copyRank(r)
}

// Snapshot returns copies of all tracked ranks, for persistence.
func (e *Engine) Snapshot() []domain.UserRank {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.UserRank, 0, len(e.ranks))
	for _, r := range e.ranks {
		out = append(out, copyRank(r))
	}
	return out
}

// Restore loads ranks from persisted state, replacing current state.
// Badges are recomputed from the configured set so a badge-set change
// between restarts cannot leave a stale tier.
func (e *Engine) Restore(ranks []domain.UserRank) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ranks = make(map[string]*domain.UserRank, len(ranks))
	for _, r := range ranks {
		badge, err := BadgeForTokens(r.TotalTokensEarned, e.badges)
		if err != nil {
			e.logger.Warn("skipping rank with no matching badge", "user_id", r.UserID, "tokens", r.TotalTokensEarned)
			continue
		}
		restored := copyRank(&r)
		restored.CurrentBadge = badge
		restored.NextBadge = NextBadgeFor(r.TotalTokensEarned, e.badges)
		if restored.NextBadge != nil {
			restored.TokensToNextBadge = restored.NextBadge.RequiredTokens - r.TotalTokensEarned
		} else {
			restored.TokensToNextBadge = 0
		}
		e.ranks[r.UserID] = &restored
	}
}
