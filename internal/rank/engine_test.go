package rank

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pool-rewards/internal/domain"
)

func testBadges() []domain.Badge {
	return []domain.Badge{
		{ID: "rookie", Name: "Rookie", RequiredTokens: 0},
		{ID: "contender", Name: "Contender", RequiredTokens: 100},
		{ID: "champion", Name: "Champion", RequiredTokens: 500},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(testBadges(), slog.Default())
	require.NoError(t, err)
	return e
}

func TestValidateBadgeSet(t *testing.T) {
	assert.NoError(t, ValidateBadgeSet(testBadges()))

	err := ValidateBadgeSet(nil)
	assert.ErrorIs(t, err, domain.ErrNoBadgeConfigured)

	err = ValidateBadgeSet([]domain.Badge{
		{ID: "contender", RequiredTokens: 100},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration, "zero-threshold badge required")

	err = ValidateBadgeSet([]domain.Badge{
		{ID: "rookie", RequiredTokens: 0},
		{ID: "a", RequiredTokens: 100},
		{ID: "b", RequiredTokens: 100},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration, "thresholds must be unique")

	err = ValidateBadgeSet([]domain.Badge{
		{ID: "rookie", RequiredTokens: 0},
		{ID: "", RequiredTokens: 100},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration, "badge id required")

	err = ValidateBadgeSet([]domain.Badge{
		{ID: "rookie", RequiredTokens: 0},
		{ID: "bad", RequiredTokens: -5},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration, "thresholds must be non-negative")
}

func TestBadgeForTokens(t *testing.T) {
	e := newTestEngine(t)
	badges := e.Badges()

	cases := []struct {
		tokens int64
		want   string
	}{
		{0, "rookie"},
		{99, "rookie"},
		{100, "contender"},
		{499, "contender"},
		{500, "champion"},
		{10000, "champion"},
	}
	for _, tc := range cases {
		badge, err := BadgeForTokens(tc.tokens, badges)
		require.NoError(t, err)
		assert.Equal(t, tc.want, badge.ID, "tokens=%d", tc.tokens)
	}
}

func TestNextBadgeFor(t *testing.T) {
	e := newTestEngine(t)
	badges := e.Badges()

	next := NextBadgeFor(0, badges)
	require.NotNil(t, next)
	assert.Equal(t, "contender", next.ID)

	next = NextBadgeFor(100, badges)
	require.NotNil(t, next)
	assert.Equal(t, "champion", next.ID)

	assert.Nil(t, NextBadgeFor(500, badges), "top tier has no next badge")
}

func TestGetUserRankUnknownUser(t *testing.T) {
	e := newTestEngine(t)

	r := e.GetUserRank("nobody")
	assert.Equal(t, "nobody", r.UserID)
	assert.Equal(t, "rookie", r.CurrentBadge.ID)
	assert.Equal(t, int64(0), r.TotalTokensEarned)
	require.NotNil(t, r.NextBadge)
	assert.Equal(t, int64(100), r.TokensToNextBadge)
	assert.Empty(t, r.History)
}

func TestApplyEarnedTokens(t *testing.T) {
	e := newTestEngine(t)

	// Crossing the first threshold earns the badge and one history entry.
	r, err := e.ApplyEarnedTokens("alice", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), r.TotalTokensEarned)
	assert.Equal(t, "contender", r.CurrentBadge.ID)
	require.Len(t, r.History, 1)
	assert.Equal(t, "contender", r.History[0].BadgeID)
	require.NotNil(t, r.NextBadge)
	assert.Equal(t, int64(400), r.TokensToNextBadge)

	// More tokens within the same tier add no history entry.
	r, err = e.ApplyEarnedTokens("alice", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(150), r.TotalTokensEarned)
	assert.Equal(t, "contender", r.CurrentBadge.ID)
	assert.Len(t, r.History, 1)
	assert.Equal(t, int64(350), r.TokensToNextBadge)

	// A large award can skip straight to the top tier.
	r, err = e.ApplyEarnedTokens("alice", 1000)
	require.NoError(t, err)
	assert.Equal(t, "champion", r.CurrentBadge.ID)
	assert.Len(t, r.History, 2)
	assert.Nil(t, r.NextBadge)
	assert.Equal(t, int64(0), r.TokensToNextBadge)
}

func TestApplyEarnedTokensValidation(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.ApplyEarnedTokens("alice", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = e.ApplyEarnedTokens("alice", -10)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	r := e.GetUserRank("alice")
	assert.Equal(t, int64(0), r.TotalTokensEarned)
}

func TestTotalTokensNeverDecrease(t *testing.T) {
	e := newTestEngine(t)

	var prev int64
	for i := 0; i < 20; i++ {
		r, err := e.ApplyEarnedTokens("alice", 7)
		require.NoError(t, err)
		assert.Greater(t, r.TotalTokensEarned, prev)
		prev = r.TotalTokensEarned
	}
}

func TestApplyEarnedTokensBatch(t *testing.T) {
	e := newTestEngine(t)

	updated, err := e.ApplyEarnedTokensBatch(map[string]int64{
		"alice": 100,
		"bob":   50,
	})
	require.NoError(t, err)
	require.Len(t, updated, 2)

	assert.Equal(t, "contender", e.GetUserRank("alice").CurrentBadge.ID)
	assert.Equal(t, "rookie", e.GetUserRank("bob").CurrentBadge.ID)
}

func TestApplyEarnedTokensBatchAtomicity(t *testing.T) {
	e := newTestEngine(t)

	// One invalid award fails the whole batch.
	_, err := e.ApplyEarnedTokensBatch(map[string]int64{
		"alice": 100,
		"bob":   0,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, int64(0), e.GetUserRank("alice").TotalTokensEarned)
	assert.Equal(t, int64(0), e.GetUserRank("bob").TotalTokensEarned)
}

func TestSnapshotRestore(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.ApplyEarnedTokens("alice", 150)
	require.NoError(t, err)
	_, err = e.ApplyEarnedTokens("bob", 600)
	require.NoError(t, err)

	snap := e.Snapshot()
	require.Len(t, snap, 2)

	restored := newTestEngine(t)
	restored.Restore(snap)

	r := restored.GetUserRank("alice")
	assert.Equal(t, int64(150), r.TotalTokensEarned)
	assert.Equal(t, "contender", r.CurrentBadge.ID)
	require.Len(t, r.History, 1)

	r = restored.GetUserRank("bob")
	assert.Equal(t, "champion", r.CurrentBadge.ID)
	assert.Nil(t, r.NextBadge)
}

func TestRestoreRecomputesBadges(t *testing.T) {
	e := newTestEngine(t)

	// Snapshot written under a different badge set carries a stale tier.
	stale := []domain.UserRank{{
		UserID:            "alice",
		TotalTokensEarned: 150,
		CurrentBadge:      domain.Badge{ID: "old-tier", RequiredTokens: 150},
	}}
	e.Restore(stale)

	r := e.GetUserRank("alice")
	assert.Equal(t, "contender", r.CurrentBadge.ID)
	require.NotNil(t, r.NextBadge)
	assert.Equal(t, int64(350), r.TokensToNextBadge)
}
