package domain

import "time"

// Badge is a tier in the rank progression, unlocked at a token threshold.
// Thresholds are strictly ordered across a badge set and every set carries
// a zero-threshold badge so every token total maps to a tier.
type Badge struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	RequiredTokens int64  `json:"required_tokens" yaml:"required_tokens"`
	IsTeamBadge    bool   `json:"is_team_badge" yaml:"is_team_badge"`
}

// BadgeAward is one append-only history entry recording a tier transition
type BadgeAward struct {
	BadgeID   string    `json:"badge_id"`
	BadgeName string    `json:"badge_name"`
	EarnedAt  time.Time `json:"earned_at"`
}

// UserRank tracks a user's cumulative earned tokens and current badge tier.
// TotalTokensEarned is non-decreasing over the object's lifetime and
// CurrentBadge is always the highest-threshold badge at or below it.
type UserRank struct {
	UserID            string       `json:"user_id"`
	CurrentBadge      Badge        `json:"current_badge"`
	TotalTokensEarned int64        `json:"total_tokens_earned"`
	NextBadge         *Badge       `json:"next_badge,omitempty"`
	TokensToNextBadge int64        `json:"tokens_to_next_badge"`
	History           []BadgeAward `json:"history"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// TokenEntry is a single entry in the cumulative token leaderboard
type TokenEntry struct {
	Rank   int64  `json:"rank"`
	UserID string `json:"user_id"`
	Tokens int64  `json:"tokens"`
}
