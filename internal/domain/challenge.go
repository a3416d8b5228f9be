package domain

import "time"

// ChallengeStatus represents the lifecycle state of a challenge
type ChallengeStatus string

const (
	ChallengeStatusUpcoming  ChallengeStatus = "upcoming"
	ChallengeStatusActive    ChallengeStatus = "active"
	ChallengeStatusCompleted ChallengeStatus = "completed"
)

// Challenge is owned externally; the pool engine only reacts to its
// close signal.
type Challenge struct {
	ID      string          `json:"id"`
	Status  ChallengeStatus `json:"status"`
	EndDate time.Time       `json:"end_date"`
}

// RankedParticipant is a participant with their final placement after
// challenge scoring closes. Ties use competition ranking: participants
// with equal scores share the same rank value.
type RankedParticipant struct {
	UserID string `json:"user_id"`
	Rank   int    `json:"rank"`
}

// ChallengeParticipant represents a user's standing within a challenge
type ChallengeParticipant struct {
	UserID       string `json:"user_id"`
	Score        int64  `json:"score"`
	Rank         int    `json:"rank"`
	Contribution int64  `json:"contribution"`
	TeamID       string `json:"team_id,omitempty"`
}

// CloseChallengeRequest carries the final ranking used to settle the
// challenge's pool.
type CloseChallengeRequest struct {
	RankedParticipants []RankedParticipant `json:"ranked_participants"`
}
