// Package rooms persists room lifecycle status and final duel scores, and
// serves the leaderboard. Room CRUD itself lives in the external room
// service; this package only covers the write points the duel engine owns.
package rooms

import (
	"context"
)

// Status is a room's persisted lifecycle state.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// FinalScore is one participant's line from a finished duel.
type FinalScore struct {
	RoomCode        string `json:"roomCode"`
	ParticipantName string `json:"participantName"`
	Score           int    `json:"score"`
	MaxScore        int    `json:"maxScore"`
	PromptsUsed     int    `json:"promptsUsed"`
	Won             bool   `json:"won"`
}

// LeaderboardEntry aggregates a participant's record.
type LeaderboardEntry struct {
	ParticipantName string `json:"participantName"`
	BestScore       int    `json:"bestScore"`
	Wins            int    `json:"wins"`
	Duels           int    `json:"duels"`
}

// Store is the persistence contract the duel engine writes through.
type Store interface {
	UpdateStatus(ctx context.Context, roomCode string, status Status) error
	SaveFinalScore(ctx context.Context, score FinalScore) error
	TopScores(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}
