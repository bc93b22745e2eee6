package rooms

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpdateStatus sets the room's lifecycle status.
func (r *Repository) UpdateStatus(ctx context.Context, roomCode string, status Status) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE rooms SET status = $1, updated_at = now() WHERE code = $2`,
		string(status), roomCode,
	)
	if err != nil {
		return fmt.Errorf("failed to update room status: %w", err)
	}
	return nil
}

// SaveFinalScore records one participant's result for a finished duel.
func (r *Repository) SaveFinalScore(ctx context.Context, score FinalScore) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO duel_results (room_code, participant_name, score, max_score, prompts_used, won, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (room_code, participant_name) DO UPDATE
		 SET score = EXCLUDED.score, max_score = EXCLUDED.max_score,
		     prompts_used = EXCLUDED.prompts_used, won = EXCLUDED.won`,
		score.RoomCode, score.ParticipantName, score.Score, score.MaxScore, score.PromptsUsed, score.Won,
	)
	if err != nil {
		return fmt.Errorf("failed to save final score: %w", err)
	}
	return nil
}

// TopScores returns the leaderboard ordered by best score.
func (r *Repository) TopScores(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT participant_name,
		        max(score)                            AS best_score,
		        count(*) FILTER (WHERE won)           AS wins,
		        count(*)                              AS duels
		 FROM duel_results
		 GROUP BY participant_name
		 ORDER BY best_score DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var entry LeaderboardEntry
		if err := rows.Scan(&entry.ParticipantName, &entry.BestScore, &entry.Wins, &entry.Duels); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
