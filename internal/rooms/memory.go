package rooms

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	statuses map[string]Status
	results  map[string]map[string]FinalScore // room -> participant -> score
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses: make(map[string]Status),
		results:  make(map[string]map[string]FinalScore),
	}
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, roomCode string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[roomCode] = status
	return nil
}

// RoomStatus returns the last persisted status for a room.
func (s *MemoryStore) RoomStatus(roomCode string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[roomCode]
}

func (s *MemoryStore) SaveFinalScore(ctx context.Context, score FinalScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.results[score.RoomCode]
	if room == nil {
		room = make(map[string]FinalScore)
		s.results[score.RoomCode] = room
	}
	room[score.ParticipantName] = score
	return nil
}

// FinalScores returns the stored results for a room.
func (s *MemoryStore) FinalScores(roomCode string) []FinalScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	var scores []FinalScore
	for _, score := range s.results[roomCode] {
		scores = append(scores, score)
	}
	sort.Slice(scores, func(i, j int) bool {
		return scores[i].ParticipantName < scores[j].ParticipantName
	})
	return scores
}

func (s *MemoryStore) TopScores(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := make(map[string]*LeaderboardEntry)
	for _, room := range s.results {
		for _, score := range room {
			entry := byName[score.ParticipantName]
			if entry == nil {
				entry = &LeaderboardEntry{ParticipantName: score.ParticipantName}
				byName[score.ParticipantName] = entry
			}
			entry.Duels++
			if score.Won {
				entry.Wins++
			}
			if score.Score > entry.BestScore {
				entry.BestScore = score.Score
			}
		}
	}

	entries := make([]LeaderboardEntry, 0, len(byName))
	for _, entry := range byName {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].BestScore > entries[j].BestScore
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
