package coordinator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/promptduel/promptduel/internal/duel/events"
	"github.com/promptduel/promptduel/internal/duel/reducer"
	"github.com/promptduel/promptduel/internal/rooms"
	"github.com/promptduel/promptduel/internal/scoring"
)

// Run subscribes the coordinator to its own room's log and folds every
// message through the reducer, exactly as any client would. Derived messages
// (the single game-end when both sides finish early) are appended back, and
// the first transition to an ended game settles the results. Blocks until
// ctx is cancelled or the subscription closes.
func (c *Coordinator) Run(ctx context.Context) error {
	sub, err := c.roomLog.Subscribe(ctx, c.roomCode)
	if err != nil {
		return fmt.Errorf("subscribe to room %s: %w", c.roomCode, err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			c.fold(ctx, msg)
		}
	}
}

func (c *Coordinator) fold(ctx context.Context, msg events.GameMessage) {
	c.mu.Lock()
	derived := c.red.Apply(msg)
	state := c.red.State()
	shouldFinalize := state.Status == reducer.StatusEnded && !c.finalized
	if shouldFinalize {
		c.finalized = true
	}
	timerStop := c.timerStop
	c.mu.Unlock()

	for _, out := range derived {
		if err := c.roomLog.Append(ctx, out.RoomCode, out); err != nil {
			log.Error().Err(err).Str("room", c.roomCode).Msg("failed to append derived message")
		}
	}

	if shouldFinalize {
		if timerStop != nil {
			timerStop()
		}
		c.finalize(ctx, state)
	}
}

// finalize publishes the authoritative RESULTS payload and persists the
// outcome. Runs exactly once per room.
func (c *Coordinator) finalize(ctx context.Context, state reducer.State) {
	results := c.buildResults(state)
	if err := c.roomLog.Append(ctx, c.roomCode, events.NewResultsMessage(c.roomCode, results, c.clock.Now())); err != nil {
		log.Error().Err(err).Str("room", c.roomCode).Msg("failed to append results")
	}

	for _, pr := range results.Players {
		score := rooms.FinalScore{
			RoomCode:        c.roomCode,
			ParticipantName: pr.Name,
			Score:           pr.Score,
			MaxScore:        pr.MaxScore,
			PromptsUsed:     pr.PromptsUsed,
			Won:             !results.Tie && results.Winner == pr.Key,
		}
		if err := c.store.SaveFinalScore(ctx, score); err != nil {
			log.Error().Err(err).Str("room", c.roomCode).Str("participant", pr.Name).Msg("failed to persist final score")
		}
	}
	if err := c.store.UpdateStatus(ctx, c.roomCode, rooms.StatusCompleted); err != nil {
		log.Error().Err(err).Str("room", c.roomCode).Msg("failed to persist completed status")
	}

	log.Info().
		Str("room", c.roomCode).
		Str("winner", string(results.Winner)).
		Bool("tie", results.Tie).
		Msg("duel settled")
}

// buildResults assembles the RESULTS payload from the derived state plus each
// side's last stored evaluation, which carries what the score messages do not:
// the max score and the per-category breakdown.
func (c *Coordinator) buildResults(state reducer.State) events.FinalResults {
	a := state.Players[events.ParticipantA]
	b := state.Players[events.ParticipantB]

	c.mu.Lock()
	evalA := c.evals[events.ParticipantA]
	evalB := c.evals[events.ParticipantB]
	c.mu.Unlock()

	results := events.FinalResults{
		Players: []events.PlayerResult{
			{Key: events.ParticipantA, Name: a.Name, Score: a.Score, MaxScore: evalA.MaxScore, PromptsUsed: a.PromptsUsed},
			{Key: events.ParticipantB, Name: b.Name, Score: b.Score, MaxScore: evalB.MaxScore, PromptsUsed: b.PromptsUsed},
		},
		Categories: mergeCategories(evalA, evalB),
	}
	switch {
	case a.Score > b.Score:
		results.Winner = events.ParticipantA
	case b.Score > a.Score:
		results.Winner = events.ParticipantB
	default:
		results.Tie = true
	}
	return results
}

// mergeCategories pairs both sides' category scores: each entry is
// [scoreA, scoreB] under the category name.
func mergeCategories(evalA, evalB scoring.Evaluation) map[string][]int {
	if len(evalA.Categories) == 0 && len(evalB.Categories) == 0 {
		return nil
	}
	merged := make(map[string][]int)
	for _, cat := range evalA.Categories {
		merged[cat.Name] = []int{cat.Score, 0}
	}
	for _, cat := range evalB.Categories {
		if pair, ok := merged[cat.Name]; ok {
			pair[1] = cat.Score
			continue
		}
		merged[cat.Name] = []int{0, cat.Score}
	}
	return merged
}
