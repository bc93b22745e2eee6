// Package coordinator runs the judge side of one room: it seats the two
// participants, anchors the shared clock, scores finished rounds, hands the
// turn over, and settles the final results. All of its effects travel
// through the event log; it never talks to a client directly.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/promptduel/promptduel/internal/duel/eventlog"
	"github.com/promptduel/promptduel/internal/duel/events"
	"github.com/promptduel/promptduel/internal/duel/reducer"
	"github.com/promptduel/promptduel/internal/duel/timesync"
	"github.com/promptduel/promptduel/internal/rooms"
	"github.com/promptduel/promptduel/internal/scoring"
)

// Config holds per-duel settings.
type Config struct {
	DurationSeconds int
}

// Coordinator is the judge for one room.
type Coordinator struct {
	roomCode string
	cfg      Config
	roomLog  eventlog.Log
	eval     scoring.Evaluator
	store    rooms.Store
	clock    clockwork.Clock

	mu        sync.Mutex
	red       *reducer.Reducer
	keys      map[string]events.ParticipantKey // participant name -> side
	evals     map[events.ParticipantKey]scoring.Evaluation
	started   bool
	finalized bool
	timerStop context.CancelFunc
}

// New creates a coordinator for one room.
func New(roomCode string, cfg Config, roomLog eventlog.Log, eval scoring.Evaluator, store rooms.Store, clock clockwork.Clock) *Coordinator {
	return &Coordinator{
		roomCode: roomCode,
		cfg:      cfg,
		roomLog:  roomLog,
		eval:     eval,
		store:    store,
		clock:    clock,
		red:      reducer.New(roomCode),
		keys:     make(map[string]events.ParticipantKey),
		evals:    make(map[events.ParticipantKey]scoring.Evaluation),
	}
}

// Join seats a participant. The first joiner takes side A, the second side B;
// rejoining under the same name keeps the same side. When the second seat
// fills, the duel begins. Returns the participant's side.
func (c *Coordinator) Join(ctx context.Context, name string) (events.ParticipantKey, error) {
	c.mu.Lock()
	if key, ok := c.keys[name]; ok {
		c.mu.Unlock()
		return key, nil
	}
	var key events.ParticipantKey
	switch len(c.keys) {
	case 0:
		key = events.ParticipantA
	case 1:
		key = events.ParticipantB
	default:
		c.mu.Unlock()
		return "", fmt.Errorf("room %s already has two participants", c.roomCode)
	}
	c.keys[name] = key
	full := len(c.keys) == 2
	c.mu.Unlock()

	if err := c.roomLog.Append(ctx, c.roomCode, events.NewReadyMessage(c.roomCode, key, name, c.clock.Now())); err != nil {
		return "", fmt.Errorf("append ready: %w", err)
	}

	if full {
		if err := c.begin(ctx); err != nil {
			return "", err
		}
	}
	return key, nil
}

// begin anchors the duel clock, gives side A the first turn, and starts the
// expiry watcher.
func (c *Coordinator) begin(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	var nameA, nameB string
	for name, key := range c.keys {
		if key == events.ParticipantA {
			nameA = name
		} else {
			nameB = name
		}
	}
	c.mu.Unlock()

	now := c.clock.Now()
	started := events.GameStarted{
		StartEpochMillis: now.UnixMilli(),
		TotalSeconds:     c.cfg.DurationSeconds,
		NameA:            nameA,
		NameB:            nameB,
	}
	if err := c.roomLog.Append(ctx, c.roomCode, events.NewGameStartMessage(c.roomCode, started, now)); err != nil {
		return fmt.Errorf("append game start: %w", err)
	}
	if err := c.roomLog.Append(ctx, c.roomCode, events.NewTurnMessage(c.roomCode, events.ParticipantA, now)); err != nil {
		return fmt.Errorf("append first turn: %w", err)
	}
	if err := c.store.UpdateStatus(ctx, c.roomCode, rooms.StatusInProgress); err != nil {
		log.Error().Err(err).Str("room", c.roomCode).Msg("failed to persist room status")
	}

	timer := timesync.Timer{StartEpochMillis: started.StartEpochMillis, TotalSeconds: started.TotalSeconds}
	timerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.timerStop = cancel
	c.mu.Unlock()

	go timesync.NewTicker(c.clock).Run(timerCtx, timer, func(remaining int) {
		if remaining > 0 {
			return
		}
		if err := c.roomLog.Append(timerCtx, c.roomCode, events.NewGameEndMessage(c.roomCode, "time", c.clock.Now())); err != nil {
			log.Error().Err(err).Str("room", c.roomCode).Msg("failed to append time-up game end")
		}
	})

	log.Info().
		Str("room", c.roomCode).
		Int("duration_sec", started.TotalSeconds).
		Str("participant_a", nameA).
		Str("participant_b", nameB).
		Msg("duel started")
	return nil
}

// ReportRound scores a finished generation round and hands the turn to the
// opponent. Called after a processing-complete; scoring failures surface as
// a zero score so the turn still advances.
func (c *Coordinator) ReportRound(ctx context.Context, name, workspaceRef string, promptsUsed int) error {
	key, ok := c.sideOf(name)
	if !ok {
		return fmt.Errorf("unknown participant %q in room %s", name, c.roomCode)
	}

	score := 0
	evaluation, err := c.eval.Evaluate(ctx, workspaceRef)
	if err != nil {
		log.Error().Err(err).Str("room", c.roomCode).Str("participant", name).Msg("scoring failed")
	} else {
		score = evaluation.Score
		// The full verdict (max score, per-category breakdown) only rides
		// the final RESULTS payload; the score message stays a flat number.
		c.mu.Lock()
		c.evals[key] = *evaluation
		c.mu.Unlock()
	}

	now := c.clock.Now()
	if err := c.roomLog.Append(ctx, c.roomCode, events.NewScoreMessage(c.roomCode, key, score, promptsUsed, now)); err != nil {
		return fmt.Errorf("append score: %w", err)
	}

	next := key.Opponent()
	state := c.State()
	if state.Players[next].HasEnded {
		// The opponent is done; the turn stays with whoever is still playing.
		next = key
	}
	if err := c.roomLog.Append(ctx, c.roomCode, events.NewTurnMessage(c.roomCode, next, now)); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// EndEarly marks a participant as finished before the clock.
func (c *Coordinator) EndEarly(ctx context.Context, name string) error {
	key, ok := c.sideOf(name)
	if !ok {
		return fmt.Errorf("unknown participant %q in room %s", name, c.roomCode)
	}
	return c.roomLog.Append(ctx, c.roomCode, events.NewEndedEarlyMessage(c.roomCode, key, name, c.clock.Now()))
}

func (c *Coordinator) sideOf(name string) (events.ParticipantKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.keys[name]
	return key, ok
}

// State returns the coordinator's current derived view.
func (c *Coordinator) State() reducer.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.red.State()
}
