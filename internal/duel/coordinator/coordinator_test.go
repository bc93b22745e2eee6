package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptduel/promptduel/internal/duel/eventlog"
	"github.com/promptduel/promptduel/internal/duel/events"
	"github.com/promptduel/promptduel/internal/duel/reducer"
	"github.com/promptduel/promptduel/internal/rooms"
	"github.com/promptduel/promptduel/internal/scoring"
)

// mapEvaluator scores workspaces from a fixed table.
type mapEvaluator struct {
	scores map[string]int
}

func (e *mapEvaluator) Evaluate(ctx context.Context, workspaceRef string) (*scoring.Evaluation, error) {
	score, ok := e.scores[workspaceRef]
	if !ok {
		return nil, errors.New("unknown workspace")
	}
	return &scoring.Evaluation{
		Score:    score,
		MaxScore: 100,
		Categories: []scoring.Category{
			{Name: "correctness", Score: score / 2, MaxScore: 50},
			{Name: "style", Score: score - score/2, MaxScore: 50},
		},
	}, nil
}

type coordEnv struct {
	coord  *Coordinator
	store  *rooms.MemoryStore
	log    *eventlog.MemoryLog
	clock  *clockwork.FakeClock
	cancel context.CancelFunc
	done   chan struct{}
}

func newCoordEnv(t *testing.T, cfg Config, eval scoring.Evaluator) *coordEnv {
	t.Helper()
	env := &coordEnv{
		store: rooms.NewMemoryStore(),
		log:   eventlog.NewMemoryLog(),
		clock: clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		done:  make(chan struct{}),
	}
	env.coord = New("ROOM1", cfg, env.log, eval, env.store, env.clock)

	ctx, cancel := context.WithCancel(context.Background())
	env.cancel = cancel
	go func() {
		defer close(env.done)
		if err := env.coord.Run(ctx); err != nil {
			t.Error(err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-env.done
		env.log.Close()
	})
	return env
}

// step advances the fake clock so consecutive appends carry distinct
// timestamps and are not mistaken for duplicates.
func (e *coordEnv) step() {
	e.clock.Advance(10 * time.Millisecond)
}

func (e *coordEnv) waitFor(t *testing.T, cond func(reducer.State) bool) reducer.State {
	t.Helper()
	var state reducer.State
	require.Eventually(t, func() bool {
		state = e.coord.State()
		return cond(state)
	}, time.Second, 5*time.Millisecond)
	return state
}

func TestJoinSeatsSidesAndStartsWhenFull(t *testing.T) {
	env := newCoordEnv(t, Config{DurationSeconds: 1200}, &scoring.StaticEvaluator{})
	ctx := context.Background()

	keyA, err := env.coord.Join(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, events.ParticipantA, keyA)

	// One seat filled: still waiting.
	state := env.waitFor(t, func(s reducer.State) bool {
		return s.Players[events.ParticipantA].IsReady
	})
	assert.Equal(t, reducer.StatusWaiting, state.Status)

	env.step()
	keyB, err := env.coord.Join(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, events.ParticipantB, keyB)

	state = env.waitFor(t, func(s reducer.State) bool {
		return s.Status == reducer.StatusActive && s.Turn == events.ParticipantA
	})
	assert.Equal(t, "alice", state.Players[events.ParticipantA].Name)
	assert.Equal(t, "bob", state.Players[events.ParticipantB].Name)
	assert.Equal(t, 1200, state.TotalSeconds)
	assert.NotZero(t, state.StartEpochMillis)
	assert.Equal(t, rooms.StatusInProgress, env.store.RoomStatus("ROOM1"))

	// Rejoining keeps the side and does not restart the duel.
	again, err := env.coord.Join(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, events.ParticipantA, again)

	_, err = env.coord.Join(ctx, "carol")
	assert.Error(t, err)
}

func TestReportRoundScoresAndHandsTurnOver(t *testing.T) {
	eval := &mapEvaluator{scores: map[string]int{"ws-alice": 70, "ws-bob": 55}}
	env := newCoordEnv(t, Config{DurationSeconds: 1200}, eval)
	ctx := context.Background()

	_, err := env.coord.Join(ctx, "alice")
	require.NoError(t, err)
	env.step()
	_, err = env.coord.Join(ctx, "bob")
	require.NoError(t, err)
	env.waitFor(t, func(s reducer.State) bool { return s.Status == reducer.StatusActive })

	env.step()
	require.NoError(t, env.coord.ReportRound(ctx, "alice", "ws-alice", 1))

	state := env.waitFor(t, func(s reducer.State) bool {
		return s.Players[events.ParticipantA].Score == 70
	})
	assert.Equal(t, events.ParticipantB, state.Turn)
	assert.Equal(t, 1, state.Players[events.ParticipantA].PromptsUsed)

	env.step()
	require.NoError(t, env.coord.ReportRound(ctx, "bob", "ws-bob", 1))
	state = env.waitFor(t, func(s reducer.State) bool {
		return s.Players[events.ParticipantB].Score == 55
	})
	assert.Equal(t, events.ParticipantA, state.Turn)
}

func TestScoringFailureAdvancesTurnWithZeroScore(t *testing.T) {
	eval := &mapEvaluator{scores: map[string]int{}}
	env := newCoordEnv(t, Config{DurationSeconds: 1200}, eval)
	ctx := context.Background()

	_, err := env.coord.Join(ctx, "alice")
	require.NoError(t, err)
	env.step()
	_, err = env.coord.Join(ctx, "bob")
	require.NoError(t, err)
	env.waitFor(t, func(s reducer.State) bool { return s.Status == reducer.StatusActive })

	env.step()
	require.NoError(t, env.coord.ReportRound(ctx, "alice", "ws-missing", 1))

	state := env.waitFor(t, func(s reducer.State) bool {
		return s.Turn == events.ParticipantB
	})
	assert.Zero(t, state.Players[events.ParticipantA].Score)
	assert.Equal(t, 1, state.Players[events.ParticipantA].PromptsUsed)
}

func TestBothEndEarlySettlesOnce(t *testing.T) {
	eval := &mapEvaluator{scores: map[string]int{"ws-alice": 70, "ws-bob": 55}}
	env := newCoordEnv(t, Config{DurationSeconds: 1200}, eval)
	ctx := context.Background()

	_, err := env.coord.Join(ctx, "alice")
	require.NoError(t, err)
	env.step()
	_, err = env.coord.Join(ctx, "bob")
	require.NoError(t, err)
	env.waitFor(t, func(s reducer.State) bool { return s.Status == reducer.StatusActive })

	env.step()
	require.NoError(t, env.coord.ReportRound(ctx, "alice", "ws-alice", 2))
	env.step()
	require.NoError(t, env.coord.ReportRound(ctx, "bob", "ws-bob", 3))
	env.waitFor(t, func(s reducer.State) bool {
		return s.Players[events.ParticipantB].Score == 55
	})

	env.step()
	require.NoError(t, env.coord.EndEarly(ctx, "alice"))
	state := env.waitFor(t, func(s reducer.State) bool {
		return s.Players[events.ParticipantA].HasEnded
	})
	// One side done: the duel continues and the turn belongs to the other.
	assert.Equal(t, reducer.StatusActive, state.Status)

	env.step()
	require.NoError(t, env.coord.EndEarly(ctx, "bob"))
	state = env.waitFor(t, func(s reducer.State) bool {
		return s.Status == reducer.StatusEnded && s.Results != nil
	})

	assert.Equal(t, events.ParticipantA, state.Results.Winner)
	assert.False(t, state.Results.Tie)

	// The results payload carries the full verdicts, not just the flat
	// scores: max score per side and the paired category breakdown.
	require.Len(t, state.Results.Players, 2)
	assert.Equal(t, 100, state.Results.Players[0].MaxScore)
	assert.Equal(t, 100, state.Results.Players[1].MaxScore)
	assert.Equal(t, map[string][]int{
		"correctness": {35, 27},
		"style":       {35, 28},
	}, state.Results.Categories)

	require.Eventually(t, func() bool {
		return env.store.RoomStatus("ROOM1") == rooms.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	scores := env.store.FinalScores("ROOM1")
	require.Len(t, scores, 2)
	assert.Equal(t, "alice", scores[0].ParticipantName)
	assert.Equal(t, 70, scores[0].Score)
	assert.Equal(t, 100, scores[0].MaxScore)
	assert.Equal(t, 2, scores[0].PromptsUsed)
	assert.True(t, scores[0].Won)
	assert.Equal(t, "bob", scores[1].ParticipantName)
	assert.Equal(t, 100, scores[1].MaxScore)
	assert.False(t, scores[1].Won)
}

func TestTimeExpiryEndsTheDuel(t *testing.T) {
	env := newCoordEnv(t, Config{DurationSeconds: 2}, &scoring.StaticEvaluator{})
	ctx := context.Background()

	_, err := env.coord.Join(ctx, "alice")
	require.NoError(t, err)
	env.step()
	_, err = env.coord.Join(ctx, "bob")
	require.NoError(t, err)
	env.waitFor(t, func(s reducer.State) bool { return s.Status == reducer.StatusActive })

	// Let the expiry watcher park on its ticker, then run the clock out.
	env.clock.BlockUntil(1)
	env.clock.Advance(time.Second)
	env.clock.Advance(time.Second)

	state := env.waitFor(t, func(s reducer.State) bool {
		return s.Status == reducer.StatusEnded && s.Results != nil
	})
	assert.True(t, state.Results.Tie)
	require.Eventually(t, func() bool {
		return env.store.RoomStatus("ROOM1") == rooms.StatusCompleted
	}, time.Second, 5*time.Millisecond)
}
