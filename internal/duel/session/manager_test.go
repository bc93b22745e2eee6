package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptduel/promptduel/internal/duel/eventlog"
	"github.com/promptduel/promptduel/internal/duel/events"
	"github.com/promptduel/promptduel/internal/provider"
	"github.com/promptduel/promptduel/internal/workspace"
)

type fakeFactory struct {
	gen provider.Generator
}

func (f *fakeFactory) New(providerName, model string) (provider.Generator, error) {
	return f.gen, nil
}

// blockingGen parks every Generate call until released, signalling on started
// so tests can synchronize with the in-flight state.
type blockingGen struct {
	started chan struct{}
	release chan struct{}
	result  *provider.Result
}

func newBlockingGen(result *provider.Result) *blockingGen {
	return &blockingGen{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
		result:  result,
	}
}

func (g *blockingGen) Name() string { return "blocking" }

func (g *blockingGen) Generate(ctx context.Context, req provider.Request) (*provider.Result, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
		return g.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// scriptedGen returns one canned outcome per call, in order.
type scriptedGen struct {
	mu       sync.Mutex
	outcomes []func() (*provider.Result, error)
	requests []provider.Request
}

func (g *scriptedGen) Name() string { return "scripted" }

func (g *scriptedGen) Generate(ctx context.Context, req provider.Request) (*provider.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	next := g.outcomes[0]
	g.outcomes = g.outcomes[1:]
	return next()
}

func textResult(text string) func() (*provider.Result, error) {
	return func() (*provider.Result, error) {
		return &provider.Result{Text: text, StopReason: "end_turn"}, nil
	}
}

type recordNotifier struct {
	mu       sync.Mutex
	started  int
	outputs  []string
	errs     []string
	complete chan Stats
}

func newRecordNotifier() *recordNotifier {
	return &recordNotifier{complete: make(chan Stats, 8)}
}

func (n *recordNotifier) ProcessingStarted(sessionID string) {
	n.mu.Lock()
	n.started++
	n.mu.Unlock()
}

func (n *recordNotifier) Output(sessionID, text string) {
	n.mu.Lock()
	n.outputs = append(n.outputs, text)
	n.mu.Unlock()
}

func (n *recordNotifier) ProcessingComplete(sessionID string, stats Stats) {
	n.complete <- stats
}

func (n *recordNotifier) Error(sessionID, message string) {
	n.mu.Lock()
	n.errs = append(n.errs, message)
	n.mu.Unlock()
}

func (n *recordNotifier) outputsContaining(substr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, out := range n.outputs {
		if strings.Contains(out, substr) {
			count++
		}
	}
	return count
}

type testEnv struct {
	manager    *Manager
	workspaces *workspace.MemoryStore
	roomLog    *eventlog.MemoryLog
	clock      *clockwork.FakeClock
	notifier   *recordNotifier
}

func newTestEnv(t *testing.T, gen provider.Generator, cfg Config) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	workspaces := workspace.NewMemoryStore()
	roomLog := eventlog.NewMemoryLog()
	t.Cleanup(roomLog.Close)
	return &testEnv{
		manager:    NewManager(cfg, &fakeFactory{gen: gen}, workspaces, roomLog, clock),
		workspaces: workspaces,
		roomLog:    roomLog,
		clock:      clock,
		notifier:   newRecordNotifier(),
	}
}

func (e *testEnv) start(t *testing.T) *Session {
	t.Helper()
	sess, err := e.manager.StartSession(context.Background(), StartRequest{
		ParticipantName: "alice",
		ChallengeID:     "two-sum",
		RoomCode:        "ROOM1",
		Provider:        "stub",
		Model:           "test-model",
		Notifier:        e.notifier,
	})
	require.NoError(t, err)
	return sess
}

func TestStartSessionIsIdempotent(t *testing.T) {
	env := newTestEnv(t, &scriptedGen{}, DefaultConfig())
	first := env.start(t)
	second := env.start(t)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.WorkspaceRef, second.WorkspaceRef)
}

func TestReconnectSwapsNotifierWhileGenerating(t *testing.T) {
	gen := newBlockingGen(&provider.Result{Text: "solution", StopReason: "end_turn"})
	env := newTestEnv(t, gen, DefaultConfig())
	sess := env.start(t)

	done := make(chan error, 1)
	go func() {
		done <- env.manager.Submit(context.Background(), sess.ID, "write it")
	}()
	<-gen.started

	// The participant reconnects mid-generation: the idempotent re-start
	// rebinds the session to the fresh connection's notifier while the
	// heartbeat and completion paths are still live.
	rejoined := newRecordNotifier()
	again, err := env.manager.StartSession(context.Background(), StartRequest{
		ParticipantName: "alice",
		ChallengeID:     "two-sum",
		RoomCode:        "ROOM1",
		Provider:        "stub",
		Model:           "test-model",
		Notifier:        rejoined,
	})
	require.NoError(t, err)
	require.Equal(t, sess.ID, again.ID)

	close(gen.release)
	require.NoError(t, <-done)

	// Completion lands on the new connection, not the old one.
	stats := <-rejoined.complete
	assert.Equal(t, StatusSuccess, stats.Status)
	select {
	case <-env.notifier.complete:
		t.Fatal("completion delivered to the stale notifier")
	default:
	}
}

func TestSubmitRejectsConcurrentCalls(t *testing.T) {
	gen := newBlockingGen(&provider.Result{Text: "solution", StopReason: "end_turn"})
	env := newTestEnv(t, gen, DefaultConfig())
	sess := env.start(t)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- env.manager.Submit(context.Background(), sess.ID, "write it")
	}()
	<-gen.started

	// Second submit while the first is in flight fails fast, no queueing.
	err := env.manager.Submit(context.Background(), sess.ID, "also write it")
	require.ErrorIs(t, err, ErrBusy)

	close(gen.release)
	require.NoError(t, <-firstDone)

	stats := <-env.notifier.complete
	assert.Equal(t, StatusSuccess, stats.Status)

	// The rejected call consumed no prompt and left no trace in the
	// workspace beyond the first call's artifact.
	assert.Equal(t, 1, sess.PromptsUsed())
	content, err := env.workspaces.Read(context.Background(), sess.WorkspaceRef)
	require.NoError(t, err)
	assert.Equal(t, "solution", content)

	// Lock is released: the next submit goes through.
	gen.release = make(chan struct{})
	close(gen.release)
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- env.manager.Submit(context.Background(), sess.ID, "refine it")
	}()
	<-gen.started
	require.NoError(t, <-secondDone)
	assert.Equal(t, 2, sess.PromptsUsed())
}

func TestEmptyResultPreservesPreviousOutput(t *testing.T) {
	gen := &scriptedGen{outcomes: []func() (*provider.Result, error){
		textResult("solution v1"),
		textResult("   \n"),
	}}
	env := newTestEnv(t, gen, DefaultConfig())
	sess := env.start(t)

	require.NoError(t, env.manager.Submit(context.Background(), sess.ID, "write it"))
	first := <-env.notifier.complete
	assert.Equal(t, StatusSuccess, first.Status)
	assert.Equal(t, len("solution v1"), first.OutputSize)

	require.NoError(t, env.manager.Submit(context.Background(), sess.ID, "improve it"))
	second := <-env.notifier.complete
	assert.Equal(t, StatusIncomplete, second.Status)

	content, err := env.workspaces.Read(context.Background(), sess.WorkspaceRef)
	require.NoError(t, err)
	assert.Equal(t, "solution v1", content)
	assert.Equal(t, 1, env.notifier.outputsContaining("previous output preserved"))
}

func TestProviderErrorStillCompletes(t *testing.T) {
	gen := &scriptedGen{outcomes: []func() (*provider.Result, error){
		func() (*provider.Result, error) { return nil, errors.New("model overloaded") },
	}}
	env := newTestEnv(t, gen, DefaultConfig())
	sess := env.start(t)

	sub, err := env.roomLog.Subscribe(context.Background(), "ROOM1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, env.manager.Submit(context.Background(), sess.ID, "write it"))

	stats := <-env.notifier.complete
	assert.Equal(t, StatusError, stats.Status)
	assert.Zero(t, stats.OutputSize)
	assert.Contains(t, env.notifier.errs, "model overloaded")
	assert.False(t, sess.Processing())

	// Both lifecycle markers reach the room even though the call failed.
	started, ok := events.Decode(<-sub.Messages())
	require.True(t, ok)
	assert.Equal(t, events.ProcessingStarted{Name: "alice"}, started)
	finished, ok := events.Decode(<-sub.Messages())
	require.True(t, ok)
	assert.Equal(t, events.ProcessingFinished{Name: "alice"}, finished)
}

func TestSubsequentInstructionFeedsCurrentArtifactBack(t *testing.T) {
	gen := &scriptedGen{outcomes: []func() (*provider.Result, error){
		textResult("solution v1"),
		textResult("solution v2"),
	}}
	env := newTestEnv(t, gen, DefaultConfig())
	sess := env.start(t)

	require.NoError(t, env.manager.Submit(context.Background(), sess.ID, "write it"))
	<-env.notifier.complete
	require.NoError(t, env.manager.Submit(context.Background(), sess.ID, "refine it"))
	<-env.notifier.complete

	require.Len(t, gen.requests, 2)
	assert.NotContains(t, gen.requests[0].UserMessage, "Current solution")
	assert.Contains(t, gen.requests[1].UserMessage, "solution v1")
	assert.Contains(t, gen.requests[1].UserMessage, "refine it")
}

func TestSafetyTimeoutForceClearsLock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 10 * time.Second
	cfg.SafetyTimeout = 30 * time.Second

	gen := newBlockingGen(&provider.Result{Text: "too late"})
	env := newTestEnv(t, gen, cfg)
	sess := env.start(t)

	done := make(chan error, 1)
	go func() {
		done <- env.manager.Submit(context.Background(), sess.ID, "write it")
	}()
	<-gen.started

	// Two waiters on the fake clock: the heartbeat ticker and the safety
	// timer.
	env.clock.BlockUntil(2)
	env.clock.Advance(cfg.SafetyTimeout)

	require.NoError(t, <-done)
	stats := <-env.notifier.complete
	assert.Equal(t, StatusIncomplete, stats.Status)
	assert.False(t, sess.Processing())
	assert.Equal(t, 1, env.notifier.outputsContaining("timed out"))
}

func TestHeartbeatReportsWhileGenerating(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 10 * time.Second
	cfg.SafetyTimeout = 5 * time.Minute

	gen := newBlockingGen(&provider.Result{Text: "solution"})
	env := newTestEnv(t, gen, cfg)
	sess := env.start(t)

	done := make(chan error, 1)
	go func() {
		done <- env.manager.Submit(context.Background(), sess.ID, "write it")
	}()
	<-gen.started

	env.clock.BlockUntil(2)
	env.clock.Advance(cfg.HeartbeatInterval)

	require.Eventually(t, func() bool {
		return env.notifier.outputsContaining("still generating") >= 1
	}, time.Second, 5*time.Millisecond)

	close(gen.release)
	require.NoError(t, <-done)
	<-env.notifier.complete
}

func TestReaperKillsIdleSessions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = time.Minute
	cfg.ReapInterval = 2 * time.Minute

	env := newTestEnv(t, &scriptedGen{}, cfg)
	sess := env.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		env.manager.RunReaper(ctx)
	}()

	env.clock.BlockUntil(1)
	env.clock.Advance(cfg.ReapInterval)

	require.Eventually(t, func() bool {
		_, err := env.manager.Get(sess.ID)
		return errors.Is(err, ErrNotFound)
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-reaperDone
}

func TestKillRemovesSessionAndWorkspace(t *testing.T) {
	gen := &scriptedGen{outcomes: []func() (*provider.Result, error){
		textResult("solution"),
	}}
	env := newTestEnv(t, gen, DefaultConfig())
	sess := env.start(t)

	require.NoError(t, env.manager.Submit(context.Background(), sess.ID, "write it"))
	<-env.notifier.complete

	require.NoError(t, env.manager.Kill(context.Background(), sess.ID))

	_, err := env.manager.Get(sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.workspaces.Read(context.Background(), sess.WorkspaceRef)
	assert.ErrorIs(t, err, workspace.ErrNotFound)

	// A fresh start for the same participant mints a new session.
	fresh := env.start(t)
	assert.NotEqual(t, sess.ID, fresh.ID)
}
