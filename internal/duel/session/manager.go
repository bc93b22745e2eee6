// Package session serializes access to the generation backends. Each
// participant gets one session; each session allows at most one generation
// call in flight. Concurrent submits fail fast with ErrBusy so the turn
// protocol never stacks work behind a slow provider call.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/promptduel/promptduel/internal/duel/eventlog"
	"github.com/promptduel/promptduel/internal/duel/events"
	"github.com/promptduel/promptduel/internal/provider"
	"github.com/promptduel/promptduel/internal/workspace"
)

// Config holds the session manager's timing knobs.
type Config struct {
	IdleTimeout       time.Duration
	ReapInterval      time.Duration
	HeartbeatInterval time.Duration
	// SafetyTimeout force-clears a stuck lock even if the provider never
	// returns: liveness over the slim chance a very late response lands.
	SafetyTimeout time.Duration
	MaxTokens     int
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:       30 * time.Minute,
		ReapInterval:      5 * time.Minute,
		HeartbeatInterval: 15 * time.Second,
		SafetyTimeout:     2 * time.Minute,
		MaxTokens:         4096,
	}
}

// StartRequest creates or reuses a session.
type StartRequest struct {
	ParticipantName string
	ChallengeID     string
	RoomCode        string
	Provider        string
	Model           string
	Notifier        Notifier
}

// Manager owns all sessions and supervises their generation lifecycles.
type Manager struct {
	cfg        Config
	providers  provider.Factory
	workspaces workspace.Store
	roomLog    eventlog.Log
	clock      clockwork.Clock

	mu       sync.Mutex
	sessions map[string]*Session
	byOwner  map[string]string // participant@room -> session id
}

// NewManager wires a session manager.
func NewManager(cfg Config, providers provider.Factory, workspaces workspace.Store, roomLog eventlog.Log, clock clockwork.Clock) *Manager {
	return &Manager{
		cfg:        cfg,
		providers:  providers,
		workspaces: workspaces,
		roomLog:    roomLog,
		clock:      clock,
		sessions:   make(map[string]*Session),
		byOwner:    make(map[string]string),
	}
}

func ownerKey(participantName, roomCode string) string {
	return participantName + "@" + roomCode
}

// StartSession creates a session, or returns the existing one for the same
// participant and room (idempotent start).
func (m *Manager) StartSession(ctx context.Context, req StartRequest) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ownerKey(req.ParticipantName, req.RoomCode)
	if id, ok := m.byOwner[key]; ok {
		if sess, ok := m.sessions[id]; ok {
			sess.touch(m.clock.Now())
			if req.Notifier != nil {
				sess.setNotifier(req.Notifier)
			}
			return sess, nil
		}
	}

	gen, err := m.providers.New(req.Provider, req.Model)
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}

	id := uuid.New().String()
	sess := &Session{
		ID:              id,
		ParticipantName: req.ParticipantName,
		ChallengeID:     req.ChallengeID,
		RoomCode:        req.RoomCode,
		WorkspaceRef:    "ws-" + id,
		Provider:        req.Provider,
		Model:           req.Model,
		gen:             gen,
		notifier:        req.Notifier,
		lastActivity:    m.clock.Now(),
	}
	m.sessions[id] = sess
	m.byOwner[key] = id

	log.Info().
		Str("session_id", id).
		Str("participant", req.ParticipantName).
		Str("room", req.RoomCode).
		Str("provider", req.Provider).
		Str("model", req.Model).
		Msg("session started")
	return sess, nil
}

// Get returns a session by id.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Submit runs one full generation lifecycle for the session. It returns
// ErrBusy immediately when a call is already in flight; every other outcome
// is reported through the notifier and the room log, and always terminates
// in a processing-complete event.
func (m *Manager) Submit(ctx context.Context, sessionID, instruction string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithCancel(ctx)
	if err := sess.acquire(cancel); err != nil {
		cancel()
		return err
	}
	defer cancel()

	now := m.clock.Now()
	sess.touch(now)
	m.notifyStarted(sess)
	m.appendRoom(callCtx, events.NewProcessingStartedMessage(sess.RoomCode, sess.ParticipantName, now))

	started := m.clock.Now()
	heartbeatDone := make(chan struct{})
	go m.heartbeat(sess, started, heartbeatDone)

	stats := m.runGeneration(callCtx, sess, instruction, started)

	close(heartbeatDone)
	sess.release()
	sess.touch(m.clock.Now())

	// The finish marker and processing-complete go out on every path,
	// success or not, so remote reducers and local turn logic never stall
	// on a failed call.
	elapsed := m.clock.Now().Sub(started)
	m.appendRoom(context.WithoutCancel(ctx), events.NewProcessingFinishedMessage(sess.RoomCode, sess.ParticipantName, elapsed, m.clock.Now()))
	m.notifyComplete(sess, stats)
	return nil
}

// runGeneration performs the provider call and resolves it into Stats.
func (m *Manager) runGeneration(ctx context.Context, sess *Session, instruction string, started time.Time) Stats {
	type outcome struct {
		result *provider.Result
		err    error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		result, err := sess.gen.Generate(ctx, m.buildRequest(ctx, sess, instruction))
		resultCh <- outcome{result: result, err: err}
	}()

	elapsedSecs := func() int { return int(m.clock.Now().Sub(started).Seconds()) }

	select {
	case <-ctx.Done():
		m.notifyError(sess, "generation cancelled")
		return Stats{ElapsedSeconds: elapsedSecs(), Status: StatusIncomplete}

	case <-m.clock.After(m.cfg.SafetyTimeout):
		log.Warn().
			Str("session_id", sess.ID).
			Dur("timeout", m.cfg.SafetyTimeout).
			Msg("generation exceeded safety timeout, force-clearing lock")
		m.notifyOutput(sess, "generation timed out; previous output preserved")
		return Stats{ElapsedSeconds: elapsedSecs(), Status: StatusIncomplete}

	case out := <-resultCh:
		if out.err != nil {
			log.Error().Err(out.err).Str("session_id", sess.ID).Msg("provider call failed")
			m.notifyError(sess, out.err.Error())
			return Stats{Status: StatusError}
		}
		return m.applyResult(ctx, sess, out.result, elapsedSecs())
	}
}

// applyResult writes the artifact, preserving prior output when the backend
// returned nothing usable.
func (m *Manager) applyResult(ctx context.Context, sess *Session, result *provider.Result, elapsed int) Stats {
	wrote, err := m.workspaces.WriteIfNonEmpty(ctx, sess.WorkspaceRef, result.Text)
	if err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("workspace write failed")
		m.notifyError(sess, "failed to save output: "+err.Error())
		return Stats{Status: StatusError}
	}
	if !wrote {
		m.notifyOutput(sess, "backend returned an empty result; previous output preserved")
		return Stats{ElapsedSeconds: elapsed, Status: StatusIncomplete}
	}

	measured := workspace.Measure(result.Text)
	return Stats{
		ElapsedSeconds:  elapsed,
		OutputSize:      measured.Size,
		OutputLineCount: measured.LineCount,
		Status:          StatusSuccess,
	}
}

// buildRequest assembles the provider request, feeding the current artifact
// back in so each instruction refines rather than restarts.
func (m *Manager) buildRequest(ctx context.Context, sess *Session, instruction string) provider.Request {
	system := fmt.Sprintf(
		"You are a contestant in a live code duel. Produce a complete solution for challenge %q. Respond with code only.",
		sess.ChallengeID,
	)
	userMessage := instruction
	if current, err := m.workspaces.Read(ctx, sess.WorkspaceRef); err == nil && current != "" {
		userMessage = fmt.Sprintf("Current solution:\n%s\n\nInstruction: %s", current, instruction)
	}
	return provider.Request{
		SystemPrompt: system,
		UserMessage:  userMessage,
		MaxTokens:    m.cfg.MaxTokens,
	}
}

// heartbeat reports liveness while a call is in flight. It runs from its own
// ticker, not from the suspended provider call, so the lock holder keeps
// reporting even while blocked on the network.
func (m *Manager) heartbeat(sess *Session, started time.Time, done <-chan struct{}) {
	ticker := m.clock.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			elapsed := int(m.clock.Now().Sub(started).Seconds())
			m.notifyOutput(sess, fmt.Sprintf("still generating (%ds elapsed)", elapsed))
		}
	}
}

// Kill cancels in-flight work and releases the session's resources.
func (m *Manager) Kill(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		delete(m.byOwner, ownerKey(sess.ParticipantName, sess.RoomCode))
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	sess.abort()
	if err := m.workspaces.Remove(ctx, sess.WorkspaceRef); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to remove workspace")
	}
	log.Info().Str("session_id", sessionID).Msg("session killed")
	return nil
}

func (m *Manager) appendRoom(ctx context.Context, msg events.GameMessage) {
	if err := m.roomLog.Append(ctx, msg.RoomCode, msg); err != nil {
		log.Error().Err(err).Str("room", msg.RoomCode).Msg("failed to append lifecycle message")
	}
}

func (m *Manager) notifyStarted(sess *Session) {
	if n := sess.currentNotifier(); n != nil {
		n.ProcessingStarted(sess.ID)
	}
}

func (m *Manager) notifyOutput(sess *Session, text string) {
	if n := sess.currentNotifier(); n != nil {
		n.Output(sess.ID, text)
	}
}

func (m *Manager) notifyComplete(sess *Session, stats Stats) {
	if n := sess.currentNotifier(); n != nil {
		n.ProcessingComplete(sess.ID, stats)
	}
}

func (m *Manager) notifyError(sess *Session, message string) {
	if n := sess.currentNotifier(); n != nil {
		n.Error(sess.ID, message)
	}
}
