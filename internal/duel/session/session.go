package session

import (
	"errors"
	"sync"
	"time"

	"github.com/promptduel/promptduel/internal/provider"
)

var (
	// ErrBusy rejects a submit while a generation is already in flight.
	// Busy-reject, not busy-wait: the caller retries, nothing queues.
	ErrBusy = errors.New("session: generation already in flight")

	ErrNotFound = errors.New("session: not found")
)

// Terminal statuses reported on processing-complete.
const (
	StatusSuccess    = "success"
	StatusIncomplete = "incomplete"
	StatusError      = "error"
)

// Stats accompanies every processing-complete event. Failed calls report
// zero-valued stats so downstream turn logic always advances.
type Stats struct {
	ElapsedSeconds  int    `json:"elapsedSeconds"`
	OutputSize      int    `json:"outputSize"`
	OutputLineCount int    `json:"outputLineCount"`
	Status          string `json:"status"`
}

// Notifier receives a session's control-channel responses.
type Notifier interface {
	ProcessingStarted(sessionID string)
	Output(sessionID, text string)
	ProcessingComplete(sessionID string, stats Stats)
	Error(sessionID, message string)
}

// Session is one participant's generation session. The manager owns it
// exclusively; remote clients only ever see its effects through the event
// log and the control channel.
type Session struct {
	ID              string
	ParticipantName string
	ChallengeID     string
	RoomCode        string
	WorkspaceRef    string
	Provider        string
	Model           string

	gen      provider.Generator
	notifier Notifier

	mu           sync.Mutex
	lastActivity time.Time
	processing   bool
	cancel       func()
	promptsUsed  int
}

// PromptsUsed returns how many instructions this session has submitted.
func (s *Session) PromptsUsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptsUsed
}

// Processing reports whether a generation call is in flight.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// setNotifier swaps the control-channel sink. A participant that reconnects
// mid-generation re-starts its session from the new connection, so the swap
// can race an in-flight call's notifications; both sides go through s.mu.
func (s *Session) setNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func (s *Session) currentNotifier() Notifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifier
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// acquire takes the processing lock, failing fast when it is held.
func (s *Session) acquire(cancel func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing {
		return ErrBusy
	}
	s.processing = true
	s.cancel = cancel
	s.promptsUsed++
	return nil
}

// release clears the processing lock. Called from a defer on every
// generation path so no failure can leave the lock held.
func (s *Session) release() {
	s.mu.Lock()
	s.processing = false
	s.cancel = nil
	s.mu.Unlock()
}

// abort cancels any in-flight generation.
func (s *Session) abort() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
