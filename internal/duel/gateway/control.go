package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/promptduel/promptduel/internal/duel/coordinator"
	"github.com/promptduel/promptduel/internal/duel/session"
)

// ControlRequest is one inbound frame on the session control channel.
type ControlRequest struct {
	Type            string `json:"type"`
	ParticipantName string `json:"participantName,omitempty"`
	ChallengeID     string `json:"challengeId,omitempty"`
	RoomCode        string `json:"roomCode,omitempty"`
	Provider        string `json:"provider,omitempty"`
	Model           string `json:"model,omitempty"`
	Text            string `json:"text,omitempty"`
}

// Control request types.
const (
	RequestStartSession    = "start-session"
	RequestInput           = "input"
	RequestKillSession     = "kill-session"
	RequestSpectateSession = "spectate-session"
	RequestEndEarly        = "end-early"
)

// ControlResponse is one outbound frame.
type ControlResponse struct {
	Type           string         `json:"type"`
	SessionID      string         `json:"sessionId,omitempty"`
	WorkspaceRef   string         `json:"workspaceRef,omitempty"`
	ParticipantKey string         `json:"participantKey,omitempty"`
	Text           string         `json:"text,omitempty"`
	Message        string         `json:"message,omitempty"`
	Stats          *session.Stats `json:"stats,omitempty"`
}

// Control response types.
const (
	ResponseSessionStarted     = "session-started"
	ResponseProcessingStarted  = "processing-started"
	ResponseOutput             = "output"
	ResponseProcessingComplete = "processing-complete"
	ResponseError              = "error"
)

// Service ties the control channel to the session manager and the room
// coordinators.
type Service struct {
	cm       *ConnectionManager
	sessions *session.Manager
	coords   *coordinator.Registry
	ctx      context.Context
}

// NewService wires the gateway service. ctx bounds all background work the
// gateway spawns on behalf of connections.
func NewService(ctx context.Context, cm *ConnectionManager, sessions *session.Manager, coords *coordinator.Registry) *Service {
	return &Service{cm: cm, sessions: sessions, coords: coords, ctx: ctx}
}

// HandleFrame dispatches one inbound control frame.
func (s *Service) HandleFrame(conn *Connection, raw []byte) {
	var req ControlRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.respondError(conn, "malformed request")
		return
	}

	switch req.Type {
	case RequestStartSession:
		s.handleStartSession(conn, req)
	case RequestInput:
		s.handleInput(conn, req)
	case RequestKillSession:
		s.handleKillSession(conn)
	case RequestSpectateSession:
		s.handleSpectate(conn, req.RoomCode)
	case RequestEndEarly:
		s.handleEndEarly(conn)
	default:
		s.respondError(conn, "unknown request type: "+req.Type)
	}
}

func (s *Service) handleStartSession(conn *Connection, req ControlRequest) {
	if req.ParticipantName == "" || req.RoomCode == "" {
		s.respondError(conn, "participantName and roomCode are required")
		return
	}

	sess, err := s.sessions.StartSession(s.ctx, session.StartRequest{
		ParticipantName: req.ParticipantName,
		ChallengeID:     req.ChallengeID,
		RoomCode:        req.RoomCode,
		Provider:        req.Provider,
		Model:           req.Model,
		Notifier:        &connNotifier{svc: s, conn: conn},
	})
	if err != nil {
		s.respondError(conn, err.Error())
		return
	}

	coord := s.coords.ForRoom(s.ctx, req.RoomCode)
	key, err := coord.Join(s.ctx, req.ParticipantName)
	if err != nil {
		s.respondError(conn, err.Error())
		return
	}

	conn.mu.Lock()
	conn.sessionID = sess.ID
	conn.name = req.ParticipantName
	conn.mu.Unlock()

	// Participants watch their own room: the same connection receives the
	// room's event stream so the client reducer can fold it.
	if err := s.cm.Spectate(s.ctx, conn, req.RoomCode); err != nil {
		log.Error().Err(err).Str("room", req.RoomCode).Msg("failed to attach participant to room feed")
	}

	s.respond(conn, ControlResponse{
		Type:           ResponseSessionStarted,
		SessionID:      sess.ID,
		WorkspaceRef:   sess.WorkspaceRef,
		ParticipantKey: string(key),
	})
}

func (s *Service) handleInput(conn *Connection, req ControlRequest) {
	sessionID := conn.currentSessionID()
	if sessionID == "" {
		s.respondError(conn, "no active session")
		return
	}

	// Submit blocks for the whole generation lifecycle; run it off the read
	// pump. The busy check inside Submit is immediate, so a second input
	// while one is in flight comes straight back as an error.
	go func() {
		err := s.sessions.Submit(s.ctx, sessionID, req.Text)
		switch {
		case errors.Is(err, session.ErrBusy):
			s.respondError(conn, "busy")
		case errors.Is(err, session.ErrNotFound):
			s.respondError(conn, "session no longer exists")
		case err != nil:
			s.respondError(conn, err.Error())
		}
	}()
}

func (s *Service) handleKillSession(conn *Connection) {
	sessionID := conn.currentSessionID()
	if sessionID == "" {
		s.respondError(conn, "no active session")
		return
	}
	if err := s.sessions.Kill(s.ctx, sessionID); err != nil {
		s.respondError(conn, err.Error())
		return
	}
	conn.mu.Lock()
	conn.sessionID = ""
	conn.mu.Unlock()
	s.respond(conn, ControlResponse{Type: ResponseOutput, Text: "session ended"})
}

func (s *Service) handleSpectate(conn *Connection, roomCode string) {
	if roomCode == "" {
		s.respondError(conn, "roomCode is required")
		return
	}
	if err := s.cm.Spectate(s.ctx, conn, roomCode); err != nil {
		s.respondError(conn, err.Error())
	}
}

func (s *Service) handleEndEarly(conn *Connection) {
	conn.mu.Lock()
	name := conn.name
	roomCode := conn.roomCode
	conn.mu.Unlock()
	if name == "" || roomCode == "" {
		s.respondError(conn, "no active session")
		return
	}
	coord := s.coords.ForRoom(s.ctx, roomCode)
	if err := coord.EndEarly(s.ctx, name); err != nil {
		s.respondError(conn, err.Error())
	}
}

func (s *Service) respond(conn *Connection, resp ControlResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal control response")
		return
	}
	conn.send(payload)
}

func (s *Service) respondError(conn *Connection, message string) {
	s.respond(conn, ControlResponse{Type: ResponseError, Message: message})
}

func (c *Connection) currentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// connNotifier routes a session's lifecycle events onto its owning
// connection, and triggers scoring and turn handoff after each
// processing-complete.
type connNotifier struct {
	svc  *Service
	conn *Connection
}

func (n *connNotifier) ProcessingStarted(sessionID string) {
	n.svc.respond(n.conn, ControlResponse{Type: ResponseProcessingStarted, SessionID: sessionID})
}

func (n *connNotifier) Output(sessionID, text string) {
	n.svc.respond(n.conn, ControlResponse{Type: ResponseOutput, SessionID: sessionID, Text: text})
}

func (n *connNotifier) ProcessingComplete(sessionID string, stats session.Stats) {
	n.svc.respond(n.conn, ControlResponse{Type: ResponseProcessingComplete, SessionID: sessionID, Stats: &stats})

	sess, err := n.svc.sessions.Get(sessionID)
	if err != nil {
		return
	}
	// Scoring and turn handoff happen after every terminal outcome, not
	// just success: the turn protocol must advance past failed calls too.
	go func() {
		coord := n.svc.coords.ForRoom(n.svc.ctx, sess.RoomCode)
		if err := coord.ReportRound(n.svc.ctx, sess.ParticipantName, sess.WorkspaceRef, sess.PromptsUsed()); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("failed to report round")
		}
	}()
}

func (n *connNotifier) Error(sessionID, message string) {
	n.svc.respond(n.conn, ControlResponse{Type: ResponseError, SessionID: sessionID, Message: message})
}
