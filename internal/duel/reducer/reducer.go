// Package reducer folds the room event log into derived game state. The fold
// runs identically on every client — participants and spectators alike — so
// no central authority pushes structured diffs: convergence comes from every
// client replaying the same messages through the same rules.
//
// The log is at-least-once and only loosely ordered, so the fold is defensive:
// duplicate identities are skipped, prompt counts only move forward, and a
// game-end is sticky against stale start events replayed from backfill.
package reducer

import (
	"github.com/promptduel/promptduel/internal/duel/events"
)

// Status is the derived lifecycle of a duel.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

// PlayerState is one side's derived state. It is never mutated by remote
// input directly; it is always recomputed from the message sequence.
type PlayerState struct {
	Name        string
	Score       int
	PromptsUsed int
	IsReady     bool
	HasEnded    bool
}

// State is a point-in-time copy of the derived game state.
type State struct {
	RoomCode         string
	Status           Status
	Turn             events.ParticipantKey
	StartEpochMillis int64
	TotalSeconds     int
	GeneratingName   string
	Players          map[events.ParticipantKey]PlayerState
	Results          *events.FinalResults
}

// Reducer folds GameMessages into local state. Not safe for concurrent use;
// callers serialize Apply on their subscription loop.
type Reducer struct {
	roomCode   string
	seen       *dedupSet
	status     Status
	turn       events.ParticipantKey
	startEpoch int64
	totalSecs  int
	generating string
	players    map[events.ParticipantKey]*PlayerState
	results    *events.FinalResults
}

// New creates a reducer for one room.
func New(roomCode string) *Reducer {
	return &Reducer{
		roomCode: roomCode,
		seen:     newDedupSet(),
		status:   StatusWaiting,
		players: map[events.ParticipantKey]*PlayerState{
			events.ParticipantA: {},
			events.ParticipantB: {},
		},
	}
}

// Apply folds one message into the state. The returned slice holds messages
// the caller should append back to the log — today only the single derived
// GAME_END when the second early-end marker lands. The emission is guarded by
// the local false→true flag transition, so replaying the marker again (or
// re-running the whole log) never derives a second one.
func (r *Reducer) Apply(msg events.GameMessage) []events.GameMessage {
	if !r.seen.observe(identity(msg)) {
		return nil
	}

	event, ok := events.Decode(msg)
	if !ok {
		// Malformed protocol text: drop, never surface (stale-message policy).
		return nil
	}

	switch ev := event.(type) {
	case events.GameStarted:
		return r.applyGameStarted(ev)
	case events.TurnChanged:
		r.turn = ev.Key
	case events.ScoreUpdated:
		r.applyScore(ev)
	case events.PlayerReady:
		p := r.players[ev.Key]
		p.IsReady = true
		if ev.Name != "" {
			p.Name = ev.Name
		}
	case events.EndedEarly:
		return r.applyEndedEarly(ev, msg)
	case events.GameEnded:
		r.status = StatusEnded
		r.generating = ""
	case events.ResultsPosted:
		r.applyResults(ev)
	case events.ProcessingStarted:
		if r.status != StatusEnded {
			r.generating = ev.Name
		}
	case events.ProcessingFinished:
		if r.generating == ev.Name || r.generating == "" {
			r.generating = ""
		}
	case events.Chat:
		// No protocol meaning.
	}
	return nil
}

func (r *Reducer) applyGameStarted(ev events.GameStarted) []events.GameMessage {
	// A finished game stays finished: a stale start replayed from backfill
	// after the end marker must not resurrect it.
	if r.status == StatusEnded {
		return nil
	}
	r.status = StatusActive
	r.startEpoch = ev.StartEpochMillis
	r.totalSecs = ev.TotalSeconds
	if ev.NameA != "" {
		r.players[events.ParticipantA].Name = ev.NameA
	}
	if ev.NameB != "" {
		r.players[events.ParticipantB].Name = ev.NameB
	}
	return nil
}

func (r *Reducer) applyScore(ev events.ScoreUpdated) {
	p := r.players[ev.Key]
	if ev.Score != p.Score {
		p.Score = ev.Score
	}
	// Prompt counts only advance: a replayed stale update after a newer one
	// has landed must not regress the count.
	if ev.PromptsUsed > p.PromptsUsed {
		p.PromptsUsed = ev.PromptsUsed
	}
}

func (r *Reducer) applyEndedEarly(ev events.EndedEarly, msg events.GameMessage) []events.GameMessage {
	p := r.players[ev.Key]
	if p.HasEnded {
		return nil
	}
	p.HasEnded = true

	other := r.players[ev.Key.Opponent()]
	if r.turn == ev.Key && !other.HasEnded {
		// The remaining turns all route to whoever is still playing.
		r.turn = ev.Key.Opponent()
	}

	if other.HasEnded && r.status != StatusEnded {
		// Both sides have ended: transition exactly once, whichever order
		// the two markers arrived in. Status flips here so duplicates of
		// either marker can never derive a second end.
		r.status = StatusEnded
		r.generating = ""
		return []events.GameMessage{
			events.NewGameEndMessage(r.roomCode, "early", msg.CreatedAt),
		}
	}
	return nil
}

func (r *Reducer) applyResults(ev events.ResultsPosted) {
	results := ev.Results
	r.results = &results
	// Results are authoritative and imply the game is over.
	r.status = StatusEnded
	r.generating = ""
	for _, pr := range results.Players {
		if !pr.Key.Valid() {
			continue
		}
		p := r.players[pr.Key]
		p.Score = pr.Score
		if pr.PromptsUsed > p.PromptsUsed {
			p.PromptsUsed = pr.PromptsUsed
		}
		if pr.Name != "" {
			p.Name = pr.Name
		}
	}
}

// State returns a copy of the derived state.
func (r *Reducer) State() State {
	players := make(map[events.ParticipantKey]PlayerState, len(r.players))
	for key, p := range r.players {
		players[key] = *p
	}
	var results *events.FinalResults
	if r.results != nil {
		copied := *r.results
		results = &copied
	}
	return State{
		RoomCode:         r.roomCode,
		Status:           r.status,
		Turn:             r.turn,
		StartEpochMillis: r.startEpoch,
		TotalSeconds:     r.totalSecs,
		GeneratingName:   r.generating,
		Players:          players,
		Results:          results,
	}
}
