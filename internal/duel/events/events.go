package events

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// MessageType identifies who a GameMessage speaks for on the wire.
type MessageType string

const (
	MessageParticipantA MessageType = "participantA"
	MessageParticipantB MessageType = "participantB"
	MessageJudge        MessageType = "judge"
	MessageSystem       MessageType = "system"
)

// ParticipantKey identifies one of the two duel sides.
type ParticipantKey string

const (
	ParticipantA ParticipantKey = "participantA"
	ParticipantB ParticipantKey = "participantB"
)

// Opponent returns the other side of the duel.
func (k ParticipantKey) Opponent() ParticipantKey {
	if k == ParticipantA {
		return ParticipantB
	}
	return ParticipantA
}

// Valid reports whether k names a real side.
func (k ParticipantKey) Valid() bool {
	return k == ParticipantA || k == ParticipantB
}

// GameMessage is the wire unit of the room event log. Messages are immutable
// once appended; every piece of cross-client state is derived by replaying
// them in order.
type GameMessage struct {
	Sender    string      `json:"sender"`
	Text      string      `json:"text"`
	Type      MessageType `json:"type"`
	RoomCode  string      `json:"roomCode"`
	CreatedAt time.Time   `json:"createdAt"`
}

// System-message text prefixes shared with the external room/leaderboard
// collaborators. Clients on the other side of the log parse these exactly,
// so the textual convention is kept on the wire and decoded into typed
// events at the boundary.
const (
	prefixTurn       = "TURN:"
	prefixScore      = "SCORE_UPDATE:"
	prefixGameStart  = "GAME_START:"
	prefixGameEnd    = "GAME_END"
	prefixResults    = "RESULTS:"
	prefixReady      = "READY:"
	prefixEndedEarly = "ENDED_EARLY:"
)

// Processing markers are matched by substring, not equality: the sender's
// display name is embedded in the surrounding free text.
const (
	MarkerProcessingStarted  = "has started generating"
	MarkerProcessingFinished = "has finished generating"
)

// Event is a decoded log message. Concrete types below.
type Event interface {
	isEvent()
}

// TurnChanged hands the turn to Key.
type TurnChanged struct {
	Key ParticipantKey
}

// ScoreUpdated carries the scorer's verdict after one generation round.
type ScoreUpdated struct {
	Key         ParticipantKey
	Score       int
	PromptsUsed int
}

// GameStarted marks the duel as live and anchors the shared timer.
type GameStarted struct {
	StartEpochMillis int64  `json:"startEpochMillis"`
	TotalSeconds     int    `json:"totalDurationSeconds"`
	NameA            string `json:"participantA"`
	NameB            string `json:"participantB"`
}

// GameEnded terminates the duel. Reason is optional ("early", "time", ...).
type GameEnded struct {
	Reason string
}

// ResultsPosted carries the final authoritative results payload.
type ResultsPosted struct {
	Results FinalResults
}

// PlayerReady marks one side as ready, carrying its display name.
type PlayerReady struct {
	Key  ParticipantKey
	Name string
}

// EndedEarly marks one side as having ended its run before the clock.
type EndedEarly struct {
	Key ParticipantKey
}

// ProcessingStarted / ProcessingFinished are the free-text generation
// lifecycle markers. Name is the sender's display name.
type ProcessingStarted struct {
	Name string
}

type ProcessingFinished struct {
	Name string
}

// Chat is any participant or judge message with no protocol meaning.
type Chat struct {
	Sender string
	Text   string
}

func (TurnChanged) isEvent()        {}
func (ScoreUpdated) isEvent()       {}
func (GameStarted) isEvent()        {}
func (GameEnded) isEvent()          {}
func (ResultsPosted) isEvent()      {}
func (PlayerReady) isEvent()        {}
func (EndedEarly) isEvent()         {}
func (ProcessingStarted) isEvent()  {}
func (ProcessingFinished) isEvent() {}
func (Chat) isEvent()               {}

// FinalResults is the RESULTS: payload.
type FinalResults struct {
	Winner     ParticipantKey   `json:"winner,omitempty"`
	Tie        bool             `json:"tie,omitempty"`
	Players    []PlayerResult   `json:"players"`
	Categories map[string][]int `json:"categories,omitempty"`
}

// PlayerResult is one side's line in the final results.
type PlayerResult struct {
	Key         ParticipantKey `json:"key"`
	Name        string         `json:"name"`
	Score       int            `json:"score"`
	MaxScore    int            `json:"maxScore"`
	PromptsUsed int            `json:"promptsUsed"`
}

// Decode parses a GameMessage into a typed event. The second return is false
// only when the message is malformed beyond recognition; unknown system text
// decodes as Chat so replay never stalls on a message it cannot classify.
func Decode(msg GameMessage) (Event, bool) {
	if msg.Type != MessageSystem {
		return Chat{Sender: msg.Sender, Text: msg.Text}, true
	}

	text := msg.Text
	switch {
	case strings.HasPrefix(text, prefixTurn):
		key := ParticipantKey(strings.TrimPrefix(text, prefixTurn))
		if !key.Valid() {
			return nil, false
		}
		return TurnChanged{Key: key}, true

	case strings.HasPrefix(text, prefixScore):
		parts := strings.Split(strings.TrimPrefix(text, prefixScore), ":")
		if len(parts) != 3 {
			return nil, false
		}
		key := ParticipantKey(parts[0])
		score, err1 := strconv.Atoi(parts[1])
		prompts, err2 := strconv.Atoi(parts[2])
		if !key.Valid() || err1 != nil || err2 != nil {
			return nil, false
		}
		return ScoreUpdated{Key: key, Score: score, PromptsUsed: prompts}, true

	case strings.HasPrefix(text, prefixGameStart):
		var started GameStarted
		if err := json.Unmarshal([]byte(strings.TrimPrefix(text, prefixGameStart)), &started); err != nil {
			return nil, false
		}
		return started, true

	case strings.HasPrefix(text, prefixResults):
		var results FinalResults
		if err := json.Unmarshal([]byte(strings.TrimPrefix(text, prefixResults)), &results); err != nil {
			return nil, false
		}
		return ResultsPosted{Results: results}, true

	case strings.HasPrefix(text, prefixEndedEarly):
		key := ParticipantKey(strings.TrimPrefix(text, prefixEndedEarly))
		if !key.Valid() {
			return nil, false
		}
		return EndedEarly{Key: key}, true

	case strings.HasPrefix(text, prefixReady):
		rest := strings.SplitN(strings.TrimPrefix(text, prefixReady), ":", 2)
		if len(rest) != 2 {
			return nil, false
		}
		key := ParticipantKey(rest[0])
		if !key.Valid() {
			return nil, false
		}
		return PlayerReady{Key: key, Name: rest[1]}, true

	case strings.HasPrefix(text, prefixGameEnd):
		reason := strings.TrimPrefix(strings.TrimPrefix(text, prefixGameEnd), ":")
		return GameEnded{Reason: reason}, true

	case strings.Contains(text, MarkerProcessingStarted):
		return ProcessingStarted{Name: msg.Sender}, true

	case strings.Contains(text, MarkerProcessingFinished):
		return ProcessingFinished{Name: msg.Sender}, true
	}

	return Chat{Sender: msg.Sender, Text: msg.Text}, true
}
