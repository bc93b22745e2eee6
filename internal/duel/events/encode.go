package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

func systemMessage(roomCode, sender, text string, at time.Time) GameMessage {
	return GameMessage{
		Sender:    sender,
		Text:      text,
		Type:      MessageSystem,
		RoomCode:  roomCode,
		CreatedAt: at,
	}
}

// NewTurnMessage hands the turn to key.
func NewTurnMessage(roomCode string, key ParticipantKey, at time.Time) GameMessage {
	return systemMessage(roomCode, "judge", prefixTurn+string(key), at)
}

// NewScoreMessage publishes key's score and prompt count after a round.
func NewScoreMessage(roomCode string, key ParticipantKey, score, promptsUsed int, at time.Time) GameMessage {
	text := prefixScore + string(key) + ":" + strconv.Itoa(score) + ":" + strconv.Itoa(promptsUsed)
	return systemMessage(roomCode, "judge", text, at)
}

// NewGameStartMessage anchors the shared countdown and names both sides.
func NewGameStartMessage(roomCode string, started GameStarted, at time.Time) GameMessage {
	payload, _ := json.Marshal(started)
	return systemMessage(roomCode, "judge", prefixGameStart+string(payload), at)
}

// NewGameEndMessage terminates the duel. Reason may be empty.
func NewGameEndMessage(roomCode, reason string, at time.Time) GameMessage {
	text := prefixGameEnd
	if reason != "" {
		text += ":" + reason
	}
	return systemMessage(roomCode, "judge", text, at)
}

// NewResultsMessage publishes the final authoritative results payload.
func NewResultsMessage(roomCode string, results FinalResults, at time.Time) GameMessage {
	payload, _ := json.Marshal(results)
	return systemMessage(roomCode, "judge", prefixResults+string(payload), at)
}

// NewReadyMessage marks key as ready under its display name.
func NewReadyMessage(roomCode string, key ParticipantKey, name string, at time.Time) GameMessage {
	return systemMessage(roomCode, name, prefixReady+string(key)+":"+name, at)
}

// NewEndedEarlyMessage marks key as done before the clock ran out.
func NewEndedEarlyMessage(roomCode string, key ParticipantKey, sender string, at time.Time) GameMessage {
	return systemMessage(roomCode, sender, prefixEndedEarly+string(key), at)
}

// NewProcessingStartedMessage emits the free-text generation start marker.
// The sender's name rides in both the sender field and the text so clients
// that match by substring still resolve who is generating.
func NewProcessingStartedMessage(roomCode, name string, at time.Time) GameMessage {
	return systemMessage(roomCode, name, fmt.Sprintf("%s %s", name, MarkerProcessingStarted), at)
}

// NewProcessingFinishedMessage emits the free-text generation finish marker.
func NewProcessingFinishedMessage(roomCode, name string, elapsed time.Duration, at time.Time) GameMessage {
	text := fmt.Sprintf("%s %s (%ds)", name, MarkerProcessingFinished, int(elapsed.Seconds()))
	return systemMessage(roomCode, name, text, at)
}

// NewChatMessage wraps a participant or judge utterance with no protocol
// meaning.
func NewChatMessage(roomCode, sender, text string, typ MessageType, at time.Time) GameMessage {
	return GameMessage{
		Sender:    sender,
		Text:      text,
		Type:      typ,
		RoomCode:  roomCode,
		CreatedAt: at,
	}
}
