package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestDecodeWireConventions(t *testing.T) {
	cases := []struct {
		name string
		msg  GameMessage
		want Event
	}{
		{
			name: "turn handoff",
			msg:  NewTurnMessage("ROOM1", ParticipantB, testTime),
			want: TurnChanged{Key: ParticipantB},
		},
		{
			name: "score update",
			msg:  NewScoreMessage("ROOM1", ParticipantA, 42, 3, testTime),
			want: ScoreUpdated{Key: ParticipantA, Score: 42, PromptsUsed: 3},
		},
		{
			name: "game end without reason",
			msg:  NewGameEndMessage("ROOM1", "", testTime),
			want: GameEnded{},
		},
		{
			name: "game end with reason",
			msg:  NewGameEndMessage("ROOM1", "early", testTime),
			want: GameEnded{Reason: "early"},
		},
		{
			name: "ended early",
			msg:  NewEndedEarlyMessage("ROOM1", ParticipantB, "bob", testTime),
			want: EndedEarly{Key: ParticipantB},
		},
		{
			name: "player ready",
			msg:  NewReadyMessage("ROOM1", ParticipantA, "alice", testTime),
			want: PlayerReady{Key: ParticipantA, Name: "alice"},
		},
		{
			name: "participant chat has no protocol meaning",
			msg:  NewChatMessage("ROOM1", "alice", "TURN:participantB", MessageParticipantA, testTime),
			want: Chat{Sender: "alice", Text: "TURN:participantB"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Decode(tc.msg)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeGameStartRoundTrip(t *testing.T) {
	started := GameStarted{
		StartEpochMillis: testTime.UnixMilli(),
		TotalSeconds:     1200,
		NameA:            "alice",
		NameB:            "bob",
	}
	got, ok := Decode(NewGameStartMessage("ROOM1", started, testTime))
	require.True(t, ok)
	assert.Equal(t, started, got)
}

func TestDecodeResultsRoundTrip(t *testing.T) {
	results := FinalResults{
		Winner: ParticipantA,
		Players: []PlayerResult{
			{Key: ParticipantA, Name: "alice", Score: 80, PromptsUsed: 5},
			{Key: ParticipantB, Name: "bob", Score: 61, PromptsUsed: 7},
		},
	}
	got, ok := Decode(NewResultsMessage("ROOM1", results, testTime))
	require.True(t, ok)
	assert.Equal(t, ResultsPosted{Results: results}, got)
}

func TestProcessingMarkersMatchBySubstring(t *testing.T) {
	msg := NewProcessingStartedMessage("ROOM1", "alice", testTime)
	got, ok := Decode(msg)
	require.True(t, ok)
	assert.Equal(t, ProcessingStarted{Name: "alice"}, got)

	// Extra text around the marker still matches: the sender's name is
	// embedded in the free text, so parsing is tolerant by substring.
	msg.Text = ">>> alice " + MarkerProcessingFinished + " after 12s <<<"
	got, ok = Decode(msg)
	require.True(t, ok)
	assert.Equal(t, ProcessingFinished{Name: "alice"}, got)
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"turn with bogus key", "TURN:participantC"},
		{"score with missing fields", "SCORE_UPDATE:participantA:12"},
		{"score with non-numeric value", "SCORE_UPDATE:participantA:twelve:3"},
		{"results with broken json", "RESULTS:{not json"},
		{"game start with broken json", "GAME_START:nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := GameMessage{Sender: "judge", Text: tc.text, Type: MessageSystem, RoomCode: "ROOM1", CreatedAt: testTime}
			_, ok := Decode(msg)
			assert.False(t, ok)
		})
	}
}

func TestDecodeUnknownSystemTextIsChat(t *testing.T) {
	msg := GameMessage{Sender: "judge", Text: "welcome to the arena", Type: MessageSystem, RoomCode: "ROOM1", CreatedAt: testTime}
	got, ok := Decode(msg)
	require.True(t, ok)
	assert.Equal(t, Chat{Sender: "judge", Text: "welcome to the arena"}, got)
}

func TestOpponent(t *testing.T) {
	assert.Equal(t, ParticipantB, ParticipantA.Opponent())
	assert.Equal(t, ParticipantA, ParticipantB.Opponent())
}
