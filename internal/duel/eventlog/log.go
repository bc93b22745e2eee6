// Package eventlog is the append-only, per-room message channel every client
// converges through. Delivery is at-least-once: subscribers must tolerate
// duplicates and short reordering windows, which the reducer's dedup rules
// absorb.
package eventlog

import (
	"context"
	"errors"

	"github.com/promptduel/promptduel/internal/duel/events"
)

// BackfillLimit caps how many historical messages a new subscriber replays.
const BackfillLimit = 200

var ErrClosed = errors.New("eventlog: closed")

// Log is the room-scoped append/subscribe contract. Append never mutates or
// deletes an existing message; Subscribe delivers a backfill of up to
// BackfillLimit historical messages before live ones.
type Log interface {
	Append(ctx context.Context, roomCode string, msg events.GameMessage) error
	Subscribe(ctx context.Context, roomCode string) (Subscription, error)
}

// Subscription is one client's view of a room's log.
type Subscription interface {
	// Messages yields backfill followed by live messages. The channel is
	// closed when the subscription ends.
	Messages() <-chan events.GameMessage
	Close() error
}
