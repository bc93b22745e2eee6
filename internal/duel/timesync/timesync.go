// Package timesync derives the duel countdown from a shared absolute start
// instant instead of a locally decremented counter. Every client computes
// remaining time from (now, startEpoch, total), so the display self-corrects
// after tab suspension, late join, or missed ticks. The only assumption is
// that client wall clocks agree to within about a second.
package timesync

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is the shared countdown anchor carried by the duel-start event.
type Timer struct {
	StartEpochMillis int64
	TotalSeconds     int
}

// Started reports whether the duel clock has been anchored.
func (t Timer) Started() bool {
	return t.StartEpochMillis != 0
}

// Remaining returns whole seconds left, clamped to [0, TotalSeconds]. It is a
// pure function of its inputs.
func (t Timer) Remaining(now time.Time) int {
	if !t.Started() {
		return t.TotalSeconds
	}
	elapsed := int((now.UnixMilli() - t.StartEpochMillis) / 1000)
	remaining := t.TotalSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	if remaining > t.TotalSeconds {
		// Local clock behind the start instant; show the full budget rather
		// than a count above it.
		return t.TotalSeconds
	}
	return remaining
}

// Expired reports whether an anchored timer has run out.
func (t Timer) Expired(now time.Time) bool {
	return t.Started() && t.Remaining(now) == 0
}

// Ticker re-derives the remaining time once per second and hands it to a
// callback. The tick cadence is only a refresh rate: a missed or late tick
// cannot drift the countdown because each tick recomputes from the epoch.
type Ticker struct {
	clock clockwork.Clock
}

// NewTicker creates a ticker on the given clock.
func NewTicker(clock clockwork.Clock) *Ticker {
	return &Ticker{clock: clock}
}

// Run invokes onTick with the current remaining seconds, once immediately and
// then every second, returning after the tick that reports zero or when ctx
// is cancelled.
func (tk *Ticker) Run(ctx context.Context, t Timer, onTick func(remaining int)) {
	remaining := t.Remaining(tk.clock.Now())
	onTick(remaining)
	if t.Started() && remaining == 0 {
		return
	}

	ticker := tk.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			remaining = t.Remaining(tk.clock.Now())
			onTick(remaining)
			if t.Started() && remaining == 0 {
				return
			}
		}
	}
}
