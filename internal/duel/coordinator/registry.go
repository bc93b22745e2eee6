package coordinator

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/promptduel/promptduel/internal/duel/eventlog"
	"github.com/promptduel/promptduel/internal/rooms"
	"github.com/promptduel/promptduel/internal/scoring"
)

// Registry lazily creates one running coordinator per room.
type Registry struct {
	cfg     Config
	roomLog eventlog.Log
	eval    scoring.Evaluator
	store   rooms.Store
	clock   clockwork.Clock

	mu     sync.Mutex
	coords map[string]*Coordinator
}

// NewRegistry wires a coordinator registry.
func NewRegistry(cfg Config, roomLog eventlog.Log, eval scoring.Evaluator, store rooms.Store, clock clockwork.Clock) *Registry {
	return &Registry{
		cfg:     cfg,
		roomLog: roomLog,
		eval:    eval,
		store:   store,
		clock:   clock,
		coords:  make(map[string]*Coordinator),
	}
}

// ForRoom returns the room's coordinator, creating and starting it on first
// use. The coordinator's fold loop runs until ctx is cancelled.
func (r *Registry) ForRoom(ctx context.Context, roomCode string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	if coord, ok := r.coords[roomCode]; ok {
		return coord
	}
	coord := New(roomCode, r.cfg, r.roomLog, r.eval, r.store, r.clock)
	r.coords[roomCode] = coord
	go func() {
		if err := coord.Run(ctx); err != nil {
			log.Error().Err(err).Str("room", roomCode).Msg("coordinator stopped")
		}
	}()
	return coord
}
