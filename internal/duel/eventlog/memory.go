package eventlog

import (
	"context"
	"sync"

	"github.com/promptduel/promptduel/internal/duel/events"
)

// MemoryLog is an in-process Log for development and tests. It keeps the
// same contract as the JetStream log: append-only, backfill on subscribe,
// and no delivery guarantees beyond at-least-once.
type MemoryLog struct {
	mu      sync.Mutex
	history map[string][]events.GameMessage
	subs    map[string][]*memorySubscription
	closed  bool
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		history: make(map[string][]events.GameMessage),
		subs:    make(map[string][]*memorySubscription),
	}
}

// Append stores the message and fans it out to current subscribers.
func (l *MemoryLog) Append(ctx context.Context, roomCode string, msg events.GameMessage) error {
	msg.RoomCode = roomCode

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.history[roomCode] = append(l.history[roomCode], msg)
	subs := make([]*memorySubscription, len(l.subs[roomCode]))
	copy(subs, l.subs[roomCode])
	l.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(msg)
	}
	return nil
}

// Subscribe registers a subscriber and replays up to BackfillLimit of the
// room's history before live messages.
func (l *MemoryLog) Subscribe(ctx context.Context, roomCode string) (Subscription, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}

	history := l.history[roomCode]
	if len(history) > BackfillLimit {
		history = history[len(history)-BackfillLimit:]
	}
	backfill := make([]events.GameMessage, len(history))
	copy(backfill, history)

	sub := &memorySubscription{
		log:      l,
		roomCode: roomCode,
		ch:       make(chan events.GameMessage, BackfillLimit+64),
	}
	l.subs[roomCode] = append(l.subs[roomCode], sub)
	l.mu.Unlock()

	for _, msg := range backfill {
		sub.deliver(msg)
	}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

// Close tears down the log and all subscriptions.
func (l *MemoryLog) Close() {
	l.mu.Lock()
	l.closed = true
	var all []*memorySubscription
	for _, subs := range l.subs {
		all = append(all, subs...)
	}
	l.subs = make(map[string][]*memorySubscription)
	l.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
}

func (l *MemoryLog) removeSub(roomCode string, target *memorySubscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	subs := l.subs[roomCode]
	for i, sub := range subs {
		if sub == target {
			l.subs[roomCode] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

type memorySubscription struct {
	log      *MemoryLog
	roomCode string
	mu       sync.Mutex
	ch       chan events.GameMessage
	closed   bool
}

func (s *memorySubscription) deliver(msg events.GameMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
		// Slow subscriber: drop rather than block the appender. The
		// reducer reconciles from backfill on resubscribe.
	}
}

func (s *memorySubscription) Messages() <-chan events.GameMessage {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.log.removeSub(s.roomCode, s)
	return nil
}
