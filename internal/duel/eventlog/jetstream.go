package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/promptduel/promptduel/internal/duel/events"
)

// JetStreamConfig holds connection and stream settings for the NATS-backed
// log.
type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamConfig returns the default JetStream settings.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "DUEL_EVENTS",
		SubjectPrefix: "duel.rooms",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// JetStreamLog is a Log backed by a durable NATS JetStream stream with one
// subject per room. Retention keeps the last BackfillLimit messages per
// subject, which is exactly the backfill depth new subscribers replay.
type JetStreamLog struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

// NewJetStreamLog connects to NATS and ensures the duel event stream exists.
func NewJetStreamLog(ctx context.Context, config JetStreamConfig) (*JetStreamLog, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:              config.StreamName,
		Description:       "Per-room duel event log",
		Subjects:          []string{config.SubjectPrefix + ".>"},
		Storage:           jetstream.FileStorage,
		MaxMsgsPerSubject: BackfillLimit,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &JetStreamLog{nc: nc, js: js, config: config}, nil
}

func (l *JetStreamLog) subject(roomCode string) string {
	return l.config.SubjectPrefix + "." + roomCode
}

// Append publishes the message to the room's subject.
func (l *JetStreamLog) Append(ctx context.Context, roomCode string, msg events.GameMessage) error {
	msg.RoomCode = roomCode
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if _, err := l.js.Publish(ctx, l.subject(roomCode), data); err != nil {
		return fmt.Errorf("publish to %s: %w", l.subject(roomCode), err)
	}
	return nil
}

// Subscribe replays the room's retained history and then follows live
// appends. Ordered consumers recreate themselves on any gap, replaying from
// the stream, so duplicate delivery is possible by design.
func (l *JetStreamLog) Subscribe(ctx context.Context, roomCode string) (Subscription, error) {
	cons, err := l.js.OrderedConsumer(ctx, l.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{l.subject(roomCode)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create ordered consumer: %w", err)
	}

	sub := &jetStreamSubscription{
		out:  make(chan events.GameMessage, 64),
		feed: make(chan events.GameMessage, 64),
		done: make(chan struct{}),
	}

	consumeCtx, err := cons.Consume(func(m jetstream.Msg) {
		var msg events.GameMessage
		if err := json.Unmarshal(m.Data(), &msg); err != nil {
			log.Warn().Err(err).Str("subject", m.Subject()).Msg("skipping malformed log message")
			return
		}
		select {
		case sub.feed <- msg:
		case <-sub.done:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("start consumer: %w", err)
	}
	sub.stop = consumeCtx.Stop

	// The forwarder is the sole owner of out, so Close never races a
	// consumer callback on a closed channel.
	go sub.forward()
	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

// Close closes the underlying NATS connection.
func (l *JetStreamLog) Close() {
	if l.nc != nil {
		l.nc.Close()
	}
}

type jetStreamSubscription struct {
	out  chan events.GameMessage
	feed chan events.GameMessage
	done chan struct{}
	stop func()
	once sync.Once
}

func (s *jetStreamSubscription) forward() {
	defer close(s.out)
	for {
		select {
		case msg := <-s.feed:
			select {
			case s.out <- msg:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *jetStreamSubscription) Messages() <-chan events.GameMessage {
	return s.out
}

func (s *jetStreamSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.stop()
	})
	return nil
}
