package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/promptduel/promptduel/internal/duel/coordinator"
	"github.com/promptduel/promptduel/internal/duel/eventlog"
	"github.com/promptduel/promptduel/internal/duel/gateway"
	"github.com/promptduel/promptduel/internal/duel/session"
	"github.com/promptduel/promptduel/internal/provider"
	"github.com/promptduel/promptduel/internal/rooms"
	"github.com/promptduel/promptduel/internal/scoring"
	"github.com/promptduel/promptduel/internal/workspace"
)

// Services holds the wired application graph.
type Services struct {
	RoomLog  eventlog.Log
	Rooms    rooms.Store
	Sessions *session.Manager
	Coords   *coordinator.Registry
	Gateway  *gateway.Service

	closers []func()
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	services := &Services{}
	clock := clockwork.NewRealClock()

	// Event log: JetStream when NATS is configured, in-process otherwise.
	if url := os.Getenv("NATS_URL"); url != "" {
		jsConfig := eventlog.DefaultJetStreamConfig()
		jsConfig.URL = url
		jsLog, err := eventlog.NewJetStreamLog(ctx, jsConfig)
		if err != nil {
			return nil, fmt.Errorf("setup event log: %w", err)
		}
		services.RoomLog = jsLog
		services.closers = append(services.closers, jsLog.Close)
		log.Info().Str("url", url).Msg("using JetStream event log")
	} else {
		memLog := eventlog.NewMemoryLog()
		services.RoomLog = memLog
		services.closers = append(services.closers, memLog.Close)
		log.Warn().Msg("NATS_URL not set, using in-memory event log")
	}

	// Room/leaderboard storage.
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		services.Rooms = rooms.NewRepository(pool)
		services.closers = append(services.closers, pool.Close)
		log.Info().Msg("using Postgres room store")
	} else {
		services.Rooms = rooms.NewMemoryStore()
		log.Warn().Msg("DATABASE_URL not set, using in-memory room store")
	}

	// Scoring engine.
	var evaluator scoring.Evaluator
	if url := os.Getenv("SCORING_URL"); url != "" {
		evaluator = scoring.NewHTTPEvaluator(url)
	} else {
		evaluator = &scoring.StaticEvaluator{}
		log.Warn().Msg("SCORING_URL not set, scores will be zero")
	}

	workspaces, err := workspace.NewFSStore(config.Workspace.Dir)
	if err != nil {
		return nil, fmt.Errorf("setup workspace store: %w", err)
	}

	providers := provider.NewRegistry(
		os.Getenv("ANTHROPIC_API_KEY"),
		os.Getenv("OPENAI_API_KEY"),
	)

	services.Sessions = session.NewManager(
		session.DefaultConfig(), providers, workspaces, services.RoomLog, clock,
	)
	services.Coords = coordinator.NewRegistry(
		coordinator.Config{DurationSeconds: config.Duel.DurationSeconds},
		services.RoomLog, evaluator, services.Rooms, clock,
	)

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), services.RoomLog)
	services.Gateway = gateway.NewService(ctx, cm, services.Sessions, services.Coords)

	return services, nil
}

// Close releases every resource the service graph owns.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
