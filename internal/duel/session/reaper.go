package session

import (
	"context"

	"github.com/rs/zerolog/log"
)

// RunReaper sweeps for idle sessions on a fixed interval and force-kills any
// that have been inactive longer than the idle timeout. Blocks until ctx is
// cancelled.
func (m *Manager) RunReaper(ctx context.Context) {
	ticker := m.clock.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", m.cfg.ReapInterval).
		Dur("idle_timeout", m.cfg.IdleTimeout).
		Msg("session reaper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session reaper shutting down")
			return
		case <-ticker.Chan():
			m.reapIdle(ctx)
		}
	}
}

func (m *Manager) reapIdle(ctx context.Context) {
	now := m.clock.Now()

	m.mu.Lock()
	var expired []string
	for id, sess := range m.sessions {
		if now.Sub(sess.idleSince()) > m.cfg.IdleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		log.Info().Str("session_id", id).Msg("reaping idle session")
		if err := m.Kill(ctx, id); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("failed to reap session")
		}
	}
}
