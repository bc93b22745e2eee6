package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// HandleSessionConnection upgrades the session control channel.
func (s *Service) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := s.cm.Upgrade(w, r, s.HandleFrame); err != nil {
		log.Error().Err(err).Msg("failed to upgrade session connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// HandleConnectionStats reports live connection counts.
func (s *Service) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.cm.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to write stats response")
	}
}

// RegisterRoutes registers the gateway's websocket routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/session", s.HandleSessionConnection)
	mux.HandleFunc("/ws/stats", s.HandleConnectionStats)
	log.Info().Msg("gateway routes registered")
}
