package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
)

// handleGetConfig returns the active configuration.
func (s *Server) handleGetConfig(rw http.ResponseWriter, _ *http.Request) {
	s.writeJSON(rw, http.StatusOK, s.holder.Load())
}

// handlePostConfig validates and hot-swaps the configuration. On a
// validation failure every violation is enumerated in the response and the
// previously active configuration stays in effect.
func (s *Server) handlePostConfig(rw http.ResponseWriter, req *http.Request) {
	var cfg config.Config

	err := json.NewDecoder(req.Body).Decode(&cfg)
	if err != nil {
		s.writeError(rw, http.StatusBadRequest, fmt.Errorf("decode config: %w", err))

		return
	}

	err = s.holder.Swap(&cfg, s.schema)
	if err != nil {
		s.writeError(rw, http.StatusUnprocessableEntity, err)

		return
	}

	s.log.InfoContext(req.Context(), "configuration swapped",
		"selectors", len(cfg.Selectors),
		"metrics", len(cfg.Metrics))

	s.writeJSON(rw, http.StatusOK, &cfg)
}
