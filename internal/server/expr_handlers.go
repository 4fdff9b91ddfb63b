package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/exprs"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/promschema"
)

// handleExprWelford generates the declarative expression set for the
// requested metric. Unset parameters fall back to the active
// configuration's values.
func (s *Server) handleExprWelford(rw http.ResponseWriter, req *http.Request) {
	var params exprs.Params

	err := json.NewDecoder(req.Body).Decode(&params)
	if err != nil {
		s.writeError(rw, http.StatusBadRequest, fmt.Errorf("decode params: %w", err))

		return
	}

	params.ApplyDefaults(s.holder.Load())

	out, err := exprs.Generate(params)
	if err != nil {
		s.writeError(rw, http.StatusUnprocessableEntity, err)

		return
	}

	s.writeJSON(rw, http.StatusOK, out)
}

// handlePrometheusSchema renders the recording-rule document derived from
// the active configuration.
func (s *Server) handlePrometheusSchema(rw http.ResponseWriter, _ *http.Request) {
	doc, err := promschema.Generate(s.holder.Load())
	if err != nil {
		s.writeError(rw, http.StatusInternalServerError, err)

		return
	}

	buf, err := doc.Render()
	if err != nil {
		s.writeError(rw, http.StatusInternalServerError, err)

		return
	}

	rw.Header().Set("Content-Type", "application/x-yaml")
	rw.WriteHeader(http.StatusOK)

	_, err = rw.Write(buf)
	if err != nil {
		s.log.Error("schema write failed", "err", err)
	}
}
