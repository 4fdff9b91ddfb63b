// Package server exposes the engine over HTTP: configuration reads and
// hot swaps, declarative expression generation, the Prometheus rule
// document, an example chart page, and the operational endpoints.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/observability"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/store"
)

// Server holds the shared state behind the HTTP API.
type Server struct {
	holder *config.Holder
	store  *store.Store
	schema config.Schema
	log    *slog.Logger

	metricsHandler http.Handler
	readyChecks    []observability.ReadyCheck
}

// Option tweaks a Server at construction.
type Option func(*Server)

// WithMetricsHandler mounts a /metrics scrape handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithReadyChecks adds readiness checks for /readyz.
func WithReadyChecks(checks ...observability.ReadyCheck) Option {
	return func(s *Server) { s.readyChecks = append(s.readyChecks, checks...) }
}

// New wires a server over the shared holder and store.
func New(holder *config.Holder, st *store.Store, schema config.Schema, log *slog.Logger, opts ...Option) *Server {
	s := &Server{
		holder: holder,
		store:  st,
		schema: schema,
		log:    log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Routes builds the HTTP mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("POST /config", s.handlePostConfig)
	mux.HandleFunc("POST /expr/welford", s.handleExprWelford)
	mux.HandleFunc("GET /prometheus-schema", s.handlePrometheusSchema)
	mux.HandleFunc("GET /graph/example", s.handleGraphExample)

	mux.Handle("GET /healthz", observability.HealthHandler())
	mux.Handle("GET /readyz", observability.ReadyHandler(s.readyChecks...))

	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	return mux
}

// MountPrefix mounts the routes under the given URL path prefix, as set
// by the prefix process setting. The root prefix serves them as is.
func MountPrefix(prefix string, routes http.Handler) http.Handler {
	trimmed := strings.TrimSuffix(prefix, "/")
	if trimmed == "" {
		return routes
	}

	return http.StripPrefix(trimmed, routes)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

func (s *Server) writeJSON(rw http.ResponseWriter, code int, body any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)

	err := json.NewEncoder(rw).Encode(body)
	if err != nil {
		s.log.Error("response encode failed", "err", err)
	}
}

func (s *Server) writeError(rw http.ResponseWriter, code int, err error) {
	s.writeJSON(rw, code, errorBody{Error: err.Error(), Violations: violations(err)})
}

// violations flattens a joined validation error into one message per
// violation. A plain error yields nil so the list is only present when
// there is something to enumerate.
func violations(err error) []string {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return nil
	}

	errs := joined.Unwrap()
	list := make([]string, 0, len(errs))

	for _, e := range errs {
		list = append(list, e.Error())
	}

	return list
}
