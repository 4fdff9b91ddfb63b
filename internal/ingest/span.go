// Package ingest drives the engine: it polls finished spans from the trace
// source, folds derived values into the state store, periodically publishes
// derived samples to the metrics backend, and captures durable snapshots.
package ingest

import (
	"context"
	"strconv"
	"time"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
)

// BusyTag names the span tag carrying self time in nanoseconds, emitted by
// instrumented services that track time not spent waiting on children.
const BusyTag = "busy_ns"

// ErrorTag names the span tag set to "true" on failed spans.
const ErrorTag = "error"

// Span is one finished span as delivered by the trace source.
type Span struct {
	TraceID   string            `json:"trace_id"`
	Service   string            `json:"service"`
	Operation string            `json:"operation"`
	Start     time.Time         `json:"start"`
	Duration  time.Duration     `json:"duration"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Failed reports whether the span carries the error tag.
func (s Span) Failed() bool {
	return s.Tags[ErrorTag] == "true"
}

// Value derives the raw sample value of the span for the given graph type.
// ok is false when the span carries no value for the type, such as a
// missing busy tag.
func (s Span) Value(t config.GraphType) (float64, bool) {
	switch t {
	case config.Duration:
		return float64(s.Duration) / float64(time.Microsecond), true

	case config.Busy:
		raw, ok := s.Tags[BusyTag]
		if !ok {
			return 0, false
		}

		busy, err := strconv.ParseFloat(raw, 64)
		if err != nil || busy < 0 {
			return 0, false
		}

		return busy, true

	case config.CallRate:
		// Each span contributes one call; the windowed count carries the
		// rate.
		return 1, true

	case config.ErrorRate:
		if s.Failed() {
			return 1, true
		}

		return 0, true
	}

	return 0, false
}

// Source delivers finished spans from the tracing backend. Spans returns
// every span that finished in the half-open interval [from, to).
type Source interface {
	Spans(ctx context.Context, from, to time.Time) ([]Span, error)
}
