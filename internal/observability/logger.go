package observability

import (
	"io"
	"log/slog"
)

const attrService = "service"

// NewLogger builds the process logger: a JSON [slog.Handler] at the given
// level with the service name pre-attached, so every record carries it
// regardless of later groups.
func NewLogger(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})

	return slog.New(handler).With(slog.String(attrService, service))
}
