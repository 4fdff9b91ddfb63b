package ingest

import (
	"context"
	"time"
)

// Sample is one derived metric point for the metrics backend.
type Sample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Time   time.Time         `json:"time"`
	Value  float64           `json:"value"`
}

// Publisher pushes derived samples to the metrics backend.
type Publisher interface {
	Publish(ctx context.Context, samples []Sample) error
}
