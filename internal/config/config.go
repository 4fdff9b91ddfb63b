// Package config defines the domain configuration of the anomaly detection
// engine: which trace metrics are monitored, the immediate and reference
// horizon geometry per graph type, and the scoring parameters. The active
// configuration is held behind an atomically swapped pointer so concurrent
// readers never observe a partially applied update.
package config

import (
	"time"

	"github.com/prometheus/common/model"
)

// GraphType identifies one of the monitored trace metrics.
type GraphType string

// The supported graph types.
const (
	Duration  GraphType = "duration"
	Busy      GraphType = "busy"
	CallRate  GraphType = "call_rate"
	ErrorRate GraphType = "error_rate"
)

// GraphTypes lists all graph types in a fixed order.
var GraphTypes = []GraphType{Duration, Busy, CallRate, ErrorRate}

// Valid reports whether t names a known graph type.
func (t GraphType) Valid() bool {
	switch t {
	case Duration, Busy, CallRate, ErrorRate:
		return true
	default:
		return false
	}
}

// HasSketch reports whether the graph type carries a quantile sketch.
// Only duration-like metrics do; rate metrics are summarized by mean alone.
func (t GraphType) HasSketch() bool {
	return t == Duration || t == Busy
}

// DisplayFactor returns the divisor used to scale raw sample values to
// display units (µs for durations, ns for busy time).
func (t GraphType) DisplayFactor() float64 {
	switch t {
	case Duration:
		return 1e6
	case Busy:
		return 1e9
	case CallRate, ErrorRate:
		return 1
	default:
		return 1
	}
}

// DefaultOffset returns the default score offset for the graph type: the
// absolute slack added to the reference ceiling so near-zero references do
// not blow up the ratio. Units follow the raw sample values.
func (t GraphType) DefaultOffset() float64 {
	switch t {
	case Duration:
		return 1000 // µs
	case Busy:
		return 1e6 // ns
	case CallRate:
		return 1.0
	case ErrorRate:
		return 0.01
	default:
		return 0
	}
}

// WindowSpec declares the window length and bin width of one horizon.
// Durations use the PromQL duration syntax ("5m", "7d") on the wire.
type WindowSpec struct {
	Window   model.Duration `json:"window"`
	BinWidth model.Duration `json:"bin_width"`
	// Retention bounds how far the window may slide before idle state is
	// dropped. Zero means the window length is used. Reference horizon only.
	Retention model.Duration `json:"retention,omitempty"`
}

// NumBins returns the bin count implied by the window and bin width.
func (w WindowSpec) NumBins() int {
	if w.BinWidth <= 0 {
		return 0
	}

	return int(time.Duration(w.Window) / time.Duration(w.BinWidth))
}

// MetricConfig holds per-graph-type settings.
type MetricConfig struct {
	Enabled   bool       `json:"enabled"`
	Offset    float64    `json:"offset"`
	Immediate WindowSpec `json:"immediate"`
	Reference WindowSpec `json:"reference"`
}

// Selector restricts monitoring to matching service/operation pairs.
// Empty fields match anything; Labels are matched against span tags and
// must name labels declared by the external schema.
type Selector struct {
	Service   string            `json:"service,omitempty"`
	Operation string            `json:"operation,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Matches reports whether the selector accepts the given service,
// operation, and tag set.
func (s Selector) Matches(service, operation string, tags map[string]string) bool {
	if s.Service != "" && s.Service != service {
		return false
	}

	if s.Operation != "" && s.Operation != operation {
		return false
	}

	for name, value := range s.Labels {
		if tags[name] != value {
			return false
		}
	}

	return true
}

// Config is the domain configuration. It is immutable once published;
// updates go through [Holder.Swap] with a fully constructed replacement.
type Config struct {
	// Selectors lists the monitored key patterns. An empty list monitors
	// every service/operation pair seen in the trace stream.
	Selectors []Selector `json:"selectors,omitempty"`

	// Metrics holds per-graph-type horizon and offset settings.
	Metrics map[GraphType]MetricConfig `json:"metrics"`

	// Quantile is the target quantile q used for duration-type metrics.
	Quantile float64 `json:"q"`

	// StdDevFactor is the number of reference standard deviations that
	// define the upper edge of the normal range for non-duration metrics.
	StdDevFactor float64 `json:"stddev_factor"`

	// SketchCompression is the t-digest compression parameter δ.
	SketchCompression float64 `json:"sketch_compression,omitempty"`
}

// Default horizon geometry, matching the shipped deployment: a 5 minute
// immediate window in 30 second bins against a 7 day reference window in
// 15 minute bins.
const (
	DefaultImmediateWindow   = 5 * time.Minute
	DefaultImmediateBinWidth = 30 * time.Second
	DefaultReferenceWindow   = 7 * 24 * time.Hour
	DefaultReferenceBinWidth = 15 * time.Minute

	DefaultQuantile     = 0.99
	DefaultStdDevFactor = 3.0
)

// Default returns the default configuration: all graph types enabled with
// the default horizons and the per-type default offsets.
func Default() *Config {
	metrics := make(map[GraphType]MetricConfig, len(GraphTypes))

	for _, t := range GraphTypes {
		metrics[t] = MetricConfig{
			Enabled: true,
			Offset:  t.DefaultOffset(),
			Immediate: WindowSpec{
				Window:   model.Duration(DefaultImmediateWindow),
				BinWidth: model.Duration(DefaultImmediateBinWidth),
			},
			Reference: WindowSpec{
				Window:   model.Duration(DefaultReferenceWindow),
				BinWidth: model.Duration(DefaultReferenceBinWidth),
			},
		}
	}

	return &Config{
		Metrics:           metrics,
		Quantile:          DefaultQuantile,
		StdDevFactor:      DefaultStdDevFactor,
		SketchCompression: 0, // 0 selects the sketch package default.
	}
}

// MonitorsKey reports whether the configuration monitors the given
// service/operation/tags combination.
func (c *Config) MonitorsKey(service, operation string, tags map[string]string) bool {
	if len(c.Selectors) == 0 {
		return true
	}

	for _, sel := range c.Selectors {
		if sel.Matches(service, operation, tags) {
			return true
		}
	}

	return false
}

// Metric returns the settings for a graph type and whether the type is
// enabled.
func (c *Config) Metric(t GraphType) (MetricConfig, bool) {
	mc, ok := c.Metrics[t]

	return mc, ok && mc.Enabled
}
