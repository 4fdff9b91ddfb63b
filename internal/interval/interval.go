// Package interval models the two aggregation horizons compared by the
// anomaly scorer. Each horizon is a sliding window implemented as a ring of
// per-bin states; the window aggregate is the merge of all live bins, and
// advancing the ring resets bins that have aged out. No per-sample expiry
// happens inside the accumulators themselves.
package interval

import (
	"time"

	"github.com/ContinuousC/JaegerAnomalyDetection/pkg/alg/tdigest"
	"github.com/ContinuousC/JaegerAnomalyDetection/pkg/alg/welford"
)

// Horizon names one of the two aggregation windows.
type Horizon string

// The two horizons compared by the scorer.
const (
	// Immediate is the short-term window holding recent samples.
	Immediate Horizon = "immediate"
	// Reference is the long-term window establishing the normal range.
	Reference Horizon = "reference"
)

// Horizons lists both horizons in evaluation order.
var Horizons = []Horizon{Immediate, Reference}

// WindowConfig describes the geometry of a sliding window: the bin width
// and the number of bins. The window length is BinWidth times NumBins.
type WindowConfig struct {
	BinWidth time.Duration
	NumBins  int
}

// Length returns the total window length.
func (c WindowConfig) Length() time.Duration {
	return c.BinWidth * time.Duration(c.NumBins)
}

// State pairs a Welford accumulator with an optional quantile sketch for
// one metric key and horizon bin. The sketch is present only for
// duration-like metrics.
type State struct {
	Stats  welford.Accumulator
	Sketch *tdigest.TDigest
}

// NewState creates an empty state. When withSketch is true the state also
// carries a quantile sketch with the given compression.
func NewState(withSketch bool, compression float64) *State {
	s := &State{}
	if withSketch {
		s.Sketch = tdigest.New(compression)
	}

	return s
}

// Record folds one observation into the state.
func (s *State) Record(value float64) {
	s.Stats.Update(value)

	if s.Sketch != nil {
		s.Sketch.Add(value)
	}
}

// Merge returns a new state combining s and other. Either side may lack a
// sketch; the result carries one when either input does.
func (s *State) Merge(other *State) *State {
	out := &State{Stats: welford.Merge(s.Stats, other.Stats)}

	if s.Sketch != nil || other.Sketch != nil {
		compression := tdigest.DefaultCompression
		if s.Sketch != nil {
			compression = s.Sketch.Compression()
		} else if other.Sketch != nil {
			compression = other.Sketch.Compression()
		}

		out.Sketch = tdigest.New(compression)
		out.Sketch.Merge(s.Sketch)
		out.Sketch.Merge(other.Sketch)
	}

	return out
}

// Reset returns the state to empty, keeping the sketch configuration.
func (s *State) Reset() {
	s.Stats.Reset()

	if s.Sketch != nil {
		s.Sketch = tdigest.New(s.Sketch.Compression())
	}
}

// Window is a sliding window over one horizon: a ring of per-bin states.
// Advancing past the end of the current bin rotates the ring, resetting the
// bin that ages out. Window is not safe for concurrent use; the store
// serializes access per metric key.
type Window struct {
	cfg         WindowConfig
	withSketch  bool
	compression float64

	start time.Time
	idx   int
	bins  []*State
}

// NewWindow creates a window whose bins start at start truncated to the
// bin width.
func NewWindow(start time.Time, cfg WindowConfig, withSketch bool, compression float64) *Window {
	bins := make([]*State, cfg.NumBins)
	for i := range bins {
		bins[i] = NewState(withSketch, compression)
	}

	return &Window{
		cfg:         cfg,
		withSketch:  withSketch,
		compression: compression,
		start:       start.Truncate(cfg.BinWidth),
		bins:        bins,
	}
}

// Config returns the window geometry.
func (w *Window) Config() WindowConfig {
	return w.cfg
}

// CompatibleWith reports whether the window was built with the same
// geometry. A window with a different geometry cannot be reused across a
// configuration change and must be rebuilt.
func (w *Window) CompatibleWith(cfg WindowConfig) bool {
	return w.cfg == cfg
}

// Advance rotates the ring so the current bin covers t. Bins that age out
// are reset. Timestamps before the current bin are left alone: samples from
// out-of-order traces land in the current bin rather than being dropped.
func (w *Window) Advance(t time.Time) {
	target := t.Truncate(w.cfg.BinWidth)

	for {
		next := w.start.Add(w.cfg.BinWidth)
		if next.After(target) {
			return
		}

		w.idx = (w.idx + 1) % len(w.bins)
		w.bins[w.idx].Reset()
		w.start = next
	}
}

// Record advances the window to t and folds value into the current bin.
func (w *Window) Record(t time.Time, value float64) {
	w.Advance(t)
	w.bins[w.idx].Record(value)
}

// Aggregate merges all live bins into a single state covering the whole
// window.
func (w *Window) Aggregate() *State {
	out := NewState(w.withSketch, w.compression)

	for _, bin := range w.bins {
		out = out.Merge(bin)
	}

	return out
}

// Count returns the number of samples currently held across all bins.
func (w *Window) Count() uint64 {
	var total uint64
	for _, bin := range w.bins {
		total += bin.Stats.Count
	}

	return total
}

// Start returns the start of the current bin.
func (w *Window) Start() time.Time {
	return w.start
}

// Bins returns the ring slice and the current bin index, for snapshotting.
// The slice is owned by the window.
func (w *Window) Bins() (bins []*State, idx int) {
	return w.bins, w.idx
}

// RestoreWindow rebuilds a window from snapshot data. The bins slice must
// have the geometry's bin count.
func RestoreWindow(cfg WindowConfig, withSketch bool, compression float64, start time.Time, idx int, bins []*State) *Window {
	return &Window{
		cfg:         cfg,
		withSketch:  withSketch,
		compression: compression,
		start:       start,
		idx:         idx,
		bins:        bins,
	}
}
