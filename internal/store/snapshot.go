package store

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/interval"
	"github.com/ContinuousC/JaegerAnomalyDetection/pkg/alg/tdigest"
	"github.com/ContinuousC/JaegerAnomalyDetection/pkg/alg/welford"
)

// SnapshotVersion is bumped whenever the snapshot layout changes
// incompatibly. Decoding a snapshot with a different version fails.
const SnapshotVersion = 1

// Sentinel snapshot errors.
var (
	// ErrSnapshotVersion indicates a snapshot written by an incompatible version.
	ErrSnapshotVersion = errors.New("unsupported snapshot version")
	// ErrSnapshotMalformed indicates structurally invalid snapshot contents.
	ErrSnapshotMalformed = errors.New("malformed snapshot")
)

// Snapshot is the durable form of the full store. Accumulator floats are
// stored as IEEE-754 bit patterns so a decode round-trips bit-identically
// regardless of the codec's number formatting.
type Snapshot struct {
	Version int             `json:"version"`
	Taken   time.Time       `json:"taken"`
	Entries []EntrySnapshot `json:"entries"`
}

// EntrySnapshot captures one metric key's per-horizon windows.
type EntrySnapshot struct {
	Key      Key                                 `json:"key"`
	LastSeen time.Time                           `json:"last_seen"`
	Horizons map[interval.Horizon]WindowSnapshot `json:"horizons"`
}

// WindowSnapshot captures one horizon window's geometry and ring contents.
type WindowSnapshot struct {
	BinWidth    time.Duration   `json:"bin_width"`
	NumBins     int             `json:"num_bins"`
	Start       time.Time       `json:"start"`
	Index       int             `json:"index"`
	WithSketch  bool            `json:"with_sketch"`
	Compression float64         `json:"compression,omitempty"`
	Bins        []StateSnapshot `json:"bins"`
}

// StateSnapshot captures one bin's accumulator and optional sketch.
type StateSnapshot struct {
	Count         uint64          `json:"count"`
	MeanBits      uint64          `json:"mean_bits"`
	SumSqDiffBits uint64          `json:"sum_sq_diff_bits"`
	Sketch        *SketchSnapshot `json:"sketch,omitempty"`
}

// SketchSnapshot captures a quantile sketch's centroids and bounds.
type SketchSnapshot struct {
	MinBits   uint64             `json:"min_bits"`
	MaxBits   uint64             `json:"max_bits"`
	Centroids []CentroidSnapshot `json:"centroids"`
}

// CentroidSnapshot is one weighted centroid in bit-pattern form.
type CentroidSnapshot struct {
	MeanBits   uint64 `json:"mean_bits"`
	WeightBits uint64 `json:"weight_bits"`
}

// Snapshot captures a point-in-time copy of the full store. Each shard is
// locked only long enough to copy its entries; updates on other shards
// proceed concurrently, so ongoing ingestion is never stalled globally.
func (s *Store) Snapshot(taken time.Time) *Snapshot {
	snap := &Snapshot{Version: SnapshotVersion, Taken: taken}

	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.RLock()

		entries := make(map[Key]*entry, len(sh.entries))
		for key, e := range sh.entries {
			entries[key] = e
		}

		sh.mu.RUnlock()

		for key, e := range entries {
			snap.Entries = append(snap.Entries, snapshotEntry(key, e))
		}
	}

	return snap
}

func snapshotEntry(key Key, e *entry) EntrySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := EntrySnapshot{
		Key:      key,
		LastSeen: e.lastSeen,
		Horizons: make(map[interval.Horizon]WindowSnapshot, len(e.windows)),
	}

	for horizon, w := range e.windows {
		out.Horizons[horizon] = snapshotWindow(w)
	}

	return out
}

func snapshotWindow(w *interval.Window) WindowSnapshot {
	cfg := w.Config()
	bins, idx := w.Bins()

	out := WindowSnapshot{
		BinWidth:   cfg.BinWidth,
		NumBins:    cfg.NumBins,
		Start:      w.Start(),
		Index:      idx,
		WithSketch: false,
		Bins:       make([]StateSnapshot, 0, len(bins)),
	}

	for _, bin := range bins {
		ss := StateSnapshot{
			Count:         bin.Stats.Count,
			MeanBits:      math.Float64bits(bin.Stats.Mean),
			SumSqDiffBits: math.Float64bits(bin.Stats.SumSqDiff),
		}

		if bin.Sketch != nil {
			out.WithSketch = true
			out.Compression = bin.Sketch.Compression()
			ss.Sketch = snapshotSketch(bin.Sketch)
		}

		out.Bins = append(out.Bins, ss)
	}

	return out
}

func snapshotSketch(t *tdigest.TDigest) *SketchSnapshot {
	out := &SketchSnapshot{}

	lo, hi, ok := t.Bounds()
	if ok {
		out.MinBits = math.Float64bits(lo)
		out.MaxBits = math.Float64bits(hi)
	}

	for _, c := range t.Centroids() {
		out.Centroids = append(out.Centroids, CentroidSnapshot{
			MeanBits:   math.Float64bits(c.Mean),
			WeightBits: math.Float64bits(c.Weight),
		})
	}

	return out
}

// Restore replaces the store contents with the snapshot. It fails without
// touching existing state when the snapshot version does not match or the
// contents are structurally invalid; callers treat this as fatal rather
// than silently starting empty.
func (s *Store) Restore(snap *Snapshot) error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrSnapshotVersion, snap.Version, SnapshotVersion)
	}

	restored := make(map[Key]*entry, len(snap.Entries))

	for _, es := range snap.Entries {
		e := &entry{
			windows:  make(map[interval.Horizon]*interval.Window, len(es.Horizons)),
			lastSeen: es.LastSeen,
		}

		for horizon, ws := range es.Horizons {
			w, err := restoreWindow(ws)
			if err != nil {
				return fmt.Errorf("key %s, horizon %s: %w", es.Key, horizon, err)
			}

			e.windows[horizon] = w
		}

		restored[es.Key] = e
	}

	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.Lock()
		sh.entries = make(map[Key]*entry)
		sh.mu.Unlock()
	}

	for key, e := range restored {
		sh := &s.shards[key.shard()]

		sh.mu.Lock()
		sh.entries[key] = e
		sh.mu.Unlock()
	}

	return nil
}

func restoreWindow(ws WindowSnapshot) (*interval.Window, error) {
	if ws.NumBins <= 0 || ws.BinWidth <= 0 {
		return nil, fmt.Errorf("%w: invalid geometry", ErrSnapshotMalformed)
	}

	if len(ws.Bins) != ws.NumBins {
		return nil, fmt.Errorf("%w: %d bins for %d-bin window", ErrSnapshotMalformed, len(ws.Bins), ws.NumBins)
	}

	if ws.Index < 0 || ws.Index >= ws.NumBins {
		return nil, fmt.Errorf("%w: bin index %d out of range", ErrSnapshotMalformed, ws.Index)
	}

	cfg := interval.WindowConfig{BinWidth: ws.BinWidth, NumBins: ws.NumBins}

	bins := make([]*interval.State, ws.NumBins)
	for i, ss := range ws.Bins {
		bin := &interval.State{
			Stats: welford.Accumulator{
				Count:     ss.Count,
				Mean:      math.Float64frombits(ss.MeanBits),
				SumSqDiff: math.Float64frombits(ss.SumSqDiffBits),
			},
		}

		if ws.WithSketch {
			bin.Sketch = restoreSketch(ss.Sketch, ws.Compression)
		}

		bins[i] = bin
	}

	return interval.RestoreWindow(cfg, ws.WithSketch, ws.Compression, ws.Start, ws.Index, bins), nil
}

func restoreSketch(ss *SketchSnapshot, compression float64) *tdigest.TDigest {
	if ss == nil {
		return tdigest.New(compression)
	}

	centroids := make([]tdigest.Centroid, 0, len(ss.Centroids))
	for _, c := range ss.Centroids {
		centroids = append(centroids, tdigest.Centroid{
			Mean:   math.Float64frombits(c.MeanBits),
			Weight: math.Float64frombits(c.WeightBits),
		})
	}

	return tdigest.Restore(
		compression,
		centroids,
		math.Float64frombits(ss.MinBits),
		math.Float64frombits(ss.MaxBits),
	)
}
