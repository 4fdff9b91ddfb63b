package store

import (
	"sort"
	"sync"
	"time"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/interval"
)

// shardCount partitions the key space. Must be a power of two-ish small
// constant; 64 keeps contention negligible at typical key cardinalities.
const shardCount = 64

// Store maps metric keys to per-horizon sliding windows. Safe for
// concurrent use: Record and Aggregate may be called from multiple
// goroutines without external synchronization.
type Store struct {
	holder *config.Holder
	shards [shardCount]shard
}

type shard struct {
	mu      sync.RWMutex
	entries map[Key]*entry
}

// entry owns the per-key state. Its mutex serializes updates for one key
// so no interleaved partial accumulator updates can occur; different keys
// proceed independently.
type entry struct {
	mu       sync.Mutex
	windows  map[interval.Horizon]*interval.Window
	lastSeen time.Time
}

// HorizonAggregate is a point-in-time aggregate of one horizon window.
type HorizonAggregate struct {
	State  *interval.State
	Window interval.WindowConfig
}

// New creates an empty store reading its geometry from the config holder.
func New(holder *config.Holder) *Store {
	s := &Store{holder: holder}
	for i := range s.shards {
		s.shards[i].entries = make(map[Key]*entry)
	}

	return s
}

// windowConfigs derives the per-horizon geometry for a graph type from the
// active configuration.
func windowConfigs(mc config.MetricConfig) map[interval.Horizon]interval.WindowConfig {
	return map[interval.Horizon]interval.WindowConfig{
		interval.Immediate: {
			BinWidth: time.Duration(mc.Immediate.BinWidth),
			NumBins:  mc.Immediate.NumBins(),
		},
		interval.Reference: {
			BinWidth: time.Duration(mc.Reference.BinWidth),
			NumBins:  mc.Reference.NumBins(),
		},
	}
}

// Record folds one observation into both horizon windows of the key.
// State is created lazily on the first sample for a key. Samples for graph
// types disabled by the active configuration are dropped.
func (s *Store) Record(t time.Time, key Key, value float64) {
	cfg := s.holder.Load()

	mc, ok := cfg.Metric(key.Type)
	if !ok {
		return
	}

	e := s.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	s.ensureWindows(e, key, t, mc, cfg)

	for _, w := range e.windows {
		w.Record(t, value)
	}

	if t.After(e.lastSeen) {
		e.lastSeen = t
	}
}

// Aggregate advances the key's windows to t and returns the point-in-time
// aggregate of each horizon. ok is false when no state exists for the key.
func (s *Store) Aggregate(t time.Time, key Key) (imm, ref HorizonAggregate, ok bool) {
	sh := &s.shards[key.shard()]

	sh.mu.RLock()
	e := sh.entries[key]
	sh.mu.RUnlock()

	if e == nil {
		return HorizonAggregate{}, HorizonAggregate{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, w := range e.windows {
		w.Advance(t)
	}

	immWindow := e.windows[interval.Immediate]
	refWindow := e.windows[interval.Reference]

	if immWindow == nil || refWindow == nil {
		return HorizonAggregate{}, HorizonAggregate{}, false
	}

	return HorizonAggregate{State: immWindow.Aggregate(), Window: immWindow.Config()},
		HorizonAggregate{State: refWindow.Aggregate(), Window: refWindow.Config()},
		true
}

// Keys returns all known keys in field-tuple order.
func (s *Store) Keys() []Key {
	var keys []Key

	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.RLock()

		for key := range sh.entries {
			keys = append(keys, key)
		}

		sh.mu.RUnlock()
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	return keys
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	total := 0

	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}

	return total
}

// Cleanup drops state for keys that have not seen a sample since the
// cutoff. Keys removed from the configuration are otherwise retained until
// restart. Returns the number of dropped keys.
func (s *Store) Cleanup(cutoff time.Time) int {
	dropped := 0

	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.Lock()

		for key, e := range sh.entries {
			e.mu.Lock()
			idle := e.lastSeen.Before(cutoff)
			e.mu.Unlock()

			if idle {
				delete(sh.entries, key)

				dropped++
			}
		}

		sh.mu.Unlock()
	}

	return dropped
}

func (s *Store) entry(key Key) *entry {
	sh := &s.shards[key.shard()]

	sh.mu.RLock()
	e := sh.entries[key]
	sh.mu.RUnlock()

	if e != nil {
		return e
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e = sh.entries[key]; e == nil {
		e = &entry{windows: make(map[interval.Horizon]*interval.Window)}
		sh.entries[key] = e
	}

	return e
}

// ensureWindows builds or rebuilds the entry's windows when missing or
// when the configured geometry changed. A geometry change discards the
// accumulated state for the key; the windows restart empty at t.
func (s *Store) ensureWindows(e *entry, key Key, t time.Time, mc config.MetricConfig, cfg *config.Config) {
	withSketch := key.Type.HasSketch()

	for horizon, wc := range windowConfigs(mc) {
		w := e.windows[horizon]
		if w != nil && w.CompatibleWith(wc) {
			continue
		}

		e.windows[horizon] = interval.NewWindow(t, wc, withSketch, cfg.SketchCompression)
	}
}
