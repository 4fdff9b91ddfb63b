package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/observability"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/score"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/store"
	"github.com/ContinuousC/JaegerAnomalyDetection/pkg/persist"
)

// metricPrefix matches the prefix of the published raw sample series.
const metricPrefix = "trace_"

// snapshotBasename names the durable state file.
const snapshotBasename = "anomaly-state"

// ErrSnapshotCorrupt wraps a snapshot decode failure at startup. A corrupt
// snapshot is fatal: silently starting cold would discard a week of
// reference state without anyone noticing.
var ErrSnapshotCorrupt = errors.New("state snapshot is corrupt")

// Processor is the ingest loop: poll spans, fold them into the store,
// publish derived samples, snapshot, and clean up idle keys.
type Processor struct {
	store     *store.Store
	holder    *config.Holder
	source    Source
	publisher Publisher
	persister *persist.Persister[store.Snapshot]
	settings  config.Settings
	log       *slog.Logger
	metrics   *observability.IngestMetrics

	lastPoll time.Time
	now      func() time.Time
}

// Option tweaks a Processor at construction.
type Option func(*Processor)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithMetrics attaches ingest instruments.
func WithMetrics(m *observability.IngestMetrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// NewProcessor wires the ingest loop. publisher may be nil when no metrics
// backend is configured; snapshotting is governed by the settings.
func NewProcessor(st *store.Store, holder *config.Holder, source Source, publisher Publisher, settings config.Settings, log *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:     st,
		holder:    holder,
		source:    source,
		publisher: publisher,
		settings:  settings,
		log:       log,
		now:       time.Now,
	}

	if settings.Snapshot.Enabled {
		p.persister = persist.NewPersister[store.Snapshot](snapshotBasename, snapshotCodec(settings.Snapshot))
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// snapshotCodec selects the snapshot serialization per the settings.
// JSON is the default; gob trades inspectability for size and speed.
func snapshotCodec(s config.SnapshotSettings) persist.Codec {
	if s.Format == config.SnapshotFormatGob {
		return persist.NewGobCodec()
	}

	return persist.NewJSONCodec()
}

// Restore loads the durable snapshot into the store. A missing snapshot is
// a cold start; any other failure is returned wrapped in
// [ErrSnapshotCorrupt] and must abort startup.
func (p *Processor) Restore() error {
	if p.persister == nil {
		return nil
	}

	snap, err := p.persister.Load(p.settings.Snapshot.Dir)
	if errors.Is(err, persist.ErrNotExist) {
		p.log.Info("no state snapshot, starting cold", "dir", p.settings.Snapshot.Dir)

		return nil
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}

	err = p.store.Restore(snap)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}

	p.log.Info("state snapshot restored",
		"dir", p.settings.Snapshot.Dir,
		"taken", snap.Taken,
		"keys", p.store.Len())

	return nil
}

// Run executes the loop until ctx is cancelled. A final snapshot is taken
// on shutdown.
func (p *Processor) Run(ctx context.Context) error {
	p.lastPoll = p.now()

	poll := time.NewTicker(p.settings.PollInterval)
	defer poll.Stop()

	sample := time.NewTicker(p.settings.SampleInterval)
	defer sample.Stop()

	p.log.InfoContext(ctx, "ingest loop started",
		"poll_interval", p.settings.PollInterval,
		"sample_interval", p.settings.SampleInterval)

	for {
		select {
		case <-ctx.Done():
			p.snapshot(context.WithoutCancel(ctx))

			return ctx.Err()

		case <-poll.C:
			p.Poll(ctx)

		case <-sample.C:
			p.Publish(ctx)
		}
	}
}

// Poll fetches spans finished since the previous poll and folds them into
// the store, then snapshots and cleans up idle keys.
func (p *Processor) Poll(ctx context.Context) {
	now := p.now()
	from := p.lastPoll

	spans, err := p.source.Spans(ctx, from, now)
	if err != nil {
		p.log.ErrorContext(ctx, "span poll failed", "err", err, "from", from, "to", now)

		return
	}

	p.lastPoll = now

	started := p.now()
	counts := p.fold(spans)
	p.metrics.RecordBatch(ctx, counts, p.now().Sub(started))

	p.log.InfoContext(ctx, "ingest batch",
		"spans", len(spans),
		"keys", p.store.Len(),
		"from", from,
		"to", now)

	p.snapshot(ctx)
	p.cleanup(ctx, now)
}

// fold records every span under every enabled graph type it carries a
// value for. Returns per-type sample counts.
func (p *Processor) fold(spans []Span) map[string]int64 {
	cfg := p.holder.Load()
	counts := make(map[string]int64, len(config.GraphTypes))

	for _, span := range spans {
		labels, ok := monitoredLabels(cfg, span)
		if !ok {
			continue
		}

		extra := store.CanonicalLabels(labels)

		for _, t := range config.GraphTypes {
			if _, enabled := cfg.Metric(t); !enabled {
				continue
			}

			value, ok := span.Value(t)
			if !ok {
				continue
			}

			key := store.Key{
				Type:      t,
				Service:   span.Service,
				Operation: span.Operation,
				Extra:     extra,
			}

			p.store.Record(span.Start, key, value)
			counts[string(t)]++
		}
	}

	return counts
}

// monitoredLabels reports whether the configuration monitors the span, and
// returns the selector labels that pin it so distinct selector values land
// under distinct keys.
func monitoredLabels(cfg *config.Config, span Span) (map[string]string, bool) {
	if len(cfg.Selectors) == 0 {
		return nil, true
	}

	for _, sel := range cfg.Selectors {
		if sel.Matches(span.Service, span.Operation, span.Tags) {
			return sel.Labels, true
		}
	}

	return nil, false
}

// Publish derives the current statistics and scores for every known key
// and pushes them to the metrics backend.
func (p *Processor) Publish(ctx context.Context) {
	if p.publisher == nil {
		return
	}

	now := p.now()
	cfg := p.holder.Load()

	var samples []Sample

	for _, key := range p.store.Keys() {
		imm, ref, ok := p.store.Aggregate(now, key)
		if !ok {
			continue
		}

		samples = append(samples, deriveSamples(now, cfg, key, imm, ref)...)
	}

	if len(samples) == 0 {
		return
	}

	err := p.publisher.Publish(ctx, samples)
	if err != nil {
		p.log.ErrorContext(ctx, "sample publish failed", "err", err, "samples", len(samples))

		return
	}

	p.metrics.RecordPublish(ctx, int64(len(samples)))
}

// deriveSamples renders the per-key statistics: count, mean, stddev, the
// sketch quantile where present, and the anomaly score.
func deriveSamples(now time.Time, cfg *config.Config, key store.Key, imm, ref store.HorizonAggregate) []Sample {
	labels := sampleLabels(key)
	params := score.ParamsFor(cfg, key.Type)
	name := metricPrefix + string(key.Type)

	samples := []Sample{
		{Name: name + ":count", Labels: labels, Time: now, Value: float64(imm.State.Stats.Count)},
	}

	if mean, ok := imm.State.Stats.MeanValue(); ok {
		samples = append(samples, Sample{Name: name + ":mean", Labels: labels, Time: now, Value: mean})
	}

	if stddev, ok := imm.State.Stats.StdDev(); ok {
		samples = append(samples, Sample{Name: name + ":stddev", Labels: labels, Time: now, Value: stddev})
	}

	if imm.State.Sketch != nil {
		if q, ok := imm.State.Sketch.Quantile(params.Quantile); ok {
			samples = append(samples, Sample{Name: name + ":quantile", Labels: labels, Time: now, Value: q})
		}
	}

	var result score.Result
	if key.Type == config.CallRate {
		result = score.EvaluateRate(imm.State, ref.State, imm.Window, ref.Window, params)
	} else {
		result = score.Evaluate(imm.State, ref.State, params)
	}

	if result.Defined {
		samples = append(samples, Sample{Name: name + ":anomaly_score", Labels: labels, Time: now, Value: result.Value})
	}

	return samples
}

func sampleLabels(key store.Key) map[string]string {
	labels := map[string]string{
		"service_name":   key.Service,
		"operation_name": key.Operation,
	}

	if key.Extra != "" {
		labels["selector"] = key.Extra
	}

	return labels
}

// snapshot captures the store and persists it.
func (p *Processor) snapshot(ctx context.Context) {
	if p.persister == nil {
		return
	}

	started := p.now()
	snap := p.store.Snapshot(started)

	err := p.persister.Save(p.settings.Snapshot.Dir, snap)
	if err != nil {
		p.log.ErrorContext(ctx, "state snapshot failed", "err", err, "dir", p.settings.Snapshot.Dir)

		return
	}

	p.metrics.RecordSnapshot(ctx, p.now().Sub(started))
}

// cleanup drops keys idle for longer than the reference retention span.
func (p *Processor) cleanup(ctx context.Context, now time.Time) {
	retention := retentionSpan(p.holder.Load())
	if retention <= 0 {
		return
	}

	dropped := p.store.Cleanup(now.Add(-retention))
	if dropped > 0 {
		p.metrics.RecordKeyDelta(ctx, -int64(dropped))
		p.log.InfoContext(ctx, "idle keys dropped", "dropped", dropped, "retention", retention)
	}
}

// retentionSpan returns the longest reference retention across enabled
// metrics. A key idle beyond this span has aged out of every reference
// window and carries no usable state.
func retentionSpan(cfg *config.Config) time.Duration {
	var span time.Duration

	for _, t := range config.GraphTypes {
		mc, ok := cfg.Metric(t)
		if !ok {
			continue
		}

		retention := time.Duration(mc.Reference.Retention)
		if retention == 0 {
			retention = time.Duration(mc.Reference.Window)
		}

		if retention > span {
			span = retention
		}
	}

	return span
}
