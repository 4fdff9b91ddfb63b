package ingest_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/ingest"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/store"
)

type fakeSource struct {
	spans []ingest.Span
	err   error
	calls int
}

func (f *fakeSource) Spans(_ context.Context, _, _ time.Time) ([]ingest.Span, error) {
	f.calls++

	return f.spans, f.err
}

type fakePublisher struct {
	batches [][]ingest.Sample
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, samples []ingest.Sample) error {
	if f.err != nil {
		return f.err
	}

	f.batches = append(f.batches, samples)

	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func testSettings() config.Settings {
	return config.Settings{
		Bind:           ":0",
		PollInterval:   10 * time.Second,
		SampleInterval: 30 * time.Second,
	}
}

func span(service, operation string, start time.Time, d time.Duration, tags map[string]string) ingest.Span {
	return ingest.Span{
		TraceID:   "t1",
		Service:   service,
		Operation: operation,
		Start:     start,
		Duration:  d,
		Tags:      tags,
	}
}

func TestSpanValue_PerGraphType(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sp := span("checkout", "place-order", base, 1500*time.Microsecond, map[string]string{
		"busy_ns": "250000",
		"error":   "true",
	})

	v, ok := sp.Value(config.Duration)
	require.True(t, ok)
	assert.InDelta(t, 1500, v, 1e-9)

	v, ok = sp.Value(config.Busy)
	require.True(t, ok)
	assert.InDelta(t, 250000, v, 1e-9)

	v, ok = sp.Value(config.CallRate)
	require.True(t, ok)
	assert.InDelta(t, 1, v, 0)

	v, ok = sp.Value(config.ErrorRate)
	require.True(t, ok)
	assert.InDelta(t, 1, v, 0)
}

func TestSpanValue_MissingOrBadBusyTag(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, ok := span("s", "o", base, time.Millisecond, nil).Value(config.Busy)
	assert.False(t, ok)

	_, ok = span("s", "o", base, time.Millisecond, map[string]string{"busy_ns": "nope"}).Value(config.Busy)
	assert.False(t, ok)

	_, ok = span("s", "o", base, time.Millisecond, map[string]string{"busy_ns": "-5"}).Value(config.Busy)
	assert.False(t, ok)
}

func TestSpanValue_ErrorRateZeroOnSuccess(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	v, ok := span("s", "o", base, time.Millisecond, nil).Value(config.ErrorRate)
	require.True(t, ok)
	assert.InDelta(t, 0, v, 0)
}

func TestPoll_FoldsSpansIntoStore(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	holder := config.NewHolder(config.Default())
	st := store.New(holder)

	src := &fakeSource{spans: []ingest.Span{
		span("checkout", "place-order", base, time.Millisecond, map[string]string{"busy_ns": "1000"}),
		span("checkout", "place-order", base.Add(time.Second), 2*time.Millisecond, nil),
	}}

	clock := base.Add(2 * time.Second)
	p := ingest.NewProcessor(st, holder, src, nil, testSettings(), discardLogger(),
		ingest.WithClock(func() time.Time { return clock }))

	p.Poll(context.Background())

	// duration, call_rate, error_rate for both spans; busy only for the
	// tagged one.
	assert.Equal(t, 4, st.Len())

	imm, _, ok := st.Aggregate(clock, store.Key{Type: config.Duration, Service: "checkout", Operation: "place-order"})
	require.True(t, ok)
	assert.Equal(t, uint64(2), imm.State.Stats.Count)

	imm, _, ok = st.Aggregate(clock, store.Key{Type: config.Busy, Service: "checkout", Operation: "place-order"})
	require.True(t, ok)
	assert.Equal(t, uint64(1), imm.State.Stats.Count)
}

func TestPoll_SourceErrorKeepsWindowOpen(t *testing.T) {
	t.Parallel()

	holder := config.NewHolder(config.Default())
	st := store.New(holder)
	src := &fakeSource{err: errors.New("source down")}

	p := ingest.NewProcessor(st, holder, src, nil, testSettings(), discardLogger())

	p.Poll(context.Background())

	assert.Equal(t, 0, st.Len())
	assert.Equal(t, 1, src.calls)
}

func TestPoll_SelectorFiltering(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cfg := config.Default()
	cfg.Selectors = []config.Selector{
		{Service: "checkout", Labels: map[string]string{"zone": "eu"}},
	}

	holder := config.NewHolder(cfg)
	st := store.New(holder)

	src := &fakeSource{spans: []ingest.Span{
		span("checkout", "place-order", base, time.Millisecond, map[string]string{"zone": "eu"}),
		span("checkout", "place-order", base, time.Millisecond, map[string]string{"zone": "us"}),
		span("billing", "charge", base, time.Millisecond, map[string]string{"zone": "eu"}),
	}}

	clock := base.Add(time.Second)
	p := ingest.NewProcessor(st, holder, src, nil, testSettings(), discardLogger(),
		ingest.WithClock(func() time.Time { return clock }))

	p.Poll(context.Background())

	keys := st.Keys()
	require.NotEmpty(t, keys)

	for _, key := range keys {
		assert.Equal(t, "checkout", key.Service)
		assert.Equal(t, "zone=eu", key.Extra)
	}
}

func TestPoll_DisabledTypeSkipped(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cfg := config.Default()
	for _, gt := range config.GraphTypes {
		mc := cfg.Metrics[gt]
		mc.Enabled = gt == config.Duration
		cfg.Metrics[gt] = mc
	}

	holder := config.NewHolder(cfg)
	st := store.New(holder)

	src := &fakeSource{spans: []ingest.Span{
		span("checkout", "place-order", base, time.Millisecond, nil),
	}}

	p := ingest.NewProcessor(st, holder, src, nil, testSettings(), discardLogger(),
		ingest.WithClock(func() time.Time { return base.Add(time.Second) }))

	p.Poll(context.Background())

	keys := st.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, config.Duration, keys[0].Type)
}

func TestPublish_DerivedSamples(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	holder := config.NewHolder(config.Default())
	st := store.New(holder)

	var spans []ingest.Span
	for i := range 10 {
		spans = append(spans, span("checkout", "place-order", base.Add(time.Duration(i)*time.Second), time.Millisecond, nil))
	}

	src := &fakeSource{spans: spans}
	pub := &fakePublisher{}

	clock := base.Add(20 * time.Second)
	p := ingest.NewProcessor(st, holder, src, pub, testSettings(), discardLogger(),
		ingest.WithClock(func() time.Time { return clock }))

	p.Poll(context.Background())
	p.Publish(context.Background())

	require.Len(t, pub.batches, 1)

	names := make(map[string]bool)
	for _, s := range pub.batches[0] {
		names[s.Name] = true
		assert.Equal(t, "checkout", s.Labels["service_name"])
		assert.Equal(t, "place-order", s.Labels["operation_name"])
	}

	assert.True(t, names["trace_duration:count"])
	assert.True(t, names["trace_duration:mean"])
	assert.True(t, names["trace_duration:quantile"])
	assert.True(t, names["trace_duration:anomaly_score"])
	assert.True(t, names["trace_call_rate:anomaly_score"])
}

func TestPublish_NilPublisherIsNoop(t *testing.T) {
	t.Parallel()

	holder := config.NewHolder(config.Default())
	st := store.New(holder)
	p := ingest.NewProcessor(st, holder, &fakeSource{}, nil, testSettings(), discardLogger())

	p.Publish(context.Background())
}

func TestSnapshot_RoundTripThroughRestore(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()

	settings := testSettings()
	settings.Snapshot = config.SnapshotSettings{Enabled: true, Dir: dir}

	holder := config.NewHolder(config.Default())
	st := store.New(holder)

	src := &fakeSource{spans: []ingest.Span{
		span("checkout", "place-order", base, time.Millisecond, nil),
	}}

	clock := base.Add(time.Second)
	p := ingest.NewProcessor(st, holder, src, nil, settings, discardLogger(),
		ingest.WithClock(func() time.Time { return clock }))

	p.Poll(context.Background()) // snapshots after folding

	restored := store.New(config.NewHolder(config.Default()))
	p2 := ingest.NewProcessor(restored, holder, src, nil, settings, discardLogger())

	require.NoError(t, p2.Restore())
	assert.Equal(t, st.Len(), restored.Len())
}

func TestSnapshot_GobFormatRoundTrip(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()

	settings := testSettings()
	settings.Snapshot = config.SnapshotSettings{Enabled: true, Dir: dir, Format: config.SnapshotFormatGob}

	holder := config.NewHolder(config.Default())
	st := store.New(holder)

	src := &fakeSource{spans: []ingest.Span{
		span("checkout", "place-order", base, time.Millisecond, nil),
	}}

	clock := base.Add(time.Second)
	p := ingest.NewProcessor(st, holder, src, nil, settings, discardLogger(),
		ingest.WithClock(func() time.Time { return clock }))

	p.Poll(context.Background())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "anomaly-state.gob", entries[0].Name())

	restored := store.New(config.NewHolder(config.Default()))
	p2 := ingest.NewProcessor(restored, holder, src, nil, settings, discardLogger())

	require.NoError(t, p2.Restore())
	assert.Equal(t, st.Len(), restored.Len())
}

func TestRestore_ColdStart(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Snapshot = config.SnapshotSettings{Enabled: true, Dir: t.TempDir()}

	holder := config.NewHolder(config.Default())
	p := ingest.NewProcessor(store.New(holder), holder, &fakeSource{}, nil, settings, discardLogger())

	require.NoError(t, p.Restore())
}

func TestRestore_CorruptSnapshotIsFatal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "anomaly-state.json", "{not json")

	settings := testSettings()
	settings.Snapshot = config.SnapshotSettings{Enabled: true, Dir: dir}

	holder := config.NewHolder(config.Default())
	p := ingest.NewProcessor(store.New(holder), holder, &fakeSource{}, nil, settings, discardLogger())

	err := p.Restore()
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrSnapshotCorrupt)
}

func TestPoll_CleansUpIdleKeys(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	holder := config.NewHolder(config.Default())
	st := store.New(holder)

	old := span("stale", "op", base.Add(-30*24*time.Hour), time.Millisecond, nil)
	src := &fakeSource{spans: []ingest.Span{old}}

	clock := base
	p := ingest.NewProcessor(st, holder, src, nil, testSettings(), discardLogger(),
		ingest.WithClock(func() time.Time { return clock }))

	p.Poll(context.Background())

	// The stale key's last sample predates the reference retention span,
	// so the same poll's cleanup pass drops it again.
	assert.Equal(t, 0, st.Len())
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.PollInterval = 5 * time.Millisecond
	settings.SampleInterval = 5 * time.Millisecond

	holder := config.NewHolder(config.Default())
	p := ingest.NewProcessor(store.New(holder), holder, &fakeSource{}, &fakePublisher{}, settings, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
