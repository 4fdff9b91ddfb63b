// Package observability wires the process's operational surface: the
// Prometheus scrape endpoint backed by an OTel meter provider, health and
// readiness handlers, and the OTel instruments the ingest loop records
// into.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricSpansTotal       = "anomaly.ingest.spans.total"
	metricBatchDuration    = "anomaly.ingest.batch.duration.seconds"
	metricSamplesTotal     = "anomaly.publish.samples.total"
	metricSnapshotDuration = "anomaly.snapshot.duration.seconds"
	metricTrackedKeys      = "anomaly.store.keys"

	attrGraphType = "graph_type"
)

// durationBucketBoundaries covers 1ms to 60s: span batches are usually
// sub-second, snapshots of a large store can take tens of seconds.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// IngestMetrics holds the OTel instruments of the ingest loop. All record
// methods are safe to call on a nil receiver.
type IngestMetrics struct {
	spansTotal       metric.Int64Counter
	batchDuration    metric.Float64Histogram
	samplesTotal     metric.Int64Counter
	snapshotDuration metric.Float64Histogram
	trackedKeys      metric.Int64UpDownCounter
}

// NewIngestMetrics creates the ingest instruments from the given meter.
func NewIngestMetrics(mt metric.Meter) (*IngestMetrics, error) {
	b := newMetricBuilder(mt)

	im := &IngestMetrics{
		spansTotal:       b.counter(metricSpansTotal, "Total spans folded into the state store", "{span}"),
		batchDuration:    b.histogram(metricBatchDuration, "Per-poll ingest batch duration in seconds", "s", durationBucketBoundaries...),
		samplesTotal:     b.counter(metricSamplesTotal, "Total derived samples published", "{sample}"),
		snapshotDuration: b.histogram(metricSnapshotDuration, "State snapshot capture duration in seconds", "s", durationBucketBoundaries...),
		trackedKeys:      b.upDownCounter(metricTrackedKeys, "Net change in tracked metric keys", "{key}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return im, nil
}

// RecordBatch records one completed ingest poll: spans folded per graph
// type and the wall time the batch took.
func (im *IngestMetrics) RecordBatch(ctx context.Context, spansByType map[string]int64, elapsed time.Duration) {
	if im == nil {
		return
	}

	for graphType, count := range spansByType {
		im.spansTotal.Add(ctx, count, metric.WithAttributes(attribute.String(attrGraphType, graphType)))
	}

	im.batchDuration.Record(ctx, elapsed.Seconds())
}

// RecordPublish records one remote-write publication.
func (im *IngestMetrics) RecordPublish(ctx context.Context, samples int64) {
	if im == nil {
		return
	}

	im.samplesTotal.Add(ctx, samples)
}

// RecordSnapshot records one state snapshot capture.
func (im *IngestMetrics) RecordSnapshot(ctx context.Context, elapsed time.Duration) {
	if im == nil {
		return
	}

	im.snapshotDuration.Record(ctx, elapsed.Seconds())
}

// RecordKeyDelta records a net change in tracked keys, negative on cleanup.
func (im *IngestMetrics) RecordKeyDelta(ctx context.Context, delta int64) {
	if im == nil {
		return
	}

	im.trackedKeys.Add(ctx, delta)
}
