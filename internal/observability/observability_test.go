package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/observability"
)

func TestHealthHandler_ReturnsOK(t *testing.T) {
	t.Parallel()

	handler := observability.HealthHandler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string

	err := json.Unmarshal(rec.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestReadyHandler_AllChecksPass(t *testing.T) {
	t.Parallel()

	pass := func(_ context.Context) error { return nil }
	handler := observability.ReadyHandler(pass, pass)

	req := httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyHandler_FailingCheck(t *testing.T) {
	t.Parallel()

	pass := func(_ context.Context) error { return nil }
	fail := func(_ context.Context) error { return errors.New("store not restored") }
	handler := observability.ReadyHandler(pass, fail)

	req := httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string

	err := json.Unmarshal(rec.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "unavailable", body["status"])
}

func TestReadyHandler_NoChecks(t *testing.T) {
	t.Parallel()

	handler := observability.ReadyHandler()

	req := httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPrometheusHandler_ServesScrape(t *testing.T) {
	t.Parallel()

	handler, provider, err := observability.PrometheusHandler()
	require.NoError(t, err)
	require.NotNil(t, provider)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPrometheusHandler_IndependentRegistries(t *testing.T) {
	t.Parallel()

	_, _, err := observability.PrometheusHandler()
	require.NoError(t, err)

	_, _, err = observability.PrometheusHandler()
	require.NoError(t, err)
}

func TestIngestMetrics_ExportedThroughScrape(t *testing.T) {
	t.Parallel()

	handler, provider, err := observability.PrometheusHandler()
	require.NoError(t, err)

	im, err := observability.NewIngestMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()

	im.RecordBatch(ctx, map[string]int64{"duration": 10, "error_rate": 10}, 25*time.Millisecond)
	im.RecordPublish(ctx, 40)
	im.RecordSnapshot(ctx, 100*time.Millisecond)
	im.RecordKeyDelta(ctx, 3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "anomaly_ingest_spans_total")
	assert.Contains(t, string(body), "anomaly_publish_samples_total")
}

func TestIngestMetrics_NilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var im *observability.IngestMetrics

	ctx := context.Background()

	im.RecordBatch(ctx, map[string]int64{"duration": 1}, time.Millisecond)
	im.RecordPublish(ctx, 1)
	im.RecordSnapshot(ctx, time.Millisecond)
	im.RecordKeyDelta(ctx, -1)
}

func TestNewLogger_CarriesServiceAttr(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log := observability.NewLogger(&buf, "jaeger-anomaly-detection", slog.LevelInfo)
	log.Info("ingest batch", "spans", 12)

	var record map[string]any

	err := json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)
	assert.Equal(t, "jaeger-anomaly-detection", record["service"])
	assert.Equal(t, "ingest batch", record["msg"])
	assert.InDelta(t, 12, record["spans"], 0)
}

func TestNewLogger_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log := observability.NewLogger(&buf, "test", slog.LevelWarn)
	log.Info("suppressed")

	assert.Empty(t, buf.Bytes())
}
