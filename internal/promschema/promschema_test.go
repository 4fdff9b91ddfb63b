package promschema_test

import (
	"testing"

	"github.com/prometheus/prometheus/promql/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/promschema"
)

func TestGenerate_GroupPerEnabledMetric(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	doc, err := promschema.Generate(cfg)
	require.NoError(t, err)
	require.Len(t, doc.Groups, len(cfg.Metrics))

	names := make([]string, 0, len(doc.Groups))
	for _, g := range doc.Groups {
		names = append(names, g.Name)
	}

	assert.Equal(t, []string{
		"jaeger-anomaly-detection-busy",
		"jaeger-anomaly-detection-call_rate",
		"jaeger-anomaly-detection-duration",
		"jaeger-anomaly-detection-error_rate",
	}, names)
}

func TestGenerate_SkipsDisabled(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	mc := cfg.Metrics[config.Busy]
	mc.Enabled = false
	cfg.Metrics[config.Busy] = mc

	doc, err := promschema.Generate(cfg)
	require.NoError(t, err)
	require.Len(t, doc.Groups, len(cfg.Metrics)-1)

	for _, g := range doc.Groups {
		assert.NotContains(t, g.Name, "busy")
	}
}

func TestGenerate_RulesParse(t *testing.T) {
	t.Parallel()

	doc, err := promschema.Generate(config.Default())
	require.NoError(t, err)

	for _, g := range doc.Groups {
		require.NotEmpty(t, g.Rules)

		for _, rule := range g.Rules {
			assert.NotEmpty(t, rule.Record)

			_, err := parser.ParseExpr(rule.Expr)
			assert.NoError(t, err, rule.Record)
		}
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	t.Parallel()

	first, err := promschema.Generate(config.Default())
	require.NoError(t, err)

	firstYAML, err := first.Render()
	require.NoError(t, err)

	for range 5 {
		again, err := promschema.Generate(config.Default())
		require.NoError(t, err)

		againYAML, err := again.Render()
		require.NoError(t, err)
		assert.Equal(t, firstYAML, againYAML)
	}
}

func TestRender_RoundTrip(t *testing.T) {
	t.Parallel()

	doc, err := promschema.Generate(config.Default())
	require.NoError(t, err)

	buf, err := doc.Render()
	require.NoError(t, err)

	var decoded promschema.Document

	require.NoError(t, yaml.Unmarshal(buf, &decoded))
	assert.Equal(t, doc.Groups, decoded.Groups)
}

func TestGenerate_GroupInterval(t *testing.T) {
	t.Parallel()

	doc, err := promschema.Generate(config.Default())
	require.NoError(t, err)

	for _, g := range doc.Groups {
		assert.Equal(t, "30s", g.Interval, g.Name)
	}
}
