// Package exprs generates PromQL expressions that recompute the streaming
// engine's statistics from raw sample history. The generated expressions
// are the declarative dual of the in-process accumulators: evaluated over a
// window equal to a configured horizon, they must agree numerically with
// what the engine computes from the identical sample sequence. The two
// paths share nothing at runtime; agreement is enforced by tests.
//
// Because the downstream query engine keeps no per-series accumulator
// state between evaluations, running mean and variance are re-derived with
// windowed aggregations (count_over_time, avg_over_time, stdvar_over_time
// — population variance, matching the engine's divisor), and quantiles
// come from a histogram-style bucketed aggregation rather than the
// centroid sketch used internally.
package exprs

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/common/model"
	"github.com/prometheus/prometheus/promql/parser"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
)

// metricPrefix is prepended to graph type names to form the raw sample
// series name.
const metricPrefix = "trace_"

// bucketSuffix names the histogram bucket series of a sample series.
const bucketSuffix = "_bucket"

// Sentinel errors.
var (
	// ErrUnknownGraphType indicates params naming an unknown graph type.
	ErrUnknownGraphType = errors.New("unknown graph type")
	// ErrInvalidDuration indicates a non-positive horizon duration.
	ErrInvalidDuration = errors.New("horizon durations must be positive")
	// ErrInvalidQuantile indicates a quantile outside (0, 1).
	ErrInvalidQuantile = errors.New("quantile must be in (0, 1)")
)

// Params is the request of the generator: metric selection, horizon
// durations, and scoring coefficients. Durations use PromQL syntax.
type Params struct {
	Type      config.GraphType  `json:"type"`
	Service   string            `json:"service,omitempty"`
	Operation string            `json:"operation,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`

	Immediate model.Duration `json:"immediate"`
	Reference model.Duration `json:"reference"`

	Quantile     float64 `json:"q"`
	StdDevFactor float64 `json:"stddev_factor"`

	// Offset overrides the graph type's default score offset when set.
	Offset *float64 `json:"offset,omitempty"`
}

// ApplyDefaults fills zero fields from the active configuration.
func (p *Params) ApplyDefaults(cfg *config.Config) {
	mc, ok := cfg.Metrics[p.Type]

	if p.Immediate == 0 && ok {
		p.Immediate = mc.Immediate.Window
	}

	if p.Reference == 0 && ok {
		p.Reference = mc.Reference.Window
	}

	if p.Quantile == 0 {
		p.Quantile = cfg.Quantile
	}

	if p.StdDevFactor == 0 {
		p.StdDevFactor = cfg.StdDevFactor
	}

	if p.Offset == nil {
		offset := p.Type.DefaultOffset()
		if ok {
			offset = mc.Offset
		}

		p.Offset = &offset
	}
}

// Exprs is the generator's response: one expression per derived statistic
// over the immediate horizon, the combined anomaly score over both
// horizons, and the intermediate recording rules the score expression can
// be decomposed into.
type Exprs struct {
	Count    string `json:"count"`
	Mean     string `json:"mean"`
	Variance string `json:"variance"`
	StdDev   string `json:"stddev"`
	// Quantile is present only for graph types carrying a sketch.
	Quantile string `json:"quantile,omitempty"`
	Score    string `json:"score"`

	Rules []Rule `json:"rules"`
}

// Rule is one recording rule: a name and the expression it records.
type Rule struct {
	Record string `json:"record"`
	Expr   string `json:"expr"`
}

// Generate builds the expression set for the given parameters. Output is
// deterministic: equal parameters produce byte-identical expressions.
// Every generated expression is checked against the PromQL parser before
// being returned.
func Generate(params Params) (*Exprs, error) {
	if !params.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGraphType, params.Type)
	}

	if params.Immediate <= 0 || params.Reference <= 0 {
		return nil, ErrInvalidDuration
	}

	if params.Quantile <= 0 || params.Quantile >= 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuantile, params.Quantile)
	}

	offset := params.Type.DefaultOffset()
	if params.Offset != nil {
		offset = *params.Offset
	}

	sel := selector(params)
	metric := metricPrefix + string(params.Type)

	imm := params.Immediate.String()
	ref := params.Reference.String()

	out := &Exprs{
		Count:    fmt.Sprintf("count_over_time(%s%s[%s])", metric, sel, imm),
		Mean:     fmt.Sprintf("avg_over_time(%s%s[%s])", metric, sel, imm),
		Variance: fmt.Sprintf("stdvar_over_time(%s%s[%s])", metric, sel, imm),
		StdDev:   fmt.Sprintf("stddev_over_time(%s%s[%s])", metric, sel, imm),
	}

	if params.Type.HasSketch() {
		out.Quantile = quantileExpr(metric, sel, imm, params.Quantile)
		out.Score = sketchScore(metric, sel, imm, ref, params.Quantile, offset)
	} else if params.Type == config.CallRate {
		out.Score = rateScore(metric, sel, imm, ref, params.Immediate, params.Reference, offset)
	} else {
		out.Score = meanScore(metric, sel, imm, ref, params.StdDevFactor, offset)
	}

	out.Rules = recordingRules(params, metric, sel, out)

	// The rules cover every generated expression, including the exposed
	// statistic fields.
	for _, rule := range out.Rules {
		_, err := parser.ParseExpr(rule.Expr)
		if err != nil {
			return nil, fmt.Errorf("generated expression %q: %w", rule.Expr, err)
		}
	}

	return out, nil
}

// selector renders the label matcher block in canonical sorted order.
func selector(params Params) string {
	matchers := make(map[string]string, len(params.Labels)+2)

	for name, value := range params.Labels {
		matchers[name] = value
	}

	if params.Service != "" {
		matchers["service_name"] = params.Service
	}

	if params.Operation != "" {
		matchers["operation_name"] = params.Operation
	}

	if len(matchers) == 0 {
		return ""
	}

	names := make([]string, 0, len(matchers))
	for name := range matchers {
		names = append(names, name)
	}

	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%q", matcherName(name), matchers[name]))
	}

	return "{" + strings.Join(parts, ",") + "}"
}

// matcherName quotes label names outside the classic identifier syntax,
// producing UTF-8 matcher blocks like {"service.namespace"="prod"}.
func matcherName(name string) string {
	if model.LabelName(name).IsValidLegacy() {
		return name
	}

	return strconv.Quote(name)
}

// formatFloat renders a coefficient with the shortest exact representation
// so equal parameters always yield byte-identical output.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// quantileExpr derives a quantile from the bucketed histogram series: the
// increase of each cumulative bucket over the window, aggregated by upper
// bound, fed through histogram_quantile.
func quantileExpr(metric, sel, window string, q float64) string {
	return fmt.Sprintf(
		"histogram_quantile(%s,sum by (le) (increase(%s%s%s[%s])))",
		formatFloat(q), metric, bucketSuffix, sel, window,
	)
}

// sketchScore combines the immediate and reference quantiles exactly as
// the scorer combines sketch states: immediate quantile over reference
// quantile plus offset, clamped below at 1.
func sketchScore(metric, sel, imm, ref string, q, offset float64) string {
	return fmt.Sprintf(
		"clamp_min(%s / (%s + %s),1)",
		quantileExpr(metric, sel, imm, q),
		quantileExpr(metric, sel, ref, q),
		formatFloat(offset),
	)
}

// meanScore combines the horizon means as the scorer does for plain
// metrics: immediate mean over reference mean plus StdDevFactor reference
// standard deviations plus offset, clamped below at 1.
func meanScore(metric, sel, imm, ref string, factor, offset float64) string {
	return fmt.Sprintf(
		"clamp_min(avg_over_time(%s%s[%s]) / (avg_over_time(%s%s[%s]) + %s * stddev_over_time(%s%s[%s]) + %s),1)",
		metric, sel, imm,
		metric, sel, ref,
		formatFloat(factor),
		metric, sel, ref,
		formatFloat(offset),
	)
}

// rateScore compares per-minute call rates: the windowed sample count
// normalized by the window length in minutes on each horizon.
func rateScore(metric, sel, imm, ref string, immDur, refDur model.Duration, offset float64) string {
	return fmt.Sprintf(
		"clamp_min((count_over_time(%s%s[%s]) / %s) / (count_over_time(%s%s[%s]) / %s + %s),1)",
		metric, sel, imm, formatFloat(minutes(immDur)),
		metric, sel, ref, formatFloat(minutes(refDur)),
		formatFloat(offset),
	)
}

func minutes(d model.Duration) float64 {
	return float64(d) / float64(model.Duration(60e9))
}

// recordingRules names every intermediate the score expression decomposes
// into, so operators can record them and recreate the score from recorded
// series alone.
func recordingRules(params Params, metric, sel string, exprs *Exprs) []Rule {
	imm := params.Immediate.String()
	ref := params.Reference.String()

	rules := []Rule{
		{Record: ruleName(metric, "count", imm), Expr: exprs.Count},
		{Record: ruleName(metric, "mean", imm), Expr: exprs.Mean},
		{Record: ruleName(metric, "variance", imm), Expr: exprs.Variance},
		{Record: ruleName(metric, "stddev", imm), Expr: exprs.StdDev},
		{Record: ruleName(metric, "mean", ref), Expr: fmt.Sprintf("avg_over_time(%s%s[%s])", metric, sel, ref)},
		{Record: ruleName(metric, "stddev", ref), Expr: fmt.Sprintf("stddev_over_time(%s%s[%s])", metric, sel, ref)},
	}

	if exprs.Quantile != "" {
		rules = append(rules,
			Rule{Record: ruleName(metric, "quantile", imm), Expr: exprs.Quantile},
			Rule{Record: ruleName(metric, "quantile", ref), Expr: quantileExpr(metric, sel, ref, params.Quantile)},
		)
	}

	rules = append(rules, Rule{Record: ruleName(metric, "anomaly_score", imm), Expr: exprs.Score})

	return rules
}

func ruleName(metric, stat, window string) string {
	return fmt.Sprintf("%s:%s:%s", metric, stat, window)
}
