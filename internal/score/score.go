// Package score derives the anomaly score from a pair of horizon
// aggregates. The score is a multiplicative factor: values at or below 1
// mean the immediate behavior lies within the reference's normal range;
// values above 1 mean it exceeds that range by the given factor.
package score

import (
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/interval"
)

// Params holds the calibration of the scorer. The exact formula is a
// calibration choice, so every coefficient lives here rather than in code.
type Params struct {
	// StdDevFactor is the number of reference standard deviations above
	// the reference mean that define the normal ceiling for metrics
	// without a sketch.
	StdDevFactor float64

	// Quantile selects the sketch quantile used as representative
	// statistic for duration-type metrics.
	Quantile float64

	// Offset is absolute slack added to the ceiling so near-zero
	// references do not produce huge ratios from noise.
	Offset float64
}

// ParamsFor derives scorer parameters for a graph type from the active
// configuration.
func ParamsFor(cfg *config.Config, t config.GraphType) Params {
	offset := t.DefaultOffset()
	if mc, ok := cfg.Metrics[t]; ok {
		offset = mc.Offset
	}

	return Params{
		StdDevFactor: cfg.StdDevFactor,
		Quantile:     cfg.Quantile,
		Offset:       offset,
	}
}

// Result is the outcome of one evaluation. When Defined is false the
// horizons held insufficient data and Value carries no meaning; a Result
// is never a NaN stand-in.
type Result struct {
	Value   float64 `json:"value"`
	Defined bool    `json:"defined"`

	// Diagnostics for operators; all zero when Defined is false.
	Immediate float64 `json:"immediate"`
	Ceiling   float64 `json:"ceiling"`

	ImmediateCount uint64 `json:"immediate_count"`
	ReferenceCount uint64 `json:"reference_count"`
}

// Evaluate computes the anomaly score for one metric key from its two
// horizon aggregates. It is a pure function over the two states.
//
// The representative immediate value is the sketch quantile at
// Params.Quantile when a sketch is present, the immediate mean otherwise.
// The normal ceiling is the reference sketch quantile (plus offset) when a
// sketch is present, otherwise reference mean + StdDevFactor·stddev +
// offset. The score is the ratio clamped below at 1: holding the
// reference fixed, a larger immediate value never lowers the score.
func Evaluate(imm, ref *interval.State, params Params) Result {
	if imm == nil || ref == nil || imm.Stats.Count == 0 || ref.Stats.Count == 0 {
		return Result{}
	}

	immediate, ok := representative(imm, params.Quantile)
	if !ok {
		return Result{}
	}

	ceiling, ok := normalCeiling(ref, params)
	if !ok {
		return Result{}
	}

	ceiling += params.Offset
	if ceiling <= 0 {
		// A non-positive ceiling can only arise from a zero reference with
		// zero offset; any immediate activity is then beyond normal.
		return Result{
			Value:          rateCap(immediate),
			Defined:        true,
			Immediate:      immediate,
			Ceiling:        ceiling,
			ImmediateCount: imm.Stats.Count,
			ReferenceCount: ref.Stats.Count,
		}
	}

	return Result{
		Value:          max(1, immediate/ceiling),
		Defined:        true,
		Immediate:      immediate,
		Ceiling:        ceiling,
		ImmediateCount: imm.Stats.Count,
		ReferenceCount: ref.Stats.Count,
	}
}

// maxScoreSentinel caps the score when the ceiling degenerates to zero.
const maxScoreSentinel = 100.0

func rateCap(immediate float64) float64 {
	if immediate <= 0 {
		return 1
	}

	return maxScoreSentinel
}

func representative(s *interval.State, q float64) (float64, bool) {
	if s.Sketch != nil {
		return s.Sketch.Quantile(q)
	}

	return s.Stats.MeanValue()
}

func normalCeiling(ref *interval.State, params Params) (float64, bool) {
	if ref.Sketch != nil {
		return ref.Sketch.Quantile(params.Quantile)
	}

	mean, ok := ref.Stats.MeanValue()
	if !ok {
		return 0, false
	}

	stddev, ok := ref.Stats.StdDev()
	if !ok {
		return 0, false
	}

	return mean + params.StdDevFactor*stddev, true
}

// RateValue converts a windowed sample count into a per-minute rate, the
// representative statistic for call-rate metrics.
func RateValue(count uint64, window interval.WindowConfig) float64 {
	minutes := window.Length().Minutes()
	if minutes <= 0 {
		return 0
	}

	return float64(count) / minutes
}

// EvaluateRate scores a call-rate key: the representative statistic on
// both horizons is the windowed count normalized to a per-minute rate
// rather than the per-sample mean.
func EvaluateRate(imm, ref *interval.State, immWindow, refWindow interval.WindowConfig, params Params) Result {
	if imm == nil || ref == nil || imm.Stats.Count == 0 || ref.Stats.Count == 0 {
		return Result{}
	}

	immediate := RateValue(imm.Stats.Count, immWindow)
	ceiling := RateValue(ref.Stats.Count, refWindow) + params.Offset

	if ceiling <= 0 {
		return Result{
			Value:          rateCap(immediate),
			Defined:        true,
			Immediate:      immediate,
			Ceiling:        ceiling,
			ImmediateCount: imm.Stats.Count,
			ReferenceCount: ref.Stats.Count,
		}
	}

	return Result{
		Value:          max(1, immediate/ceiling),
		Defined:        true,
		Immediate:      immediate,
		Ceiling:        ceiling,
		ImmediateCount: imm.Stats.Count,
		ReferenceCount: ref.Stats.Count,
	}
}
