package config

import (
	"errors"
	"fmt"
)

// Sentinel validation errors. Individual violations wrap these with the
// offending field, so callers can match categories with errors.Is.
var (
	// ErrUnknownGraphType indicates a metrics entry for an unknown graph type.
	ErrUnknownGraphType = errors.New("unknown graph type")
	// ErrUnknownLabel indicates a selector label not declared by the schema.
	ErrUnknownLabel = errors.New("label not declared by schema")
	// ErrInvalidWindow indicates a non-positive window or bin width.
	ErrInvalidWindow = errors.New("window and bin width must be positive")
	// ErrWindowOrdering indicates an immediate window longer than the reference window.
	ErrWindowOrdering = errors.New("immediate window must not exceed reference window")
	// ErrBinWidthTooLarge indicates a bin width larger than its window.
	ErrBinWidthTooLarge = errors.New("bin width must not exceed window")
	// ErrRetentionTooShort indicates a retention span shorter than the window.
	ErrRetentionTooShort = errors.New("retention must be at least the window length")
	// ErrInvalidQuantile indicates a quantile target outside (0, 1).
	ErrInvalidQuantile = errors.New("quantile must be in (0, 1)")
	// ErrInvalidStdDevFactor indicates a negative standard deviation factor.
	ErrInvalidStdDevFactor = errors.New("stddev factor must be non-negative")
	// ErrNoMetrics indicates a configuration with no enabled metrics.
	ErrNoMetrics = errors.New("at least one metric must be enabled")
)

// LabelType describes the value type of a schema label.
type LabelType string

// Known schema label types.
const (
	LabelString LabelType = "string"
	LabelNumber LabelType = "number"
	LabelBool   LabelType = "bool"
)

// Schema is the externally supplied metric/label schema a configuration is
// validated against: the set of span tag labels known to the trace source.
type Schema struct {
	Labels map[string]LabelType `json:"labels" mapstructure:"labels"`
}

// HasLabel reports whether the schema declares the label.
func (s Schema) HasLabel(name string) bool {
	_, ok := s.Labels[name]

	return ok
}

// Validate checks the configuration against the schema. It is a pure check
// with no side effects. Every violation found is reported, joined into a
// single error, so a caller can fix the configuration in one round trip.
func Validate(cfg *Config, schema Schema) error {
	var violations []error

	enabled := 0

	for t, mc := range cfg.Metrics {
		if !t.Valid() {
			violations = append(violations, fmt.Errorf("metrics[%s]: %w", t, ErrUnknownGraphType))

			continue
		}

		if !mc.Enabled {
			continue
		}

		enabled++

		violations = append(violations, validateWindows(t, mc)...)
	}

	if enabled == 0 {
		violations = append(violations, ErrNoMetrics)
	}

	for i, sel := range cfg.Selectors {
		for name := range sel.Labels {
			if !schema.HasLabel(name) {
				violations = append(violations, fmt.Errorf("selectors[%d].labels[%s]: %w", i, name, ErrUnknownLabel))
			}
		}
	}

	if cfg.Quantile <= 0 || cfg.Quantile >= 1 {
		violations = append(violations, fmt.Errorf("q=%v: %w", cfg.Quantile, ErrInvalidQuantile))
	}

	if cfg.StdDevFactor < 0 {
		violations = append(violations, fmt.Errorf("stddev_factor=%v: %w", cfg.StdDevFactor, ErrInvalidStdDevFactor))
	}

	return errors.Join(violations...)
}

func validateWindows(t GraphType, mc MetricConfig) []error {
	var violations []error

	for _, horizon := range []struct {
		name string
		spec WindowSpec
	}{
		{name: "immediate", spec: mc.Immediate},
		{name: "reference", spec: mc.Reference},
	} {
		if horizon.spec.Window <= 0 || horizon.spec.BinWidth <= 0 {
			violations = append(violations, fmt.Errorf("metrics[%s].%s: %w", t, horizon.name, ErrInvalidWindow))

			continue
		}

		if horizon.spec.BinWidth > horizon.spec.Window {
			violations = append(violations, fmt.Errorf("metrics[%s].%s: %w", t, horizon.name, ErrBinWidthTooLarge))
		}
	}

	if mc.Immediate.Window > 0 && mc.Reference.Window > 0 && mc.Immediate.Window > mc.Reference.Window {
		violations = append(violations, fmt.Errorf("metrics[%s]: %w", t, ErrWindowOrdering))
	}

	if mc.Reference.Retention > 0 && mc.Reference.Retention < mc.Reference.Window {
		violations = append(violations, fmt.Errorf("metrics[%s].reference: %w", t, ErrRetentionTooShort))
	}

	return violations
}
