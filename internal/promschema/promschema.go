// Package promschema renders the engine's recording rules as a Prometheus
// rule-group document. The document is derived from the active
// configuration: one group per enabled graph type, holding the recording
// rules of the generated expression set, so an external Prometheus can
// precompute every statistic the engine derives in-process.
package promschema

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/exprs"
)

// groupPrefix namespaces the generated groups in a shared rules file.
const groupPrefix = "jaeger-anomaly-detection"

// Document is a Prometheus rules file: a list of rule groups.
type Document struct {
	Groups []Group `yaml:"groups"`
}

// Group is one rule group. Interval is the evaluation interval in PromQL
// duration syntax; empty means the Prometheus default.
type Group struct {
	Name     string `yaml:"name"`
	Interval string `yaml:"interval,omitempty"`
	Rules    []Rule `yaml:"rules"`
}

// Rule is one recording rule entry.
type Rule struct {
	Record string `yaml:"record"`
	Expr   string `yaml:"expr"`
}

// Generate builds the rule document for the given configuration. Disabled
// metrics contribute no group. Output order follows the graph type name,
// so equal configurations yield byte-identical documents.
func Generate(cfg *config.Config) (*Document, error) {
	types := make([]config.GraphType, 0, len(cfg.Metrics))

	for gt, mc := range cfg.Metrics {
		if mc.Enabled {
			types = append(types, gt)
		}
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	doc := &Document{}

	for _, gt := range types {
		mc := cfg.Metrics[gt]

		params := exprs.Params{
			Type:         gt,
			Immediate:    mc.Immediate.Window,
			Reference:    mc.Reference.Window,
			Quantile:     cfg.Quantile,
			StdDevFactor: cfg.StdDevFactor,
			Offset:       &mc.Offset,
		}

		out, err := exprs.Generate(params)
		if err != nil {
			return nil, fmt.Errorf("rules for %s: %w", gt, err)
		}

		group := Group{
			Name:     fmt.Sprintf("%s-%s", groupPrefix, gt),
			Interval: mc.Immediate.BinWidth.String(),
		}

		for _, rule := range out.Rules {
			group.Rules = append(group.Rules, Rule{Record: rule.Record, Expr: rule.Expr})
		}

		doc.Groups = append(doc.Groups, group)
	}

	return doc, nil
}

// Render marshals the document to YAML.
func (d *Document) Render() ([]byte, error) {
	buf, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal rules document: %w", err)
	}

	return buf, nil
}
