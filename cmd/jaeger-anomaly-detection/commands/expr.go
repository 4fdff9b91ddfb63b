package commands

import (
	"encoding/json"
	"fmt"

	"github.com/prometheus/common/model"
	"github.com/spf13/cobra"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/exprs"
)

// NewExprCommand creates the expr subcommand: generate the declarative
// expression set for a metric without running the daemon.
func NewExprCommand() *cobra.Command {
	var (
		graphType    string
		service      string
		operation    string
		immediate    string
		reference    string
		quantile     float64
		stdDevFactor float64
	)

	cmd := &cobra.Command{
		Use:   "expr",
		Short: "Generate PromQL expressions for a metric",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := exprs.Params{
				Type:         config.GraphType(graphType),
				Service:      service,
				Operation:    operation,
				Quantile:     quantile,
				StdDevFactor: stdDevFactor,
			}

			if immediate != "" {
				d, err := model.ParseDuration(immediate)
				if err != nil {
					return fmt.Errorf("parse immediate window: %w", err)
				}

				params.Immediate = d
			}

			if reference != "" {
				d, err := model.ParseDuration(reference)
				if err != nil {
					return fmt.Errorf("parse reference window: %w", err)
				}

				params.Reference = d
			}

			params.ApplyDefaults(config.Default())

			out, err := exprs.Generate(params)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&graphType, "type", "t", "duration", "graph type (duration, busy, call_rate, error_rate)")
	cmd.Flags().StringVarP(&service, "service", "s", "", "service name matcher")
	cmd.Flags().StringVarP(&operation, "operation", "o", "", "operation name matcher")
	cmd.Flags().StringVar(&immediate, "immediate", "", "immediate window (PromQL duration, default from config)")
	cmd.Flags().StringVar(&reference, "reference", "", "reference window (PromQL duration, default from config)")
	cmd.Flags().Float64Var(&quantile, "q", 0, "target quantile (default from config)")
	cmd.Flags().Float64Var(&stdDevFactor, "stddev-factor", 0, "stddev factor (default from config)")

	return cmd
}
