// Package main provides the entry point for the jaeger-anomaly-detection
// daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ContinuousC/JaegerAnomalyDetection/cmd/jaeger-anomaly-detection/commands"
	"github.com/ContinuousC/JaegerAnomalyDetection/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jaeger-anomaly-detection",
		Short: "Anomaly detection over distributed tracing spans",
		Long: `jaeger-anomaly-detection turns a stream of tracing spans into
per-service/operation anomaly scores, maintained online and exposed over
HTTP together with their declarative PromQL duals.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewExprCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "jaeger-anomaly-detection %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
