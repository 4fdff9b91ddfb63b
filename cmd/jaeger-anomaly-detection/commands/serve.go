// Package commands implements the CLI subcommands of the daemon.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/ingest"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/observability"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/server"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/store"
)

// serviceName labels every log record and metric scope.
const serviceName = "jaeger-anomaly-detection"

// shutdownGrace bounds how long in-flight requests may finish on shutdown.
const shutdownGrace = 10 * time.Second

// NewServeCommand creates the serve subcommand: the long-running daemon.
func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the anomaly detection daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.LoadSettings(configPath)
			if err != nil {
				return err
			}

			return serve(cmd.Context(), *settings)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "settings file path")

	return cmd
}

func serve(parent context.Context, settings config.Settings) error {
	log := observability.NewLogger(os.Stderr, serviceName, slog.LevelInfo)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, provider, err := observability.PrometheusHandler()
	if err != nil {
		return err
	}

	ingestMetrics, err := observability.NewIngestMetrics(provider.Meter(serviceName))
	if err != nil {
		return err
	}

	holder := config.NewHolder(config.Default())
	st := store.New(holder)

	var source ingest.Source
	if settings.Source.URL != "" {
		source = ingest.NewHTTPSource(settings.Source)
	}

	var publisher ingest.Publisher
	if settings.RemoteWrite.URL != "" {
		publisher = ingest.NewHTTPPublisher(settings.RemoteWrite)
	}

	processor := ingest.NewProcessor(st, holder, source, publisher, settings, log,
		ingest.WithMetrics(ingestMetrics))

	// A corrupt snapshot aborts startup; a missing one is a cold start.
	err = processor.Restore()
	if err != nil {
		return err
	}

	srv := server.New(holder, st, settings.Schema, log,
		server.WithMetricsHandler(metricsHandler))

	httpServer := &http.Server{
		Addr:              settings.Bind,
		Handler:           server.MountPrefix(settings.Prefix, srv.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	workers := 1

	go func() {
		serveErr := httpServer.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", serveErr)

			return
		}

		errCh <- nil
	}()

	if source != nil {
		workers++

		go func() {
			runErr := processor.Run(ctx)
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				errCh <- fmt.Errorf("ingest loop: %w", runErr)

				return
			}

			errCh <- nil
		}()
	} else {
		log.Info("no trace source configured, ingest loop disabled")
	}

	log.InfoContext(ctx, "daemon started", "bind", settings.Bind)

	var firstErr error

	select {
	case <-ctx.Done():
	case firstErr = <-errCh:
		workers--

		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()

	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Error("http shutdown failed", "err", shutdownErr)
	}

	// Drain the remaining worker results.
	for range workers {
		if drained := <-errCh; firstErr == nil {
			firstErr = drained
		}
	}

	log.Info("daemon stopped")

	return firstErr
}
