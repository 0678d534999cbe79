// Package main provides the entry point for the QA orchestrator server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/documind/qa-orchestrator/internal/backend"
	"github.com/documind/qa-orchestrator/internal/cluster"
	"github.com/documind/qa-orchestrator/internal/config"
	"github.com/documind/qa-orchestrator/internal/observability"
	httpserver "github.com/documind/qa-orchestrator/internal/server/http"
	"github.com/documind/qa-orchestrator/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("qa-orchestrator server starting")

	// Set up context with graceful shutdown via OS signals. The root
	// context also parents every session, so cancelling it stops all
	// in-flight polls.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("qa_orchestrator")

	// Create the document service client.
	backendClient := backend.NewHTTPClient(backend.Config{
		BaseURL:   cfg.Backend.BaseURL,
		Timeout:   cfg.Backend.RequestTimeout,
		RateLimit: cfg.Backend.RateLimitRPS,
		BurstSize: cfg.Backend.RateLimitBurst,
		APIKey:    cfg.Backend.APIKey,
		UserAgent: cfg.Backend.UserAgent,
	}, metrics)
	logger.Info().Str("base_url", cfg.Backend.BaseURL).Msg("document service client created")

	// Create the session registry. Each session gets its own
	// orchestrator wired to the shared backend client.
	registry := workflow.NewRegistry(workflow.RegistryConfig{
		SessionTTL:      cfg.Session.TTL,
		CleanupInterval: cfg.Session.CleanupInterval,
		Factory: func(sessionID string) *workflow.Orchestrator {
			return workflow.New(ctx, workflow.Config{
				SessionID:       sessionID,
				Backend:         backendClient,
				PollInterval:    cfg.Poller.Interval,
				PollMaxDuration: cfg.Poller.MaxDuration,
				Logger:          logger,
				Metrics:         metrics,
			})
		},
		Logger:  logger,
		Metrics: metrics,
	})

	// Create the clustering monitor.
	monitor := cluster.NewMonitor(ctx, cluster.Config{
		Backend:         backendClient,
		PollInterval:    cfg.Cluster.Interval,
		PollMaxDuration: cfg.Cluster.MaxDuration,
		Logger:          logger,
		Metrics:         metrics,
	})

	// Create the HTTP view API server. Readiness probes the document
	// service so orchestration is only advertised when the backend is
	// reachable.
	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
	}
	httpSrv := httpserver.NewServer(httpCfg, registry, monitor, backendClient.Ping, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	// Start the view API server in background.
	go func() {
		logger.Info().
			Str("address", httpCfg.Address).
			Msg("HTTP view API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Start metrics server if configured.
	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("qa-orchestrator is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down qa-orchestrator")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests first, then tear down what they drive.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	// Close all live sessions and wait for their side effects, then
	// stop observing any clustering run.
	registry.Close()
	monitor.Close()

	logger.Info().Msg("qa-orchestrator shutdown complete")
	return nil
}
