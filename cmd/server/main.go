// Package main provides the entry point for the decupagem API server.
package main

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

	"github.com/maauso/decupagem-api/internal/bootstrap"
	"github.com/maauso/decupagem-api/internal/config"
	"github.com/maauso/decupagem-api/internal/job"
	"github.com/maauso/decupagem-api/internal/metrics"
	"github.com/maauso/decupagem-api/internal/server"
	"github.com/maauso/decupagem-api/internal/transcribe"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting decupagem API", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	model, err := transcribe.ParseModelSize(cfg.DefaultModel)
	if err != nil {
		return fmt.Errorf("default model: %w", err)
	}

	handlers := server.NewHandlers(deps.Service, deps.Store, logger,
		server.WithCodecStatus(deps.Gateway),
		server.WithMaxUploadBytes(cfg.MaxUploadBytes()),
		server.WithTranscriptionDefaults(cfg.DefaultLanguage, model),
	)
	router := server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        metrics.Handler(deps.Registry),
	})

	// Uploads can be large and exports are streamed, so only headers are bounded.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go pruneJobs(ctx, deps.Service, cfg.JobRetention, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := deps.Service.Wait(shutdownCtx); err != nil {
		logger.Warn("jobs still running at shutdown", slog.String("error", err.Error()))
	}

	logger.Info("server stopped gracefully")
	return nil
}

// pruneJobs drops finished jobs older than retention until ctx is done.
func pruneJobs(ctx context.Context, svc *job.Service, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(max(retention/4, time.Minute))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PruneFinished(ctx, retention)
			if err != nil {
				logger.Warn("job pruning failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.Info("pruned finished jobs", slog.Int("count", n))
			}
		}
	}
}
