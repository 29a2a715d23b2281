// Package bootstrap provides dependency initialization for the decupagem API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maauso/decupagem-api/internal/codec"
	"github.com/maauso/decupagem-api/internal/config"
	"github.com/maauso/decupagem-api/internal/job"
	"github.com/maauso/decupagem-api/internal/mastering"
	"github.com/maauso/decupagem-api/internal/metrics"
	"github.com/maauso/decupagem-api/internal/storage"
	"github.com/maauso/decupagem-api/internal/transcribe"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service  *job.Service
	Store    storage.Storage
	Gateway  *codec.Gateway
	Registry *prometheus.Registry
}

// NewDependencies creates and initializes all dependencies for the application.
// A missing ffmpeg is not fatal: the gateway reports itself unavailable and
// WAV-only operations keep working.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gateway, err := initGateway(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	engine, err := transcribe.NewHTTPEngine(cfg.WhisperURL,
		transcribe.WithAPIKey(cfg.WhisperAPIKey),
		transcribe.WithWordTimestamps(cfg.WhisperWordTimestamps),
	)
	if err != nil {
		return nil, fmt.Errorf("create whisper engine: %w", err)
	}
	transcriber := transcribe.NewAdapter(engine,
		transcribe.WithPreparer(gateway),
		transcribe.WithTimeout(cfg.TranscribeTimeout),
		transcribe.WithLogger(logger),
	)

	svc := job.NewService(
		job.NewMemoryRepository(),
		store,
		gateway,
		logger,
		job.WithTranscriber(transcriber),
		job.WithMasterer(mastering.New(gateway, logger)),
		job.WithEnhancer(initEnhancer(cfg, logger)),
		job.WithMaxConcurrentJobs(cfg.MaxConcurrentJobs),
	)

	return &Dependencies{
		Service:  svc,
		Store:    store,
		Gateway:  gateway,
		Registry: reg,
	}, nil
}

// initGateway resolves ffmpeg and builds the codec gateway around it.
func initGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*codec.Gateway, error) {
	workDir := filepath.Join(os.TempDir(), "decupagem", "work")
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	locator := &codec.Locator{
		ConfiguredPath: cfg.FFmpegPath,
		ToolsDir:       cfg.ToolsDir,
		DownloadURL:    cfg.FFmpegDownloadURL,
		Logger:         logger,
	}
	ffmpegPath, err := locator.Resolve(ctx)
	if err != nil {
		logger.Warn("ffmpeg not available, only WAV input is supported",
			slog.String("error", err.Error()),
		)
		ffmpegPath = ""
	} else {
		logger.Info("ffmpeg resolved", slog.String("path", ffmpegPath))
	}

	return codec.NewGateway(ffmpegPath,
		codec.WithTimeout(cfg.CodecTimeout),
		codec.WithWorkDir(workDir),
		codec.WithLogger(logger),
	), nil
}

// initEnhancer uses the chat model when configured, falling back to the
// punctuation rules on any failure.
func initEnhancer(cfg *config.Config, logger *slog.Logger) transcribe.Enhancer {
	if !cfg.EnhancerEnabled() {
		return transcribe.RuleEnhancer{}
	}
	logger.Info("chat enhancer configured",
		slog.String("url", cfg.EnhancerURL),
		slog.String("model", cfg.EnhancerModel),
	)
	return &transcribe.FallbackEnhancer{
		Primary:  transcribe.NewChatEnhancer(cfg.EnhancerURL, cfg.EnhancerAPIKey, cfg.EnhancerModel),
		Fallback: transcribe.RuleEnhancer{},
		Logger:   logger,
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	local, err := storage.NewLocalStorage(cfg.UploadDir, cfg.ExportDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}

	if cfg.CleanUploadsOnStart {
		n, err := local.CleanUploads(ctx)
		if err != nil {
			return nil, fmt.Errorf("clean uploads: %w", err)
		}
		logger.Info("upload directory cleaned", slog.Int("removed", n))
	}

	if !cfg.S3Enabled() {
		logger.Info("local storage configured",
			slog.String("upload_dir", local.UploadDir()),
			slog.String("export_dir", local.ExportDir()),
		)
		return local, nil
	}

	s3Store, err := storage.NewS3Storage(ctx, local, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 storage: %w", err)
	}
	logger.Info("S3 storage configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return s3Store, nil
}
