package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	mux.HandleFunc("POST /api/upload", h.Upload)
	mux.HandleFunc("POST /api/phrases", h.DetectPhrases)

	mux.HandleFunc("POST /api/jobs/transcribe", h.CreateTranscribeJob)
	mux.HandleFunc("POST /api/jobs/master", h.CreateMasterJob)
	mux.HandleFunc("POST /api/jobs/assemble", h.CreateAssembleJob)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /api/jobs/{id}/transcript.txt", h.DownloadTranscript)
	mux.HandleFunc("POST /api/jobs/{id}/word-range", h.WordRange)

	mux.HandleFunc("GET /api/exports/{name}", h.DownloadExport)

	// Apply middleware chain
	chain := ChainMiddleware(
		RequestIDMiddleware(),
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
