// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// ErrWhisperURLRequired is returned when WHISPER_URL is not set.
var ErrWhisperURLRequired = errors.New("config: WHISPER_URL is required")

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	MaxUploadMB    int64    `env:"MAX_UPLOAD_MB, default=100" json:"max_upload_mb"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// File layout
	UploadDir           string `env:"UPLOAD_DIR, default=uploads" json:"upload_dir"`
	ExportDir           string `env:"EXPORT_DIR, default=/tmp/decupagem/exports" json:"export_dir"`
	CleanUploadsOnStart bool   `env:"CLEAN_UPLOADS_ON_START, default=true" json:"clean_uploads_on_start"`

	// Codec settings
	ToolsDir          string        `env:"TOOLS_DIR, default=tools" json:"tools_dir"`
	FFmpegPath        string        `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	FFmpegDownloadURL string        `env:"FFMPEG_DOWNLOAD_URL" json:"ffmpeg_download_url,omitempty"`
	CodecTimeout      time.Duration `env:"CODEC_TIMEOUT, default=2m" json:"codec_timeout"`

	// Speech model settings
	WhisperURL            string        `env:"WHISPER_URL, required" json:"whisper_url"`
	WhisperAPIKey         string        `env:"WHISPER_API_KEY" json:"-"` // Masked in JSON
	WhisperWordTimestamps bool          `env:"WHISPER_WORD_TIMESTAMPS, default=true" json:"whisper_word_timestamps"`
	TranscribeTimeout     time.Duration `env:"TRANSCRIBE_TIMEOUT, default=30m" json:"transcribe_timeout"`
	DefaultLanguage       string        `env:"DEFAULT_LANGUAGE, default=pt-BR" json:"default_language"`
	DefaultModel          string        `env:"DEFAULT_MODEL, default=small" json:"default_model"`

	// Optional LLM text enhancer
	EnhancerURL    string `env:"ENHANCER_URL" json:"enhancer_url,omitempty"`
	EnhancerAPIKey string `env:"ENHANCER_API_KEY" json:"-"` // Masked in JSON
	EnhancerModel  string `env:"ENHANCER_MODEL" json:"enhancer_model,omitempty"`

	// Processing settings
	MaxConcurrentJobs int           `env:"MAX_CONCURRENT_JOBS, default=2" json:"max_concurrent_jobs"`
	JobRetention      time.Duration `env:"JOB_RETENTION, default=24h" json:"job_retention"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// EnhancerEnabled returns true if an LLM enhancer endpoint is configured.
func (c *Config) EnhancerEnabled() bool {
	return c.EnhancerURL != ""
}

// MaxUploadBytes returns the upload size cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	return LoadFrom(context.Background(), envconfig.OsLookuper())
}

// LoadFrom reads configuration through the given lookuper.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: cfg, Lookuper: l}); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "WHISPER_URL") {
			return nil, ErrWhisperURLRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
func (c *Config) Validate() error {
	if c.WhisperURL == "" {
		return ErrWhisperURLRequired
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("config: MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("config: MAX_CONCURRENT_JOBS must be positive, got %d", c.MaxConcurrentJobs)
	}
	if c.CodecTimeout <= 0 || c.TranscribeTimeout <= 0 {
		return errors.New("config: CODEC_TIMEOUT and TRANSCRIBE_TIMEOUT must be positive")
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, UploadDir: %s, ExportDir: %s, ToolsDir: %s, FFmpegPath: %s, WhisperURL: %s, WhisperAPIKey: %s, "+
			"DefaultModel: %s, EnhancerURL: %s, EnhancerAPIKey: %s, MaxConcurrentJobs: %d, S3Bucket: %s, S3Region: %s, "+
			"AWSSecretAccessKey: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.UploadDir,
		c.ExportDir,
		c.ToolsDir,
		c.FFmpegPath,
		c.WhisperURL,
		mask(c.WhisperAPIKey),
		c.DefaultModel,
		c.EnhancerURL,
		mask(c.EnhancerAPIKey),
		c.MaxConcurrentJobs,
		c.S3Bucket,
		c.S3Region,
		mask(c.AWSSecretAccessKey),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
