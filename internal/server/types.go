// Package server provides the HTTP API of the transcription and mastering
// service. It includes handlers, middleware, routes, and DTOs separated from
// domain types.
package server

import (
	"time"

	"github.com/maauso/decupagem-api/internal/audio"
	"github.com/maauso/decupagem-api/internal/mastering"
	"github.com/maauso/decupagem-api/internal/transcribe"
)

// UploadResponse is returned after a file upload.
type UploadResponse struct {
	// FileID identifies the stored upload in later requests.
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Format   string `json:"format"`
	Size     int64  `json:"size"`
}

// PhrasesRequest asks for silence-based phrase detection. Omitted fields use
// the detector defaults.
type PhrasesRequest struct {
	FileID               string   `json:"file_id" validate:"required"`
	MinSilenceLenMs      *int     `json:"min_silence_len_ms" validate:"omitempty,min=1,max=60000"`
	SilenceThresholdDBFS *float64 `json:"silence_threshold_dbfs" validate:"omitempty,min=-120,max=0"`
	KeepSilenceMs        *int     `json:"keep_silence_ms" validate:"omitempty,min=0,max=10000"`
}

// PhrasesResponse lists the detected phrases.
type PhrasesResponse struct {
	FileID  string           `json:"file_id"`
	Phrases []audio.Interval `json:"phrases"`
}

// TranscribeRequest is the body of POST /api/jobs/transcribe.
type TranscribeRequest struct {
	FileID string `json:"file_id" validate:"required"`
	// Language is a locale such as pt-BR; defaults to the server setting.
	Language string `json:"language" validate:"omitempty,max=16"`
	// Model is the speech model size; defaults to the server setting.
	Model   string `json:"model" validate:"omitempty,oneof=tiny base small medium large"`
	Enhance bool   `json:"enhance"`
}

// MasterRequest is the body of POST /api/jobs/master.
type MasterRequest struct {
	FileID string `json:"file_id" validate:"required"`
}

// ClipRequest is one clip of an assembly. Out-of-range bounds are clamped.
type ClipRequest struct {
	StartMs float64 `json:"start_ms"`
	EndMs   float64 `json:"end_ms"`
	Label   string  `json:"label,omitempty" validate:"max=200"`
}

// AssembleRequest is the body of POST /api/jobs/assemble.
type AssembleRequest struct {
	FileID      string        `json:"file_id" validate:"required"`
	UseMastered bool          `json:"use_mastered"`
	Clips       []ClipRequest `json:"clips" validate:"max=500,dive"`
	// Format is the delivery container; defaults to mp3.
	Format   string `json:"format" validate:"omitempty,oneof=mp3 wav flac aac ogg m4a"`
	PushToS3 bool   `json:"push_to_s3"`
}

// WordRangeRequest selects words by index in a finished transcript.
type WordRangeRequest struct {
	First int `json:"first" validate:"min=0"`
	Last  int `json:"last" validate:"gtefield=First"`
}

// WordRangeResponse is the clip covering the selected words.
type WordRangeResponse struct {
	StartMs float64 `json:"start_ms"`
	EndMs   float64 `json:"end_ms"`
	Text    string  `json:"text"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	FileID   string `json:"file_id"`
	Progress int    `json:"progress"`
	// Error and ErrorCode are set when the job failed or timed out.
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	Transcript     *transcribe.Result `json:"transcript,omitempty"`
	Mastering      *mastering.Report  `json:"mastering,omitempty"`
	MasteredFileID string             `json:"mastered_file_id,omitempty"`
	// ExportURL is the S3 URL, or the download path when S3 is not used.
	ExportName string `json:"export_name,omitempty"`
	ExportURL  string `json:"export_url,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobListResponse wraps a list of jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status     string `json:"status"`
	Codec      string `json:"codec"`
	FFmpegPath string `json:"ffmpeg_path,omitempty"`
}
