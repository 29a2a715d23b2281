package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/decupagem-api/internal/audio"
	"github.com/maauso/decupagem-api/internal/codec"
	"github.com/maauso/decupagem-api/internal/job"
	"github.com/maauso/decupagem-api/internal/storage"
	"github.com/maauso/decupagem-api/internal/transcribe"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// CodecStatus reports whether the external codec is usable.
type CodecStatus interface {
	Available() bool
	FFmpegPath() string
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        *job.Service
	store          storage.Storage
	codec          CodecStatus
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
	language       string
	model          transcribe.ModelSize
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithCodecStatus sets the codec reported by the health check.
func WithCodecStatus(c CodecStatus) HandlerOption {
	return func(h *Handlers) {
		h.codec = c
	}
}

// WithMaxUploadBytes sets the upload size cap.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithTranscriptionDefaults sets the language and model used when a request omits them.
func WithTranscriptionDefaults(language string, model transcribe.ModelSize) HandlerOption {
	return func(h *Handlers) {
		h.language = language
		h.model = model
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, store storage.Storage, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		store:          store,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: 100 << 20,
		language:       "pt-BR",
		model:          transcribe.ModelSmall,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Codec: "unavailable"}
	if h.codec != nil && h.codec.Available() {
		resp.Codec = "available"
		resp.FFmpegPath = h.codec.FFmpegPath()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Upload handles POST /api/upload requests (multipart field "file").
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	// Allow room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage(), "FILE_TOO_LARGE")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body", "INVALID_MULTIPART")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required", "MISSING_FILE")
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > h.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage(), "FILE_TOO_LARGE")
		return
	}
	format, err := codec.FormatOf(header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type, allowed: %s", allowedExtensions()), "UNSUPPORTED_FORMAT")
		return
	}

	fileID, err := h.store.SaveUpload(r.Context(), header.Filename, file)
	if err != nil {
		h.logger.Error("failed to save upload",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to save upload", "UPLOAD_FAILED")
		return
	}

	h.logger.Info("file uploaded",
		slog.String("file_id", fileID),
		slog.String("format", string(format)),
		slog.Int64("size", header.Size),
	)
	writeJSON(w, http.StatusCreated, UploadResponse{
		FileID:   fileID,
		Filename: header.Filename,
		Format:   string(format),
		Size:     header.Size,
	})
}

// DetectPhrases handles POST /api/phrases requests.
func (h *Handlers) DetectPhrases(w http.ResponseWriter, r *http.Request) {
	var req PhrasesRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg := audio.DefaultSilenceConfig()
	if req.MinSilenceLenMs != nil {
		cfg.MinSilenceLenMs = *req.MinSilenceLenMs
	}
	if req.SilenceThresholdDBFS != nil {
		cfg.SilenceThresholdDBFS = *req.SilenceThresholdDBFS
	}
	if req.KeepSilenceMs != nil {
		cfg.KeepSilenceMs = *req.KeepSilenceMs
	}

	phrases, err := h.service.DetectPhrases(r.Context(), req.FileID, cfg)
	if err != nil {
		h.writeServiceError(w, "detect phrases", err)
		return
	}
	if phrases == nil {
		phrases = []audio.Interval{}
	}
	writeJSON(w, http.StatusOK, PhrasesResponse{FileID: req.FileID, Phrases: phrases})
}

// CreateTranscribeJob handles POST /api/jobs/transcribe requests.
func (h *Handlers) CreateTranscribeJob(w http.ResponseWriter, r *http.Request) {
	var req TranscribeRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := job.TranscribeInput{
		FileID:   req.FileID,
		Language: req.Language,
		Model:    transcribe.ModelSize(req.Model),
		Enhance:  req.Enhance,
	}
	if in.Language == "" {
		in.Language = h.language
	}
	if in.Model == "" {
		in.Model = h.model
	}

	created, err := h.service.SubmitTranscribe(r.Context(), in)
	h.writeCreated(w, created, err)
}

// CreateMasterJob handles POST /api/jobs/master requests.
func (h *Handlers) CreateMasterJob(w http.ResponseWriter, r *http.Request) {
	var req MasterRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.service.SubmitMaster(r.Context(), req.FileID)
	h.writeCreated(w, created, err)
}

// CreateAssembleJob handles POST /api/jobs/assemble requests.
func (h *Handlers) CreateAssembleJob(w http.ResponseWriter, r *http.Request) {
	var req AssembleRequest
	if !h.decode(w, r, &req) {
		return
	}

	clips := make([]audio.Clip, len(req.Clips))
	for i, c := range req.Clips {
		clips[i] = audio.Clip{StartMs: c.StartMs, EndMs: c.EndMs, Label: c.Label}
	}

	created, err := h.service.SubmitAssemble(r.Context(), job.AssembleInput{
		FileID:      req.FileID,
		UseMastered: req.UseMastered,
		Clips:       clips,
		Format:      codec.Format(req.Format),
		PushToS3:    req.PushToS3,
	})
	h.writeCreated(w, created, err)
}

// ListJobs handles GET /api/jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.writeServiceError(w, "list jobs", err)
		return
	}
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /api/jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// DownloadTranscript handles GET /api/jobs/{id}/transcript.txt requests.
func (h *Handlers) DownloadTranscript(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findTranscript(w, r)
	if !ok {
		return
	}

	name := strings.TrimSuffix(found.FileID, filepath.Ext(found.FileID)) + "_decupagem.txt"
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(found.Transcript.PlainText()))
}

// WordRange handles POST /api/jobs/{id}/word-range requests.
func (h *Handlers) WordRange(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findTranscript(w, r)
	if !ok {
		return
	}
	var req WordRangeRequest
	if !h.decode(w, r, &req) {
		return
	}

	start, end, err := found.Transcript.WordRange(req.First, req.Last)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_WORD_RANGE")
		return
	}
	words := found.Transcript.Words()[req.First : req.Last+1]
	text := make([]string, len(words))
	for i, wd := range words {
		text[i] = wd.Word
	}
	writeJSON(w, http.StatusOK, WordRangeResponse{
		StartMs: start * 1000,
		EndMs:   end * 1000,
		Text:    strings.Join(text, " "),
	})
}

// DownloadExport handles GET /api/exports/{name} requests.
func (h *Handlers) DownloadExport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	path, err := h.store.ExportPath(name)
	if err != nil {
		h.writeServiceError(w, "find export", err)
		return
	}

	f, err := os.Open(path) // #nosec G304 - path is resolved inside the export directory
	if err != nil {
		h.writeServiceError(w, "open export", err)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		h.writeServiceError(w, "stat export", err)
		return
	}

	if format, err := codec.FormatOf(name); err == nil {
		w.Header().Set("Content-Type", format.MIMEType())
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (h *Handlers) findJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return nil, false
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return nil, false
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return nil, false
	}
	return found, true
}

// findTranscript loads a job and requires a finished transcript.
func (h *Handlers) findTranscript(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	found, ok := h.findJob(w, r)
	if !ok {
		return nil, false
	}
	if found.Kind != job.KindTranscribe {
		writeError(w, http.StatusBadRequest, "job is not a transcription", "NOT_A_TRANSCRIPTION")
		return nil, false
	}
	if found.Status != job.StatusCompleted || found.Transcript == nil {
		writeError(w, http.StatusConflict, "transcription is not finished", "JOB_NOT_READY")
		return nil, false
	}
	return found, true
}

// decode parses and validates a JSON body, writing the error response on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

func (h *Handlers) writeCreated(w http.ResponseWriter, created *job.Job, err error) {
	if err != nil {
		h.writeServiceError(w, "create job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     created.ID,
		Kind:   string(created.Kind),
		Status: string(created.Status),
	})
}

// writeServiceError maps domain errors to status codes. Client mistakes are
// logged at Warn, everything else at Error.
func (h *Handlers) writeServiceError(w http.ResponseWriter, op string, err error) {
	code := job.ErrorCode(err)
	status := statusFor(code)

	attrs := []any{slog.String("op", op), slog.String("code", code), slog.String("error", err.Error())}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", attrs...)
	} else {
		h.logger.Warn("request rejected", attrs...)
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg, code)
}

func statusFor(code string) int {
	switch code {
	case "FILE_NOT_FOUND":
		return http.StatusNotFound
	case "INVALID_FILE_ID", "UNSUPPORTED_FORMAT", "INVALID_MODEL", "NO_CLIPS", "INVALID_RANGE":
		return http.StatusBadRequest
	case "DECODE_ERROR":
		return http.StatusUnprocessableEntity
	case "CODEC_UNAVAILABLE", "NOT_CONFIGURED", "MODEL_NOT_FOUND", "S3_NOT_CONFIGURED":
		return http.StatusServiceUnavailable
	case "TIMEOUT":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) tooLargeMessage() string {
	return fmt.Sprintf("file exceeds the %d MB limit", h.maxUploadBytes>>20)
}

func allowedExtensions() string {
	formats := codec.SupportedFormats()
	exts := make([]string, len(formats))
	for i, f := range formats {
		exts[i] = "." + string(f)
	}
	return strings.Join(exts, ", ")
}

func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:             j.ID,
		Kind:           string(j.Kind),
		Status:         string(j.Status),
		FileID:         j.FileID,
		Progress:       j.Progress,
		Error:          j.Error,
		ErrorCode:      j.ErrorCode,
		Transcript:     j.Transcript,
		Mastering:      j.Mastering,
		MasteredFileID: j.MasteredFileID,
		ExportName:     j.ExportName,
		ExportURL:      j.ExportURL,
		CreatedAt:      j.CreatedAt,
	}
	if resp.ExportURL == "" && j.ExportName != "" {
		resp.ExportURL = "/api/exports/" + j.ExportName
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
