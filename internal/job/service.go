package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maauso/decupagem-api/internal/audio"
	"github.com/maauso/decupagem-api/internal/codec"
	"github.com/maauso/decupagem-api/internal/mastering"
	"github.com/maauso/decupagem-api/internal/metrics"
	"github.com/maauso/decupagem-api/internal/storage"
	"github.com/maauso/decupagem-api/internal/transcribe"
)

// Static errors for the job service.
var (
	// ErrTranscriberNotConfigured is returned when transcription is requested without an engine.
	ErrTranscriberNotConfigured = errors.New("job: transcription is not configured")
	// ErrMastererNotConfigured is returned when mastering is requested without a pipeline.
	ErrMastererNotConfigured = errors.New("job: mastering is not configured")
)

// Codec decodes uploads and encodes results.
type Codec interface {
	Decode(ctx context.Context, path string) (*audio.Buffer, error)
	Encode(ctx context.Context, b *audio.Buffer, format codec.Format, dst string) error
}

// Masterer runs the mastering chain.
type Masterer interface {
	Master(ctx context.Context, in *audio.Buffer) (*audio.Buffer, mastering.Report, error)
}

// Transcriber turns an audio file into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, path, locale string, model transcribe.ModelSize) (*transcribe.Result, error)
}

// TranscribeInput holds the parameters of a transcription job.
type TranscribeInput struct {
	FileID   string
	Language string
	Model    transcribe.ModelSize
	// Enhance runs the text enhancer over the full text.
	Enhance bool
}

// AssembleInput holds the parameters of an assembly job.
type AssembleInput struct {
	FileID string
	// UseMastered reads the mastered copy instead of the original upload.
	UseMastered bool
	Clips       []audio.Clip
	Format      codec.Format
	PushToS3    bool
}

// Service creates jobs and runs them in the background, at most
// maxConcurrent at a time.
type Service struct {
	repo        Repository
	store       storage.Storage
	codec       Codec
	masterer    Masterer
	transcriber Transcriber
	enhancer    transcribe.Enhancer
	logger      *slog.Logger

	maxConcurrent int64
	sem           *semaphore.Weighted
	wg            sync.WaitGroup
}

// ServiceOption is a function that configures a Service.
type ServiceOption func(*Service)

// WithMasterer sets the mastering pipeline.
func WithMasterer(m Masterer) ServiceOption {
	return func(s *Service) {
		s.masterer = m
	}
}

// WithTranscriber sets the transcription adapter.
func WithTranscriber(t Transcriber) ServiceOption {
	return func(s *Service) {
		s.transcriber = t
	}
}

// WithEnhancer sets the text enhancer used when a transcription asks for it.
func WithEnhancer(e transcribe.Enhancer) ServiceOption {
	return func(s *Service) {
		s.enhancer = e
	}
}

// WithMaxConcurrentJobs bounds how many jobs run at once. Values below 1 are ignored.
func WithMaxConcurrentJobs(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrent = int64(n)
		}
	}
}

// NewService creates a job service.
func NewService(repo Repository, store storage.Storage, c Codec, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:          repo,
		store:         store,
		codec:         c,
		logger:        logger,
		maxConcurrent: 2,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sem = semaphore.NewWeighted(s.maxConcurrent)
	return s
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.FindByID(ctx, jobID)
}

// ListJobs returns all known jobs, newest first.
func (s *Service) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// PruneFinished drops terminal jobs that completed more than age ago.
func (s *Service) PruneFinished(ctx context.Context, age time.Duration) (int, error) {
	return s.repo.DeleteFinishedBefore(ctx, time.Now().Add(-age))
}

// DetectPhrases decodes an upload and returns its phrase intervals.
func (s *Service) DetectPhrases(ctx context.Context, fileID string, cfg audio.SilenceConfig) ([]audio.Interval, error) {
	path, err := s.store.UploadPath(fileID)
	if err != nil {
		return nil, err
	}
	buf, err := s.codec.Decode(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("decode upload: %w", err)
	}
	return audio.DetectPhrases(buf, cfg), nil
}

// SubmitTranscribe validates the request and starts a transcription job.
func (s *Service) SubmitTranscribe(ctx context.Context, in TranscribeInput) (*Job, error) {
	if s.transcriber == nil {
		return nil, ErrTranscriberNotConfigured
	}
	if _, err := transcribe.ParseModelSize(string(in.Model)); err != nil {
		return nil, err
	}
	path, err := s.store.UploadPath(in.FileID)
	if err != nil {
		return nil, err
	}
	if _, err := codec.FormatOf(path); err != nil {
		return nil, err
	}

	return s.submit(ctx, New(KindTranscribe, in.FileID), func(ctx context.Context, j *Job) error {
		return s.transcribe(ctx, j, path, in)
	})
}

// SubmitMaster validates the request and starts a mastering job.
func (s *Service) SubmitMaster(ctx context.Context, fileID string) (*Job, error) {
	if s.masterer == nil {
		return nil, ErrMastererNotConfigured
	}
	path, err := s.store.UploadPath(fileID)
	if err != nil {
		return nil, err
	}
	if _, err := codec.FormatOf(path); err != nil {
		return nil, err
	}

	return s.submit(ctx, New(KindMaster, fileID), func(ctx context.Context, j *Job) error {
		return s.master(ctx, j, path)
	})
}

// SubmitAssemble validates the request and starts an assembly job.
// An empty clip list is rejected before any job is created.
func (s *Service) SubmitAssemble(ctx context.Context, in AssembleInput) (*Job, error) {
	if len(in.Clips) == 0 {
		return nil, audio.ErrNoClips
	}
	if in.Format == "" {
		in.Format = codec.FormatMP3
	}
	if _, err := codec.ParseFormat(string(in.Format)); err != nil {
		return nil, err
	}

	srcID := in.FileID
	if in.UseMastered {
		masteredID, _, err := s.store.MasteredPath(in.FileID)
		if err != nil {
			return nil, err
		}
		srcID = masteredID
	}
	path, err := s.store.UploadPath(srcID)
	if err != nil {
		return nil, err
	}

	clips := append([]audio.Clip(nil), in.Clips...)
	return s.submit(ctx, New(KindAssemble, in.FileID), func(ctx context.Context, j *Job) error {
		return s.assemble(ctx, j, path, clips, in)
	})
}

// Wait blocks until every submitted job has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit saves the job and runs fn in a goroutine detached from the
// request's cancellation.
func (s *Service) submit(ctx context.Context, j *Job, fn func(context.Context, *Job) error) (*Job, error) {
	if err := s.repo.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	s.logger.Info("job created",
		slog.String("job_id", j.ID),
		slog.String("kind", string(j.Kind)),
		slog.String("file_id", j.FileID),
	)

	s.wg.Add(1)
	go func(ctx context.Context) {
		defer s.wg.Done()
		if err := s.sem.Acquire(ctx, 1); err != nil {
			_ = j.Cancel()
			s.save(ctx, j)
			return
		}
		defer s.sem.Release(1)
		s.run(ctx, j, fn)
	}(context.WithoutCancel(ctx))

	return j.Clone(), nil
}

func (s *Service) run(ctx context.Context, j *Job, fn func(context.Context, *Job) error) {
	start := time.Now()
	if err := j.Start(); err != nil {
		s.logger.Error("failed to start job", slog.String("job_id", j.ID), slog.String("error", err.Error()))
		return
	}
	s.save(ctx, j)
	metrics.JobStarted()
	defer metrics.JobFinished()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		err = fn(ctx, j)
	}()
	s.finish(ctx, j, start, err)
}

func (s *Service) finish(ctx context.Context, j *Job, start time.Time, err error) {
	var terr error
	switch {
	case err == nil:
		terr = j.Complete()
	case isTimeout(err):
		terr = j.Timeout(err.Error())
	default:
		terr = j.Fail(ErrorCode(err), err.Error())
	}
	if terr != nil {
		s.logger.Error("invalid job transition",
			slog.String("job_id", j.ID),
			slog.String("status", string(j.GetStatus())),
			slog.String("error", terr.Error()),
		)
	}
	s.save(ctx, j)

	elapsed := time.Since(start)
	status := j.GetStatus()
	metrics.RecordJob(string(j.Kind), string(status), elapsed.Seconds())

	attrs := []any{
		slog.String("job_id", j.ID),
		slog.String("kind", string(j.Kind)),
		slog.String("status", string(status)),
		slog.Duration("duration", elapsed),
	}
	if err != nil {
		s.logger.Error("job failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	s.logger.Info("job completed", attrs...)
}

func (s *Service) save(ctx context.Context, j *Job) {
	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Error("failed to save job", slog.String("job_id", j.ID), slog.String("error", err.Error()))
	}
}

func (s *Service) progress(ctx context.Context, j *Job, p int) {
	j.UpdateProgress(p)
	s.save(ctx, j)
}

func (s *Service) transcribe(ctx context.Context, j *Job, path string, in TranscribeInput) error {
	s.progress(ctx, j, 10)

	res, err := s.transcriber.Transcribe(ctx, path, in.Language, in.Model)
	if err != nil {
		return err
	}
	s.progress(ctx, j, 80)

	if in.Enhance && s.enhancer != nil {
		enhanced, err := transcribe.Enhance(ctx, s.enhancer, res)
		if err != nil {
			s.logger.Warn("text enhancement failed, keeping raw transcript",
				slog.String("job_id", j.ID),
				slog.String("error", err.Error()),
			)
		} else {
			res = enhanced
		}
	}

	j.SetTranscript(res)
	return nil
}

func (s *Service) master(ctx context.Context, j *Job, path string) error {
	buf, err := s.codec.Decode(ctx, path)
	if err != nil {
		return err
	}
	s.progress(ctx, j, 30)

	out, report, err := s.masterer.Master(ctx, buf)
	if err != nil {
		return err
	}
	s.progress(ctx, j, 70)

	masteredID, dst, err := s.store.MasteredPath(j.FileID)
	if err != nil {
		return err
	}
	// Readers of an earlier mastered copy keep a complete file until the rename.
	part := dst + "." + j.ID + ".part"
	if err := s.codec.Encode(ctx, out, codec.FormatWAV, part); err != nil {
		_ = s.store.Remove(context.WithoutCancel(ctx), part)
		return err
	}
	if err := os.Rename(part, dst); err != nil {
		_ = s.store.Remove(context.WithoutCancel(ctx), part)
		return fmt.Errorf("publish mastered file: %w", err)
	}

	j.SetMastering(report, masteredID)
	return nil
}

func (s *Service) assemble(ctx context.Context, j *Job, path string, clips []audio.Clip, in AssembleInput) error {
	buf, err := s.codec.Decode(ctx, path)
	if err != nil {
		return err
	}
	s.progress(ctx, j, 30)

	out, err := audio.Assemble(buf, clips)
	if err != nil {
		return err
	}
	s.progress(ctx, j, 50)

	name, dst := s.store.NewExport(string(in.Format))
	if err := s.codec.Encode(ctx, out, in.Format, dst); err != nil {
		_ = s.store.Remove(context.WithoutCancel(ctx), dst)
		return err
	}
	s.progress(ctx, j, 80)

	var url string
	if in.PushToS3 {
		url, err = s.pushExport(ctx, name, dst, in.Format)
		if err != nil {
			return err
		}
	}

	j.SetExport(name, url)
	return nil
}

func (s *Service) pushExport(ctx context.Context, name, path string, format codec.Format) (string, error) {
	f, err := os.Open(path) // #nosec G304 - path is produced by storage
	if err != nil {
		return "", fmt.Errorf("open export: %w", err)
	}
	defer func() { _ = f.Close() }()

	url, err := s.store.UploadToS3(ctx, "exports/"+name, format.MIMEType(), f)
	if err != nil {
		return "", err
	}
	return url, nil
}

func isTimeout(err error) bool {
	return errors.Is(err, codec.ErrTimeout) ||
		errors.Is(err, transcribe.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ErrorCode maps an error to the machine-readable code reported to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case isTimeout(err):
		return "TIMEOUT"
	case errors.Is(err, transcribe.ErrModelNotFound):
		return "MODEL_NOT_FOUND"
	case errors.Is(err, transcribe.ErrInvalidModel):
		return "INVALID_MODEL"
	case errors.Is(err, codec.ErrUnsupportedFormat):
		return "UNSUPPORTED_FORMAT"
	case errors.Is(err, codec.ErrUnavailable):
		return "CODEC_UNAVAILABLE"
	case errors.Is(err, codec.ErrDecode):
		return "DECODE_ERROR"
	case errors.Is(err, codec.ErrEncode):
		return "ENCODE_ERROR"
	case errors.Is(err, audio.ErrInvalidRange):
		return "INVALID_RANGE"
	case errors.Is(err, audio.ErrNoClips):
		return "NO_CLIPS"
	case errors.Is(err, transcribe.ErrTranscriptionFailed):
		return "TRANSCRIPTION_FAILED"
	case errors.Is(err, storage.ErrInvalidName):
		return "INVALID_FILE_ID"
	case errors.Is(err, storage.ErrFileNotFound):
		return "FILE_NOT_FOUND"
	case errors.Is(err, storage.ErrS3NotConfigured):
		return "S3_NOT_CONFIGURED"
	case errors.Is(err, ErrTranscriberNotConfigured), errors.Is(err, ErrMastererNotConfigured):
		return "NOT_CONFIGURED"
	case errors.Is(err, context.Canceled):
		return "CANCELLED"
	default:
		return "INTERNAL_ERROR"
	}
}
