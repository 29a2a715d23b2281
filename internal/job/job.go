// Package job provides the Job aggregate for background audio work:
// transcription, mastering and clip assembly. It includes the state machine
// and repository interfaces for persistence.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/decupagem-api/internal/job/id"
	"github.com/maauso/decupagem-api/internal/mastering"
	"github.com/maauso/decupagem-api/internal/transcribe"
)

// Kind identifies the work a job performs.
type Kind string

const (
	// KindTranscribe runs speech recognition over an upload.
	KindTranscribe Kind = "transcribe"
	// KindMaster runs the radio mastering chain over an upload.
	KindMaster Kind = "master"
	// KindAssemble stitches clips of an upload into an export file.
	KindAssemble Kind = "assemble"
)

// IsValid returns true if the kind is known.
func (k Kind) IsValid() bool {
	return k == KindTranscribe || k == KindMaster || k == KindAssemble
}

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting for a worker slot.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the job is being processed.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job encountered an error during execution.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled before finishing.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates an external process or model call exceeded its deadline.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents one unit of background work over an uploaded file.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Kind is the work performed by the job.
	Kind Kind
	// Status is the current job state.
	Status Status
	// FileID names the upload the job reads.
	FileID string
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains the failure reason if the job failed.
	Error string
	// ErrorCode is the machine-readable failure kind.
	ErrorCode string

	// Transcript is set by completed transcription jobs.
	Transcript *transcribe.Result
	// Mastering is set by completed mastering jobs.
	Mastering *mastering.Report
	// MasteredFileID names the mastered copy written by a mastering job.
	MasteredFileID string
	// ExportName is the file name of a completed assembly under the export directory.
	ExportName string
	// ExportURL is the object storage URL when the export was uploaded.
	ExportURL string

	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job of the given kind with a generated ID and
// initial IN_QUEUE status.
func New(kind Kind, fileID string) *Job {
	return NewWithID(id.Generate(), kind, fileID)
}

// NewWithID creates a new Job with the specified ID.
func NewWithID(jobID string, kind Kind, fileID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Kind:      kind,
		FileID:    fileID,
		Status:    StatusInQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED and sets progress to 100.
func (j *Job) Complete() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Progress = 100
	return nil
}

// Fail transitions the job to FAILED with an error code and message.
func (j *Job) Fail(code, errMsg string) error {
	return j.finishWithError(StatusFailed, code, errMsg)
}

// Timeout transitions the job to TIMED_OUT with an error message.
func (j *Job) Timeout(errMsg string) error {
	return j.finishWithError(StatusTimedOut, "TIMEOUT", errMsg)
}

// Cancel transitions the job to CANCELLED.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

func (j *Job) finishWithError(status Status, code, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(status); err != nil {
		return err
	}
	j.Error = errMsg
	j.ErrorCode = code
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = min(max(progress, 0), 100)
	j.UpdatedAt = time.Now()
}

// SetTranscript records the transcription result.
func (j *Job) SetTranscript(r *transcribe.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Transcript = r
	j.UpdatedAt = time.Now()
}

// SetMastering records the mastering report and the mastered file.
func (j *Job) SetMastering(report mastering.Report, masteredFileID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Mastering = &report
	j.MasteredFileID = masteredFileID
	j.UpdatedAt = time.Now()
}

// SetExport records the export file name and optional object storage URL.
func (j *Job) SetExport(name, url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ExportName = name
	j.ExportURL = url
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(validTransitions[j.Status]) == 0
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	c := &Job{
		ID:             j.ID,
		Kind:           j.Kind,
		Status:         j.Status,
		FileID:         j.FileID,
		Progress:       j.Progress,
		Error:          j.Error,
		ErrorCode:      j.ErrorCode,
		MasteredFileID: j.MasteredFileID,
		ExportName:     j.ExportName,
		ExportURL:      j.ExportURL,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
	if j.Transcript != nil {
		c.Transcript = j.Transcript.Clone()
	}
	if j.Mastering != nil {
		report := *j.Mastering
		report.Stages = append([]mastering.StageResult(nil), j.Mastering.Stages...)
		c.Mastering = &report
	}
	return c
}
