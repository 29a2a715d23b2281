// Package transcribe turns audio files into time-aligned transcripts.
//
// An Engine talks to the speech model. The Adapter probes each model's
// capabilities once, bounds every call with a timeout and normalizes the
// engine's result shapes into Result.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Static errors for transcription.
var (
	// ErrTranscriptionFailed is matched by every engine failure surfaced by the Adapter.
	ErrTranscriptionFailed = errors.New("transcribe: transcription failed")
	// ErrModelNotFound is returned when the engine does not serve the requested model.
	ErrModelNotFound = errors.New("transcribe: model not found")
	// ErrTimeout is returned when a transcription exceeds the configured timeout.
	ErrTimeout = errors.New("transcribe: timed out")
	// ErrInvalidModel is returned for model sizes outside the supported set.
	ErrInvalidModel = errors.New("transcribe: invalid model size")
	// ErrWordRange is returned when a word selection does not fit the transcript.
	ErrWordRange = errors.New("transcribe: invalid word range")
)

// ModelSize names a speech model variant.
type ModelSize string

// Supported model sizes.
const (
	ModelTiny   ModelSize = "tiny"
	ModelBase   ModelSize = "base"
	ModelSmall  ModelSize = "small"
	ModelMedium ModelSize = "medium"
	ModelLarge  ModelSize = "large"
)

// ParseModelSize validates s against the supported sizes.
func ParseModelSize(s string) (ModelSize, error) {
	switch m := ModelSize(strings.ToLower(strings.TrimSpace(s))); m {
	case ModelTiny, ModelBase, ModelSmall, ModelMedium, ModelLarge:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidModel, s)
	}
}

// Capabilities describes what a model can return.
type Capabilities struct {
	WordTimestamps bool `json:"word_timestamps"`
}

// Request is a single engine call.
type Request struct {
	AudioPath      string
	Language       string
	Model          ModelSize
	WordTimestamps bool
}

// RawWord is a word as reported by an engine.
type RawWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// RawSegment is a segment as reported by an engine. Words may be absent.
type RawSegment struct {
	ID    int       `json:"id"`
	Start float64   `json:"start"`
	End   float64   `json:"end"`
	Text  string    `json:"text"`
	Words []RawWord `json:"words,omitempty"`
}

// RawResult is an engine response before normalization. Engines report
// words either nested in segments or as a top-level list, or not at all.
type RawResult struct {
	Text     string       `json:"text"`
	Language string       `json:"language"`
	Duration float64      `json:"duration"`
	Segments []RawSegment `json:"segments"`
	Words    []RawWord    `json:"words,omitempty"`
}

// Engine runs a speech model.
type Engine interface {
	// Probe reports the capabilities of model, or ErrModelNotFound.
	Probe(ctx context.Context, model ModelSize) (Capabilities, error)

	// Transcribe runs the model over the audio file in req.
	Transcribe(ctx context.Context, req Request) (*RawResult, error)
}

// FailedError wraps an engine failure with the request that caused it.
type FailedError struct {
	Model    ModelSize
	Language string
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("transcribe: model %s, language %s: %v", e.Model, e.Language, e.Err)
}

// Unwrap exposes both ErrTranscriptionFailed and the underlying cause.
func (e *FailedError) Unwrap() []error {
	return []error{ErrTranscriptionFailed, e.Err}
}

var languageMap = map[string]string{
	"pt-BR": "pt",
	"en-US": "en",
	"es-ES": "es",
	"fr-FR": "fr",
	"it-IT": "it",
	"de-DE": "de",
}

// LanguageCode maps a locale such as "pt-BR" to the model's language code.
func LanguageCode(locale string) string {
	locale = strings.TrimSpace(locale)
	if code, ok := languageMap[locale]; ok {
		return code
	}
	code, _, _ := strings.Cut(locale, "-")
	return strings.ToLower(code)
}
