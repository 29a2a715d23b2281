package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds a single transcription.
const DefaultTimeout = 30 * time.Minute

// Preparer converts an upload into the input layout the engine expects.
// The returned cleanup removes any temporary file and is always called.
type Preparer interface {
	ConvertForSpeech(ctx context.Context, src string) (path string, cleanup func(), err error)
}

// Adapter invokes an Engine and normalizes its results.
// It never retries; callers decide whether to try a smaller model.
type Adapter struct {
	engine   Engine
	preparer Preparer
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	caps map[ModelSize]Capabilities
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithPreparer sets the audio converter run before each engine call.
func WithPreparer(p Preparer) AdapterOption {
	return func(a *Adapter) {
		a.preparer = p
	}
}

// WithTimeout bounds each transcription.
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdapter creates an Adapter over engine.
func NewAdapter(engine Engine, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		engine:  engine,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		caps:    make(map[ModelSize]Capabilities),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Transcribe runs the model over the audio file at path.
// Engine failures are returned as *FailedError; a timeout also matches ErrTimeout.
func (a *Adapter) Transcribe(ctx context.Context, path, locale string, model ModelSize) (*Result, error) {
	if _, err := ParseModelSize(string(model)); err != nil {
		return nil, err
	}
	language := LanguageCode(locale)
	fail := func(err error) error {
		return &FailedError{Model: model, Language: language, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	caps, err := a.capabilities(ctx, model)
	if err != nil {
		return nil, fail(a.timeoutCause(ctx, err))
	}

	audioPath := path
	if a.preparer != nil {
		p, cleanup, err := a.preparer.ConvertForSpeech(ctx, path)
		if err != nil {
			return nil, fail(a.timeoutCause(ctx, err))
		}
		defer cleanup()
		audioPath = p
	}

	start := time.Now()
	raw, err := a.engine.Transcribe(ctx, Request{
		AudioPath:      audioPath,
		Language:       language,
		Model:          model,
		WordTimestamps: caps.WordTimestamps,
	})
	if err != nil {
		return nil, fail(a.timeoutCause(ctx, err))
	}

	result := normalize(raw, caps)
	result.Language = language
	result.Model = model

	a.logger.Info("transcription complete",
		slog.String("model", string(model)),
		slog.String("language", language),
		slog.Int("segments", len(result.Segments)),
		slog.Bool("word_timestamps", result.WordTimestamps),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// capabilities probes model once and caches successful answers.
func (a *Adapter) capabilities(ctx context.Context, model ModelSize) (Capabilities, error) {
	a.mu.Lock()
	caps, ok := a.caps[model]
	a.mu.Unlock()
	if ok {
		return caps, nil
	}

	caps, err := a.engine.Probe(ctx, model)
	if err != nil {
		return Capabilities{}, fmt.Errorf("probe %s: %w", model, err)
	}

	a.mu.Lock()
	a.caps[model] = caps
	a.mu.Unlock()
	a.logger.Debug("model capabilities",
		slog.String("model", string(model)),
		slog.Bool("word_timestamps", caps.WordTimestamps),
	)
	return caps, nil
}

// timeoutCause tags err with ErrTimeout when the adapter deadline expired.
func (a *Adapter) timeoutCause(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, a.timeout, err)
	}
	return err
}

// normalize converts an engine response into the canonical schema.
func normalize(raw *RawResult, caps Capabilities) *Result {
	r := &Result{Segments: make([]Segment, 0, len(raw.Segments))}

	for i, s := range raw.Segments {
		seg := Segment{
			ID:    s.ID,
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		}
		if seg.ID == 0 && i > 0 {
			seg.ID = i
		}
		seg.Words = convertWords(s.Words)
		r.Segments = append(r.Segments, seg)
	}

	text := strings.TrimSpace(raw.Text)
	if len(r.Segments) == 0 && text != "" {
		r.Segments = append(r.Segments, Segment{ID: 0, Start: 0, End: raw.Duration, Text: text})
	}

	if caps.WordTimestamps && len(raw.Words) > 0 && !hasNestedWords(r.Segments) {
		assignWords(r.Segments, convertWords(raw.Words))
	}

	if text == "" {
		parts := make([]string, 0, len(r.Segments))
		for _, s := range r.Segments {
			if s.Text != "" {
				parts = append(parts, s.Text)
			}
		}
		text = strings.Join(parts, " ")
	}
	r.FullText = text
	r.WordTimestamps = hasNestedWords(r.Segments)
	return r
}

func convertWords(in []RawWord) []Word {
	if len(in) == 0 {
		return nil
	}
	out := make([]Word, 0, len(in))
	for _, w := range in {
		text := strings.TrimSpace(w.Word)
		if text == "" {
			continue
		}
		out = append(out, Word{Word: text, Start: w.Start, End: w.End})
	}
	return out
}

func hasNestedWords(segs []Segment) bool {
	for _, s := range segs {
		if len(s.Words) > 0 {
			return true
		}
	}
	return false
}

// assignWords places top-level words into the segment containing their
// midpoint. Words between segments go to the preceding one.
func assignWords(segs []Segment, words []Word) {
	if len(segs) == 0 {
		return
	}
	sort.SliceStable(words, func(i, j int) bool { return words[i].Start < words[j].Start })
	for _, w := range words {
		mid := (w.Start + w.End) / 2
		idx := sort.Search(len(segs), func(i int) bool { return segs[i].Start > mid }) - 1
		if idx < 0 {
			idx = 0
		}
		segs[idx].Words = append(segs[idx].Words, w)
	}
}
