package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Static errors for the Whisper HTTP engine.
var (
	// ErrBaseURLRequired is returned when the engine is built without a server URL.
	ErrBaseURLRequired = errors.New("whisper: base URL is required")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("whisper: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("whisper: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("whisper: request failed")
)

// HTTPEngine is an Engine backed by an OpenAI-compatible Whisper server
// (faster-whisper-server, LocalAI, whisper.cpp server).
type HTTPEngine struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	maxRetries     int
	baseBackoff    time.Duration
	wordTimestamps bool

	mu       sync.Mutex
	modelIDs map[ModelSize]string
}

// Compile-time check that HTTPEngine implements Engine.
var _ Engine = (*HTTPEngine)(nil)

// EngineOption is a function that configures an HTTPEngine.
type EngineOption func(*HTTPEngine)

// WithAPIKey sets the bearer token sent to the server.
func WithAPIKey(key string) EngineOption {
	return func(e *HTTPEngine) {
		e.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) EngineOption {
	return func(e *HTTPEngine) {
		e.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) EngineOption {
	return func(e *HTTPEngine) {
		e.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) EngineOption {
	return func(e *HTTPEngine) {
		e.baseBackoff = d
	}
}

// WithWordTimestamps sets the capability assumed when the server's model
// listing does not say whether word timestamps are supported.
func WithWordTimestamps(enabled bool) EngineOption {
	return func(e *HTTPEngine) {
		e.wordTimestamps = enabled
	}
}

// NewHTTPEngine creates a Whisper HTTP engine for the server at baseURL.
func NewHTTPEngine(baseURL string, opts ...EngineOption) (*HTTPEngine, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	e := &HTTPEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Transcriptions are bounded by the adapter timeout through ctx.
		httpClient:     &http.Client{},
		maxRetries:     3,
		baseBackoff:    1 * time.Second,
		wordTimestamps: true,
		modelIDs:       make(map[ModelSize]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type modelList struct {
	Data []struct {
		ID             string `json:"id"`
		WordTimestamps *bool  `json:"word_timestamps,omitempty"`
	} `json:"data"`
}

// Probe lists the server's models and reports whether model is served.
func (e *HTTPEngine) Probe(ctx context.Context, model ModelSize) (Capabilities, error) {
	var list modelList
	err := e.doRequestWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/v1/models", nil)
	}, &list)
	if err != nil {
		return Capabilities{}, err
	}

	for _, m := range list.Data {
		if !matchesModel(m.ID, model) {
			continue
		}
		e.mu.Lock()
		e.modelIDs[model] = m.ID
		e.mu.Unlock()

		caps := Capabilities{WordTimestamps: e.wordTimestamps}
		if m.WordTimestamps != nil {
			caps.WordTimestamps = *m.WordTimestamps
		}
		return caps, nil
	}
	return Capabilities{}, fmt.Errorf("%w: %s", ErrModelNotFound, model)
}

// Transcribe uploads the audio file and returns the verbose JSON result.
func (e *HTTPEngine) Transcribe(ctx context.Context, req Request) (*RawResult, error) {
	if _, err := os.Stat(req.AudioPath); err != nil {
		return nil, fmt.Errorf("whisper: audio file: %w", err)
	}

	e.mu.Lock()
	modelID, ok := e.modelIDs[req.Model]
	e.mu.Unlock()
	if !ok {
		modelID = string(req.Model)
	}

	fields := [][2]string{
		{"model", modelID},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
	}
	if req.Language != "" {
		fields = append(fields, [2]string{"language", req.Language})
	}
	if req.WordTimestamps {
		fields = append(fields, [2]string{"timestamp_granularities[]", "word"})
	}

	var raw RawResult
	err := e.doRequestWithRetry(ctx, func() (*http.Request, error) {
		body, contentType := multipartBody(req.AudioPath, fields)
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/audio/transcriptions", body)
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", contentType)
		return r, nil
	}, &raw)
	if err != nil {
		return nil, err
	}
	return &raw, nil
}

// multipartBody streams the audio file and form fields through a pipe so
// large uploads are never buffered in memory.
func multipartBody(path string, fields [][2]string) (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			for _, f := range fields {
				if err := mw.WriteField(f[0], f[1]); err != nil {
					return err
				}
			}
			file, err := os.Open(path) // #nosec G304 - path is produced by the codec gateway
			if err != nil {
				return err
			}
			defer func() { _ = file.Close() }()

			part, err := mw.CreateFormFile("file", filepath.Base(path))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, file); err != nil {
				return err
			}
			return mw.Close()
		}()
		_ = pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

// matchesModel reports whether a served model id names the given size,
// e.g. "small", "whisper-small", "Systran/faster-whisper-large-v3".
func matchesModel(id string, model ModelSize) bool {
	tokens := strings.FieldsFunc(strings.ToLower(id), func(r rune) bool {
		return r == '/' || r == '-' || r == '_' || r == '.' || r == ':'
	})
	for _, t := range tokens {
		if t == string(model) {
			return true
		}
	}
	return false
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
// newRequest is called for every attempt so request bodies can be replayed.
func (e *HTTPEngine) doRequestWithRetry(ctx context.Context, newRequest func() (*http.Request, error), result interface{}) error {
	var lastErr error
	backoff := e.baseBackoff

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("whisper: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}

		err := e.doRequest(ctx, newRequest, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) || ctx.Err() != nil {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("whisper: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (e *HTTPEngine) doRequest(ctx context.Context, newRequest func() (*http.Request, error), result interface{}) error {
	req, err := newRequest()
	if err != nil {
		return fmt.Errorf("whisper: create request: %w", err)
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("whisper: request failed: %w", ctx.Err())
		}
		return &retryableError{err: fmt.Errorf("whisper: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("whisper: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		switch {
		case resp.StatusCode >= 500:
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, msg)}
		case resp.StatusCode == http.StatusTooManyRequests:
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, msg)}
		case resp.StatusCode == http.StatusNotFound && strings.Contains(strings.ToLower(msg), "model"):
			return fmt.Errorf("%w: %s", ErrModelNotFound, msg)
		default:
			return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, msg)
		}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("whisper: unmarshal response: %w", err)
		}
	}

	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
