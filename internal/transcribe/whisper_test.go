package transcribe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "speech.wav")
	require.NoError(t, os.WriteFile(p, []byte("RIFF....WAVE"), 0o600))
	return p
}

func TestNewHTTPEngine_RequiresURL(t *testing.T) {
	_, err := NewHTTPEngine("")
	assert.ErrorIs(t, err, ErrBaseURLRequired)
}

func TestMatchesModel(t *testing.T) {
	assert.True(t, matchesModel("small", ModelSmall))
	assert.True(t, matchesModel("whisper-small", ModelSmall))
	assert.True(t, matchesModel("Systran/faster-whisper-large-v3", ModelLarge))
	assert.True(t, matchesModel("ggml-base.en", ModelBase))
	assert.False(t, matchesModel("whisper-smaller", ModelSmall))
	assert.False(t, matchesModel("tiny", ModelSmall))
}

func TestHTTPEngine_Probe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"data":[
			{"id":"Systran/faster-whisper-small"},
			{"id":"whisper-tiny","word_timestamps":false}
		]}`)
	}))
	defer srv.Close()

	e, err := NewHTTPEngine(srv.URL, WithAPIKey("secret"), WithWordTimestamps(true))
	require.NoError(t, err)

	caps, err := e.Probe(context.Background(), ModelSmall)
	require.NoError(t, err)
	assert.True(t, caps.WordTimestamps)

	caps, err = e.Probe(context.Background(), ModelTiny)
	require.NoError(t, err)
	assert.False(t, caps.WordTimestamps)

	_, err = e.Probe(context.Background(), ModelMedium)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestHTTPEngine_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			_, _ = io.WriteString(w, `{"data":[{"id":"whisper-small"}]}`)
		case "/v1/audio/transcriptions":
			if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
				return
			}
			assert.Equal(t, "whisper-small", r.FormValue("model"))
			assert.Equal(t, "pt", r.FormValue("language"))
			assert.Equal(t, "verbose_json", r.FormValue("response_format"))
			assert.Equal(t, []string{"segment", "word"}, r.MultipartForm.Value["timestamp_granularities[]"])

			f, hdr, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				return
			}
			defer func() { _ = f.Close() }()
			assert.Equal(t, "speech.wav", hdr.Filename)

			_ = json.NewEncoder(w).Encode(RawResult{
				Text:     "olá",
				Language: "portuguese",
				Segments: []RawSegment{{ID: 0, Start: 0, End: 0.8, Text: "olá"}},
				Words:    []RawWord{{Word: "olá", Start: 0.1, End: 0.7}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e, err := NewHTTPEngine(srv.URL)
	require.NoError(t, err)
	_, err = e.Probe(context.Background(), ModelSmall)
	require.NoError(t, err)

	raw, err := e.Transcribe(context.Background(), Request{
		AudioPath:      writeAudio(t),
		Language:       "pt",
		Model:          ModelSmall,
		WordTimestamps: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "olá", raw.Text)
	require.Len(t, raw.Words, 1)
}

func TestHTTPEngine_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"text":"ok","segments":[]}`)
	}))
	defer srv.Close()

	e, err := NewHTTPEngine(srv.URL, WithMaxRetries(3), WithBaseBackoff(time.Millisecond))
	require.NoError(t, err)

	raw, err := e.Transcribe(context.Background(), Request{AudioPath: writeAudio(t), Model: ModelSmall})
	require.NoError(t, err)
	assert.Equal(t, "ok", raw.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPEngine_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"bad audio"}`)
	}))
	defer srv.Close()

	e, err := NewHTTPEngine(srv.URL, WithBaseBackoff(time.Millisecond))
	require.NoError(t, err)

	_, err = e.Transcribe(context.Background(), Request{AudioPath: writeAudio(t), Model: ModelSmall})
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPEngine_MaxRetriesExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e, err := NewHTTPEngine(srv.URL, WithMaxRetries(2), WithBaseBackoff(time.Millisecond))
	require.NoError(t, err)

	_, err = e.Probe(context.Background(), ModelSmall)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestHTTPEngine_MissingAudio(t *testing.T) {
	e, err := NewHTTPEngine("http://127.0.0.1:0")
	require.NoError(t, err)

	_, err = e.Transcribe(context.Background(), Request{AudioPath: filepath.Join(t.TempDir(), "nope.wav")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
