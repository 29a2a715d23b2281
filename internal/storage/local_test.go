package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	root := t.TempDir()
	s, err := NewLocalStorage(filepath.Join(root, "uploads"), filepath.Join(root, "exports"))
	require.NoError(t, err)
	return s
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directories", func(t *testing.T) {
		s := setupTestStorage(t)
		for _, dir := range []string{s.UploadDir(), s.ExportDir()} {
			info, err := os.Stat(dir)
			require.NoError(t, err)
			assert.True(t, info.IsDir())
		}
	})

	t.Run("uses default directories when empty", func(t *testing.T) {
		s, err := NewLocalStorage("", "")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(os.TempDir(), "decupagem", "uploads"), s.UploadDir())
		assert.Equal(t, filepath.Join(os.TempDir(), "decupagem", "exports"), s.ExportDir())
	})
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"entrevista.mp3":         "entrevista.mp3",
		"minha entrevista.wav":   "minha_entrevista.wav",
		"../../etc/passwd":       "passwd",
		`C:\Users\ana\voz.m4a`:   "voz.m4a",
		".hidden.ogg":            "hidden.ogg",
		"çãé!.flac":              "flac",
		"":                       "upload",
		"///":                    "upload",
		"áudio final (2).mp3":    "udio_final_2.mp3",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, SanitizeName(in))
		})
	}
}

func TestLocalStorage_SaveUpload(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	t.Run("stores under unique identifier", func(t *testing.T) {
		id1, err := s.SaveUpload(ctx, "voz.mp3", bytes.NewReader([]byte("abc")))
		require.NoError(t, err)
		id2, err := s.SaveUpload(ctx, "voz.mp3", bytes.NewReader([]byte("def")))
		require.NoError(t, err)

		assert.NotEqual(t, id1, id2)
		assert.True(t, strings.HasSuffix(id1, "_voz.mp3"))

		path, err := s.UploadPath(id1)
		require.NoError(t, err)
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(content))
	})

	t.Run("removes partial file on read error", func(t *testing.T) {
		before, err := os.ReadDir(s.UploadDir())
		require.NoError(t, err)

		_, err = s.SaveUpload(ctx, "broken.wav", failingReader{})
		require.Error(t, err)

		after, err := os.ReadDir(s.UploadDir())
		require.NoError(t, err)
		assert.Len(t, after, len(before))
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.SaveUpload(cctx, "x.wav", bytes.NewReader(nil))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalStorage_UploadPath(t *testing.T) {
	s := setupTestStorage(t)

	for _, name := range []string{"", "../secret", "a/b", ".env"} {
		_, err := s.UploadPath(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}

	_, err := s.UploadPath("missing.wav")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLocalStorage_MasteredPath(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	id, err := s.SaveUpload(ctx, "voz.mp3", bytes.NewReader([]byte("abc")))
	require.NoError(t, err)

	masteredID, path, err := s.MasteredPath(id)
	require.NoError(t, err)
	assert.Equal(t, id+MasteredSuffix, masteredID)
	assert.Equal(t, filepath.Join(s.UploadDir(), masteredID), path)

	// Mastering a mastered copy overwrites the same file rather than stacking suffixes.
	require.NoError(t, os.WriteFile(path, []byte("m"), 0o600))
	again, _, err := s.MasteredPath(masteredID)
	require.NoError(t, err)
	assert.Equal(t, masteredID, again)

	_, _, err = s.MasteredPath("nope.mp3")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLocalStorage_Exports(t *testing.T) {
	s := setupTestStorage(t)

	name, path := s.NewExport(".mp3")
	assert.True(t, strings.HasPrefix(name, "assembly_"))
	assert.True(t, strings.HasSuffix(name, ".mp3"))
	assert.Equal(t, filepath.Join(s.ExportDir(), name), path)

	_, err := s.ExportPath(name)
	assert.ErrorIs(t, err, ErrFileNotFound)

	require.NoError(t, os.WriteFile(path, []byte("id3"), 0o600))
	got, err := s.ExportPath(name)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	other, _ := s.NewExport("mp3")
	assert.NotEqual(t, name, other)
}

func TestLocalStorage_CleanUploads(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.SaveUpload(ctx, "a.wav", bytes.NewReader([]byte("x")))
		require.NoError(t, err)
	}
	require.NoError(t, os.Mkdir(filepath.Join(s.UploadDir(), "keep"), 0o750))

	n, err := s.CleanUploads(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries, err := os.ReadDir(s.UploadDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep", entries[0].Name())
}

func TestLocalStorage_Remove(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	p := filepath.Join(s.ExportDir(), "x")
	require.NoError(t, os.WriteFile(p, nil, 0o600))

	require.NoError(t, s.Remove(ctx, p, "/non/existent/file"))
	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.Remove(cctx, "/some/path"), context.Canceled)
}

func TestLocalStorage_UploadToS3(t *testing.T) {
	_, err := setupTestStorage(t).UploadToS3(context.Background(), "key", "audio/mpeg", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrS3NotConfigured)
}
