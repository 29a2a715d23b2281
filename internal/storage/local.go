package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MasteredSuffix is appended to an upload identifier to name its mastered copy.
const MasteredSuffix = ".mastered.wav"

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements Storage on local disk. It does not support S3
// operations unless wrapped with S3Storage.
type LocalStorage struct {
	uploadDir string
	exportDir string
}

// NewLocalStorage creates both directories if they don't exist.
// Empty paths default to directories under os.TempDir().
func NewLocalStorage(uploadDir, exportDir string) (*LocalStorage, error) {
	if uploadDir == "" {
		uploadDir = filepath.Join(os.TempDir(), "decupagem", "uploads")
	}
	if exportDir == "" {
		exportDir = filepath.Join(os.TempDir(), "decupagem", "exports")
	}
	for _, dir := range []string{uploadDir, exportDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return &LocalStorage{uploadDir: uploadDir, exportDir: exportDir}, nil
}

// UploadDir returns the upload directory path.
func (s *LocalStorage) UploadDir() string { return s.uploadDir }

// ExportDir returns the export directory path.
func (s *LocalStorage) ExportDir() string { return s.exportDir }

// SaveUpload writes data to <uuid>_<sanitized name> in the upload directory.
// A partially written file is removed on error.
func (s *LocalStorage) SaveUpload(ctx context.Context, name string, data io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	fileID := uuid.NewString() + "_" + SanitizeName(name)
	path := filepath.Join(s.uploadDir, fileID)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) // #nosec G304 - name is sanitized
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return fileID, nil
}

// UploadPath resolves fileID inside the upload directory.
func (s *LocalStorage) UploadPath(fileID string) (string, error) {
	return existing(s.uploadDir, fileID)
}

// MasteredPath names the mastered copy of fileID. The original upload must exist.
func (s *LocalStorage) MasteredPath(fileID string) (string, string, error) {
	if _, err := s.UploadPath(fileID); err != nil {
		return "", "", err
	}
	masteredID := strings.TrimSuffix(fileID, MasteredSuffix) + MasteredSuffix
	return masteredID, filepath.Join(s.uploadDir, masteredID), nil
}

// NewExport returns assembly_<uuid>.<ext> and its path in the export directory.
func (s *LocalStorage) NewExport(ext string) (string, string) {
	name := "assembly_" + uuid.NewString() + "." + strings.TrimPrefix(ext, ".")
	return name, filepath.Join(s.exportDir, name)
}

// ExportPath resolves name inside the export directory.
func (s *LocalStorage) ExportPath(name string) (string, error) {
	return existing(s.exportDir, name)
}

// CleanUploads removes every regular file in the upload directory.
func (s *LocalStorage) CleanUploads(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return 0, fmt.Errorf("read upload directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			paths = append(paths, filepath.Join(s.uploadDir, e.Name()))
		}
	}
	if err := s.Remove(ctx, paths...); err != nil {
		return 0, err
	}
	return len(paths), nil
}

// Remove deletes the given files. It continues even if some files fail to
// delete, returning the first error encountered.
func (s *LocalStorage) Remove(ctx context.Context, paths ...string) error {
	var firstErr error
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// UploadToS3 is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) UploadToS3(_ context.Context, _, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName reduces a client file name to a safe base name made of
// letters, digits, dot, underscore and dash.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeChars.ReplaceAllString(strings.ReplaceAll(name, " ", "_"), "")
	name = strings.TrimLeft(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}

func existing(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return "", fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return path, nil
}
