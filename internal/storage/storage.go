// Package storage manages the files the service works on: uploads and their
// mastered copies under the upload directory, assembled exports under the
// export directory, and optional delivery of exports to S3.
package storage

import (
	"context"
	"errors"
	"io"
)

// Static errors for storage operations.
var (
	// ErrS3NotConfigured is returned when S3 operations are attempted
	// without proper configuration.
	ErrS3NotConfigured = errors.New("S3 storage is not configured")
	// ErrInvalidName is returned for identifiers that are not plain file names.
	ErrInvalidName = errors.New("storage: invalid file name")
	// ErrFileNotFound is returned when an upload or export does not exist.
	ErrFileNotFound = errors.New("storage: file not found")
)

// Storage is the file layout used by the job service and HTTP handlers.
type Storage interface {
	// SaveUpload stores data under a collision-free identifier derived from
	// name and returns that identifier.
	SaveUpload(ctx context.Context, name string, data io.Reader) (fileID string, err error)

	// UploadPath resolves an existing upload (or mastered copy) to its path.
	UploadPath(fileID string) (string, error)

	// MasteredPath returns where the mastered copy of fileID is written.
	MasteredPath(fileID string) (masteredID, path string, err error)

	// NewExport reserves a unique export name with the given extension.
	NewExport(ext string) (name, path string)

	// ExportPath resolves an existing export to its path.
	ExportPath(name string) (string, error)

	// CleanUploads removes every file in the upload directory.
	CleanUploads(ctx context.Context) (int, error)

	// Remove deletes the given files, ignoring ones that are already gone.
	Remove(ctx context.Context, paths ...string) error

	// UploadToS3 uploads data and returns its URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}
