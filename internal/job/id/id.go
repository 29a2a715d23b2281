// Package id provides unique identifier generation for jobs and uploads.
package id

import (
	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: job-<uuid v4>
func Generate() string {
	return "job-" + uuid.NewString()
}

// File creates a new unique upload identifier (a bare UUID).
func File() string {
	return uuid.NewString()
}
