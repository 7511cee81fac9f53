package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Package storage holds the scan blob store: raw uploaded scan bytes keyed by
// patient id. Exactly one blob exists per patient at a time; Put replaces.
// Implementations must be safe for concurrent use.

// ErrBlobNotFound is returned by Get for a patient with no stored scan.
// Delete is idempotent and never returns it.
var ErrBlobNotFound = errors.New("scan blob not found")

// PutOptions carries upload metadata for a scan blob.
// Size should be the exact number of bytes if known; if unknown, set to -1 and
// the implementation will buffer/chunk as supported by the backend.
type PutOptions struct {
	Size        int64
	ContentType string
	// Filename is the original upload filename, kept for download headers.
	Filename string
}

// BlobInfo describes a stored scan blob.
type BlobInfo struct {
	PatientID   string
	Size        int64
	ContentType string
	Filename    string
	UploadedAt  time.Time
}

// Storage is the blob store contract consumed by the orchestration service.
type Storage interface {
	// Put stores or replaces the scan blob for the given patient.
	Put(ctx context.Context, patientID string, r io.Reader, opt PutOptions) (BlobInfo, error)
	// Get retrieves the blob content as a streaming reader alongside its info.
	// Returns ErrBlobNotFound if the patient has no stored scan.
	Get(ctx context.Context, patientID string) (io.ReadCloser, BlobInfo, error)
	// Delete removes the blob for the patient. Deleting an absent blob is a no-op.
	Delete(ctx context.Context, patientID string) error
}
