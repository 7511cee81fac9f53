package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type storedBlob struct {
	info    BlobInfo
	content []byte
}

// MemoryStorage is a thread-safe, in-memory Storage suitable for a
// single-process deployment. Blobs live for the lifetime of the process and
// are evicted explicitly on Delete.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

// NewMemory returns a ready-to-use MemoryStorage.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string]*storedBlob)}
}

var _ Storage = (*MemoryStorage)(nil)

// Put reads the full content into memory and stores it, replacing any
// existing blob for the patient.
func (s *MemoryStorage) Put(_ context.Context, patientID string, r io.Reader, opt PutOptions) (BlobInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("reading content: %w", err)
	}

	info := BlobInfo{
		PatientID:   patientID,
		Size:        int64(len(data)),
		ContentType: opt.ContentType,
		Filename:    opt.Filename,
		UploadedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.blobs[patientID] = &storedBlob{info: info, content: data}
	s.mu.Unlock()

	return info, nil
}

// Get returns a reader over the stored bytes and the blob info.
func (s *MemoryStorage) Get(_ context.Context, patientID string) (io.ReadCloser, BlobInfo, error) {
	s.mu.RLock()
	blob, ok := s.blobs[patientID]
	s.mu.RUnlock()

	if !ok {
		return nil, BlobInfo{}, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(blob.content)), blob.info, nil
}

// Delete evicts the blob for the patient; absent blobs are a no-op.
func (s *MemoryStorage) Delete(_ context.Context, patientID string) error {
	s.mu.Lock()
	delete(s.blobs, patientID)
	s.mu.Unlock()
	return nil
}
