package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
)

// Ensure BlobStore implements the interface.
var _ driven.BlobStore = (*BlobStore)(nil)

// BlobStore is an in-memory implementation of driven.BlobStore.
// References have the form "mem://<uuid>".
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte)}
}

// Put stores the contents of r and returns its reference.
func (s *BlobStore) Put(_ context.Context, _, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read blob: %w", err)
	}
	ref := "mem://" + uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[ref] = data
	return ref, nil
}

// Open returns a reader over a stored blob.
func (s *BlobStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// URL returns the reference itself; memory blobs are not reachable remotely.
func (s *BlobStore) URL(_ context.Context, ref string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.blobs[ref]; !ok {
		return "", domain.ErrNotFound
	}
	return ref, nil
}

// Delete removes a blob.
func (s *BlobStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[ref]; !ok {
		return domain.ErrNotFound
	}
	delete(s.blobs, ref)
	return nil
}

// Len returns the number of stored blobs.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
