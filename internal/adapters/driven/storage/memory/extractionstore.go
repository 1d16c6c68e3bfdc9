package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
)

// Ensure ExtractionStore implements the interface.
var _ driven.ExtractionStore = (*ExtractionStore)(nil)

// ExtractionStore is an in-memory implementation of driven.ExtractionStore.
type ExtractionStore struct {
	mu      sync.RWMutex
	entries map[domain.ExtractionKey]domain.ExtractionEntry
}

// NewExtractionStore creates a new in-memory extraction store.
func NewExtractionStore() *ExtractionStore {
	return &ExtractionStore{
		entries: make(map[domain.ExtractionKey]domain.ExtractionEntry),
	}
}

// GetExtraction returns the entry for a document version.
func (s *ExtractionStore) GetExtraction(_ context.Context, key domain.ExtractionKey) (*domain.ExtractionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &entry, nil
}

// SaveExtraction stores or replaces an entry.
func (s *ExtractionStore) SaveExtraction(_ context.Context, entry *domain.ExtractionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = *entry
	return nil
}

// DeleteExtractions removes every entry of a document.
func (s *ExtractionStore) DeleteExtractions(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if key.DocumentID == documentID {
			delete(s.entries, key)
		}
	}
	return nil
}
