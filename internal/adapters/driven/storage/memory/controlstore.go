package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
)

// Ensure ControlStore implements the interface.
var _ driven.ControlStore = (*ControlStore)(nil)

// ControlStore is an in-memory implementation of driven.ControlStore.
type ControlStore struct {
	mu       sync.RWMutex
	controls map[string]domain.Control
}

// NewControlStore creates a new in-memory control store.
func NewControlStore() *ControlStore {
	return &ControlStore{
		controls: make(map[string]domain.Control),
	}
}

// SaveControl stores or updates a control.
func (s *ControlStore) SaveControl(_ context.Context, ctrl *domain.Control) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls[ctrl.ID] = *ctrl
	return nil
}

// GetControl retrieves a control by ID.
func (s *ControlStore) GetControl(_ context.Context, id string) (*domain.Control, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctrl, ok := s.controls[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ctrl, nil
}

// DeleteControl removes a control.
func (s *ControlStore) DeleteControl(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.controls, id)
	return nil
}

// ListControls returns all controls, newest first.
func (s *ControlStore) ListControls(_ context.Context) ([]domain.Control, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	controls := make([]domain.Control, 0, len(s.controls))
	for _, ctrl := range s.controls {
		controls = append(controls, ctrl)
	}
	sort.Slice(controls, func(i, j int) bool {
		if controls[i].CreatedAt.Equal(controls[j].CreatedAt) {
			return controls[i].ID < controls[j].ID
		}
		return controls[i].CreatedAt.After(controls[j].CreatedAt)
	})
	return controls, nil
}
