package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
)

// Ensure CellStore implements the interface.
var _ driven.CellStore = (*CellStore)(nil)

// CellStore is an in-memory implementation of driven.CellStore.
// A single mutex serialises writes, which makes every MarkState a
// compare-and-set against the current instance.
type CellStore struct {
	mu      sync.RWMutex
	current map[domain.CellKey]domain.Cell
	history map[domain.CellKey][]domain.Cell
	now     func() time.Time
}

// NewCellStore creates a new in-memory cell store.
func NewCellStore() *CellStore {
	return &CellStore{
		current: make(map[domain.CellKey]domain.Cell),
		history: make(map[domain.CellKey][]domain.Cell),
		now:     time.Now,
	}
}

// Get returns the current cell for a pair.
func (s *CellStore) Get(_ context.Context, documentID, controlID string) (*domain.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cell, ok := s.current[domain.CellKey{DocumentID: documentID, ControlID: controlID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &cell, nil
}

// Upsert makes cell the current cell for its pair.
func (s *CellStore) Upsert(_ context.Context, cell *domain.Cell) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cell.Key()
	if prev, ok := s.current[key]; ok && prev.ID != cell.ID {
		prev.SupersededAt = s.now()
		s.history[key] = append(s.history[key], prev)
	}
	s.current[key] = *cell
	return nil
}

// MarkState applies a state change to the current cell of key.
func (s *CellStore) MarkState(_ context.Context, key domain.CellKey, change domain.StateChange) (*domain.Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cell, ok := s.current[key]
	if !ok {
		return nil, domain.ErrStaleCell
	}
	if err := cell.Apply(change); err != nil {
		return nil, err
	}
	s.current[key] = cell
	return &cell, nil
}

// ListByControl returns the current cells of a control column.
func (s *CellStore) ListByControl(_ context.Context, controlID string) ([]domain.Cell, error) {
	return s.filter(func(c *domain.Cell) bool { return c.ControlID == controlID }), nil
}

// ListByDocument returns the current cells of a document row.
func (s *CellStore) ListByDocument(_ context.Context, documentID string) ([]domain.Cell, error) {
	return s.filter(func(c *domain.Cell) bool { return c.DocumentID == documentID }), nil
}

// ListByState returns current cells in any of the given states.
func (s *CellStore) ListByState(_ context.Context, states ...domain.CellState) ([]domain.Cell, error) {
	return s.filter(func(c *domain.Cell) bool {
		for _, st := range states {
			if c.State == st {
				return true
			}
		}
		return false
	}), nil
}

// ListAll returns every current cell.
func (s *CellStore) ListAll(_ context.Context) ([]domain.Cell, error) {
	return s.filter(func(*domain.Cell) bool { return true }), nil
}

// DeleteByDocument removes all cells of a document.
func (s *CellStore) DeleteByDocument(_ context.Context, documentID string) (int, error) {
	return s.delete(func(k domain.CellKey) bool { return k.DocumentID == documentID }), nil
}

// DeleteByControl removes all cells of a control.
func (s *CellStore) DeleteByControl(_ context.Context, controlID string) (int, error) {
	return s.delete(func(k domain.CellKey) bool { return k.ControlID == controlID }), nil
}

// History returns the superseded instances of a pair, newest first.
func (s *CellStore) History(_ context.Context, documentID, controlID string) ([]domain.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	archived := s.history[domain.CellKey{DocumentID: documentID, ControlID: controlID}]
	result := make([]domain.Cell, 0, len(archived))
	for i := len(archived) - 1; i >= 0; i-- {
		result = append(result, archived[i])
	}
	return result, nil
}

func (s *CellStore) filter(match func(*domain.Cell) bool) []domain.Cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.Cell
	for _, cell := range s.current {
		if match(&cell) {
			result = append(result, cell)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DocumentID != result[j].DocumentID {
			return result[i].DocumentID < result[j].DocumentID
		}
		return result[i].ControlID < result[j].ControlID
	})
	return result
}

func (s *CellStore) delete(match func(domain.CellKey) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key := range s.current {
		if match(key) {
			delete(s.current, key)
			removed++
		}
	}
	for key := range s.history {
		if match(key) {
			delete(s.history, key)
		}
	}
	return removed
}
