package services

import (
	"context"
	"fmt"
	"math"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
	"github.com/custodia-labs/tally/internal/core/ports/driving"
)

// Ensure GridService implements the interface.
var _ driving.GridService = (*GridService)(nil)

// GridService assembles the document × control matrix.
type GridService struct {
	docStore     driven.DocumentStore
	controlStore driven.ControlStore
	cellStore    driven.CellStore
	changes      driving.ChangeHandler
	bus          *EventBus
}

// NewGridService creates a new grid service.
func NewGridService(
	docStore driven.DocumentStore,
	controlStore driven.ControlStore,
	cellStore driven.CellStore,
	changes driving.ChangeHandler,
	bus *EventBus,
) *GridService {
	return &GridService{
		docStore:     docStore,
		controlStore: controlStore,
		cellStore:    cellStore,
		changes:      changes,
		bus:          bus,
	}
}

// GetGridView returns every document against every active control. Pairs
// without a cell yet are shown as pending.
func (s *GridService) GetGridView(ctx context.Context) (*domain.GridView, error) {
	docs, err := s.docStore.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	controls, err := s.activeControls(ctx)
	if err != nil {
		return nil, err
	}
	cells, err := s.cellsByKey(ctx)
	if err != nil {
		return nil, err
	}

	view := &domain.GridView{
		Controls: controls,
		Rows:     make([]domain.GridRow, 0, len(docs)),
	}
	for _, doc := range docs {
		row := domain.GridRow{Document: doc, Cells: make([]domain.CellSummary, 0, len(controls))}
		for _, ctrl := range controls {
			cell, ok := cells[domain.CellKey{DocumentID: doc.ID, ControlID: ctrl.ID}]
			if !ok {
				row.Cells = append(row.Cells, domain.CellSummary{
					DocumentID: doc.ID,
					ControlID:  ctrl.ID,
					State:      domain.CellPending,
				})
				continue
			}
			if !cell.State.IsStable() {
				view.ProcessingCount++
			}
			row.Cells = append(row.Cells, domain.SummariseCell(&cell))
		}
		view.Rows = append(view.Rows, row)
	}
	return view, nil
}

// RequestRegenerate supersedes the targeted cells and re-dispatches them.
func (s *GridService) RequestRegenerate(ctx context.Context, scope domain.RegenerateScope) (*domain.Reaction, error) {
	if _, err := scope.Kind(); err != nil {
		return nil, fmt.Errorf("regenerate: %w", err)
	}
	return s.changes.Handle(ctx, domain.ChangeEvent{Kind: domain.EventRegenerate, Scope: scope})
}

// Subscribe streams cell state changes until ctx is done.
func (s *GridService) Subscribe(ctx context.Context) <-chan domain.CellEvent {
	return s.bus.Subscribe(ctx)
}

// Status summarises processing progress over the visible grid.
func (s *GridService) Status(ctx context.Context) (*domain.ProcessingSummary, error) {
	view, err := s.GetGridView(ctx)
	if err != nil {
		return nil, err
	}

	summary := &domain.ProcessingSummary{
		StatusBreakdown: make(map[domain.CellState]int),
	}
	for _, row := range view.Rows {
		for _, cell := range row.Cells {
			summary.TotalPossible++
			summary.StatusBreakdown[cell.State]++
			switch {
			case cell.State.IsTerminal():
				summary.TotalProcessed++
			case cell.State.HasWork():
				summary.CurrentlyProcessing++
			}
		}
	}
	if summary.TotalPossible > 0 {
		pct := float64(summary.TotalProcessed) / float64(summary.TotalPossible) * 100
		summary.CompletionPercentage = math.Round(pct*10) / 10
	}
	return summary, nil
}

// History returns the superseded instances of a cell, newest first.
func (s *GridService) History(ctx context.Context, documentID, controlID string) ([]domain.Cell, error) {
	return s.cellStore.History(ctx, documentID, controlID)
}

func (s *GridService) activeControls(ctx context.Context) ([]domain.Control, error) {
	all, err := s.controlStore.ListControls(ctx)
	if err != nil {
		return nil, fmt.Errorf("list controls: %w", err)
	}
	active := make([]domain.Control, 0, len(all))
	for _, c := range all {
		if c.Active {
			active = append(active, c)
		}
	}
	return active, nil
}

func (s *GridService) cellsByKey(ctx context.Context) (map[domain.CellKey]domain.Cell, error) {
	all, err := s.cellStore.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	byKey := make(map[domain.CellKey]domain.Cell, len(all))
	for _, c := range all {
		byKey[c.Key()] = c
	}
	return byKey, nil
}
