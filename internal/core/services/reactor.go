package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
	"github.com/custodia-labs/tally/internal/core/ports/driving"
	"github.com/custodia-labs/tally/internal/logger"
)

// Ensure Reactor implements the interface.
var _ driving.ChangeHandler = (*Reactor)(nil)

// CellSubmitter routes pending cells to work.
type CellSubmitter interface {
	Submit(ctx context.Context, cells []domain.Cell) error
}

// Reactor turns document and control mutations into cell work. It
// supersedes exactly the cells whose inputs changed and leaves every
// other cell and cached extraction alone.
type Reactor struct {
	cells     driven.CellStore
	documents driven.DocumentStore
	controls  driven.ControlStore
	cache     *ExtractionCache
	submitter CellSubmitter
	bus       *EventBus
	log       logger.Component
	now       func() time.Time
	newID     func() string

	// mu applies events one at a time.
	mu sync.Mutex
}

// NewReactor creates a reactor. bus may be nil.
func NewReactor(
	cells driven.CellStore,
	documents driven.DocumentStore,
	controls driven.ControlStore,
	cache *ExtractionCache,
	submitter CellSubmitter,
	bus *EventBus,
) *Reactor {
	return &Reactor{
		cells:     cells,
		documents: documents,
		controls:  controls,
		cache:     cache,
		submitter: submitter,
		bus:       bus,
		log:       logger.With("reactor"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Handle applies a change event and dispatches the resulting cells.
func (r *Reactor) Handle(ctx context.Context, event domain.ChangeEvent) (*domain.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Debug("handling %s doc=%q control=%q", event.Kind, event.DocumentID, event.ControlID)

	reaction := &domain.Reaction{}
	var err error
	switch event.Kind {
	case domain.EventDocumentAdded:
		err = r.documentChanged(ctx, event.DocumentID, false, reaction)
	case domain.EventDocumentReplaced:
		err = r.documentChanged(ctx, event.DocumentID, true, reaction)
	case domain.EventDocumentRemoved:
		err = r.documentRemoved(ctx, event.DocumentID, reaction)
	case domain.EventControlAdded, domain.EventControlEdited:
		err = r.controlChanged(ctx, event.ControlID, false, reaction)
	case domain.EventControlActivated:
		err = r.controlChanged(ctx, event.ControlID, true, reaction)
	case domain.EventControlRemoved:
		err = r.controlRemoved(ctx, event.ControlID, reaction)
	case domain.EventRegenerate:
		err = r.regenerate(ctx, event.Scope, reaction)
	default:
		return nil, fmt.Errorf("%w: unknown event kind %q", domain.ErrInvalidInput, event.Kind)
	}
	if err != nil {
		return nil, err
	}

	if len(reaction.Created) > 0 {
		if err := r.submitter.Submit(ctx, reaction.Created); err != nil {
			return reaction, fmt.Errorf("failed to dispatch cells: %w", err)
		}
	}
	return reaction, nil
}

// documentChanged creates a cell for the document against every active
// control. A replaced document also drops its cached extraction.
func (r *Reactor) documentChanged(ctx context.Context, documentID string, replaced bool, reaction *domain.Reaction) error {
	doc, err := r.documents.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}

	if replaced {
		if err := r.cache.Invalidate(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to invalidate extraction: %w", err)
		}
		reaction.ExtractionInvalidated = true
	}

	controls, err := r.activeControls(ctx)
	if err != nil {
		return err
	}
	for i := range controls {
		if err := r.replaceCell(ctx, doc, &controls[i], reaction); err != nil {
			return err
		}
	}
	return nil
}

// documentRemoved deletes the document's row and cached extraction.
func (r *Reactor) documentRemoved(ctx context.Context, documentID string, reaction *domain.Reaction) error {
	existing, err := r.cells.ListByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to list cells: %w", err)
	}
	n, err := r.cells.DeleteByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete cells: %w", err)
	}
	reaction.Deleted = n
	r.publishRemoved(existing)

	if err := r.cache.Invalidate(ctx, documentID); err != nil {
		return fmt.Errorf("failed to invalidate extraction: %w", err)
	}
	reaction.ExtractionInvalidated = true
	return nil
}

// controlChanged creates a cell for the control against every document.
// With onlyOutdated set, pairs whose current cell already matches the
// document and control versions are kept.
func (r *Reactor) controlChanged(ctx context.Context, controlID string, onlyOutdated bool, reaction *domain.Reaction) error {
	ctrl, err := r.controls.GetControl(ctx, controlID)
	if err != nil {
		return fmt.Errorf("failed to load control: %w", err)
	}
	if !ctrl.Active {
		r.log.Debug("control %s is inactive, no cells dispatched", ctrl.ID)
		return nil
	}

	docs, err := r.documents.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	for i := range docs {
		doc := &docs[i]
		if onlyOutdated {
			current, err := r.currentCell(ctx, doc.ID, ctrl.ID)
			if err != nil {
				return err
			}
			if current != nil && current.DocumentVersion == doc.Version && current.ControlVersion == ctrl.Version {
				if current.State == domain.CellPending {
					reaction.Created = append(reaction.Created, *current)
				}
				continue
			}
		}
		if err := r.replaceCell(ctx, doc, ctrl, reaction); err != nil {
			return err
		}
	}
	return nil
}

// controlRemoved deletes the control's column.
func (r *Reactor) controlRemoved(ctx context.Context, controlID string, reaction *domain.Reaction) error {
	existing, err := r.cells.ListByControl(ctx, controlID)
	if err != nil {
		return fmt.Errorf("failed to list cells: %w", err)
	}
	n, err := r.cells.DeleteByControl(ctx, controlID)
	if err != nil {
		return fmt.Errorf("failed to delete cells: %w", err)
	}
	reaction.Deleted = n
	r.publishRemoved(existing)
	return nil
}

// regenerate supersedes the targeted cells at unchanged versions. Cells
// with work already queued or in flight are skipped. A row regenerate
// re-extracts the document when none of its cells is busy and otherwise
// reports the reused extraction in Reaction.ExtractionKept.
func (r *Reactor) regenerate(ctx context.Context, scope domain.RegenerateScope, reaction *domain.Reaction) error {
	kind, err := scope.Kind()
	if err != nil {
		return err
	}

	var docs []domain.Document
	var controls []domain.Control

	switch kind {
	case domain.ScopeCell:
		doc, err := r.documents.GetDocument(ctx, scope.DocumentID)
		if err != nil {
			return fmt.Errorf("failed to load document: %w", err)
		}
		ctrl, err := r.controls.GetControl(ctx, scope.ControlID)
		if err != nil {
			return fmt.Errorf("failed to load control: %w", err)
		}
		if !ctrl.Active {
			return fmt.Errorf("%w: control %s is inactive", domain.ErrInvalidInput, ctrl.ID)
		}
		docs = []domain.Document{*doc}
		controls = []domain.Control{*ctrl}

	case domain.ScopeColumn:
		ctrl, err := r.controls.GetControl(ctx, scope.ControlID)
		if err != nil {
			return fmt.Errorf("failed to load control: %w", err)
		}
		if !ctrl.Active {
			return fmt.Errorf("%w: control %s is inactive", domain.ErrInvalidInput, ctrl.ID)
		}
		if docs, err = r.documents.ListDocuments(ctx); err != nil {
			return fmt.Errorf("failed to list documents: %w", err)
		}
		controls = []domain.Control{*ctrl}

	case domain.ScopeRow:
		doc, err := r.documents.GetDocument(ctx, scope.DocumentID)
		if err != nil {
			return fmt.Errorf("failed to load document: %w", err)
		}
		if controls, err = r.activeControls(ctx); err != nil {
			return err
		}
		docs = []domain.Document{*doc}

		busy, err := r.rowBusy(ctx, doc.ID)
		if err != nil {
			return err
		}
		if busy {
			r.log.Info("row %s has work in flight, keeping its extraction", doc.ID)
			reaction.ExtractionKept = true
		} else {
			if err := r.cache.Invalidate(ctx, doc.ID); err != nil {
				return fmt.Errorf("failed to invalidate extraction: %w", err)
			}
			reaction.ExtractionInvalidated = true
		}
	}

	for i := range docs {
		doc := &docs[i]
		if kind != domain.ScopeRow {
			if err := r.cache.ClearFailure(ctx, doc.ExtractionKey()); err != nil {
				return fmt.Errorf("failed to clear extraction failure: %w", err)
			}
		}
		for j := range controls {
			ctrl := &controls[j]
			current, err := r.currentCell(ctx, doc.ID, ctrl.ID)
			if err != nil {
				return err
			}
			if current != nil && current.State.HasWork() {
				reaction.Skipped = append(reaction.Skipped, current.Key())
				continue
			}
			if err := r.replaceCell(ctx, doc, ctrl, reaction); err != nil {
				return err
			}
		}
	}

	if len(reaction.Skipped) > 0 {
		r.log.Info("regenerate skipped %d busy cells", len(reaction.Skipped))
	}
	return nil
}

// replaceCell stores a new pending instance for the pair, superseding the
// current one. The revision advances when the versions are unchanged.
func (r *Reactor) replaceCell(ctx context.Context, doc *domain.Document, ctrl *domain.Control, reaction *domain.Reaction) error {
	current, err := r.currentCell(ctx, doc.ID, ctrl.ID)
	if err != nil {
		return err
	}

	revision := 0
	if current != nil {
		reaction.Superseded++
		if current.DocumentVersion == doc.Version && current.ControlVersion == ctrl.Version {
			revision = current.Revision + 1
		}
	}

	cell := domain.NewCell(r.newID(), doc, ctrl, revision, r.now())
	if err := r.cells.Upsert(ctx, cell); err != nil {
		return fmt.Errorf("failed to store cell: %w", err)
	}
	reaction.Created = append(reaction.Created, *cell)

	if r.bus != nil {
		r.bus.Publish(domain.CellEvent{Cell: *cell, At: cell.CreatedAt})
	}
	return nil
}

// currentCell returns the pair's current cell, or nil if it has none.
func (r *Reactor) currentCell(ctx context.Context, documentID, controlID string) (*domain.Cell, error) {
	cell, err := r.cells.Get(ctx, documentID, controlID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cell: %w", err)
	}
	return cell, nil
}

// rowBusy reports whether any cell of the document has work in flight.
func (r *Reactor) rowBusy(ctx context.Context, documentID string) (bool, error) {
	row, err := r.cells.ListByDocument(ctx, documentID)
	if err != nil {
		return false, fmt.Errorf("failed to list cells: %w", err)
	}
	for _, c := range row {
		if c.State.HasWork() {
			return true, nil
		}
	}
	return false, nil
}

func (r *Reactor) activeControls(ctx context.Context) ([]domain.Control, error) {
	all, err := r.controls.ListControls(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list controls: %w", err)
	}
	active := all[:0]
	for _, c := range all {
		if c.Active {
			active = append(active, c)
		}
	}
	return active, nil
}

func (r *Reactor) publishRemoved(cells []domain.Cell) {
	if r.bus == nil {
		return
	}
	at := r.now()
	for _, c := range cells {
		r.bus.Publish(domain.CellEvent{Cell: c, At: at, Removed: true})
	}
}
