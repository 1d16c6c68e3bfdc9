package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
	"github.com/custodia-labs/tally/internal/core/ports/driving"
	"github.com/custodia-labs/tally/internal/logger"
)

// Ensure ControlService implements the interface.
var _ driving.ControlService = (*ControlService)(nil)

// ControlService manages the question set evaluated against every document.
type ControlService struct {
	controlStore driven.ControlStore
	changes      driving.ChangeHandler
	log          logger.Component
	now          func() time.Time
}

// NewControlService creates a new control service.
func NewControlService(controlStore driven.ControlStore, changes driving.ChangeHandler) *ControlService {
	return &ControlService{
		controlStore: controlStore,
		changes:      changes,
		log:          logger.With("controls"),
		now:          time.Now,
	}
}

// Create defines a new active control.
func (s *ControlService) Create(ctx context.Context, in domain.ControlInput) (*domain.Control, error) {
	norm, err := in.Normalise()
	if err != nil {
		return nil, fmt.Errorf("create control: %w", err)
	}

	now := s.now()
	ctrl := &domain.Control{
		ID:          uuid.NewString(),
		Title:       norm.Title,
		Prompt:      norm.Prompt,
		Description: norm.Description,
		Active:      true,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.controlStore.SaveControl(ctx, ctrl); err != nil {
		return nil, fmt.Errorf("save control: %w", err)
	}
	s.log.Info("created control %q (%s)", ctrl.Title, ctrl.ID)

	if err := s.raise(ctx, domain.EventControlAdded, ctrl.ID); err != nil {
		return nil, err
	}
	return ctrl, nil
}

// Update edits a control. Prompt or description edits re-answer its column;
// title-only edits dispatch nothing. Deactivating keeps the column's cells
// but stops dispatch; reactivating fills in what is missing or outdated.
func (s *ControlService) Update(ctx context.Context, controlID string, patch domain.ControlPatch) (*domain.Control, error) {
	ctrl, err := s.controlStore.GetControl(ctx, controlID)
	if err != nil {
		return nil, err
	}

	change, err := ctrl.Apply(patch, s.now())
	if err != nil {
		return nil, fmt.Errorf("update control: %w", err)
	}
	if err := s.controlStore.SaveControl(ctx, ctrl); err != nil {
		return nil, fmt.Errorf("save control: %w", err)
	}

	switch {
	case change.Activated:
		err = s.raise(ctx, domain.EventControlActivated, ctrl.ID)
	case change.InputsChanged:
		err = s.raise(ctx, domain.EventControlEdited, ctrl.ID)
	case change.Deactivated:
		s.log.Info("deactivated control %s", ctrl.ID)
	}
	if err != nil {
		return nil, err
	}
	return ctrl, nil
}

// Remove deletes a control and its column of cells.
func (s *ControlService) Remove(ctx context.Context, controlID string) error {
	ctrl, err := s.controlStore.GetControl(ctx, controlID)
	if err != nil {
		return err
	}
	if err := s.controlStore.DeleteControl(ctx, ctrl.ID); err != nil {
		return fmt.Errorf("delete control: %w", err)
	}
	if err := s.raise(ctx, domain.EventControlRemoved, ctrl.ID); err != nil {
		return err
	}
	s.log.Info("removed control %q (%s)", ctrl.Title, ctrl.ID)
	return nil
}

// Get retrieves a control by ID.
func (s *ControlService) Get(ctx context.Context, controlID string) (*domain.Control, error) {
	return s.controlStore.GetControl(ctx, controlID)
}

// List returns controls newest first, optionally including inactive ones.
func (s *ControlService) List(ctx context.Context, includeInactive bool) ([]domain.Control, error) {
	all, err := s.controlStore.ListControls(ctx)
	if err != nil {
		return nil, err
	}
	if includeInactive {
		return all, nil
	}
	active := make([]domain.Control, 0, len(all))
	for _, c := range all {
		if c.Active {
			active = append(active, c)
		}
	}
	return active, nil
}

// Search returns active controls whose title, description or prompt
// contains the query.
func (s *ControlService) Search(ctx context.Context, query string) ([]domain.Control, error) {
	active, err := s.List(ctx, false)
	if err != nil {
		return nil, err
	}
	matches := make([]domain.Control, 0, len(active))
	for i := range active {
		if active[i].Matches(query) {
			matches = append(matches, active[i])
		}
	}
	return matches, nil
}

// Duplicate creates an active copy of a control titled "<title> (Copy)".
func (s *ControlService) Duplicate(ctx context.Context, controlID string) (*domain.Control, error) {
	src, err := s.controlStore.GetControl(ctx, controlID)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, domain.ControlInput{
		Title:       src.Title + " (Copy)",
		Prompt:      src.Prompt,
		Description: src.Description,
	})
}

func (s *ControlService) raise(ctx context.Context, kind domain.EventKind, controlID string) error {
	if s.changes == nil {
		return nil
	}
	if _, err := s.changes.Handle(ctx, domain.ChangeEvent{Kind: kind, ControlID: controlID}); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return nil
}
