package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tally/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/tally/internal/core/domain"
)

func newTestControlService() (*ControlService, *recordingHandler) {
	handler := &recordingHandler{}
	return NewControlService(memory.NewControlStore(), handler), handler
}

func ptr[T any](v T) *T { return &v }

func TestControlService_Create(t *testing.T) {
	svc, handler := newTestControlService()

	ctrl, err := svc.Create(context.Background(), domain.ControlInput{
		Title:  "  Encryption ",
		Prompt: "Is data encrypted at rest",
	})
	require.NoError(t, err)

	assert.Equal(t, "Encryption", ctrl.Title)
	assert.Equal(t, "Is data encrypted at rest?", ctrl.Prompt)
	assert.True(t, ctrl.Active)
	assert.Equal(t, 1, ctrl.Version)
	assert.Equal(t, []domain.EventKind{domain.EventControlAdded}, handler.kinds())
}

func TestControlService_Create_Invalid(t *testing.T) {
	svc, handler := newTestControlService()

	tests := []domain.ControlInput{
		{Title: "", Prompt: "Q?"},
		{Title: "T", Prompt: "  "},
		{Title: "Same?", Prompt: "same?"},
	}
	for _, in := range tests {
		_, err := svc.Create(context.Background(), in)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}
	assert.Empty(t, handler.events)
}

func TestControlService_Update(t *testing.T) {
	tests := []struct {
		name        string
		patch       domain.ControlPatch
		wantVersion int
		wantEvents  []domain.EventKind
	}{
		{
			name:        "prompt edit",
			patch:       domain.ControlPatch{Prompt: ptr("Is data encrypted in transit?")},
			wantVersion: 2,
			wantEvents:  []domain.EventKind{domain.EventControlAdded, domain.EventControlEdited},
		},
		{
			name:        "description edit",
			patch:       domain.ControlPatch{Description: ptr("Look for TLS")},
			wantVersion: 2,
			wantEvents:  []domain.EventKind{domain.EventControlAdded, domain.EventControlEdited},
		},
		{
			name:        "title only",
			patch:       domain.ControlPatch{Title: ptr("Crypto")},
			wantVersion: 1,
			wantEvents:  []domain.EventKind{domain.EventControlAdded},
		},
		{
			name:        "deactivate",
			patch:       domain.ControlPatch{Active: ptr(false)},
			wantVersion: 1,
			wantEvents:  []domain.EventKind{domain.EventControlAdded},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, handler := newTestControlService()
			ctx := context.Background()
			ctrl, err := svc.Create(ctx, domain.ControlInput{Title: "Encryption", Prompt: "Is data encrypted at rest?"})
			require.NoError(t, err)

			updated, err := svc.Update(ctx, ctrl.ID, tt.patch)
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, updated.Version)
			assert.Equal(t, tt.wantEvents, handler.kinds())
		})
	}
}

func TestControlService_Reactivate(t *testing.T) {
	svc, handler := newTestControlService()
	ctx := context.Background()
	ctrl, err := svc.Create(ctx, domain.ControlInput{Title: "Encryption", Prompt: "Is data encrypted at rest?"})
	require.NoError(t, err)

	_, err = svc.Update(ctx, ctrl.ID, domain.ControlPatch{Active: ptr(false)})
	require.NoError(t, err)
	_, err = svc.Update(ctx, ctrl.ID, domain.ControlPatch{Active: ptr(true)})
	require.NoError(t, err)

	assert.Equal(t, []domain.EventKind{domain.EventControlAdded, domain.EventControlActivated}, handler.kinds())
}

func TestControlService_ListSearchDuplicate(t *testing.T) {
	svc, _ := newTestControlService()
	ctx := context.Background()

	enc, err := svc.Create(ctx, domain.ControlInput{Title: "Encryption", Prompt: "Is data encrypted at rest?"})
	require.NoError(t, err)
	bak, err := svc.Create(ctx, domain.ControlInput{Title: "Backups", Prompt: "Are backups tested?", Description: "restore drills"})
	require.NoError(t, err)
	_, err = svc.Update(ctx, bak.ID, domain.ControlPatch{Active: ptr(false)})
	require.NoError(t, err)

	active, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, enc.ID, active[0].ID)

	all, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	found, err := svc.Search(ctx, "ENCRYPTED")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = svc.Search(ctx, "restore")
	require.NoError(t, err)
	assert.Empty(t, found, "inactive controls are not searched")

	dup, err := svc.Duplicate(ctx, enc.ID)
	require.NoError(t, err)
	assert.NotEqual(t, enc.ID, dup.ID)
	assert.Equal(t, "Encryption (Copy)", dup.Title)
	assert.Equal(t, enc.Prompt, dup.Prompt)
	assert.Equal(t, 1, dup.Version)
}

func TestControlService_Remove(t *testing.T) {
	svc, handler := newTestControlService()
	ctx := context.Background()
	ctrl, err := svc.Create(ctx, domain.ControlInput{Title: "Encryption", Prompt: "Is data encrypted at rest?"})
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, ctrl.ID))
	_, err = svc.Get(ctx, ctrl.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []domain.EventKind{domain.EventControlAdded, domain.EventControlRemoved}, handler.kinds())
}

func TestControlService_RemoveDeletesRecordBeforeEvent(t *testing.T) {
	store := memory.NewControlStore()
	handler := &recordingHandler{}
	svc := NewControlService(store, handler)
	ctx := context.Background()

	ctrl, err := svc.Create(ctx, domain.ControlInput{Title: "Encryption", Prompt: "Is data encrypted at rest?"})
	require.NoError(t, err)

	var lookupErr error
	handler.observe = func(event domain.ChangeEvent) {
		if event.Kind == domain.EventControlRemoved {
			_, lookupErr = store.GetControl(ctx, event.ControlID)
		}
	}
	require.NoError(t, svc.Remove(ctx, ctrl.ID))
	assert.ErrorIs(t, lookupErr, domain.ErrNotFound)
}
