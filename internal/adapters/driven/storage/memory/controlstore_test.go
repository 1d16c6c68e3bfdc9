package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tally/internal/core/domain"
)

func TestControlStore_CRUD(t *testing.T) {
	store := NewControlStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.SaveControl(ctx, &domain.Control{ID: "c1", Title: "First", CreatedAt: base}))
	require.NoError(t, store.SaveControl(ctx, &domain.Control{ID: "c2", Title: "Second", CreatedAt: base.Add(time.Second)}))

	got, err := store.GetControl(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "First", got.Title)

	list, err := store.ListControls(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ID)

	require.NoError(t, store.DeleteControl(ctx, "c1"))
	_, err = store.GetControl(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
