package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tally/internal/core/domain"
)

func TestExtractionStore_SaveGetDelete(t *testing.T) {
	store := NewExtractionStore()
	ctx := context.Background()
	v1 := domain.ExtractionKey{DocumentID: "d", Version: 1}
	v2 := domain.ExtractionKey{DocumentID: "d", Version: 2}
	other := domain.ExtractionKey{DocumentID: "e", Version: 1}

	for _, key := range []domain.ExtractionKey{v1, v2, other} {
		require.NoError(t, store.SaveExtraction(ctx, &domain.ExtractionEntry{
			Key:    key,
			Result: &domain.ExtractionResult{Text: key.String()},
		}))
	}

	got, err := store.GetExtraction(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, "d@v2", got.Result.Text)

	require.NoError(t, store.DeleteExtractions(ctx, "d"))

	_, err = store.GetExtraction(ctx, v1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetExtraction(ctx, v2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetExtraction(ctx, other)
	assert.NoError(t, err)
}
