package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// seedGrid stores two documents against one control. The first document's
// cell is completed; the second has none yet.
func seedGrid(t *testing.T, env *testEnv) (doc1, doc2 *domain.Document, ctrl *domain.Control) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	ctrl = seedControl(t, "Encryption", "Is data encrypted?")
	doc1 = &domain.Document{ID: "doc-1", Filename: "policy.pdf", ContentType: "application/pdf", Version: 1, CreatedAt: now, UpdatedAt: now}
	doc2 = &domain.Document{ID: "doc-2", Filename: "runbook.txt", ContentType: "text/plain", Version: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, env.docs.SaveDocument(ctx, doc1))
	require.NoError(t, env.docs.SaveDocument(ctx, doc2))

	require.NoError(t, env.cells.Upsert(ctx, &domain.Cell{
		ID:              "cell-1",
		DocumentID:      doc1.ID,
		ControlID:       ctrl.ID,
		DocumentVersion: 1,
		ControlVersion:  1,
		State:           domain.CellCompleted,
		Result:          &domain.Answer{Text: "Yes, AES-256 at rest.", Confidence: 0.8},
		CreatedAt:       now,
		UpdatedAt:       now,
	}))
	return doc1, doc2, ctrl
}

func TestGrid(t *testing.T) {
	env := setupTestServices(t)
	seedGrid(t, env)

	out, err := execute(t, "grid")

	require.NoError(t, err)
	assert.Contains(t, out, "Document")
	assert.Contains(t, out, "Encryption")
	assert.Contains(t, out, "policy.pdf")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "pending")
}

func TestGrid_Answers(t *testing.T) {
	env := setupTestServices(t)
	seedGrid(t, env)

	out, err := execute(t, "grid", "--answers")

	require.NoError(t, err)
	assert.Contains(t, out, "Yes, AES-256 at rest.")
}

func TestGrid_JSON(t *testing.T) {
	env := setupTestServices(t)
	seedGrid(t, env)

	out, err := execute(t, "grid", "--json")
	require.NoError(t, err)

	var view domain.GridView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Len(t, view.Rows, 2)
	assert.Len(t, view.Controls, 1)
}

func TestGrid_Empty(t *testing.T) {
	setupTestServices(t)

	out, err := execute(t, "grid")

	require.NoError(t, err)
	assert.Contains(t, out, "The grid is empty.")
}

func TestStatus(t *testing.T) {
	env := setupTestServices(t)
	seedGrid(t, env)

	out, err := execute(t, "status")

	require.NoError(t, err)
	assert.Contains(t, out, "Cells:      2")
	assert.Contains(t, out, "Processed:  1 (50.0%)")
	assert.Contains(t, out, "completed")
}

func TestHistory(t *testing.T) {
	env := setupTestServices(t)
	doc1, _, ctrl := seedGrid(t, env)

	out, err := execute(t, "history", doc1.ID, ctrl.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "No earlier answers.")

	require.NoError(t, env.cells.Upsert(context.Background(), &domain.Cell{
		ID:              "cell-2",
		DocumentID:      doc1.ID,
		ControlID:       ctrl.ID,
		DocumentVersion: 1,
		ControlVersion:  1,
		Revision:        1,
		State:           domain.CellPending,
	}))

	out, err = execute(t, "history", doc1.ID, ctrl.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "doc v1, control v1, rev 0")
	assert.Contains(t, out, "Answer: Yes, AES-256 at rest.")
}

func TestRegenerate(t *testing.T) {
	env := setupTestServices(t)
	env.handler.reaction = domain.Reaction{
		Created: []domain.Cell{{ID: "c1"}, {ID: "c2"}},
		Skipped: []domain.CellKey{{DocumentID: "doc-3", ControlID: "ctrl-1"}},
	}

	out, err := execute(t, "regenerate", "--control", "ctrl-1")

	require.NoError(t, err)
	assert.Contains(t, out, "Regenerating column: 2 queued, 1 skipped")
	require.Len(t, env.handler.events, 1)
	assert.Equal(t, domain.EventRegenerate, env.handler.events[0].Kind)
	assert.Equal(t, domain.RegenerateScope{ControlID: "ctrl-1"}, env.handler.events[0].Scope)
}

func TestRegenerate_BusyRowKeepsExtraction(t *testing.T) {
	env := setupTestServices(t)
	env.handler.reaction = domain.Reaction{
		Skipped:        []domain.CellKey{{DocumentID: "doc-1", ControlID: "ctrl-1"}},
		ExtractionKept: true,
	}

	out, err := execute(t, "regenerate", "--document", "doc-1")

	require.NoError(t, err)
	assert.Contains(t, out, "Regenerating row: 0 queued, 1 skipped (already processing); extraction kept while the row is processing")
}

func TestRegenerate_RequiresScope(t *testing.T) {
	setupTestServices(t)

	_, err := execute(t, "regenerate")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--document, --control or both")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b c", truncate("a\n b\t c", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
