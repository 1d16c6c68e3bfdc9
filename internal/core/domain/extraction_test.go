package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractionResult_Annotated(t *testing.T) {
	r := &ExtractionResult{
		Text: "full text",
		Citations: []Citation{
			{ID: "1", Text: "Effective 1 Jan 2024."},
			{ID: "2", Text: "Signed by the board."},
		},
	}

	assert.Equal(t, "[c:1] Effective 1 Jan 2024.\n[c:2] Signed by the board.", r.Annotated())

	plain := &ExtractionResult{Text: "just text"}
	assert.Equal(t, "just text", plain.Annotated())
}

func TestExtractionResult_CitationByID(t *testing.T) {
	r := &ExtractionResult{Citations: []Citation{{ID: "a", Page: 2}}}

	c, ok := r.CitationByID("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Page)

	_, ok = r.CitationByID("b")
	assert.False(t, ok)
}

func TestExtractionEntry_States(t *testing.T) {
	ready := &ExtractionEntry{Result: &ExtractionResult{Text: "x"}}
	assert.True(t, ready.Ready())
	assert.False(t, ready.PermanentlyFailed())
	assert.NoError(t, ready.Err())

	perm := &ExtractionEntry{Failure: &CellFailure{Class: ErrorClassPermanent, Message: "bad pdf"}}
	assert.False(t, perm.Ready())
	assert.True(t, perm.PermanentlyFailed())
	assert.Equal(t, ErrorClassPermanent, ClassOf(perm.Err()))

	var missing *ExtractionEntry
	assert.False(t, missing.Ready())
}

func TestExtractionEntry_ErrKeepsStoredMessage(t *testing.T) {
	original := Permanent("extraction", "unsupported document")
	entry := &ExtractionEntry{Failure: FailureFrom(original)}

	err := entry.Err()
	assert.Equal(t, original.Error(), err.Error())
	assert.Equal(t, "extraction permanent error: unsupported document", err.Error())
	assert.Equal(t, ErrorClassPermanent, ClassOf(err))
	assert.False(t, IsRetryable(err))

	// Recording a replayed failure again does not grow the message.
	assert.Equal(t, entry.Failure.Message, FailureFrom(err).Message)
}

func TestExtractionEntry_Expired(t *testing.T) {
	now := time.Now()
	e := &ExtractionEntry{FetchedAt: now.Add(-time.Hour)}

	assert.False(t, e.Expired(now, 0))
	assert.True(t, e.Expired(now, time.Minute))
	assert.False(t, e.Expired(now, 2*time.Hour))
}

func TestDispatchTask_Keys(t *testing.T) {
	now := time.Now()
	extract := ExtractTask(ExtractionKey{DocumentID: "d", Version: 2}, now)
	assert.Equal(t, "extract:d@v2", extract.Key())
	assert.Equal(t, ExtractionKey{DocumentID: "d", Version: 2}, extract.ExtractionKey())

	cell := &Cell{ID: "c1", DocumentID: "d", DocumentVersion: 2, ControlID: "k"}
	gen := GenerateTask(cell, now)
	assert.Equal(t, TaskGenerate, gen.Kind)
	assert.Equal(t, "generate:c1", gen.Key())
}

func TestRegenerateScope_Kind(t *testing.T) {
	tests := []struct {
		name    string
		scope   RegenerateScope
		want    ScopeKind
		wantErr bool
	}{
		{"cell", RegenerateScope{DocumentID: "d", ControlID: "c"}, ScopeCell, false},
		{"column", RegenerateScope{ControlID: "c"}, ScopeColumn, false},
		{"row", RegenerateScope{DocumentID: "d"}, ScopeRow, false},
		{"empty", RegenerateScope{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.scope.Kind()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
