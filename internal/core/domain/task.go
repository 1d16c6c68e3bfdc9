package domain

import (
	"fmt"
	"time"
)

// TaskKind distinguishes the two kinds of engine work.
type TaskKind string

// Task kinds.
const (
	// TaskExtract fetches the extraction shared by every cell of a document version.
	TaskExtract TaskKind = "extract"

	// TaskGenerate produces the answer for one cell.
	TaskGenerate TaskKind = "generate"
)

// DispatchTask is an ephemeral unit of work owned by the dispatcher.
type DispatchTask struct {
	Kind TaskKind

	DocumentID      string
	DocumentVersion int

	// ControlID and CellID are set for generate tasks.
	ControlID string
	CellID    string

	EnqueuedAt time.Time
}

// ExtractTask creates the extraction task for a document version.
func ExtractTask(key ExtractionKey, now time.Time) DispatchTask {
	return DispatchTask{
		Kind:            TaskExtract,
		DocumentID:      key.DocumentID,
		DocumentVersion: key.Version,
		EnqueuedAt:      now,
	}
}

// GenerateTask creates the generation task for a cell instance.
func GenerateTask(cell *Cell, now time.Time) DispatchTask {
	return DispatchTask{
		Kind:            TaskGenerate,
		DocumentID:      cell.DocumentID,
		DocumentVersion: cell.DocumentVersion,
		ControlID:       cell.ControlID,
		CellID:          cell.ID,
		EnqueuedAt:      now,
	}
}

// Key identifies the task for duplicate suppression.
func (t DispatchTask) Key() string {
	if t.Kind == TaskExtract {
		return fmt.Sprintf("extract:%s@v%d", t.DocumentID, t.DocumentVersion)
	}
	return "generate:" + t.CellID
}

// ExtractionKey returns the document version the task depends on.
func (t DispatchTask) ExtractionKey() ExtractionKey {
	return ExtractionKey{DocumentID: t.DocumentID, Version: t.DocumentVersion}
}
