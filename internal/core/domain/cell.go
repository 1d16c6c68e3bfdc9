package domain

import "time"

// CellState is a cell's position in its processing lifecycle.
type CellState string

// Cell lifecycle states.
const (
	// CellPending has work to do that has not been routed yet.
	CellPending CellState = "pending"

	// CellExtractingQueued is waiting for its document's extraction task.
	CellExtractingQueued CellState = "extracting_queued"

	// CellExtracting is waiting on an extraction service call.
	CellExtracting CellState = "extracting"

	// CellGeneratingQueued has extraction ready and awaits a generation worker.
	CellGeneratingQueued CellState = "generating_queued"

	// CellGenerating is waiting on a generation service call.
	CellGenerating CellState = "generating"

	// CellCompleted holds an answer.
	CellCompleted CellState = "completed"

	// CellFailed holds a failure; see Cell.Failure for retry eligibility.
	CellFailed CellState = "failed"
)

// AllCellStates lists every state in lifecycle order.
var AllCellStates = []CellState{
	CellPending,
	CellExtractingQueued,
	CellExtracting,
	CellGeneratingQueued,
	CellGenerating,
	CellCompleted,
	CellFailed,
}

// cellTransitions lists the allowed moves. Queued cells may return to
// pending when their work is withdrawn, e.g. for a deactivated control.
var cellTransitions = map[CellState][]CellState{
	CellPending:          {CellExtractingQueued, CellGeneratingQueued, CellFailed},
	CellExtractingQueued: {CellExtracting, CellPending, CellFailed},
	CellExtracting:       {CellGeneratingQueued, CellFailed},
	CellGeneratingQueued: {CellGenerating, CellPending, CellFailed},
	CellGenerating:       {CellCompleted, CellFailed},
	CellFailed:           {CellPending},
}

// IsValid returns true if the state is recognised.
func (s CellState) IsValid() bool {
	_, ok := cellTransitions[s]
	return ok || s == CellCompleted
}

// IsStable returns true for states observable at rest: pending, completed, failed.
func (s CellState) IsStable() bool {
	return s == CellPending || s == CellCompleted || s == CellFailed
}

// IsQueued returns true when the cell has work that has not started.
func (s CellState) IsQueued() bool {
	return s == CellExtractingQueued || s == CellGeneratingQueued
}

// IsInFlight returns true while an external service call is outstanding.
func (s CellState) IsInFlight() bool {
	return s == CellExtracting || s == CellGenerating
}

// HasWork returns true when a task for the cell is queued or running.
func (s CellState) HasWork() bool {
	return s.IsQueued() || s.IsInFlight()
}

// IsTerminal returns true for completed and failed cells.
func (s CellState) IsTerminal() bool {
	return s == CellCompleted || s == CellFailed
}

// String returns the string representation.
func (s CellState) String() string {
	return string(s)
}

// CanTransition reports whether the lifecycle allows moving from one state to another.
func CanTransition(from, to CellState) bool {
	for _, allowed := range cellTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CellKey addresses the current cell of a (document, control) pair.
type CellKey struct {
	DocumentID string
	ControlID  string
}

// Citation points at a location in the extracted document.
type Citation struct {
	// ID is the extraction-assigned citation identifier.
	ID string `json:"id"`

	// Page is the 1-based page number, 0 if unknown.
	Page int `json:"page,omitempty"`

	// Text is the cited passage.
	Text string `json:"text,omitempty"`

	// BBox is the bounding box on the page as [x0, y0, x1, y1], if known.
	BBox []float64 `json:"bbox,omitempty"`
}

// Answer is the generation result stored in a completed cell.
type Answer struct {
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Model      string     `json:"model,omitempty"`
	TokensUsed int        `json:"tokens_used,omitempty"`
}

// CellFailure is the error detail stored in a failed cell.
type CellFailure struct {
	Class     ErrorClass `json:"class"`
	Message   string     `json:"message"`
	Retryable bool       `json:"retryable"`
}

// Error returns the stored message, which already names the service and class.
func (f *CellFailure) Error() string { return f.Message }

// FailureFrom converts an error into a cell failure.
func FailureFrom(err error) *CellFailure {
	class := ClassOf(err)
	return &CellFailure{
		Class:     class,
		Message:   err.Error(),
		Retryable: class != ErrorClassPermanent,
	}
}

// Cell is one instance of the answer for a (document, control) pair.
//
// A cell's inputs are fixed by its document and control versions plus a
// revision counter for regenerations without a version change. Any input
// change produces a new cell instance that supersedes this one.
type Cell struct {
	// ID uniquely identifies this cell instance.
	ID string

	DocumentID      string
	ControlID       string
	DocumentVersion int
	ControlVersion  int

	// Revision counts manual regenerations at the same versions.
	Revision int

	State   CellState
	Result  *Answer
	Failure *CellFailure

	// Attempts counts generation service calls made for this instance. The
	// extraction is shared by the whole row and is not counted here.
	Attempts int

	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// SupersededAt is set on audit records that are no longer current.
	SupersededAt time.Time
}

// NewCell creates a pending cell instance for the current document and control versions.
func NewCell(id string, doc *Document, ctrl *Control, revision int, now time.Time) *Cell {
	return &Cell{
		ID:              id,
		DocumentID:      doc.ID,
		ControlID:       ctrl.ID,
		DocumentVersion: doc.Version,
		ControlVersion:  ctrl.Version,
		Revision:        revision,
		State:           CellPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Key returns the (document, control) pair.
func (c *Cell) Key() CellKey {
	return CellKey{DocumentID: c.DocumentID, ControlID: c.ControlID}
}

// ExtractionKey returns the extraction this cell depends on.
func (c *Cell) ExtractionKey() ExtractionKey {
	return ExtractionKey{DocumentID: c.DocumentID, Version: c.DocumentVersion}
}

// IsStale reports whether an in-flight cell started before now-threshold.
func (c *Cell) IsStale(now time.Time, threshold time.Duration) bool {
	if !c.State.IsInFlight() || c.StartedAt.IsZero() {
		return false
	}
	return now.Sub(c.StartedAt) > threshold
}

// StateChange is an atomic update requested against a specific cell instance.
type StateChange struct {
	// CellID is the instance the change applies to. The change fails with
	// ErrStaleCell if it is no longer current.
	CellID string

	// To is the target state.
	To CellState

	// Result is stored when moving to completed.
	Result *Answer

	// Failure is stored when moving to failed.
	Failure *CellFailure

	// Attempts is added to the attempt count.
	Attempts int

	// At is the time of the change.
	At time.Time
}

// Apply validates and applies a state change, maintaining timestamps.
func (c *Cell) Apply(ch StateChange) error {
	if ch.CellID != "" && ch.CellID != c.ID {
		return ErrStaleCell
	}
	if !CanTransition(c.State, ch.To) {
		return ErrInvalidTransition
	}

	at := ch.At
	if at.IsZero() {
		at = time.Now()
	}

	switch {
	case ch.To.IsQueued():
		c.EnqueuedAt = at
	case ch.To.IsInFlight():
		c.StartedAt = at
	case ch.To == CellCompleted:
		c.FinishedAt = at
		c.Result = ch.Result
		c.Failure = nil
	case ch.To == CellFailed:
		c.FinishedAt = at
		c.Failure = ch.Failure
		if c.Failure == nil {
			c.Failure = &CellFailure{Class: ErrorClassTransient, Message: "unknown failure", Retryable: true}
		}
	case ch.To == CellPending:
		c.Failure = nil
		c.Result = nil
		c.EnqueuedAt = time.Time{}
		c.StartedAt = time.Time{}
		c.FinishedAt = time.Time{}
	}

	c.State = ch.To
	c.Attempts += ch.Attempts
	c.UpdatedAt = at
	return nil
}

// CellEvent notifies subscribers of a cell state change.
type CellEvent struct {
	Cell Cell
	At   time.Time

	// Removed is set when the cell was deleted with its document or control.
	Removed bool
}
