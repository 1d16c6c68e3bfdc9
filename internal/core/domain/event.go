package domain

// EventKind tags a ChangeEvent.
type EventKind string

// Change event kinds.
const (
	EventDocumentAdded    EventKind = "document_added"
	EventDocumentReplaced EventKind = "document_replaced"
	EventDocumentRemoved  EventKind = "document_removed"
	EventControlAdded     EventKind = "control_added"
	EventControlEdited    EventKind = "control_edited"
	EventControlRemoved   EventKind = "control_removed"

	// EventControlActivated re-enables a previously deactivated control.
	EventControlActivated EventKind = "control_activated"

	// EventRegenerate is a manual regenerate request; see RegenerateScope.
	EventRegenerate EventKind = "regenerate"
)

// ChangeEvent is a domain mutation the engine reacts to.
type ChangeEvent struct {
	Kind       EventKind
	DocumentID string
	ControlID  string

	// Scope is set for EventRegenerate.
	Scope RegenerateScope
}

// ScopeKind is the extent of a regenerate request.
type ScopeKind string

// Regenerate scopes.
const (
	ScopeCell   ScopeKind = "cell"
	ScopeColumn ScopeKind = "column"
	ScopeRow    ScopeKind = "row"
)

// RegenerateScope targets a cell (both IDs), a column (control only) or a
// row (document only).
type RegenerateScope struct {
	DocumentID string
	ControlID  string
}

// Kind resolves the scope, or returns ErrInvalidInput when neither ID is set.
func (s RegenerateScope) Kind() (ScopeKind, error) {
	switch {
	case s.DocumentID != "" && s.ControlID != "":
		return ScopeCell, nil
	case s.ControlID != "":
		return ScopeColumn, nil
	case s.DocumentID != "":
		return ScopeRow, nil
	default:
		return "", ErrInvalidInput
	}
}

// Reaction reports what the engine did in response to an event.
type Reaction struct {
	// Created lists the new cell instances.
	Created []Cell

	// Superseded counts replaced cell instances.
	Superseded int

	// Deleted counts removed cells.
	Deleted int

	// Skipped lists cells left alone because they already had work in flight.
	Skipped []CellKey

	// ExtractionInvalidated is set when the document's cache entry was dropped.
	ExtractionInvalidated bool

	// ExtractionKept is set when a row regenerate reused the cached
	// extraction because some of the row's cells had work in flight.
	ExtractionKept bool
}
