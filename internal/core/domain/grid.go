package domain

import "time"

// CellSummary is the grid view of one cell.
type CellSummary struct {
	DocumentID string
	ControlID  string
	CellID     string
	State      CellState
	Answer     string
	Citations  []Citation
	Confidence float64
	Error      *CellFailure
	Attempts   int
	UpdatedAt  time.Time
}

// SummariseCell builds the grid view of a cell.
func SummariseCell(c *Cell) CellSummary {
	s := CellSummary{
		DocumentID: c.DocumentID,
		ControlID:  c.ControlID,
		CellID:     c.ID,
		State:      c.State,
		Error:      c.Failure,
		Attempts:   c.Attempts,
		UpdatedAt:  c.UpdatedAt,
	}
	if c.Result != nil {
		s.Answer = c.Result.Text
		s.Citations = c.Result.Citations
		s.Confidence = c.Result.Confidence
	}
	return s
}

// GridRow is one document and its cells in control column order.
type GridRow struct {
	Document Document
	Cells    []CellSummary
}

// GridView is the documents × active controls matrix.
type GridView struct {
	Controls []Control
	Rows     []GridRow

	// ProcessingCount is the number of cells with queued or in-flight work.
	ProcessingCount int
}

// ProcessingSummary aggregates cell states across the grid.
type ProcessingSummary struct {
	TotalPossible        int
	TotalProcessed       int
	CurrentlyProcessing  int
	StatusBreakdown      map[CellState]int
	CompletionPercentage float64
}
