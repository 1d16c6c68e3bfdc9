package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// GridOutput is the output schema for the get_grid tool and the grid resource.
type GridOutput struct {
	Controls        []ControlOutput `json:"controls"`
	Rows            []RowOutput     `json:"rows"`
	ProcessingCount int             `json:"processing_count"`
}

// ControlOutput describes one control column.
type ControlOutput struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Prompt      string `json:"prompt"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
	Version     int    `json:"version"`
}

// RowOutput is one document and its cells in column order.
type RowOutput struct {
	DocumentID string       `json:"document_id"`
	Filename   string       `json:"filename"`
	Version    int          `json:"version"`
	Cells      []CellOutput `json:"cells"`
}

// CellOutput is the state and answer of one cell.
type CellOutput struct {
	ControlID  string            `json:"control_id"`
	CellID     string            `json:"cell_id,omitempty"`
	State      string            `json:"state"`
	Answer     string            `json:"answer,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	Citations  []domain.Citation `json:"citations,omitempty"`
	Error      string            `json:"error,omitempty"`
	Retryable  bool              `json:"retryable,omitempty"`
	Attempts   int               `json:"attempts,omitempty"`
}

// GetGridInput is the input schema for the get_grid tool.
type GetGridInput struct {
	DocumentID string `json:"document_id,omitempty" jsonschema:"only return the row for this document"`
}

// RegenerateInput is the input schema for the regenerate tool.
type RegenerateInput struct {
	DocumentID string `json:"document_id,omitempty" jsonschema:"document row to regenerate; with control_id, a single cell"`
	ControlID  string `json:"control_id,omitempty" jsonschema:"control column to regenerate; with document_id, a single cell"`
}

// RegenerateOutput is the output schema for the regenerate tool.
type RegenerateOutput struct {
	Scope      string   `json:"scope"`
	Created    int      `json:"created"`
	Superseded int      `json:"superseded"`
	Skipped    []string `json:"skipped,omitempty"`

	// ExtractionKept reports a row regenerate that reused the cached
	// extraction because the row had work in flight.
	ExtractionKept bool `json:"extraction_kept,omitempty"`
}

// StatusInput is the (empty) input schema for the processing_status tool.
type StatusInput struct{}

// StatusOutput is the output schema for the processing_status tool.
type StatusOutput struct {
	TotalPossible        int            `json:"total_possible"`
	TotalProcessed       int            `json:"total_processed"`
	CurrentlyProcessing  int            `json:"currently_processing"`
	CompletionPercentage float64        `json:"completion_percentage"`
	StatusBreakdown      map[string]int `json:"status_breakdown"`
}

// ListControlsInput is the input schema for the list_controls tool.
type ListControlsInput struct {
	Query           string `json:"query,omitempty" jsonschema:"only return active controls matching this text"`
	IncludeInactive bool   `json:"include_inactive,omitempty" jsonschema:"include deactivated controls"`
}

// ListControlsOutput is the output schema for the list_controls tool.
type ListControlsOutput struct {
	Controls []ControlOutput `json:"controls"`
	Count    int             `json:"count"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_grid",
		Description: "Get the document × control grid with each cell's state and answer",
	}, s.handleGetGrid)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "regenerate",
		Description: "Regenerate a cell, a control column or a document row",
	}, s.handleRegenerate)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "processing_status",
		Description: "Summarise how much of the grid has been answered",
	}, s.handleStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_controls",
		Description: "List the controls evaluated against every document",
	}, s.handleListControls)
}

func (s *Server) handleGetGrid(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetGridInput,
) (*mcp.CallToolResult, GridOutput, error) {
	view, err := s.ports.Grid.GetGridView(ctx)
	if err != nil {
		return nil, GridOutput{}, err
	}
	out := toGridOutput(view)
	if input.DocumentID != "" {
		rows := out.Rows[:0]
		for _, r := range out.Rows {
			if r.DocumentID == input.DocumentID {
				rows = append(rows, r)
			}
		}
		if len(rows) == 0 {
			return nil, GridOutput{}, fmt.Errorf("document %s: %w", input.DocumentID, domain.ErrNotFound)
		}
		out.Rows = rows
	}
	return nil, out, nil
}

func (s *Server) handleRegenerate(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RegenerateInput,
) (*mcp.CallToolResult, RegenerateOutput, error) {
	scope := domain.RegenerateScope{DocumentID: input.DocumentID, ControlID: input.ControlID}
	kind, err := scope.Kind()
	if err != nil {
		return nil, RegenerateOutput{}, fmt.Errorf("document_id or control_id is required: %w", err)
	}

	reaction, err := s.ports.Grid.RequestRegenerate(ctx, scope)
	if err != nil {
		return nil, RegenerateOutput{}, err
	}

	out := RegenerateOutput{
		Scope:          string(kind),
		Created:        len(reaction.Created),
		Superseded:     reaction.Superseded,
		ExtractionKept: reaction.ExtractionKept,
	}
	for _, k := range reaction.Skipped {
		out.Skipped = append(out.Skipped, k.DocumentID+"/"+k.ControlID)
	}
	return nil, out, nil
}

func (s *Server) handleStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	summary, err := s.ports.Grid.Status(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}

	out := StatusOutput{
		TotalPossible:        summary.TotalPossible,
		TotalProcessed:       summary.TotalProcessed,
		CurrentlyProcessing:  summary.CurrentlyProcessing,
		CompletionPercentage: summary.CompletionPercentage,
		StatusBreakdown:      make(map[string]int, len(summary.StatusBreakdown)),
	}
	for state, n := range summary.StatusBreakdown {
		out.StatusBreakdown[string(state)] = n
	}
	return nil, out, nil
}

func (s *Server) handleListControls(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListControlsInput,
) (*mcp.CallToolResult, ListControlsOutput, error) {
	var (
		controls []domain.Control
		err      error
	)
	if input.Query != "" {
		controls, err = s.ports.Control.Search(ctx, input.Query)
	} else {
		controls, err = s.ports.Control.List(ctx, input.IncludeInactive)
	}
	if err != nil {
		return nil, ListControlsOutput{}, err
	}

	out := ListControlsOutput{
		Controls: make([]ControlOutput, len(controls)),
		Count:    len(controls),
	}
	for i := range controls {
		out.Controls[i] = toControlOutput(&controls[i])
	}
	return nil, out, nil
}

func toGridOutput(view *domain.GridView) GridOutput {
	out := GridOutput{
		Controls:        make([]ControlOutput, len(view.Controls)),
		Rows:            make([]RowOutput, len(view.Rows)),
		ProcessingCount: view.ProcessingCount,
	}
	for i := range view.Controls {
		out.Controls[i] = toControlOutput(&view.Controls[i])
	}
	for i, row := range view.Rows {
		r := RowOutput{
			DocumentID: row.Document.ID,
			Filename:   row.Document.Filename,
			Version:    row.Document.Version,
			Cells:      make([]CellOutput, len(row.Cells)),
		}
		for j, c := range row.Cells {
			cell := CellOutput{
				ControlID:  c.ControlID,
				CellID:     c.CellID,
				State:      string(c.State),
				Answer:     c.Answer,
				Confidence: c.Confidence,
				Citations:  c.Citations,
				Attempts:   c.Attempts,
			}
			if c.Error != nil {
				cell.Error = c.Error.Message
				cell.Retryable = c.Error.Retryable
			}
			r.Cells[j] = cell
		}
		out.Rows[i] = r
	}
	return out
}

func toControlOutput(c *domain.Control) ControlOutput {
	return ControlOutput{
		ID:          c.ID,
		Title:       c.Title,
		Prompt:      c.Prompt,
		Description: c.Description,
		Active:      c.Active,
		Version:     c.Version,
	}
}
