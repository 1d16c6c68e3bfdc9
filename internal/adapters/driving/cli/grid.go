package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/tally/internal/core/domain"
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Show the answer grid",
	Long:  `Shows every document against every active control.`,
	Args:  cobra.NoArgs,
	RunE:  runGrid,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show processing progress",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history [doc-id] [control-id]",
	Short: "Show superseded answers for a cell",
	Args:  cobra.ExactArgs(2),
	RunE:  runHistory,
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Answer cells again",
	Long: `Regenerates a cell (--document and --control), a column (--control)
or a row (--document). Cells with work in flight are skipped.`,
	Args: cobra.NoArgs,
	RunE: runRegenerate,
}

var (
	gridJSON       bool
	gridAnswers    bool
	regenDocument  string
	regenControl   string
	answerMaxWidth = 40
)

func init() {
	gridCmd.Flags().BoolVar(&gridJSON, "json", false, "print as JSON")
	gridCmd.Flags().BoolVarP(&gridAnswers, "answers", "a", false, "show answers instead of states")
	regenerateCmd.Flags().StringVarP(&regenDocument, "document", "d", "", "document ID")
	regenerateCmd.Flags().StringVarP(&regenControl, "control", "c", "", "control ID")

	rootCmd.AddCommand(gridCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(regenerateCmd)
}

func runGrid(cmd *cobra.Command, _ []string) error {
	if gridService == nil {
		return errors.New("grid service not configured")
	}

	view, err := gridService.GetGridView(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load grid: %w", err)
	}

	if gridJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	if len(view.Rows) == 0 || len(view.Controls) == 0 {
		cmd.Println("The grid is empty. Add documents and controls to fill it.")
		return nil
	}

	cmd.Println(renderGrid(view, gridAnswers))
	if view.ProcessingCount > 0 {
		cmd.Println(mutedStyle.Render(fmt.Sprintf("%d cells processing", view.ProcessingCount)))
	}
	return nil
}

// renderGrid draws the grid as a table with one column per control.
func renderGrid(view *domain.GridView, answers bool) string {
	headers := make([]string, 0, len(view.Controls)+1)
	headers = append(headers, "Document")
	for i := range view.Controls {
		headers = append(headers, view.Controls[i].Title)
	}

	states := make([][]domain.CellState, len(view.Rows))
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colourBorder)).
		Headers(headers...)

	for r, row := range view.Rows {
		cells := make([]string, 0, len(row.Cells)+1)
		cells = append(cells, row.Document.Filename)
		states[r] = make([]domain.CellState, len(row.Cells))
		for c, cell := range row.Cells {
			states[r][c] = cell.State
			cells = append(cells, cellText(cell, answers))
		}
		t.Row(cells...)
	}

	t.StyleFunc(func(row, col int) lipgloss.Style {
		base := lipgloss.NewStyle().Padding(0, 1)
		if row == table.HeaderRow {
			return headerStyle.Padding(0, 1)
		}
		if col == 0 || row < 0 || row >= len(states) || col-1 >= len(states[row]) {
			return base
		}
		return stateStyle(states[row][col-1]).Padding(0, 1)
	})
	return t.String()
}

func cellText(cell domain.CellSummary, answers bool) string {
	switch {
	case cell.State == domain.CellFailed && cell.Error != nil:
		return truncate("failed: "+cell.Error.Message, answerMaxWidth)
	case answers && cell.State == domain.CellCompleted:
		return truncate(cell.Answer, answerMaxWidth)
	default:
		return strings.ReplaceAll(cell.State.String(), "_", " ")
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if gridService == nil {
		return errors.New("grid service not configured")
	}

	summary, err := gridService.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	cmd.Println(headerStyle.Render("Processing"))
	cmd.Printf("  Cells:      %d\n", summary.TotalPossible)
	cmd.Printf("  Processed:  %d (%.1f%%)\n", summary.TotalProcessed, summary.CompletionPercentage)
	cmd.Printf("  Processing: %d\n", summary.CurrentlyProcessing)

	if len(summary.StatusBreakdown) > 0 {
		states := make([]string, 0, len(summary.StatusBreakdown))
		for s := range summary.StatusBreakdown {
			states = append(states, string(s))
		}
		sort.Strings(states)

		cmd.Println()
		for _, s := range states {
			state := domain.CellState(s)
			cmd.Printf("  %-18s %d\n", stateStyle(state).Render(s), summary.StatusBreakdown[state])
		}
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if gridService == nil {
		return errors.New("grid service not configured")
	}

	cells, err := gridService.History(cmd.Context(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}
	if len(cells) == 0 {
		cmd.Println("No earlier answers.")
		return nil
	}

	for i := range cells {
		c := &cells[i]
		cmd.Printf("  %s  doc v%d, control v%d, rev %d\n",
			c.SupersededAt.Format("2006-01-02 15:04:05"), c.DocumentVersion, c.ControlVersion, c.Revision)
		cmd.Printf("    State:  %s\n", stateStyle(c.State).Render(c.State.String()))
		if c.Result != nil {
			cmd.Printf("    Answer: %s\n", truncate(c.Result.Text, 120))
		}
		if c.Failure != nil {
			cmd.Printf("    Error:  %s\n", c.Failure.Message)
		}
		cmd.Println()
	}
	return nil
}

func runRegenerate(cmd *cobra.Command, _ []string) error {
	if gridService == nil {
		return errors.New("grid service not configured")
	}

	scope := domain.RegenerateScope{DocumentID: regenDocument, ControlID: regenControl}
	kind, err := scope.Kind()
	if err != nil {
		return errors.New("pass --document, --control or both")
	}

	reaction, err := gridService.RequestRegenerate(cmd.Context(), scope)
	if err != nil {
		return fmt.Errorf("failed to regenerate: %w", err)
	}

	cmd.Printf("Regenerating %s: %d queued", kind, len(reaction.Created))
	if len(reaction.Skipped) > 0 {
		cmd.Printf(", %d skipped (already processing)", len(reaction.Skipped))
	}
	if reaction.ExtractionKept {
		cmd.Printf("; extraction kept while the row is processing")
	}
	cmd.Println()
	return nil
}
