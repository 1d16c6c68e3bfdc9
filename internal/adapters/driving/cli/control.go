package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/tally/internal/core/domain"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Manage controls",
	Long: `Controls are the questions asked of every document. Each active control
is a column of the grid.`,
}

var controlAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Define a new control",
	Example: `  tally control add --title "Encryption" --prompt "Is data encrypted at rest"
  tally control add -t "MFA" -p "Is MFA enforced for all users?" -d "SOC 2 CC6.1"`,
	Args: cobra.NoArgs,
	RunE: runControlAdd,
}

var controlListCmd = &cobra.Command{
	Use:   "list",
	Short: "List controls",
	Args:  cobra.NoArgs,
	RunE:  runControlList,
}

var controlGetCmd = &cobra.Command{
	Use:   "get [control-id]",
	Short: "Show a control",
	Args:  cobra.ExactArgs(1),
	RunE:  runControlGet,
}

var controlEditCmd = &cobra.Command{
	Use:   "edit [control-id]",
	Short: "Edit a control",
	Long: `Edits a control. Changing the prompt or description re-answers the whole
column; changing only the title does not.`,
	Args: cobra.ExactArgs(1),
	RunE: runControlEdit,
}

var controlRemoveCmd = &cobra.Command{
	Use:   "remove [control-id]",
	Short: "Remove a control and its answers",
	Args:  cobra.ExactArgs(1),
	RunE:  runControlRemove,
}

var controlActivateCmd = &cobra.Command{
	Use:   "activate [control-id]",
	Short: "Show and answer a control again",
	Args:  cobra.ExactArgs(1),
	RunE:  runControlSetActive(true),
}

var controlDeactivateCmd = &cobra.Command{
	Use:   "deactivate [control-id]",
	Short: "Hide a control without deleting its answers",
	Args:  cobra.ExactArgs(1),
	RunE:  runControlSetActive(false),
}

var controlDuplicateCmd = &cobra.Command{
	Use:   "duplicate [control-id]",
	Short: "Copy a control",
	Args:  cobra.ExactArgs(1),
	RunE:  runControlDuplicate,
}

var controlSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Find active controls",
	Args:  cobra.ExactArgs(1),
	RunE:  runControlSearch,
}

var (
	controlTitle       string
	controlPrompt      string
	controlDescription string
	controlListAll     bool
	controlJSON        bool
)

func init() {
	for _, c := range []*cobra.Command{controlAddCmd, controlEditCmd} {
		c.Flags().StringVarP(&controlTitle, "title", "t", "", "short name")
		c.Flags().StringVarP(&controlPrompt, "prompt", "p", "", "question asked of each document")
		c.Flags().StringVarP(&controlDescription, "description", "d", "", "extra context for the question")
	}
	controlListCmd.Flags().BoolVarP(&controlListAll, "all", "a", false, "include inactive controls")
	controlListCmd.Flags().BoolVar(&controlJSON, "json", false, "print as JSON")

	controlCmd.AddCommand(controlAddCmd)
	controlCmd.AddCommand(controlListCmd)
	controlCmd.AddCommand(controlGetCmd)
	controlCmd.AddCommand(controlEditCmd)
	controlCmd.AddCommand(controlRemoveCmd)
	controlCmd.AddCommand(controlActivateCmd)
	controlCmd.AddCommand(controlDeactivateCmd)
	controlCmd.AddCommand(controlDuplicateCmd)
	controlCmd.AddCommand(controlSearchCmd)
	rootCmd.AddCommand(controlCmd)
}

func runControlAdd(cmd *cobra.Command, _ []string) error {
	if controlService == nil {
		return errors.New("control service not configured")
	}

	ctrl, err := controlService.Create(cmd.Context(), domain.ControlInput{
		Title:       controlTitle,
		Prompt:      controlPrompt,
		Description: controlDescription,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return errors.New("a control needs a title and a prompt that differ")
		}
		return fmt.Errorf("failed to add control: %w", err)
	}

	cmd.Printf("Added control %q (%s)\n", ctrl.Title, ctrl.ID)
	cmd.Printf("  Prompt: %s\n", ctrl.Prompt)
	return nil
}

func runControlList(cmd *cobra.Command, _ []string) error {
	if controlService == nil {
		return errors.New("control service not configured")
	}

	controls, err := controlService.List(cmd.Context(), controlListAll)
	if err != nil {
		return fmt.Errorf("failed to list controls: %w", err)
	}

	if controlJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(controls)
	}

	if len(controls) == 0 {
		cmd.Println("No controls defined.")
		cmd.Println("\nAdd one with: tally control add --title <title> --prompt <question>")
		return nil
	}

	printControls(cmd, controls)
	cmd.Printf("Total: %d controls\n", len(controls))
	return nil
}

func runControlGet(cmd *cobra.Command, args []string) error {
	if controlService == nil {
		return errors.New("control service not configured")
	}

	ctrl, err := controlService.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get control: %w", err)
	}

	cmd.Printf("Control: %s\n\n", ctrl.ID)
	cmd.Printf("  Title:       %s\n", ctrl.Title)
	cmd.Printf("  Prompt:      %s\n", ctrl.Prompt)
	if ctrl.Description != "" {
		cmd.Printf("  Description: %s\n", ctrl.Description)
	}
	cmd.Printf("  Active:      %t\n", ctrl.Active)
	cmd.Printf("  Version:     %d\n", ctrl.Version)
	cmd.Printf("  Updated:     %s\n", ctrl.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runControlEdit(cmd *cobra.Command, args []string) error {
	if controlService == nil {
		return errors.New("control service not configured")
	}

	var patch domain.ControlPatch
	if cmd.Flags().Changed("title") {
		patch.Title = &controlTitle
	}
	if cmd.Flags().Changed("prompt") {
		patch.Prompt = &controlPrompt
	}
	if cmd.Flags().Changed("description") {
		patch.Description = &controlDescription
	}
	if patch.Title == nil && patch.Prompt == nil && patch.Description == nil {
		return errors.New("nothing to change: pass --title, --prompt or --description")
	}

	ctrl, err := controlService.Update(cmd.Context(), args[0], patch)
	if err != nil {
		return fmt.Errorf("failed to edit control: %w", err)
	}
	cmd.Printf("Updated control %q, now version %d\n", ctrl.Title, ctrl.Version)
	return nil
}

func runControlRemove(cmd *cobra.Command, args []string) error {
	if controlService == nil {
		return errors.New("control service not configured")
	}

	if err := controlService.Remove(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to remove control: %w", err)
	}
	cmd.Printf("Removed control %s\n", args[0])
	return nil
}

func runControlSetActive(active bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if controlService == nil {
			return errors.New("control service not configured")
		}

		ctrl, err := controlService.Update(cmd.Context(), args[0], domain.ControlPatch{Active: &active})
		if err != nil {
			return fmt.Errorf("failed to update control: %w", err)
		}
		if active {
			cmd.Printf("Activated control %q\n", ctrl.Title)
		} else {
			cmd.Printf("Deactivated control %q\n", ctrl.Title)
		}
		return nil
	}
}

func runControlDuplicate(cmd *cobra.Command, args []string) error {
	if controlService == nil {
		return errors.New("control service not configured")
	}

	ctrl, err := controlService.Duplicate(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to duplicate control: %w", err)
	}
	cmd.Printf("Added control %q (%s)\n", ctrl.Title, ctrl.ID)
	return nil
}

func runControlSearch(cmd *cobra.Command, args []string) error {
	if controlService == nil {
		return errors.New("control service not configured")
	}

	controls, err := controlService.Search(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(controls) == 0 {
		cmd.Println("No matching controls.")
		return nil
	}
	printControls(cmd, controls)
	return nil
}

func printControls(cmd *cobra.Command, controls []domain.Control) {
	for i := range controls {
		c := &controls[i]
		status := ""
		if !c.Active {
			status = " " + mutedStyle.Render("(inactive)")
		}
		cmd.Printf("  %s%s\n", c.Title, status)
		cmd.Printf("    ID:     %s\n", c.ID)
		cmd.Printf("    Prompt: %s\n", c.Prompt)
		cmd.Println()
	}
}
