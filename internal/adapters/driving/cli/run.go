package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/tally/internal/adapters/driving/watch"
	"github.com/custodia-labs/tally/internal/core/domain"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the grid",
	Long: `Runs the processing engine, extracting documents and answering every
pending cell. Runs until interrupted, or with --until-idle until no work
is left.`,
	Example: `  tally run --until-idle
  tally run --watch ./evidence`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runUntilIdle bool
	runWatchDir  string
	runQuiet     bool
)

// watchDebounce delays a watched file's upload until writes settle.
const watchDebounce = 500 * time.Millisecond

func init() {
	runCmd.Flags().BoolVar(&runUntilIdle, "until-idle", false, "exit once no work is queued or running")
	runCmd.Flags().StringVarP(&runWatchDir, "watch", "w", "", "upload files from this directory as they change")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "do not print cell updates")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	if engine == nil || gridService == nil {
		return errors.New("engine not configured")
	}
	if runUntilIdle && runWatchDir != "" {
		return errors.New("--until-idle and --watch cannot be combined")
	}
	if settingsService != nil {
		if err := settingsService.Validate(); err != nil {
			return fmt.Errorf("settings incomplete: %w\nUse 'tally settings set-key generation.api_key' to configure", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !runQuiet {
		events := gridService.Subscribe(ctx)
		go printCellEvents(cmd, events)
	}

	engineErr := startEngine(ctx)

	if runWatchDir != "" {
		w, err := watch.NewWatcher(runWatchDir, documentService, watchDebounce)
		if err != nil {
			_ = engine.Stop()
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				cmd.PrintErrf("watcher stopped: %v\n", err)
				stop()
			}
		}()
		cmd.Printf("Watching %s\n", runWatchDir)
	}

	if runUntilIdle {
		// Give the recovery sweep a moment to queue work before polling.
		time.Sleep(100 * time.Millisecond)
		err := engine.WaitIdle(ctx)
		_ = engine.Stop()
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return printSummary(cmd)
	}

	select {
	case <-ctx.Done():
	case err := <-engineErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	_ = engine.Stop()
	cmd.Println("\nStopped.")
	return nil
}

// startEngine runs the engine in the background. The channel receives the
// engine's exit error.
func startEngine(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- engine.Start(ctx)
	}()
	return done
}

func printCellEvents(cmd *cobra.Command, events <-chan domain.CellEvent) {
	for ev := range events {
		c := ev.Cell
		if ev.Removed {
			continue
		}
		line := fmt.Sprintf("%s  %s × %s  %s",
			ev.At.Format("15:04:05"), short(c.DocumentID), short(c.ControlID),
			stateStyle(c.State).Render(c.State.String()))
		if c.Failure != nil {
			line += "  " + mutedStyle.Render(c.Failure.Message)
		}
		cmd.Println(line)
	}
}

func printSummary(cmd *cobra.Command) error {
	summary, err := gridService.Status(context.Background())
	if err != nil {
		return err
	}
	cmd.Printf("\nDone: %d of %d cells processed (%.1f%%)\n",
		summary.TotalProcessed, summary.TotalPossible, summary.CompletionPercentage)
	if n := summary.StatusBreakdown[domain.CellFailed]; n > 0 {
		cmd.Printf("%d cells failed. Run 'tally grid' to see why.\n", n)
	}
	return nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
