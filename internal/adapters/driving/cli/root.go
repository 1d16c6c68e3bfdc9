// Package cli provides the tally command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/tally/internal/core/ports/driving"
	"github.com/custodia-labs/tally/internal/logger"
)

// version is set at build time.
var version = "dev"

// Global flags.
var (
	verbose bool
	dataDir string
)

// Services backing the commands. Set by SetServices or by the bootstrap
// hook before a command runs.
var (
	documentService driving.DocumentService
	controlService  driving.ControlService
	gridService     driving.GridService
	settingsService driving.SettingsService
	engine          driving.Engine
)

// Services aggregates the driving ports used by the commands.
type Services struct {
	Document driving.DocumentService
	Control  driving.ControlService
	Grid     driving.GridService
	Settings driving.SettingsService
	Engine   driving.Engine
}

// Options are the global flag values passed to the bootstrap hook.
type Options struct {
	DataDir string
	Verbose bool
}

// Bootstrap builds the services once global flags are parsed. The returned
// cleanup func runs after the command finishes.
type Bootstrap func(opts Options) (*Services, func(), error)

var (
	bootstrap Bootstrap
	cleanup   func()
)

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Answer control questions across a set of documents",
	Long: `Tally extracts each uploaded document once and asks every control
question of it, keeping a grid of answers current as documents and
controls change.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.tally)")
}

// SetVersion sets the version reported by "tally version".
func SetVersion(v string) {
	version = v
}

// SetServices installs the services directly, bypassing the bootstrap hook.
func SetServices(s *Services) {
	documentService = s.Document
	controlService = s.Control
	gridService = s.Grid
	settingsService = s.Settings
	engine = s.Engine
}

// SetBootstrap installs the hook that builds services on first use.
func SetBootstrap(fn Bootstrap) {
	bootstrap = fn
}

// Execute runs the root command.
func Execute() error {
	defer func() {
		if cleanup != nil {
			cleanup()
			cleanup = nil
		}
	}()
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)
	if cmd == versionCmd || cmd.Name() == "help" || bootstrap == nil || documentService != nil {
		return nil
	}

	services, done, err := bootstrap(Options{DataDir: dataDir, Verbose: verbose})
	if err != nil {
		return err
	}
	SetServices(services)
	cleanup = done
	return nil
}
