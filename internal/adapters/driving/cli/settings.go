package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/tally/internal/core/domain"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "View and change settings",
	Long:  `Settings are stored in ~/.tally/config.toml.`,
	RunE:  runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Change a setting",
	Example: `  tally settings set engine.concurrency 4
  tally settings set extraction.provider reducto
  tally settings set upload.allowed_types "application/pdf,text/plain"`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

var settingsSetKeyCmd = &cobra.Command{
	Use:   "set-key [key]",
	Short: "Store an API key without echoing it",
	Example: `  tally settings set-key generation.api_key
  tally settings set-key extraction.api_key`,
	Args: cobra.ExactArgs(1),
	RunE: runSettingsSetKey,
}

var settingsKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List setting keys",
	Args:  cobra.NoArgs,
	RunE:  runSettingsKeys,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsSetKeyCmd)
	settingsCmd.AddCommand(settingsKeysCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	s, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	cmd.Println(headerStyle.Render("Engine"))
	cmd.Printf("  Concurrency:     %d\n", s.Engine.Concurrency)
	cmd.Printf("  Stale after:     %s\n", s.Engine.StaleAfter)
	cmd.Printf("  Sweep interval:  %s\n", s.Engine.SweepInterval)
	cmd.Println()

	cmd.Println(headerStyle.Render("Retry"))
	cmd.Printf("  Max attempts:    %d\n", s.Retry.MaxAttempts)
	cmd.Printf("  Backoff:         %s to %s (x%.1f)\n", s.Retry.InitialBackoff, s.Retry.MaxBackoff, s.Retry.Multiplier)
	cmd.Println()

	cmd.Println(headerStyle.Render("Rate limits"))
	cmd.Printf("  Requests/sec:    %.1f (burst %d)\n", s.Rate.RequestsPerSecond, s.Rate.Burst)
	cmd.Printf("  Cooldown:        %s\n", s.Rate.Cooldown)
	cmd.Println()

	cmd.Println(headerStyle.Render("Extraction"))
	cmd.Printf("  Provider:        %s\n", s.Extraction.Provider)
	if s.Extraction.BaseURL != "" {
		cmd.Printf("  Base URL:        %s\n", s.Extraction.BaseURL)
	}
	if s.Extraction.Provider.RequiresAPIKey() {
		cmd.Printf("  API key:         %s\n", displayKey(s.Extraction.APIKey))
	}
	cmd.Printf("  Timeout:         %s\n", s.Extraction.Timeout)
	cmd.Printf("  Cache TTL:       %s\n", displayTTL(s.Extraction.CacheTTL))
	cmd.Println()

	cmd.Println(headerStyle.Render("Generation"))
	if s.Generation.BaseURL != "" {
		cmd.Printf("  Base URL:        %s\n", s.Generation.BaseURL)
	}
	cmd.Printf("  Model:           %s\n", s.Generation.Model)
	cmd.Printf("  API key:         %s\n", displayKey(s.Generation.APIKey))
	cmd.Printf("  Timeout:         %s\n", s.Generation.Timeout)
	cmd.Printf("  Temperature:     %.2f\n", s.Generation.Temperature)
	if s.Generation.MaxTokens > 0 {
		cmd.Printf("  Max tokens:      %d\n", s.Generation.MaxTokens)
	}
	cmd.Println()

	cmd.Println(headerStyle.Render("Uploads"))
	cmd.Printf("  Max file size:   %s\n", formatSize(s.Upload.MaxFileSize))
	cmd.Printf("  Allowed types:   %s\n", strings.Join(s.Upload.AllowedTypes, ", "))

	if err := settingsService.Validate(); err != nil {
		cmd.Println()
		cmd.Printf("Not ready: %v\n", err)
	}
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	key, value := args[0], args[1]
	if err := settingsService.Set(key, value); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return fmt.Errorf("%w\nRun 'tally settings keys' to list valid keys", err)
		}
		return fmt.Errorf("failed to save setting: %w", err)
	}

	if settingsService.IsSecret(key) {
		value = maskAPIKey(value)
	}
	cmd.Printf("%s = %s\n", key, value)
	return nil
}

func runSettingsSetKey(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	key := args[0]
	if !settingsService.IsSecret(key) {
		return fmt.Errorf("%s is not an API key setting; use 'tally settings set'", key)
	}

	cmd.Printf("Enter %s: ", key)
	secret := readPassword(cmd.InOrStdin())
	cmd.Println()
	if secret == "" {
		return errors.New("no key entered")
	}

	if err := settingsService.Set(key, secret); err != nil {
		return fmt.Errorf("failed to save key: %w", err)
	}
	cmd.Printf("%s = %s\n", key, maskAPIKey(secret))
	return nil
}

func runSettingsKeys(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	for _, key := range settingsService.Keys() {
		if settingsService.IsSecret(key) {
			cmd.Printf("  %s %s\n", key, mutedStyle.Render("(secret)"))
			continue
		}
		cmd.Printf("  %s\n", key)
	}
	return nil
}

// readPassword reads a line without echo when in is a terminal.
func readPassword(in io.Reader) string {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return strings.TrimSpace(string(password))
		}
	}
	input, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(input)
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func displayKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	return maskAPIKey(key)
}

func displayTTL(ttl time.Duration) string {
	if ttl == 0 {
		return "never"
	}
	return ttl.String()
}
