package driving

import "github.com/custodia-labs/tally/internal/core/domain"

// SettingsService manages application settings.
type SettingsService interface {
	// Get retrieves current application settings.
	Get() (*domain.AppSettings, error)

	// Save persists application settings.
	Save(settings *domain.AppSettings) error

	// Set updates a single setting by key after validating its value.
	Set(key, value string) error

	// Keys lists the recognised setting keys in display order.
	Keys() []string

	// IsSecret reports whether the key holds a credential that must be masked.
	IsSecret(key string) bool

	// Validate checks that the configured services can be used.
	Validate() error

	// GetDefaults returns default settings.
	GetDefaults() domain.AppSettings
}
