package domain

import "time"

// ExtractionProvider selects the extraction service adapter.
type ExtractionProvider string

// Available extraction providers.
const (
	// ExtractionProviderReducto is the hosted document parsing API.
	ExtractionProviderReducto ExtractionProvider = "reducto"

	// ExtractionProviderLocal reads text-like documents directly.
	ExtractionProviderLocal ExtractionProvider = "local"
)

// IsValid returns true if the provider is recognised.
func (p ExtractionProvider) IsValid() bool {
	return p == ExtractionProviderReducto || p == ExtractionProviderLocal
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p ExtractionProvider) RequiresAPIKey() bool {
	return p == ExtractionProviderReducto
}

// String returns the string representation.
func (p ExtractionProvider) String() string {
	return string(p)
}

// EngineSettings configures the dispatcher.
type EngineSettings struct {
	// Concurrency is the worker pool size.
	Concurrency int

	// StaleAfter is how long a cell may stay in flight before the sweep reclaims it.
	StaleAfter time.Duration

	// SweepInterval is the reconciliation sweep period.
	SweepInterval time.Duration
}

// RetrySettings configures gateway retries.
type RetrySettings struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// RateSettings configures the shared token budget of each external service.
type RateSettings struct {
	RequestsPerSecond float64
	Burst             int

	// Cooldown is the pause after a rate-limit response without Retry-After.
	Cooldown time.Duration
}

// ExtractionSettings configures the extraction service.
type ExtractionSettings struct {
	Provider ExtractionProvider
	BaseURL  string
	APIKey   string
	Timeout  time.Duration

	// CacheTTL expires cached extractions. Zero keeps them until invalidated.
	CacheTTL time.Duration
}

// IsConfigured returns true if the provider can be used.
func (s *ExtractionSettings) IsConfigured() bool {
	if !s.Provider.IsValid() {
		return false
	}
	if s.Provider.RequiresAPIKey() && s.APIKey == "" {
		return false
	}
	return true
}

// GenerationSettings configures the answer generation service.
type GenerationSettings struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// IsConfigured returns true if an API key is present.
func (s *GenerationSettings) IsConfigured() bool {
	return s.APIKey != ""
}

// UploadSettings bounds accepted uploads.
type UploadSettings struct {
	MaxFileSize  int64
	AllowedTypes []string
}

// AppSettings holds all application settings.
type AppSettings struct {
	Engine     EngineSettings
	Retry      RetrySettings
	Rate       RateSettings
	Extraction ExtractionSettings
	Generation GenerationSettings
	Upload     UploadSettings
}

// Default file upload limits.
const (
	DefaultMaxFileSize = 50 * 1024 * 1024
)

// DefaultAllowedTypes are the MIME types accepted for upload.
var DefaultAllowedTypes = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-excel",
	"text/csv",
	"application/json",
	"text/plain",
}

// DefaultAppSettings returns sensible defaults.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Engine: EngineSettings{
			Concurrency:   8,
			StaleAfter:    10 * time.Minute,
			SweepInterval: time.Minute,
		},
		Retry: RetrySettings{
			MaxAttempts:    5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
		},
		Rate: RateSettings{
			RequestsPerSecond: 5,
			Burst:             5,
			Cooldown:          30 * time.Second,
		},
		Extraction: ExtractionSettings{
			Provider: ExtractionProviderLocal,
			Timeout:  60 * time.Second,
		},
		Generation: GenerationSettings{
			Model:       "gpt-4o-mini",
			Timeout:     120 * time.Second,
			MaxTokens:   1024,
			Temperature: 0.1,
		},
		Upload: UploadSettings{
			MaxFileSize:  DefaultMaxFileSize,
			AllowedTypes: append([]string(nil), DefaultAllowedTypes...),
		},
	}
}
