package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
	"github.com/custodia-labs/tally/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyEngineConcurrency   = "engine.concurrency"
	keyEngineStaleAfter    = "engine.stale_after"
	keyEngineSweepInterval = "engine.sweep_interval"

	keyRetryMaxAttempts    = "retry.max_attempts"
	keyRetryInitialBackoff = "retry.initial_backoff"
	keyRetryMaxBackoff     = "retry.max_backoff"
	keyRetryMultiplier     = "retry.multiplier"

	keyRateRPS      = "rate.requests_per_second"
	keyRateBurst    = "rate.burst"
	keyRateCooldown = "rate.cooldown"

	keyExtractionProvider = "extraction.provider"
	keyExtractionBaseURL  = "extraction.base_url"
	keyExtractionAPIKey   = "extraction.api_key"
	keyExtractionTimeout  = "extraction.timeout"
	keyExtractionCacheTTL = "extraction.cache_ttl"

	keyGenerationBaseURL     = "generation.base_url"
	keyGenerationAPIKey      = "generation.api_key"
	keyGenerationModel       = "generation.model"
	keyGenerationTimeout     = "generation.timeout"
	keyGenerationMaxTokens   = "generation.max_tokens"
	keyGenerationTemperature = "generation.temperature"

	keyUploadMaxFileSize  = "upload.max_file_size"
	keyUploadAllowedTypes = "upload.allowed_types"
)

// Setting keys holding secrets.
const (
	KeyExtractionAPIKey = keyExtractionAPIKey
	KeyGenerationAPIKey = keyGenerationAPIKey
)

// settingKind is the value type of a setting key.
type settingKind int

const (
	kindString settingKind = iota
	kindSecret
	kindInt
	kindFloat
	kindDuration
	kindList
	kindProvider
)

// settingKeys lists every recognised key in display order.
var settingKeys = []struct {
	key  string
	kind settingKind
}{
	{keyEngineConcurrency, kindInt},
	{keyEngineStaleAfter, kindDuration},
	{keyEngineSweepInterval, kindDuration},
	{keyRetryMaxAttempts, kindInt},
	{keyRetryInitialBackoff, kindDuration},
	{keyRetryMaxBackoff, kindDuration},
	{keyRetryMultiplier, kindFloat},
	{keyRateRPS, kindFloat},
	{keyRateBurst, kindInt},
	{keyRateCooldown, kindDuration},
	{keyExtractionProvider, kindProvider},
	{keyExtractionBaseURL, kindString},
	{keyExtractionAPIKey, kindSecret},
	{keyExtractionTimeout, kindDuration},
	{keyExtractionCacheTTL, kindDuration},
	{keyGenerationBaseURL, kindString},
	{keyGenerationAPIKey, kindSecret},
	{keyGenerationModel, kindString},
	{keyGenerationTimeout, kindDuration},
	{keyGenerationMaxTokens, kindInt},
	{keyGenerationTemperature, kindFloat},
	{keyUploadMaxFileSize, kindInt},
	{keyUploadAllowedTypes, kindList},
}

type settingValue struct {
	key   string
	value any
}

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// Get retrieves current application settings, falling back to defaults
// for anything unset.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	d := domain.DefaultAppSettings()

	settings := &domain.AppSettings{
		Engine: domain.EngineSettings{
			Concurrency:   s.getInt(keyEngineConcurrency, d.Engine.Concurrency),
			StaleAfter:    s.getDuration(keyEngineStaleAfter, d.Engine.StaleAfter),
			SweepInterval: s.getDuration(keyEngineSweepInterval, d.Engine.SweepInterval),
		},
		Retry: domain.RetrySettings{
			MaxAttempts:    s.getInt(keyRetryMaxAttempts, d.Retry.MaxAttempts),
			InitialBackoff: s.getDuration(keyRetryInitialBackoff, d.Retry.InitialBackoff),
			MaxBackoff:     s.getDuration(keyRetryMaxBackoff, d.Retry.MaxBackoff),
			Multiplier:     s.getFloat(keyRetryMultiplier, d.Retry.Multiplier),
		},
		Rate: domain.RateSettings{
			RequestsPerSecond: s.getFloat(keyRateRPS, d.Rate.RequestsPerSecond),
			Burst:             s.getInt(keyRateBurst, d.Rate.Burst),
			Cooldown:          s.getDuration(keyRateCooldown, d.Rate.Cooldown),
		},
		Extraction: domain.ExtractionSettings{
			Provider: s.getProvider(d.Extraction.Provider),
			BaseURL:  s.configStore.GetString(keyExtractionBaseURL),
			APIKey:   s.configStore.GetString(keyExtractionAPIKey),
			Timeout:  s.getDuration(keyExtractionTimeout, d.Extraction.Timeout),
			CacheTTL: s.getDuration(keyExtractionCacheTTL, d.Extraction.CacheTTL),
		},
		Generation: domain.GenerationSettings{
			BaseURL:     s.configStore.GetString(keyGenerationBaseURL),
			APIKey:      s.configStore.GetString(keyGenerationAPIKey),
			Model:       s.getString(keyGenerationModel, d.Generation.Model),
			Timeout:     s.getDuration(keyGenerationTimeout, d.Generation.Timeout),
			MaxTokens:   s.getInt(keyGenerationMaxTokens, d.Generation.MaxTokens),
			Temperature: s.getFloat(keyGenerationTemperature, d.Generation.Temperature),
		},
		Upload: domain.UploadSettings{
			MaxFileSize:  int64(s.getInt(keyUploadMaxFileSize, int(d.Upload.MaxFileSize))),
			AllowedTypes: d.Upload.AllowedTypes,
		},
	}
	if types := s.configStore.GetStringSlice(keyUploadAllowedTypes); len(types) > 0 {
		settings.Upload.AllowedTypes = types
	}

	return settings, nil
}

// Save persists application settings. Empty API keys are left untouched.
func (s *SettingsService) Save(settings *domain.AppSettings) error {
	values := []settingValue{
		{keyEngineConcurrency, settings.Engine.Concurrency},
		{keyEngineStaleAfter, settings.Engine.StaleAfter.String()},
		{keyEngineSweepInterval, settings.Engine.SweepInterval.String()},
		{keyRetryMaxAttempts, settings.Retry.MaxAttempts},
		{keyRetryInitialBackoff, settings.Retry.InitialBackoff.String()},
		{keyRetryMaxBackoff, settings.Retry.MaxBackoff.String()},
		{keyRetryMultiplier, settings.Retry.Multiplier},
		{keyRateRPS, settings.Rate.RequestsPerSecond},
		{keyRateBurst, settings.Rate.Burst},
		{keyRateCooldown, settings.Rate.Cooldown.String()},
		{keyExtractionProvider, settings.Extraction.Provider.String()},
		{keyExtractionBaseURL, settings.Extraction.BaseURL},
		{keyExtractionTimeout, settings.Extraction.Timeout.String()},
		{keyExtractionCacheTTL, settings.Extraction.CacheTTL.String()},
		{keyGenerationBaseURL, settings.Generation.BaseURL},
		{keyGenerationModel, settings.Generation.Model},
		{keyGenerationTimeout, settings.Generation.Timeout.String()},
		{keyGenerationMaxTokens, settings.Generation.MaxTokens},
		{keyGenerationTemperature, settings.Generation.Temperature},
		{keyUploadMaxFileSize, settings.Upload.MaxFileSize},
		{keyUploadAllowedTypes, settings.Upload.AllowedTypes},
	}
	if settings.Extraction.APIKey != "" {
		values = append(values, settingValue{keyExtractionAPIKey, settings.Extraction.APIKey})
	}
	if settings.Generation.APIKey != "" {
		values = append(values, settingValue{keyGenerationAPIKey, settings.Generation.APIKey})
	}

	for _, v := range values {
		if err := s.configStore.Set(v.key, v.value); err != nil {
			return fmt.Errorf("save %s: %w", v.key, err)
		}
	}
	return nil
}

// Set validates and stores a single setting. Lists are comma separated.
func (s *SettingsService) Set(key, value string) error {
	kind, ok := s.kindOf(key)
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}
	value = strings.TrimSpace(value)

	var stored any
	switch kind {
	case kindString, kindSecret:
		stored = value
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidInput, key)
		}
		stored = n
	case kindFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("%w: %s must be a non-negative number", domain.ErrInvalidInput, key)
		}
		stored = f
	case kindDuration:
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			return fmt.Errorf("%w: %s must be a duration such as 30s or 5m", domain.ErrInvalidInput, key)
		}
		stored = d.String()
	case kindList:
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		stored = items
	case kindProvider:
		p := domain.ExtractionProvider(value)
		if !p.IsValid() {
			return fmt.Errorf("%w: unknown extraction provider %q", domain.ErrInvalidInput, value)
		}
		stored = p.String()
	}

	if err := s.configStore.Set(key, stored); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Keys lists the recognised setting keys in display order.
func (s *SettingsService) Keys() []string {
	keys := make([]string, len(settingKeys))
	for i, k := range settingKeys {
		keys[i] = k.key
	}
	return keys
}

// IsSecret reports whether a key holds a credential that should not be echoed.
func (s *SettingsService) IsSecret(key string) bool {
	kind, ok := s.kindOf(key)
	return ok && kind == kindSecret
}

// Validate checks that the configured services can be used.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}

	if !settings.Extraction.IsConfigured() {
		return fmt.Errorf("extraction provider %q requires extraction.api_key to be configured",
			settings.Extraction.Provider)
	}
	if settings.Extraction.Provider == domain.ExtractionProviderReducto && settings.Extraction.BaseURL == "" {
		return fmt.Errorf("extraction provider %q requires extraction.base_url to be configured",
			settings.Extraction.Provider)
	}
	if !settings.Generation.IsConfigured() {
		return fmt.Errorf("answer generation requires generation.api_key to be configured")
	}
	if settings.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be at least 1")
	}
	return nil
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

func (s *SettingsService) kindOf(key string) (settingKind, bool) {
	for _, k := range settingKeys {
		if k.key == key {
			return k.kind, true
		}
	}
	return 0, false
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetInt(key)
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetFloat(key)
}

func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetDuration(key)
}

func (s *SettingsService) getProvider(defaultVal domain.ExtractionProvider) domain.ExtractionProvider {
	val := s.configStore.GetString(keyExtractionProvider)
	if val == "" {
		return defaultVal
	}
	provider := domain.ExtractionProvider(val)
	if !provider.IsValid() {
		return defaultVal
	}
	return provider
}
