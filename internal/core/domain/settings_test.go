package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultAppSettings(t *testing.T) {
	s := DefaultAppSettings()

	assert.Equal(t, 8, s.Engine.Concurrency)
	assert.Equal(t, 10*time.Minute, s.Engine.StaleAfter)
	assert.Equal(t, 5, s.Retry.MaxAttempts)
	assert.Equal(t, ExtractionProviderLocal, s.Extraction.Provider)
	assert.Equal(t, "gpt-4o-mini", s.Generation.Model)
	assert.Equal(t, int64(DefaultMaxFileSize), s.Upload.MaxFileSize)
	assert.Contains(t, s.Upload.AllowedTypes, "application/pdf")
}

func TestDefaultAppSettings_AllowedTypesIsACopy(t *testing.T) {
	s := DefaultAppSettings()
	s.Upload.AllowedTypes[0] = "changed"

	assert.Equal(t, "application/pdf", DefaultAllowedTypes[0])
}

func TestExtractionProvider(t *testing.T) {
	assert.True(t, ExtractionProviderReducto.IsValid())
	assert.True(t, ExtractionProviderLocal.IsValid())
	assert.False(t, ExtractionProvider("ocr").IsValid())
	assert.True(t, ExtractionProviderReducto.RequiresAPIKey())
	assert.False(t, ExtractionProviderLocal.RequiresAPIKey())
}

func TestExtractionSettings_IsConfigured(t *testing.T) {
	tests := []struct {
		name string
		s    ExtractionSettings
		want bool
	}{
		{"local", ExtractionSettings{Provider: ExtractionProviderLocal}, true},
		{"reducto without key", ExtractionSettings{Provider: ExtractionProviderReducto}, false},
		{"reducto with key", ExtractionSettings{Provider: ExtractionProviderReducto, APIKey: "k"}, true},
		{"unknown", ExtractionSettings{Provider: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.s.IsConfigured())
		})
	}
}

func TestGenerationSettings_IsConfigured(t *testing.T) {
	assert.False(t, (&GenerationSettings{}).IsConfigured())
	assert.True(t, (&GenerationSettings{APIKey: "sk"}).IsConfigured())
}
