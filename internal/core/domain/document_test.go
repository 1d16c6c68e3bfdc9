package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocument_ExtractionKey(t *testing.T) {
	doc := &Document{ID: "doc-1", Version: 3}

	key := doc.ExtractionKey()

	assert.Equal(t, ExtractionKey{DocumentID: "doc-1", Version: 3}, key)
	assert.Equal(t, "doc-1@v3", key.String())
}

func TestDocument_Extension(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"handbook.pdf", "pdf"},
		{"Report.XLSX", "xlsx"},
		{"notes", ""},
		{"archive.tar.gz", "gz"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			doc := &Document{Filename: tt.filename}
			assert.Equal(t, tt.want, doc.Extension())
		})
	}
}

func TestUploadRequest_Validate(t *testing.T) {
	settings := UploadSettings{
		MaxFileSize:  1024,
		AllowedTypes: []string{"application/pdf", "text/plain"},
	}

	tests := []struct {
		name    string
		req     UploadRequest
		wantErr error
	}{
		{"valid", UploadRequest{Filename: "a.pdf", ContentType: "application/pdf", Size: 10}, nil},
		{"case insensitive type", UploadRequest{Filename: "a.txt", ContentType: "Text/Plain", Size: 10}, nil},
		{"type with parameters", UploadRequest{Filename: "a.txt", ContentType: "text/plain; charset=utf-8", Size: 10}, nil},
		{"missing filename", UploadRequest{ContentType: "application/pdf", Size: 10}, ErrInvalidInput},
		{"malformed type", UploadRequest{Filename: "a", ContentType: "pdf", Size: 10}, ErrInvalidInput},
		{"too large", UploadRequest{Filename: "a.pdf", ContentType: "application/pdf", Size: 2048}, ErrFileTooLarge},
		{"unsupported", UploadRequest{Filename: "a.png", ContentType: "image/png", Size: 10}, ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(settings)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUploadRequest_Validate_NoAllowList(t *testing.T) {
	req := UploadRequest{Filename: "a.png", ContentType: "image/png", Size: 10}
	assert.NoError(t, req.Validate(UploadSettings{}))
}
