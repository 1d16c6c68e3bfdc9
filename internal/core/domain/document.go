package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// Document represents an uploaded file cross-referenced against controls.
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	// Filename is the original name of the uploaded file.
	Filename string

	// ContentType is the MIME type of the file.
	ContentType string

	// Size is the file size in bytes.
	Size int64

	// StorageRef is the blob storage reference for the current file.
	StorageRef string

	// SourcePath is the watched filesystem path the document came from, if any.
	SourcePath string

	// Version increments on replace or reparse. Starts at 1.
	Version int

	// CreatedAt is when the document was first uploaded.
	CreatedAt time.Time

	// UpdatedAt is when the document was last replaced.
	UpdatedAt time.Time
}

// ExtractionKey returns the cache key for the document's current version.
func (d *Document) ExtractionKey() ExtractionKey {
	return ExtractionKey{DocumentID: d.ID, Version: d.Version}
}

// Extension returns the lower-cased file extension without the dot.
func (d *Document) Extension() string {
	ext := filepath.Ext(d.Filename)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// UploadRequest describes a file being uploaded or replaced.
type UploadRequest struct {
	// Filename is the original file name.
	Filename string

	// ContentType is the declared MIME type.
	ContentType string

	// Size is the declared size in bytes.
	Size int64

	// SourcePath is set when the upload originates from a watched folder.
	SourcePath string
}

// Validate checks the upload against the configured limits.
func (r UploadRequest) Validate(settings UploadSettings) error {
	if strings.TrimSpace(r.Filename) == "" {
		return ErrInvalidInput
	}
	if !strings.Contains(r.ContentType, "/") {
		return ErrInvalidInput
	}
	if settings.MaxFileSize > 0 && r.Size > settings.MaxFileSize {
		return ErrFileTooLarge
	}
	if len(settings.AllowedTypes) == 0 {
		return nil
	}
	ct, _, _ := strings.Cut(r.ContentType, ";")
	ct = strings.ToLower(strings.TrimSpace(ct))
	for _, allowed := range settings.AllowedTypes {
		if ct == strings.ToLower(allowed) {
			return nil
		}
	}
	return ErrUnsupportedType
}
