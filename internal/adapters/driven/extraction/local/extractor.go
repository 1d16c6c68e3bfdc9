// Package local extracts text-like documents without calling a hosted service.
package local

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

const service = "extraction"

// maxLineSize bounds a single CSV line.
const maxLineSize = 1024 * 1024

// Extractor reads plain text, CSV and JSON blobs directly. Paragraphs
// (CSV rows) become citations on page 1 with sequential IDs.
type Extractor struct {
	blobs driven.BlobStore
}

// NewExtractor creates a local extractor reading from blobs.
func NewExtractor(blobs driven.BlobStore) *Extractor {
	return &Extractor{blobs: blobs}
}

// Name identifies the extractor.
func (e *Extractor) Name() string { return "local" }

// Extract reads the document's blob and splits it into citations.
func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (*domain.ExtractionResult, error) {
	mediaType, _, err := mime.ParseMediaType(doc.ContentType)
	if err != nil {
		return nil, domain.Permanent(service, fmt.Sprintf("invalid content type %q", doc.ContentType))
	}

	var split func(io.Reader) ([]string, error)
	switch mediaType {
	case "text/plain", "application/json":
		split = paragraphs
	case "text/csv":
		split = lines
	default:
		return nil, domain.Permanent(service, fmt.Sprintf("local extraction does not support %s", mediaType))
	}

	rc, err := e.blobs.Open(ctx, doc.StorageRef)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Permanent(service, fmt.Sprintf("file for %s is missing", doc.ID))
		}
		return nil, domain.Transient(service, err)
	}
	defer rc.Close()

	parts, err := split(rc)
	if err != nil {
		return nil, domain.Transient(service, fmt.Errorf("read %s: %w", doc.ID, err))
	}

	result := &domain.ExtractionResult{
		Text:      strings.Join(parts, "\n\n"),
		Citations: make([]domain.Citation, 0, len(parts)),
	}
	for i, p := range parts {
		result.Citations = append(result.Citations, domain.Citation{
			ID:   strconv.Itoa(i + 1),
			Page: 1,
			Text: p,
		})
	}
	return result, nil
}

// paragraphs splits on blank lines, dropping empty paragraphs.
func paragraphs(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		if p := strings.TrimSpace(block); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// lines returns each non-empty line.
func lines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var out []string
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			out = append(out, l)
		}
	}
	return out, sc.Err()
}
