package domain

import (
	"fmt"
	"strings"
	"time"
)

// ExtractionKey identifies the extraction of one document version.
type ExtractionKey struct {
	DocumentID string
	Version    int
}

// String returns the key in "<document>@v<version>" form.
func (k ExtractionKey) String() string {
	return fmt.Sprintf("%s@v%d", k.DocumentID, k.Version)
}

// ExtractionResult is the structured content returned by the extraction service.
type ExtractionResult struct {
	// Text is the full extracted text.
	Text string `json:"text"`

	// Citations index positions in the document that answers may cite.
	Citations []Citation `json:"citations,omitempty"`
}

// CitationByID returns the citation with the given ID.
func (r *ExtractionResult) CitationByID(id string) (Citation, bool) {
	for _, c := range r.Citations {
		if c.ID == id {
			return c, true
		}
	}
	return Citation{}, false
}

// Annotated renders the content for a generation prompt, one citation
// passage per line prefixed with its marker. Falls back to the raw text
// when the extraction has no citation index.
func (r *ExtractionResult) Annotated() string {
	if len(r.Citations) == 0 {
		return r.Text
	}
	var b strings.Builder
	for _, c := range r.Citations {
		fmt.Fprintf(&b, "[c:%s] %s\n", c.ID, c.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ExtractionEntry is a cached extraction outcome for one document version.
type ExtractionEntry struct {
	Key ExtractionKey

	// Result is set on success.
	Result *ExtractionResult

	// Failure is set when the extraction failed. Permanent failures are
	// kept so repeated dispatch does not call the service again.
	Failure *CellFailure

	FetchedAt time.Time
}

// Ready reports whether the entry holds a successful result.
func (e *ExtractionEntry) Ready() bool {
	return e != nil && e.Result != nil && e.Failure == nil
}

// PermanentlyFailed reports whether the entry holds a non-retryable failure.
func (e *ExtractionEntry) PermanentlyFailed() bool {
	return e != nil && e.Failure != nil && !e.Failure.Retryable
}

// Expired reports whether the entry is older than ttl. A zero ttl never expires.
func (e *ExtractionEntry) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || e.FetchedAt.IsZero() {
		return false
	}
	return now.Sub(e.FetchedAt) > ttl
}

// Err returns the recorded failure as an error carrying its class.
func (e *ExtractionEntry) Err() error {
	if e.Failure == nil {
		return nil
	}
	failure := *e.Failure
	return &failure
}
