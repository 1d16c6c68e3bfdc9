// Package reducto provides a document extraction adapter using the Reducto API.
package reducto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/tally/internal/adapters/driven/apierror"
	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
	"github.com/custodia-labs/tally/internal/logger"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "https://platform.reducto.ai"
	DefaultTimeout = 60 * time.Second
)

const service = "extraction"

// Config holds configuration for the Reducto extractor.
type Config struct {
	// APIKey is the Reducto API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://platform.reducto.ai).
	BaseURL string

	// Timeout is the per-request timeout (default: 60s).
	Timeout time.Duration
}

// Extractor parses documents with Reducto. Files the service can fetch
// by URL are parsed directly; anything else is uploaded first.
type Extractor struct {
	client  *http.Client
	baseURL string
	apiKey  string
	blobs   driven.BlobStore
	log     logger.Component
}

// parseRequest is the /parse request body.
type parseRequest struct {
	DocumentURL string `json:"document_url"`
}

// uploadResponse is the /upload response body.
type uploadResponse struct {
	FileID string `json:"file_id"`
}

// parseResponse is the /parse response body.
type parseResponse struct {
	JobID  string `json:"job_id"`
	Result struct {
		Chunks []struct {
			Content string  `json:"content"`
			Blocks  []block `json:"blocks"`
		} `json:"chunks"`
	} `json:"result"`
}

type block struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	BBox    *struct {
		Page   int     `json:"page"`
		Left   float64 `json:"left"`
		Top    float64 `json:"top"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"bbox"`
}

// NewExtractor creates a Reducto extractor reading files from blobs.
func NewExtractor(cfg Config, blobs driven.BlobStore) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("reducto: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Extractor{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		blobs:   blobs,
		log:     logger.With("reducto"),
	}, nil
}

// Name identifies the extractor.
func (e *Extractor) Name() string { return "reducto" }

// Extract parses the document's current file.
func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (*domain.ExtractionResult, error) {
	documentURL, err := e.documentURL(ctx, doc)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(parseRequest{DocumentURL: documentURL})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp parseResponse
	if err := e.do(ctx, "/parse", "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	e.log.Debug("parsed %s (job %s, %d chunks)", doc.ExtractionKey(), resp.JobID, len(resp.Result.Chunks))

	return toResult(&resp), nil
}

// documentURL returns a URL Reducto can fetch, uploading the file when
// the blob store has no public address for it.
func (e *Extractor) documentURL(ctx context.Context, doc *domain.Document) (string, error) {
	u, err := e.blobs.URL(ctx, doc.StorageRef)
	if err != nil {
		return "", blobError(doc, err)
	}
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u, nil
	}
	return e.upload(ctx, doc)
}

func (e *Extractor) upload(ctx context.Context, doc *domain.Document) (string, error) {
	rc, err := e.blobs.Open(ctx, doc.StorageRef)
	if err != nil {
		return "", blobError(doc, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, doc.Filename))
	header.Set("Content-Type", doc.ContentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := io.Copy(part, rc); err != nil {
		return "", domain.Transient(service, fmt.Errorf("read file: %w", err))
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	var resp uploadResponse
	if err := e.do(ctx, "/upload", mw.FormDataContentType(), &buf, &resp); err != nil {
		return "", err
	}
	if resp.FileID == "" {
		return "", domain.Permanent(service, "upload returned no file_id")
	}
	return resp.FileID, nil
}

// do posts body to path and decodes a successful JSON response into out.
func (e *Extractor) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return apierror.FromTransport(ctx, service, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apierror.FromTransport(ctx, service, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apierror.FromStatus(service, resp, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apierror.Malformed(service, err)
	}
	return nil
}

// toResult flattens chunks into text and turns each block into a citation.
// Chunks without blocks are cited whole.
func toResult(resp *parseResponse) *domain.ExtractionResult {
	result := &domain.ExtractionResult{}
	texts := make([]string, 0, len(resp.Result.Chunks))
	cite := func(c domain.Citation) {
		c.ID = strconv.Itoa(len(result.Citations) + 1)
		result.Citations = append(result.Citations, c)
	}

	for _, chunk := range resp.Result.Chunks {
		if s := strings.TrimSpace(chunk.Content); s != "" {
			texts = append(texts, s)
		}
		if len(chunk.Blocks) == 0 {
			if s := strings.TrimSpace(chunk.Content); s != "" {
				cite(domain.Citation{Text: s})
			}
			continue
		}
		for _, b := range chunk.Blocks {
			text := strings.TrimSpace(b.Content)
			if text == "" {
				continue
			}
			c := domain.Citation{Text: text}
			if b.BBox != nil {
				c.Page = b.BBox.Page
				c.BBox = []float64{b.BBox.Left, b.BBox.Top, b.BBox.Left + b.BBox.Width, b.BBox.Top + b.BBox.Height}
			}
			cite(c)
		}
	}
	result.Text = strings.Join(texts, "\n\n")
	return result
}

func blobError(doc *domain.Document, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Permanent(service, fmt.Sprintf("file for %s is missing", doc.ID))
	}
	return domain.Transient(service, fmt.Errorf("read file: %w", err))
}
