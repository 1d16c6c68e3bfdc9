package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
	"github.com/custodia-labs/tally/internal/core/ports/driving"
	"github.com/custodia-labs/tally/internal/logger"
)

// Ensure DocumentService implements the interface.
var _ driving.DocumentService = (*DocumentService)(nil)

// DocumentService manages uploaded documents and raises the change events
// that keep their grid row current.
type DocumentService struct {
	docStore driven.DocumentStore
	blobs    driven.BlobStore
	changes  driving.ChangeHandler
	limits   domain.UploadSettings
	log      logger.Component
	now      func() time.Time
}

// NewDocumentService creates a new document service.
func NewDocumentService(
	docStore driven.DocumentStore,
	blobs driven.BlobStore,
	changes driving.ChangeHandler,
	limits domain.UploadSettings,
) *DocumentService {
	return &DocumentService{
		docStore: docStore,
		blobs:    blobs,
		changes:  changes,
		limits:   limits,
		log:      logger.With("documents"),
		now:      time.Now,
	}
}

// Upload validates and stores a new document at version 1.
func (s *DocumentService) Upload(ctx context.Context, req domain.UploadRequest, body io.Reader) (*domain.Document, error) {
	if err := req.Validate(s.limits); err != nil {
		return nil, fmt.Errorf("upload %q: %w", req.Filename, err)
	}

	ref, size, err := s.store(ctx, req, body)
	if err != nil {
		return nil, err
	}

	now := s.now()
	doc := &domain.Document{
		ID:          uuid.NewString(),
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Size:        size,
		StorageRef:  ref,
		SourcePath:  req.SourcePath,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.docStore.SaveDocument(ctx, doc); err != nil {
		s.discardBlob(ctx, ref)
		return nil, fmt.Errorf("save document: %w", err)
	}
	s.log.Info("uploaded %s (%s, %d bytes)", doc.Filename, doc.ID, doc.Size)

	if err := s.raise(ctx, domain.EventDocumentAdded, doc.ID); err != nil {
		return nil, err
	}
	return doc, nil
}

// Replace stores a new file for an existing document and bumps its version.
func (s *DocumentService) Replace(
	ctx context.Context,
	documentID string,
	req domain.UploadRequest,
	body io.Reader,
) (*domain.Document, error) {
	doc, err := s.docStore.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(s.limits); err != nil {
		return nil, fmt.Errorf("replace %q: %w", req.Filename, err)
	}

	ref, size, err := s.store(ctx, req, body)
	if err != nil {
		return nil, err
	}

	oldRef := doc.StorageRef
	doc.Filename = req.Filename
	doc.ContentType = req.ContentType
	doc.Size = size
	doc.StorageRef = ref
	if req.SourcePath != "" {
		doc.SourcePath = req.SourcePath
	}
	doc.Version++
	doc.UpdatedAt = s.now()

	if err := s.docStore.SaveDocument(ctx, doc); err != nil {
		s.discardBlob(ctx, ref)
		return nil, fmt.Errorf("save document: %w", err)
	}
	s.discardBlob(ctx, oldRef)
	s.log.Info("replaced %s, now v%d", doc.ID, doc.Version)

	if err := s.raise(ctx, domain.EventDocumentReplaced, doc.ID); err != nil {
		return nil, err
	}
	return doc, nil
}

// Reparse bumps a document's version without a new file, forcing a fresh
// extraction and new answers for its row.
func (s *DocumentService) Reparse(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := s.docStore.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	doc.Version++
	doc.UpdatedAt = s.now()
	if err := s.docStore.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}

	if err := s.raise(ctx, domain.EventDocumentReplaced, doc.ID); err != nil {
		return nil, err
	}
	return doc, nil
}

// Remove deletes a document, its row of cells and its stored file.
func (s *DocumentService) Remove(ctx context.Context, documentID string) error {
	doc, err := s.docStore.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	if err := s.docStore.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := s.raise(ctx, domain.EventDocumentRemoved, doc.ID); err != nil {
		return err
	}
	s.discardBlob(ctx, doc.StorageRef)
	s.log.Info("removed %s (%s)", doc.Filename, doc.ID)
	return nil
}

// Get retrieves a document by ID.
func (s *DocumentService) Get(ctx context.Context, documentID string) (*domain.Document, error) {
	return s.docStore.GetDocument(ctx, documentID)
}

// GetBySourcePath retrieves the document uploaded from a watched path.
func (s *DocumentService) GetBySourcePath(ctx context.Context, path string) (*domain.Document, error) {
	return s.docStore.GetDocumentBySourcePath(ctx, path)
}

// List returns all documents, newest first.
func (s *DocumentService) List(ctx context.Context) ([]domain.Document, error) {
	return s.docStore.ListDocuments(ctx)
}

// store writes the body to blob storage, enforcing the size limit on the
// bytes actually read.
func (s *DocumentService) store(ctx context.Context, req domain.UploadRequest, body io.Reader) (string, int64, error) {
	counter := &countingReader{r: body}
	var r io.Reader = counter
	if s.limits.MaxFileSize > 0 {
		r = io.LimitReader(counter, s.limits.MaxFileSize+1)
	}

	ref, err := s.blobs.Put(ctx, req.Filename, req.ContentType, r)
	if err != nil {
		return "", 0, fmt.Errorf("store file: %w", err)
	}
	if s.limits.MaxFileSize > 0 && counter.n > s.limits.MaxFileSize {
		s.discardBlob(ctx, ref)
		return "", 0, fmt.Errorf("upload %q: %w", req.Filename, domain.ErrFileTooLarge)
	}
	return ref, counter.n, nil
}

func (s *DocumentService) discardBlob(ctx context.Context, ref string) {
	if ref == "" {
		return
	}
	if err := s.blobs.Delete(ctx, ref); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("failed to delete blob %s: %v", ref, err)
	}
}

func (s *DocumentService) raise(ctx context.Context, kind domain.EventKind, documentID string) error {
	if s.changes == nil {
		return nil
	}
	if _, err := s.changes.Handle(ctx, domain.ChangeEvent{Kind: kind, DocumentID: documentID}); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return nil
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
