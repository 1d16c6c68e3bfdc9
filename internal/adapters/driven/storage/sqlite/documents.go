package sqlite

import (
	"context"
	"fmt"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
)

// ==================== Document Store ====================

// DocumentStore returns a DocumentStore interface backed by this store.
func (s *Store) DocumentStore() driven.DocumentStore {
	return &documentStore{store: s}
}

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

const documentColumns = `id, filename, content_type, size, storage_ref, source_path, version, created_at, updated_at`

// SaveDocument stores or updates a document.
func (s *documentStore) SaveDocument(ctx context.Context, doc *domain.Document) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			content_type = excluded.content_type,
			size = excluded.size,
			storage_ref = excluded.storage_ref,
			source_path = excluded.source_path,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, doc.ID, doc.Filename, doc.ContentType, doc.Size, doc.StorageRef, doc.SourcePath,
		doc.Version, unixNano(doc.CreatedAt), unixNano(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *documentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetDocumentBySourcePath retrieves the document imported from a watched path.
func (s *documentStore) GetDocumentBySourcePath(ctx context.Context, path string) (*domain.Document, error) {
	if path == "" {
		return nil, domain.ErrNotFound
	}
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE source_path = ? LIMIT 1`, path)
	return scanDocument(row)
}

// DeleteDocument removes a document. Its cells are removed by cascade.
func (s *documentStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.store.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// ListDocuments returns all documents, newest first.
func (s *documentStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.store.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		doc                  domain.Document
		createdAt, updatedAt int64
	)
	err := row.Scan(&doc.ID, &doc.Filename, &doc.ContentType, &doc.Size, &doc.StorageRef,
		&doc.SourcePath, &doc.Version, &createdAt, &updatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	doc.CreatedAt = fromUnixNano(createdAt)
	doc.UpdatedAt = fromUnixNano(updatedAt)
	return &doc, nil
}

// ==================== Control Store ====================

// ControlStore returns a ControlStore interface backed by this store.
func (s *Store) ControlStore() driven.ControlStore {
	return &controlStore{store: s}
}

// controlStore implements driven.ControlStore.
type controlStore struct {
	store *Store
}

var _ driven.ControlStore = (*controlStore)(nil)

const controlColumns = `id, title, prompt, description, active, version, created_at, updated_at`

// SaveControl stores or updates a control.
func (s *controlStore) SaveControl(ctx context.Context, ctrl *domain.Control) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO controls (`+controlColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			prompt = excluded.prompt,
			description = excluded.description,
			active = excluded.active,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, ctrl.ID, ctrl.Title, ctrl.Prompt, ctrl.Description, ctrl.Active, ctrl.Version,
		unixNano(ctrl.CreatedAt), unixNano(ctrl.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving control: %w", err)
	}
	return nil
}

// GetControl retrieves a control by ID.
func (s *controlStore) GetControl(ctx context.Context, id string) (*domain.Control, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+controlColumns+` FROM controls WHERE id = ?`, id)
	return scanControl(row)
}

// DeleteControl removes a control. Its cells are removed by cascade.
func (s *controlStore) DeleteControl(ctx context.Context, id string) error {
	if _, err := s.store.db.ExecContext(ctx, `DELETE FROM controls WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting control: %w", err)
	}
	return nil
}

// ListControls returns all controls, newest first.
func (s *controlStore) ListControls(ctx context.Context) ([]domain.Control, error) {
	rows, err := s.store.db.QueryContext(ctx,
		`SELECT `+controlColumns+` FROM controls ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing controls: %w", err)
	}
	defer rows.Close()

	var controls []domain.Control
	for rows.Next() {
		ctrl, err := scanControl(rows)
		if err != nil {
			return nil, err
		}
		controls = append(controls, *ctrl)
	}
	return controls, rows.Err()
}

func scanControl(row rowScanner) (*domain.Control, error) {
	var (
		ctrl                 domain.Control
		createdAt, updatedAt int64
	)
	err := row.Scan(&ctrl.ID, &ctrl.Title, &ctrl.Prompt, &ctrl.Description, &ctrl.Active,
		&ctrl.Version, &createdAt, &updatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning control: %w", err)
	}
	ctrl.CreatedAt = fromUnixNano(createdAt)
	ctrl.UpdatedAt = fromUnixNano(updatedAt)
	return &ctrl, nil
}
