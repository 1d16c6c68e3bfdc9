package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
)

// ==================== Extraction Store ====================

// ExtractionStore returns an ExtractionStore interface backed by this store.
func (s *Store) ExtractionStore() driven.ExtractionStore {
	return &extractionStore{store: s}
}

// extractionStore implements driven.ExtractionStore.
type extractionStore struct {
	store *Store
}

var _ driven.ExtractionStore = (*extractionStore)(nil)

// GetExtraction returns the entry for a document version.
func (s *extractionStore) GetExtraction(ctx context.Context, key domain.ExtractionKey) (*domain.ExtractionEntry, error) {
	var (
		result, failure sql.NullString
		fetchedAt       int64
	)
	err := s.store.db.QueryRowContext(ctx, `
		SELECT result, failure, fetched_at FROM extractions
		WHERE document_id = ? AND version = ?
	`, key.DocumentID, key.Version).Scan(&result, &failure, &fetchedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting extraction: %w", err)
	}

	entry := &domain.ExtractionEntry{Key: key, FetchedAt: fromUnixNano(fetchedAt)}
	if result.Valid && result.String != jsonNull {
		entry.Result = &domain.ExtractionResult{}
		if err := json.Unmarshal([]byte(result.String), entry.Result); err != nil {
			return nil, fmt.Errorf("unmarshalling extraction result: %w", err)
		}
	}
	if failure.Valid && failure.String != jsonNull {
		entry.Failure = &domain.CellFailure{}
		if err := json.Unmarshal([]byte(failure.String), entry.Failure); err != nil {
			return nil, fmt.Errorf("unmarshalling extraction failure: %w", err)
		}
	}
	return entry, nil
}

// SaveExtraction stores or replaces an entry.
func (s *extractionStore) SaveExtraction(ctx context.Context, entry *domain.ExtractionEntry) error {
	resultJSON, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("marshalling extraction result: %w", err)
	}
	failureJSON, err := json.Marshal(entry.Failure)
	if err != nil {
		return fmt.Errorf("marshalling extraction failure: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO extractions (document_id, version, result, failure, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(document_id, version) DO UPDATE SET
			result = excluded.result,
			failure = excluded.failure,
			fetched_at = excluded.fetched_at
	`, entry.Key.DocumentID, entry.Key.Version, string(resultJSON), string(failureJSON), unixNano(entry.FetchedAt))
	if err != nil {
		return fmt.Errorf("saving extraction: %w", err)
	}
	return nil
}

// DeleteExtractions removes every entry of a document.
func (s *extractionStore) DeleteExtractions(ctx context.Context, documentID string) error {
	if _, err := s.store.db.ExecContext(ctx, `DELETE FROM extractions WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting extractions: %w", err)
	}
	return nil
}
