package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
	"github.com/custodia-labs/tally/internal/logger"
)

// ExtractionCache memoises extraction results per document version.
//
// Concurrent requests for the same version share one outstanding call.
// Successful results and permanent failures are kept until invalidated;
// transient failures are recorded but refetched on the next request.
// With a store configured every read goes to the store, so entries
// written or invalidated by another process are seen.
type ExtractionCache struct {
	gateway *ExtractionGateway
	store   driven.ExtractionStore
	ttl     time.Duration
	group   singleflight.Group
	log     logger.Component
	now     func() time.Time

	mu      sync.RWMutex
	entries map[domain.ExtractionKey]*domain.ExtractionEntry // memory-only mode

	// epochs counts invalidations per document so a call that started
	// before an invalidation cannot repopulate the cache.
	epochs map[string]uint64
}

// NewExtractionCache creates a cache. store may be nil for a memory-only cache.
func NewExtractionCache(gateway *ExtractionGateway, store driven.ExtractionStore, ttl time.Duration) *ExtractionCache {
	return &ExtractionCache{
		gateway: gateway,
		store:   store,
		ttl:     ttl,
		log:     logger.With("extraction-cache"),
		now:     time.Now,
		entries: make(map[domain.ExtractionKey]*domain.ExtractionEntry),
		epochs:  make(map[string]uint64),
	}
}

// GetOrFetch returns the extraction of doc's current version, calling the
// extraction service at most once across concurrent callers.
func (c *ExtractionCache) GetOrFetch(ctx context.Context, doc *domain.Document) (*domain.ExtractionResult, error) {
	key := doc.ExtractionKey()
	if result, hit, err := c.cached(ctx, key); hit {
		return result, err
	}

	epoch := c.epoch(key.DocumentID)
	flightKey := fmt.Sprintf("%s#%d", key, epoch)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		// Detached so one caller giving up does not fail the others;
		// the gateway's timeout bounds the call.
		return c.fetch(context.WithoutCancel(ctx), doc, epoch)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.ExtractionResult), nil
	}
}

// Peek returns the cached entry for a version without fetching.
// Returns domain.ErrNotFound when nothing is cached.
func (c *ExtractionCache) Peek(ctx context.Context, key domain.ExtractionKey) (*domain.ExtractionEntry, error) {
	if c.store != nil {
		return c.store.GetExtraction(ctx, key)
	}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return entry, nil
}

// Ready reports whether a usable result is cached for the version.
func (c *ExtractionCache) Ready(ctx context.Context, key domain.ExtractionKey) bool {
	entry, err := c.Peek(ctx, key)
	return err == nil && entry.Ready() && !entry.Expired(c.now(), c.ttl)
}

// Invalidate drops every cached version of a document.
func (c *ExtractionCache) Invalidate(ctx context.Context, documentID string) error {
	c.mu.Lock()
	c.epochs[documentID]++
	for key := range c.entries {
		if key.DocumentID == documentID {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	c.log.Debug("invalidated %s", documentID)
	if c.store == nil {
		return nil
	}
	if err := c.store.DeleteExtractions(ctx, documentID); err != nil {
		return fmt.Errorf("invalidate extraction: %w", err)
	}
	return nil
}

// ClearFailure drops a failure marker for a version so the next request
// calls the service again. Successful entries are kept.
func (c *ExtractionCache) ClearFailure(ctx context.Context, key domain.ExtractionKey) error {
	entry, err := c.Peek(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if entry.Failure == nil {
		return nil
	}
	return c.Invalidate(ctx, key.DocumentID)
}

// cached resolves a request from the cache. hit is false when the service
// must be called.
func (c *ExtractionCache) cached(ctx context.Context, key domain.ExtractionKey) (*domain.ExtractionResult, bool, error) {
	entry, err := c.Peek(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.log.Warn("reading cached extraction %s: %v", key, err)
		}
		return nil, false, nil
	}
	switch {
	case entry.Ready() && !entry.Expired(c.now(), c.ttl):
		return entry.Result, true, nil
	case entry.PermanentlyFailed():
		return nil, true, entry.Err()
	default:
		return nil, false, nil
	}
}

func (c *ExtractionCache) fetch(ctx context.Context, doc *domain.Document, epoch uint64) (*domain.ExtractionResult, error) {
	key := doc.ExtractionKey()

	// A flight that finished just before this one started may already
	// have filled the entry.
	if result, hit, err := c.cached(ctx, key); hit {
		return result, err
	}

	c.log.Debug("fetching %s", key)
	result, attempts, err := c.gateway.Extract(ctx, doc)

	entry := &domain.ExtractionEntry{Key: key, Result: result, FetchedAt: c.now()}
	if err != nil {
		entry.Result = nil
		entry.Failure = domain.FailureFrom(err)
		c.log.Warn("extraction of %s failed after %d attempts: %v", key, attempts, err)
	} else {
		c.log.Debug("extracted %s: %d citations", key, len(result.Citations))
	}
	c.remember(ctx, entry, epoch)
	return result, err
}

// remember stores an entry unless the document was invalidated meanwhile.
// The lock is held across the store write so an invalidation either sees
// the row or makes the epoch check fail.
func (c *ExtractionCache) remember(ctx context.Context, entry *domain.ExtractionEntry, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochs[entry.Key.DocumentID] != epoch {
		c.log.Debug("dropping extraction %s fetched before invalidation", entry.Key)
		return
	}
	if c.store == nil {
		c.entries[entry.Key] = entry
		return
	}
	if err := c.store.SaveExtraction(ctx, entry); err != nil {
		c.log.Error("persisting extraction %s: %v", entry.Key, err)
	}
}

func (c *ExtractionCache) epoch(documentID string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epochs[documentID]
}
