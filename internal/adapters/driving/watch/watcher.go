// Package watch imports documents from a directory and keeps them in step
// with the files on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driving"
	"github.com/custodia-labs/tally/internal/logger"
)

// DefaultDebounce is how long a path must stay quiet before it is imported.
const DefaultDebounce = 500 * time.Millisecond

// changeKind is the effect a filesystem event has on a watched document.
type changeKind int

const (
	changeUpsert changeKind = iota + 1
	changeRemove
)

// change is a filesystem event reduced to what the watcher acts on.
type change struct {
	kind changeKind
	path string
}

// contentTypes maps the extensions of accepted uploads to MIME types.
var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".csv":  "text/csv",
	".json": "application/json",
	".txt":  "text/plain",
	".md":   "text/plain",
}

// Watcher mirrors the regular files of one directory into the document
// service: new files are uploaded, modified files replace their document
// and deleted or renamed files remove it. Documents are matched to files
// by SourcePath.
type Watcher struct {
	dir       string
	documents driving.DocumentService
	debounce  time.Duration
	log       logger.Component

	mu      sync.Mutex
	pending map[string]*time.Timer
	due     chan string
}

// NewWatcher creates a watcher for dir. A zero debounce uses DefaultDebounce.
func NewWatcher(dir string, documents driving.DocumentService, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve watch directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidInput, abs)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		dir:       abs,
		documents: documents,
		debounce:  debounce,
		log:       logger.With("watch"),
		pending:   make(map[string]*time.Timer),
		due:       make(chan string, 64),
	}, nil
}

// Run imports files already in the directory, then follows changes until
// ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("watching %s", w.dir)

	if err := w.scan(ctx); err != nil {
		return err
	}

	defer w.cancelPending()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if c := w.handleFsEvent(event); c != nil {
				w.schedule(ctx, c)
			}

		case path := <-w.due:
			w.upsert(ctx, path)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error: %v", err)
		}
	}
}

// scan uploads files that are not yet tracked.
func (w *Watcher) scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || isHidden(e.Name()) {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if _, err := w.documents.GetBySourcePath(ctx, path); err == nil {
			continue
		}
		w.upsert(ctx, path)
	}
	return nil
}

// handleFsEvent reduces an event to a change, or nil when it is ignored.
func (w *Watcher) handleFsEvent(event fsnotify.Event) *change {
	if isHidden(filepath.Base(event.Name)) {
		return nil
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return &change{kind: changeRemove, path: event.Name}
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		return &change{kind: changeUpsert, path: event.Name}
	default:
		return nil
	}
}

// schedule debounces upserts per path. Removals apply immediately and
// cancel any pending upsert.
func (w *Watcher) schedule(ctx context.Context, c *change) {
	w.mu.Lock()
	if t, ok := w.pending[c.path]; ok {
		t.Stop()
		delete(w.pending, c.path)
	}
	if c.kind == changeUpsert {
		path := c.path
		w.pending[path] = time.AfterFunc(w.debounce, func() {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()
			select {
			case w.due <- path:
			case <-ctx.Done():
			}
		})
	}
	w.mu.Unlock()

	if c.kind == changeRemove {
		w.remove(ctx, c.path)
	}
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// upsert uploads path, or replaces the document already imported from it.
func (w *Watcher) upsert(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		w.log.Debug("skipping %s: %v", path, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	req := domain.UploadRequest{
		Filename:    filepath.Base(path),
		ContentType: contentTypeOf(path),
		Size:        info.Size(),
		SourcePath:  path,
	}

	existing, err := w.documents.GetBySourcePath(ctx, path)
	switch {
	case err == nil:
		if _, err := w.documents.Replace(ctx, existing.ID, req, f); err != nil {
			w.log.Warn("failed to replace %s: %v", path, err)
			return
		}
		w.log.Info("replaced %s", req.Filename)
	case errors.Is(err, domain.ErrNotFound):
		if _, err := w.documents.Upload(ctx, req, f); err != nil {
			w.log.Warn("failed to import %s: %v", path, err)
			return
		}
		w.log.Info("imported %s", req.Filename)
	default:
		w.log.Warn("failed to look up %s: %v", path, err)
	}
}

func (w *Watcher) remove(ctx context.Context, path string) {
	doc, err := w.documents.GetBySourcePath(ctx, path)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			w.log.Warn("failed to look up %s: %v", path, err)
		}
		return
	}
	if err := w.documents.Remove(ctx, doc.ID); err != nil {
		w.log.Warn("failed to remove %s: %v", path, err)
		return
	}
	w.log.Info("removed %s", filepath.Base(path))
}

func contentTypeOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
