// Package filesystem stores uploaded document files on local disk.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
)

// Ensure BlobStore implements the interface.
var _ driven.BlobStore = (*BlobStore)(nil)

// refScheme prefixes every reference handed out by the store.
const refScheme = "blob://"

// BlobStore keeps files in a single directory. References have the form
// "blob://<uuid><ext>" so the original extension survives for extractors
// that sniff it.
type BlobStore struct {
	dir string
}

// NewBlobStore creates a blob store rooted at dir.
// If dir is empty, defaults to ~/.tally/blobs.
func NewBlobStore(dir string) (*BlobStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		dir = filepath.Join(home, ".tally", "blobs")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

// Put writes r to a new file. A partial file is removed on failure.
func (s *BlobStore) Put(ctx context.Context, filename, _ string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close blob: %w", err)
	}
	return refScheme + name, nil
}

// Open returns the file behind ref.
func (s *BlobStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// URL returns a file:// URL for ref. Local files are not reachable by
// hosted services, so extractors upload them instead.
func (s *BlobStore) URL(_ context.Context, ref string) (string, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("stat blob: %w", err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String(), nil
}

// Delete removes the file behind ref.
func (s *BlobStore) Delete(_ context.Context, ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// resolve maps a reference to a path inside the store directory, rejecting
// anything that could escape it.
func (s *BlobStore) resolve(ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, refScheme)
	if !ok || name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: blob reference %q", domain.ErrInvalidInput, ref)
	}
	return filepath.Join(s.dir, name), nil
}
