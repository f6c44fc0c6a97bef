// Package ledger persists the relay's small key-value documents: like counts
// and the ownership tokens minted for proposals and comments.
package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Backend stores whole named JSON documents. Update serializes the
// read-modify-write cycle for a document so concurrent mutations cannot lose
// writes.
type Backend interface {
	// Load returns the current document contents, or nil when it does not exist.
	Load(ctx context.Context, doc string) ([]byte, error)
	// Update applies fn to the current contents and persists the result.
	// When fn returns nil contents the document is left unchanged.
	Update(ctx context.Context, doc string, fn func(raw []byte) ([]byte, error)) error
}

// FileBackend keeps one JSON file per document under a directory, rewritten
// wholesale on every mutation. Each document is guarded by an in-process
// mutex; a multi-instance deployment needs the redis backend instead.
type FileBackend struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir, locks: map[string]*sync.Mutex{}}
}

func (b *FileBackend) lock(doc string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[doc]
	if !ok {
		l = &sync.Mutex{}
		b.locks[doc] = l
	}
	return l
}

func (b *FileBackend) path(doc string) string {
	return filepath.Join(b.dir, doc+".json")
}

func (b *FileBackend) Load(_ context.Context, doc string) ([]byte, error) {
	raw, err := os.ReadFile(b.path(doc))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", doc, err)
	}
	return raw, nil
}

func (b *FileBackend) Update(ctx context.Context, doc string, fn func([]byte) ([]byte, error)) error {
	l := b.lock(doc)
	l.Lock()
	defer l.Unlock()

	raw, err := b.Load(ctx, doc)
	if err != nil {
		return err
	}
	out, err := fn(raw)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(b.path(doc), out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", doc, err)
	}
	return nil
}
