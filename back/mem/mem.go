// Package mem implements an in-memory blob backend.
package mem

import (
	"context"
	"sync"

	"github.com/bobg/blobpack"
	"github.com/bobg/blobpack/back"
)

var _ blobpack.Backend = &Backend{}

// Backend is a memory-based implementation of a blob backend.
type Backend struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// New produces a new Backend.
func New() *Backend {
	return &Backend{blobs: make(map[string][]byte)}
}

// Store writes data under name.
func (b *Backend) Store(_ context.Context, name, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[string(name)] = append([]byte{}, data...)
	return nil
}

// Retrieve gets the blob stored under name.
func (b *Backend) Retrieve(_ context.Context, name []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[string(name)]
	if !ok {
		return nil, blobpack.ErrNotFound
	}
	return append([]byte{}, data...), nil
}

// Delete removes the blob stored under name.
func (b *Backend) Delete(_ context.Context, name []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, string(name))
	return nil
}

// Len reports how many blobs the backend holds.
func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blobs)
}

func init() {
	back.Register("mem", func(_ context.Context, _ map[string]interface{}) (blobpack.Backend, error) {
		return New(), nil
	})
}
