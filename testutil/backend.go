// Package testutil holds helpers shared by blobpack's tests.
package testutil

import (
	"context"
	"sync"

	"github.com/bobg/blobpack"
)

var _ blobpack.Backend = &Backend{}

// Backend is an in-memory blob backend instrumented for tests.
// The hooks run before the corresponding operation touches the map
// and may inject delays or errors.
type Backend struct {
	StoreHook  func(name, data []byte) error
	DeleteHook func(name []byte) error

	mu     sync.Mutex
	blobs  map[string][]byte
	stores int
}

// NewBackend produces a new Backend.
func NewBackend() *Backend {
	return &Backend{blobs: make(map[string][]byte)}
}

func (b *Backend) Store(_ context.Context, name, data []byte) error {
	if b.StoreHook != nil {
		if err := b.StoreHook(name, data); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[string(name)] = append([]byte{}, data...)
	b.stores++
	return nil
}

func (b *Backend) Retrieve(_ context.Context, name []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[string(name)]
	if !ok {
		return nil, blobpack.ErrNotFound
	}
	return append([]byte{}, data...), nil
}

func (b *Backend) Delete(_ context.Context, name []byte) error {
	if b.DeleteHook != nil {
		if err := b.DeleteHook(name); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, string(name))
	return nil
}

// Has reports whether a blob named name is present.
func (b *Backend) Has(name []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blobs[string(name)]
	return ok
}

// Stores reports how many Store calls have completed.
func (b *Backend) Stores() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stores
}

// Len reports how many blobs the backend holds.
func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blobs)
}
