// Package mem implements an in-memory blob index.
package mem

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/blobpack"
	"github.com/bobg/blobpack/index"
)

var _ blobpack.Index = &Index{}

type state int

const (
	stateReserved state = iota
	stateInAir
	stateCommitted
)

type entry struct {
	desc  blobpack.BlobDesc
	state state
	tag   *blobpack.Tag
}

// Index is a memory-based implementation of a blob index.
// Nothing survives the process; it exists for tests and for
// stores whose backend is itself ephemeral.
type Index struct {
	mu     sync.Mutex
	nextID int64
	blobs  map[string]*entry // keyed by blob name
}

// New produces a new Index.
func New() *Index {
	return &Index{blobs: make(map[string]*entry)}
}

// Reserve allocates a fresh blob identity.
func (ix *Index) Reserve(_ context.Context) (blobpack.BlobDesc, error) {
	name := make([]byte, 16)
	_, err := rand.Read(name)
	if err != nil {
		return blobpack.BlobDesc{}, errors.Wrap(err, "generating blob name")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.nextID++
	desc := blobpack.BlobDesc{ID: ix.nextID, Name: name}
	ix.blobs[string(name)] = &entry{desc: desc, state: stateReserved}
	return desc, nil
}

// InAir records that the named blob is being written.
func (ix *Index) InAir(_ context.Context, desc blobpack.BlobDesc) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.blobs[string(desc.Name)]
	if !ok {
		return errors.Wrapf(blobpack.ErrNotFound, "blob %x", desc.Name)
	}
	e.state = stateInAir
	return nil
}

// CommitDone records that the named blob is fully written.
func (ix *Index) CommitDone(_ context.Context, desc blobpack.BlobDesc) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.blobs[string(desc.Name)]
	if !ok {
		return errors.Wrapf(blobpack.ErrNotFound, "blob %x", desc.Name)
	}
	e.state = stateCommitted
	return nil
}

// Recover marks the named blob committed, reinstating it if absent.
func (ix *Index) Recover(_ context.Context, blobID []byte) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.blobs[string(blobID)]
	if !ok {
		ix.nextID++
		e = &entry{desc: blobpack.BlobDesc{ID: ix.nextID, Name: append([]byte{}, blobID...)}}
		ix.blobs[string(blobID)] = e
	}
	e.state = stateCommitted
	return nil
}

// Tag attaches tag to the described blob.
func (ix *Index) Tag(_ context.Context, desc blobpack.BlobDesc, tag blobpack.Tag) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.blobs[string(desc.Name)]
	if !ok {
		return errors.Wrapf(blobpack.ErrNotFound, "blob %x", desc.Name)
	}
	e.tag = &tag
	return nil
}

// TagAll attaches tag to every tracked blob.
func (ix *Index) TagAll(_ context.Context, tag blobpack.Tag) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, e := range ix.blobs {
		t := tag
		e.tag = &t
	}
	return nil
}

// ListByTag returns the blobs carrying tag.
func (ix *Index) ListByTag(_ context.Context, tag blobpack.Tag) ([]blobpack.BlobDesc, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var descs []blobpack.BlobDesc
	for _, e := range ix.blobs {
		if e.tag != nil && *e.tag == tag {
			descs = append(descs, e.desc)
		}
	}
	return descs, nil
}

// DeleteByTag purges the entries of blobs carrying tag.
func (ix *Index) DeleteByTag(_ context.Context, tag blobpack.Tag) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for name, e := range ix.blobs {
		if e.tag != nil && *e.tag == tag {
			delete(ix.blobs, name)
		}
	}
	return nil
}

// Reset drops tracking for blobs never committed.
func (ix *Index) Reset(_ context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for name, e := range ix.blobs {
		if e.state != stateCommitted {
			delete(ix.blobs, name)
		}
	}
	return nil
}

// Flush is a no-op: there is nothing durable to persist.
func (ix *Index) Flush(_ context.Context) error {
	return nil
}

func init() {
	index.Register("mem", func(_ context.Context, _ map[string]interface{}) (blobpack.Index, error) {
		return New(), nil
	})
}
