// Package lru implements a backend that acts as a least-recently-used
// read cache for a nested backend.
package lru

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/blobpack"
	"github.com/bobg/blobpack/back"
)

var _ blobpack.Backend = &Backend{}

// Backend caches up to a fixed number of blobs in memory.
// Writes and deletes pass through to the nested backend.
type Backend struct {
	c *lru.Cache // name -> []byte
	b blobpack.Backend
}

// New produces a new Backend backed by b and caching up to size blobs.
func New(b blobpack.Backend, size int) (*Backend, error) {
	c, err := lru.New(size)
	return &Backend{b: b, c: c}, err
}

func (l *Backend) Store(ctx context.Context, name, data []byte) error {
	err := l.b.Store(ctx, name, data)
	if err != nil {
		return err
	}
	l.c.Add(string(name), append([]byte{}, data...))
	return nil
}

func (l *Backend) Retrieve(ctx context.Context, name []byte) ([]byte, error) {
	if got, ok := l.c.Get(string(name)); ok {
		return got.([]byte), nil
	}
	data, err := l.b.Retrieve(ctx, name)
	if err != nil {
		return nil, err
	}
	l.c.Add(string(name), data)
	return data, nil
}

func (l *Backend) Delete(ctx context.Context, name []byte) error {
	err := l.b.Delete(ctx, name)
	if err != nil {
		return err
	}
	l.c.Remove(string(name))
	return nil
}

func init() {
	back.Register("lru", func(ctx context.Context, conf map[string]interface{}) (blobpack.Backend, error) {
		size, ok := conf["size"].(float64)
		if !ok {
			return nil, errors.New(`missing "size" parameter`)
		}
		nested, ok := conf["nested"].(map[string]interface{})
		if !ok {
			return nil, errors.New(`missing "nested" parameter`)
		}
		nestedType, ok := nested["type"].(string)
		if !ok {
			return nil, errors.New(`"nested" parameter missing "type"`)
		}
		nestedBackend, err := back.Create(ctx, nestedType, nested)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested backend")
		}
		return New(nestedBackend, int(size))
	})
}
