// Package logging implements a backend that delegates everything to a
// nested backend, logging operations as they happen.
package logging

import (
	"context"
	"encoding/hex"
	"log"

	"github.com/pkg/errors"

	"github.com/bobg/blobpack"
	"github.com/bobg/blobpack/back"
)

var _ blobpack.Backend = &Backend{}

type Backend struct {
	b blobpack.Backend
}

func New(b blobpack.Backend) *Backend {
	return &Backend{b: b}
}

func (l *Backend) Store(ctx context.Context, name, data []byte) error {
	err := l.b.Store(ctx, name, data)
	if err != nil {
		log.Printf("ERROR Store %s (%d bytes): %s", hex.EncodeToString(name), len(data), err)
	} else {
		log.Printf("Store %s (%d bytes)", hex.EncodeToString(name), len(data))
	}
	return err
}

func (l *Backend) Retrieve(ctx context.Context, name []byte) ([]byte, error) {
	data, err := l.b.Retrieve(ctx, name)
	if err != nil {
		log.Printf("ERROR Retrieve %s: %s", hex.EncodeToString(name), err)
	} else {
		log.Printf("Retrieve %s (%d bytes)", hex.EncodeToString(name), len(data))
	}
	return data, err
}

func (l *Backend) Delete(ctx context.Context, name []byte) error {
	err := l.b.Delete(ctx, name)
	if err != nil {
		log.Printf("ERROR Delete %s: %s", hex.EncodeToString(name), err)
	} else {
		log.Printf("Delete %s", hex.EncodeToString(name))
	}
	return err
}

func init() {
	back.Register("logging", func(ctx context.Context, conf map[string]interface{}) (blobpack.Backend, error) {
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
		return New(nestedBackend), nil
	})
}
