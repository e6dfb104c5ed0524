// Package file implements a blob backend as a file hierarchy.
package file

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/bobg/flock"
	"github.com/pkg/errors"

	"github.com/bobg/blobpack"
	"github.com/bobg/blobpack/back"
)

var _ blobpack.Backend = &Backend{}

// Backend is a file-based implementation of a blob backend.
// Blobs live under root/blobs, sharded by the first byte of the
// hex-encoded name. Writes go through a temp file and a rename,
// guarded by a lock file so concurrent processes do not interleave.
type Backend struct {
	root    string
	flocker flock.Locker
}

// New produces a new Backend storing data beneath root.
func New(root string) *Backend {
	return &Backend{root: root}
}

func (b *Backend) blobroot() string {
	return filepath.Join(b.root, "blobs")
}

func (b *Backend) blobpath(name []byte) string {
	h := hex.EncodeToString(name)
	return filepath.Join(b.blobroot(), h[:2], h)
}

func (b *Backend) lockpath() string {
	return filepath.Join(b.root, "lock")
}

// Store writes data under name, replacing any previous blob.
func (b *Backend) Store(_ context.Context, name, data []byte) error {
	if len(name) == 0 {
		return errors.New("empty blob name")
	}

	err := b.flocker.Lock(b.lockpath())
	if err != nil {
		return errors.Wrap(err, "locking store")
	}
	defer b.flocker.Unlock(b.lockpath())

	path := b.blobpath(name)
	dir := filepath.Dir(path)

	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return errors.Wrapf(err, "ensuring path %s exists", dir)
	}

	f, err := os.CreateTemp(dir, ".tmp")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpname := f.Name()
	defer os.Remove(tmpname)

	_, err = f.Write(data)
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "writing data to %s", tmpname)
	}
	err = f.Close()
	if err != nil {
		return errors.Wrapf(err, "closing %s", tmpname)
	}

	return errors.Wrapf(os.Rename(tmpname, path), "renaming %s to %s", tmpname, path)
}

// Retrieve gets the blob stored under name.
func (b *Backend) Retrieve(_ context.Context, name []byte) ([]byte, error) {
	if len(name) == 0 {
		return nil, errors.New("empty blob name")
	}
	path := b.blobpath(name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, blobpack.ErrNotFound
	}
	return data, errors.Wrapf(err, "reading %s", path)
}

// Delete removes the blob stored under name.
func (b *Backend) Delete(_ context.Context, name []byte) error {
	if len(name) == 0 {
		return errors.New("empty blob name")
	}

	err := b.flocker.Lock(b.lockpath())
	if err != nil {
		return errors.Wrap(err, "locking store")
	}
	defer b.flocker.Unlock(b.lockpath())

	path := b.blobpath(name)
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return errors.Wrapf(err, "removing %s", path)
}

func init() {
	back.Register("file", func(_ context.Context, conf map[string]interface{}) (blobpack.Backend, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		return New(root), nil
	})
}
