// Package gcs implements a blob backend on a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"

	"github.com/bobg/blobpack"
	"github.com/bobg/blobpack/back"
)

var _ blobpack.Backend = &Backend{}

// Backend stores blobs as objects in one bucket,
// keyed by the hex encoding of the blob name.
type Backend struct {
	blobs *storage.BucketHandle
}

// New produces a new Backend writing to the given bucket.
func New(client *storage.Client, bucket string) *Backend {
	return &Backend{blobs: client.Bucket(bucket)}
}

func objname(name []byte) string {
	return hex.EncodeToString(name)
}

// Store writes data under name, retrying throttling and server errors.
func (b *Backend) Store(ctx context.Context, name, data []byte) error {
	try := func() error {
		w := b.blobs.Object(objname(name)).NewWriter(ctx)
		_, err := w.Write(data)
		if err != nil {
			w.Close()
			return permanentUnlessRetryable(err)
		}
		return permanentUnlessRetryable(w.Close())
	}
	err := backoff.Retry(try, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
	return errors.Wrapf(err, "storing object %s", objname(name))
}

// Retrieve gets the blob stored under name.
func (b *Backend) Retrieve(ctx context.Context, name []byte) ([]byte, error) {
	r, err := b.blobs.Object(objname(name)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, blobpack.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening object %s", objname(name))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	return data, errors.Wrapf(err, "reading object %s", objname(name))
}

// Delete removes the blob stored under name.
// Deleting an absent blob is not an error.
func (b *Backend) Delete(ctx context.Context, name []byte) error {
	err := b.blobs.Object(objname(name)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return errors.Wrapf(err, "deleting object %s", objname(name))
}

func permanentUnlessRetryable(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500 {
			return err
		}
	}
	return backoff.Permanent(err)
}

func init() {
	back.Register("gcs", func(ctx context.Context, conf map[string]interface{}) (blobpack.Backend, error) {
		bucket, ok := conf["bucket"].(string)
		if !ok {
			return nil, errors.New(`missing "bucket" parameter`)
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "creating gcs client")
		}
		return New(client, bucket), nil
	})
}
