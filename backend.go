package blobpack

import "context"

// Backend is durable key/value storage for named blobs.
// Implementations live in the back subpackages.
type Backend interface {
	// Store durably writes data under name,
	// replacing any previous blob of that name.
	// Once Store returns successfully,
	// Retrieve of the same name must observe the write.
	Store(ctx context.Context, name, data []byte) error

	// Retrieve returns the blob stored under name,
	// or ErrNotFound if there is none.
	// Absence is an expected outcome,
	// distinct from an I/O failure.
	Retrieve(ctx context.Context, name []byte) ([]byte, error)

	// Delete removes the blob stored under name.
	Delete(ctx context.Context, name []byte) error
}
