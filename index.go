package blobpack

import "context"

// Index is the persistent naming and bookkeeping authority for blobs.
// It allocates blob identities and records their lifecycle
// (reserved, in-flight, committed)
// plus a tag relation used for retention and bulk deletion.
// An Index is shared by every Store over the same storage
// and must tolerate concurrent calls.
// Implementations live in the index subpackages.
type Index interface {
	// Reserve allocates a fresh blob identity.
	// A name is never reused while any blob of that name is live.
	Reserve(ctx context.Context) (BlobDesc, error)

	// InAir durably records that the named blob is about to be
	// written to the backend but is not yet confirmed. It is the
	// marker crash recovery uses to find writes of uncertain fate.
	InAir(ctx context.Context, desc BlobDesc) error

	// CommitDone durably records that the named blob
	// is fully written to the backend.
	CommitDone(ctx context.Context, desc BlobDesc) error

	// Recover marks the blob named blobID as present and needed,
	// reinstating it if the index had no entry for it.
	Recover(ctx context.Context, blobID []byte) error

	// Tag attaches tag to the described blob.
	// The desc may carry a zero ID when only the name is known.
	Tag(ctx context.Context, desc BlobDesc, tag Tag) error

	// TagAll attaches tag to every blob the index tracks.
	TagAll(ctx context.Context, tag Tag) error

	// ListByTag returns the blobs carrying tag.
	ListByTag(ctx context.Context, tag Tag) ([]BlobDesc, error)

	// DeleteByTag purges the index's bookkeeping
	// for every blob carrying tag.
	DeleteByTag(ctx context.Context, tag Tag) error

	// Reset discards tracking for blobs that were reserved
	// or marked in-flight but never committed.
	Reset(ctx context.Context) error

	// Flush persists any buffered index state.
	Flush(ctx context.Context) error
}
