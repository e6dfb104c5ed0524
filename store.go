package blobpack

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// DefaultMaxBlobSize is a reasonable flush threshold
// for backends that like multi-megabyte writes.
const DefaultMaxBlobSize = 4 << 20

// pendingChunk pairs a ref handed out by store
// with the callback owed to its caller.
// Entries accumulate between flushes and always describe
// the blob currently being built.
type pendingChunk struct {
	ref ChunkRef
	cb  func(ChunkRef)
}

// inner is the single-threaded accumulation state machine.
// It is only ever touched with Store.mu held.
type inner struct {
	backend Backend
	index   Index

	blobDesc BlobDesc
	blobData []byte
	pending  []pendingChunk

	maxBlobSize int
}

func newInner(ctx context.Context, index Index, backend Backend, maxBlobSize int) (*inner, error) {
	inn := &inner{
		backend:     backend,
		index:       index,
		blobData:    make([]byte, 0, maxBlobSize),
		maxBlobSize: maxBlobSize,
	}
	_, err := inn.reserveNewBlob(ctx)
	return inn, err
}

// reserveNewBlob installs a fresh identity as the current blob
// and returns the descriptor it replaced.
func (inn *inner) reserveNewBlob(ctx context.Context) (BlobDesc, error) {
	desc, err := inn.index.Reserve(ctx)
	if err != nil {
		return BlobDesc{}, errors.Wrap(err, "reserving blob")
	}
	old := inn.blobDesc
	inn.blobDesc = desc
	return old, nil
}

func (inn *inner) store(chunk []byte, kind Kind, cb func(ChunkRef)) ChunkRef {
	if len(chunk) == 0 {
		// Empty content is never physically stored,
		// so its ref is complete the moment it exists.
		ref := ChunkRef{BlobID: EmptyBlobID, Kind: kind}
		if cb != nil {
			go cb(ref)
		}
		return ref
	}

	ref := ChunkRef{
		BlobID: append([]byte{}, inn.blobDesc.Name...),
		Offset: int64(len(inn.blobData)),
		Length: int64(len(chunk)),
		Kind:   kind,
	}
	inn.pending = append(inn.pending, pendingChunk{ref: ref, cb: cb})
	inn.blobData = append(inn.blobData, chunk...)

	// Reply with the ref before any flush happens,
	// so the caller never waits on blob I/O.
	return ref
}

func (inn *inner) maybeFlush(ctx context.Context) error {
	if len(inn.blobData) >= inn.maxBlobSize {
		return inn.flush(ctx)
	}
	return nil
}

// flush writes the current blob to the backend, records its lifecycle in
// the index, and completes the callbacks of every chunk it carries.
// No callback runs unless the blob has been marked committed.
//
// A failed reservation returns an error with the accumulation state
// untouched, so a later flush retries the same blob. Any failure after
// that point is fatal: the blob's identity and body have already been
// taken out of the accumulation state, and abandoning them would
// strand refs that were handed out against this blob.
func (inn *inner) flush(ctx context.Context) error {
	if len(inn.blobData) == 0 {
		return nil
	}

	oldDesc, err := inn.reserveNewBlob(ctx)
	if err != nil {
		return err
	}
	oldData := inn.blobData
	inn.blobData = make([]byte, 0, inn.maxBlobSize)

	err = inn.index.InAir(ctx, oldDesc)
	if err != nil {
		panic(errors.Wrapf(err, "marking blob %x in-flight", oldDesc.Name))
	}

	// A failed write leaves the blob's durability unknown. That cannot
	// be resolved here: recovery is an operator procedure driven by the
	// in-flight marker on restart. Terminate instead of guessing.
	err = inn.backend.Store(ctx, oldDesc.Name, oldData)
	if err != nil {
		panic(errors.Wrapf(err, "storing blob %x", oldDesc.Name))
	}

	err = inn.index.CommitDone(ctx, oldDesc)
	if err != nil {
		panic(errors.Wrapf(err, "marking blob %x committed", oldDesc.Name))
	}

	for len(inn.pending) > 0 {
		p := inn.pending[len(inn.pending)-1]
		inn.pending = inn.pending[:len(inn.pending)-1]
		if p.cb != nil {
			p.cb(p.ref)
		}
	}
	return nil
}

// reset discards the current accumulation attempt.
// Pending callbacks are abandoned, not invoked.
func (inn *inner) reset(ctx context.Context) error {
	err := inn.index.Reset(ctx)
	if err != nil {
		return errors.Wrap(err, "resetting index")
	}
	inn.pending = nil
	inn.blobData = inn.blobData[:0]
	_, err = inn.reserveNewBlob(ctx)
	return err
}

func (inn *inner) retrieve(ctx context.Context, ref ChunkRef) ([]byte, error) {
	if ref.IsEmpty() {
		return []byte{}, nil
	}
	blob, err := inn.backend.Retrieve(ctx, ref.BlobID)
	if err != nil {
		return nil, err
	}
	// Compare without adding Offset and Length: both come off the wire
	// and their sum can overflow.
	if ref.Offset < 0 || ref.Length < 0 || ref.Offset > int64(len(blob)) || ref.Length > int64(len(blob))-ref.Offset {
		return nil, errors.Wrapf(ErrRef, "range at %d of %d bytes outside blob %x of %d bytes",
			ref.Offset, ref.Length, ref.BlobID, len(blob))
	}
	return blob[ref.Offset : ref.Offset+ref.Length], nil
}

func (inn *inner) recover(ctx context.Context, ref ChunkRef) error {
	if ref.IsEmpty() {
		// No blob backs an empty chunk.
		return nil
	}
	return inn.index.Recover(ctx, ref.BlobID)
}

func (inn *inner) deleteByTag(ctx context.Context, tag Tag) error {
	descs, err := inn.index.ListByTag(ctx, tag)
	if err != nil {
		return errors.Wrapf(err, "listing blobs tagged %d", tag)
	}
	for _, desc := range descs {
		err = inn.backend.Delete(ctx, desc.Name)
		if err != nil {
			// Leave the index untouched so a retry sees the
			// remaining entries.
			return errors.Wrapf(err, "deleting blob %x", desc.Name)
		}
	}
	return errors.Wrapf(inn.index.DeleteByTag(ctx, tag), "purging tag %d from index", tag)
}

// Store is the concurrency-safe blob-packing engine.
// All shared state sits behind one mutex;
// contention is bounded by blob-sized batches, not per-chunk work.
//
// A Store may carry a request budget (see NewWithLimit).
// When the budget hits zero the store is poisoned:
// every operation fails with ErrRequestLimit until Reset.
type Store struct {
	mu       sync.Mutex
	inn      *inner
	limit    *int64 // nil: unlimited; 0: poisoned by exhaustion
	poisoned bool   // a panic unwound through a critical section
}

// New produces a Store over the given index and backend
// that flushes once the accumulated blob reaches maxBlobSize bytes.
func New(ctx context.Context, index Index, backend Backend, maxBlobSize int) (*Store, error) {
	return NewWithLimit(ctx, index, backend, maxBlobSize, -1)
}

// NewWithLimit is New with a request budget:
// after limit successful public operations the store refuses further work
// with ErrRequestLimit until an explicit Reset.
// A negative limit means no budget.
// The budget deterministically forces a store into a stuck mid-operation
// state, for exercising recovery paths.
func NewWithLimit(ctx context.Context, index Index, backend Backend, maxBlobSize int, limit int64) (*Store, error) {
	inn, err := newInner(ctx, index, backend, maxBlobSize)
	if err != nil {
		return nil, err
	}
	s := &Store{inn: inn}
	if limit >= 0 {
		s.limit = &limit
	}
	return s, nil
}

// withLock runs f with exclusive access to the inner state,
// charging one unit of the request budget.
func (s *Store) withLock(f func(*inner) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned {
		return ErrPoisoned
	}
	if s.limit != nil {
		if *s.limit == 0 {
			return ErrRequestLimit
		}
		*s.limit--
	}

	defer func() {
		if r := recover(); r != nil {
			s.poisoned = true
			panic(r)
		}
	}()
	return f(s.inn)
}

// Store appends chunk to the current blob and returns its ref.
// The ref identifies the chunk immediately but is not retrievable until
// the blob carrying it has been committed; cb, if non-nil, is invoked
// exactly once with the finalized ref after that commit.
// An empty chunk gets the canonical empty ref and its callback fires
// right away, on a separate goroutine.
//
// Callbacks for non-empty chunks run with the store's internals locked
// and must not call back into the store.
//
// Store never blocks the caller on blob I/O: the size check that may
// trigger a flush runs in the background after Store returns.
func (s *Store) Store(ctx context.Context, chunk []byte, kind Kind, cb func(ChunkRef)) (ChunkRef, error) {
	var ref ChunkRef
	err := s.withLock(func(inn *inner) error {
		ref = inn.store(chunk, kind, cb)
		return nil
	})
	if err != nil {
		return ChunkRef{}, err
	}

	// Internal maintenance bypasses the request budget. The caller's
	// context is not borrowed: it may be done before the flush runs.
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.poisoned {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				s.poisoned = true
				panic(r)
			}
		}()
		// A reservation error leaves the buffer intact; the next
		// store or Flush retries it.
		_ = s.inn.maybeFlush(context.Background())
	}()

	return ref, nil
}

// Retrieve returns the bytes identified by ref,
// or ErrNotFound if the blob holding them is absent from the backend.
func (s *Store) Retrieve(ctx context.Context, ref ChunkRef) ([]byte, error) {
	var data []byte
	err := s.withLock(func(inn *inner) error {
		var err error
		data, err = inn.retrieve(ctx, ref)
		return err
	})
	return data, err
}

// StoreNamed writes a whole blob under an explicit name,
// outside the chunk-packing scheme.
// Used for root and metadata objects that need well-known names.
func (s *Store) StoreNamed(ctx context.Context, name string, data []byte) error {
	return s.withLock(func(inn *inner) error {
		return inn.backend.Store(ctx, []byte(name), data)
	})
}

// RetrieveNamed returns the whole blob stored under name,
// or ErrNotFound.
func (s *Store) RetrieveNamed(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.withLock(func(inn *inner) error {
		var err error
		data, err = inn.backend.Retrieve(ctx, []byte(name))
		return err
	})
	return data, err
}

// Recover tells the index that the blob behind ref is present and
// needed, for use when a higher layer re-derives that a blob must be
// retained (repair scans, snapshot recovery).
// Empty refs are a no-op.
func (s *Store) Recover(ctx context.Context, ref ChunkRef) error {
	return s.withLock(func(inn *inner) error {
		return inn.recover(ctx, ref)
	})
}

// Tag attaches tag to the blob behind ref.
func (s *Store) Tag(ctx context.Context, ref ChunkRef, tag Tag) error {
	return s.withLock(func(inn *inner) error {
		return inn.index.Tag(ctx, BlobDesc{Name: ref.BlobID}, tag)
	})
}

// TagAll attaches tag to every blob the index tracks.
func (s *Store) TagAll(ctx context.Context, tag Tag) error {
	return s.withLock(func(inn *inner) error {
		return inn.index.TagAll(ctx, tag)
	})
}

// DeleteByTag deletes every blob carrying tag from the backend, then
// purges the tag's index entries. A failed backend delete aborts the
// whole operation and leaves the index untouched, so the caller can
// retry; blobs already deleted stay deleted.
func (s *Store) DeleteByTag(ctx context.Context, tag Tag) error {
	return s.withLock(func(inn *inner) error {
		return inn.deleteByTag(ctx, tag)
	})
}

// Flush writes out the current blob regardless of size and persists
// index state. When Flush returns successfully, every non-empty ref
// handed out so far is retrievable and all owed callbacks have run.
func (s *Store) Flush(ctx context.Context) error {
	return s.withLock(func(inn *inner) error {
		err := inn.flush(ctx)
		if err != nil {
			return err
		}
		return errors.Wrap(inn.index.Flush(ctx), "flushing index")
	})
}

// Reset returns a store whose request budget has run out to service.
// It refuses with ErrNotPoisoned unless the budget is exactly zero.
// The current accumulation attempt is discarded:
// pending callbacks are abandoned without being invoked,
// and the index drops its uncommitted tracking.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned {
		return ErrPoisoned
	}
	if s.limit == nil || *s.limit != 0 {
		return ErrNotPoisoned
	}
	s.limit = nil
	return s.inn.reset(ctx)
}
