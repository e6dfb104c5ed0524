package blobpack_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/blobpack"
	indexmem "github.com/bobg/blobpack/index/mem"
	"github.com/bobg/blobpack/testutil"
)

func newTestStore(ctx context.Context, t *testing.T, maxBlobSize int, limit int64) (*blobpack.Store, *testutil.Backend, *indexmem.Index) {
	t.Helper()
	backend := testutil.NewBackend()
	ix := indexmem.New()
	s, err := blobpack.NewWithLimit(ctx, ix, backend, maxBlobSize, limit)
	if err != nil {
		t.Fatal(err)
	}
	return s, backend, ix
}

func waitRef(t *testing.T, ch <-chan blobpack.ChunkRef) blobpack.ChunkRef {
	t.Helper()
	select {
	case ref := <-ch:
		return ref
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion callback")
		return blobpack.ChunkRef{}
	}
}

func noRef(t *testing.T, ch <-chan blobpack.ChunkRef) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("unexpected completion callback")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStoreEmptyChunk(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(ctx, t, 1024, -1)

	ch := make(chan blobpack.ChunkRef, 1)
	ref, err := s.Store(ctx, nil, blobpack.KindTreeLeaf, func(r blobpack.ChunkRef) { ch <- r })
	if err != nil {
		t.Fatal(err)
	}
	if !ref.IsEmpty() {
		t.Errorf("got ref %+v, want the canonical empty ref", ref)
	}
	if !bytes.Equal(ref.BlobID, blobpack.EmptyBlobID) {
		t.Errorf("got blob id %x, want the empty sentinel", ref.BlobID)
	}

	got := waitRef(t, ch)
	if got.Offset != 0 || got.Length != 0 {
		t.Errorf("callback got ref %+v, want empty", got)
	}

	data, err := s.Retrieve(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Errorf("got %d bytes for the empty ref", len(data))
	}
	if backend.Stores() != 0 {
		t.Errorf("empty chunk reached the backend (%d stores)", backend.Stores())
	}
}

func TestOffsetsWithinBlob(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(ctx, t, 1<<20, -1)

	chunks := [][]byte{[]byte("aa"), []byte("bbb"), []byte("cccc")}
	var (
		wantOffset int64
		blobID     []byte
	)
	for _, chunk := range chunks {
		ref, err := s.Store(ctx, chunk, blobpack.KindTreeLeaf, nil)
		if err != nil {
			t.Fatal(err)
		}
		if ref.Offset != wantOffset {
			t.Errorf("chunk %q: got offset %d, want %d", chunk, ref.Offset, wantOffset)
		}
		if ref.Length != int64(len(chunk)) {
			t.Errorf("chunk %q: got length %d, want %d", chunk, ref.Length, len(chunk))
		}
		if blobID == nil {
			blobID = ref.BlobID
		} else if !bytes.Equal(blobID, ref.BlobID) {
			t.Errorf("chunk %q landed in blob %x, want %x", chunk, ref.BlobID, blobID)
		}
		wantOffset += int64(len(chunk))
	}
}

func TestFlushThenRetrieve(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(ctx, t, 1<<20, -1)

	chunks := [][]byte{[]byte("one"), []byte("two two"), []byte("three three three")}
	refs := make([]blobpack.ChunkRef, 0, len(chunks))
	for _, chunk := range chunks {
		ref, err := s.Store(ctx, chunk, blobpack.KindTreeLeaf, nil)
		if err != nil {
			t.Fatal(err)
		}
		refs = append(refs, ref)
	}

	err := s.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}

	for i, ref := range refs {
		got, err := s.Retrieve(ctx, ref)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, chunks[i]) {
			t.Errorf("chunk %d: got %q, want %q", i, got, chunks[i])
		}
	}
}

func TestCallbackAfterCommit(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewBackend()
	backend.StoreHook = func(_, _ []byte) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}
	ix := indexmem.New()
	s, err := blobpack.New(ctx, ix, backend, 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	type result struct {
		ref     blobpack.ChunkRef
		durable bool
	}
	ch := make(chan result, 1)
	ref, err := s.Store(ctx, []byte("payload"), blobpack.KindTreeLeaf, func(r blobpack.ChunkRef) {
		ch <- result{ref: r, durable: backend.Has(r.BlobID)}
	})
	if err != nil {
		t.Fatal(err)
	}

	// Below the size threshold: nothing may complete until an explicit flush.
	select {
	case <-ch:
		t.Fatal("callback fired before flush")
	case <-time.After(100 * time.Millisecond):
	}

	err = s.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-ch:
		if !got.durable {
			t.Error("callback fired before the blob reached the backend")
		}
		if !bytes.Equal(got.ref.BlobID, ref.BlobID) || got.ref.Offset != ref.Offset || got.ref.Length != ref.Length {
			t.Errorf("callback got ref %+v, want %+v", got.ref, ref)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion callback")
	}
}

func TestSizeTriggeredFlush(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(ctx, t, 10, -1)

	ch1 := make(chan blobpack.ChunkRef, 1)
	ref1, err := s.Store(ctx, []byte("abcdef"), blobpack.KindTreeLeaf, func(r blobpack.ChunkRef) { ch1 <- r })
	if err != nil {
		t.Fatal(err)
	}
	if ref1.Offset != 0 || ref1.Length != 6 {
		t.Errorf("got ref {offset %d, length %d}, want {0, 6}", ref1.Offset, ref1.Length)
	}
	noRef(t, ch1) // 6 < 10: no flush yet

	ch2 := make(chan blobpack.ChunkRef, 1)
	ref2, err := s.Store(ctx, []byte("ghijklmn"), blobpack.KindTreeLeaf, func(r blobpack.ChunkRef) { ch2 <- r })
	if err != nil {
		t.Fatal(err)
	}
	if ref2.Offset != 6 || ref2.Length != 8 {
		t.Errorf("got ref {offset %d, length %d}, want {6, 8}", ref2.Offset, ref2.Length)
	}

	// Buffer hit 14 >= 10: the background check flushes without an
	// explicit Flush call, completing both chunks.
	waitRef(t, ch1)
	waitRef(t, ch2)

	got, err := s.Retrieve(ctx, ref2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("ghijklmn")) {
		t.Errorf("got %q, want %q", got, "ghijklmn")
	}
}

func TestRequestLimit(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(ctx, t, 1<<20, 2)

	ch := make(chan blobpack.ChunkRef, 1)
	_, err := s.Store(ctx, []byte("doomed"), blobpack.KindTreeLeaf, func(r blobpack.ChunkRef) { ch <- r })
	if err != nil {
		t.Fatal(err)
	}

	// Budget not yet exhausted: reset must refuse.
	err = s.Reset(ctx)
	if !errors.Is(err, blobpack.ErrNotPoisoned) {
		t.Errorf("got %v, want ErrNotPoisoned", err)
	}

	_, err = s.RetrieveNamed(ctx, "whatever")
	if !errors.Is(err, blobpack.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}

	// Budget is now zero.
	_, err = s.Store(ctx, []byte("x"), blobpack.KindTreeLeaf, nil)
	if !errors.Is(err, blobpack.ErrRequestLimit) {
		t.Errorf("got %v, want ErrRequestLimit", err)
	}
	err = s.Flush(ctx)
	if !errors.Is(err, blobpack.ErrRequestLimit) {
		t.Errorf("got %v, want ErrRequestLimit", err)
	}

	err = s.Reset(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// The reset abandoned the pending chunk: flushing now is a no-op
	// and its callback never fires.
	err = s.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	noRef(t, ch)
	if backend.Stores() != 0 {
		t.Errorf("abandoned chunk reached the backend (%d stores)", backend.Stores())
	}
}

func TestResetHealthyStore(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(ctx, t, 1<<20, -1)

	err := s.Reset(ctx)
	if !errors.Is(err, blobpack.ErrNotPoisoned) {
		t.Errorf("got %v, want ErrNotPoisoned", err)
	}
}

func TestFatalWritePoisons(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewBackend()
	backend.StoreHook = func(_, _ []byte) error {
		return errors.New("disk full")
	}
	ix := indexmem.New()
	s, err := blobpack.New(ctx, ix, backend, 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Store(ctx, []byte("payload"), blobpack.KindTreeLeaf, nil)
	if err != nil {
		t.Fatal(err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected flush to panic on backend write failure")
			}
		}()
		s.Flush(ctx)
	}()

	// The panic unwound through a critical section: the store is no
	// longer trustworthy, and not even Reset will touch it.
	_, err = s.Retrieve(ctx, blobpack.ChunkRef{BlobID: []byte{1}, Length: 1, Kind: blobpack.KindTreeLeaf})
	if !errors.Is(err, blobpack.ErrPoisoned) {
		t.Errorf("got %v, want ErrPoisoned", err)
	}
	err = s.Reset(ctx)
	if !errors.Is(err, blobpack.ErrPoisoned) {
		t.Errorf("got %v, want ErrPoisoned", err)
	}
}

// flakyIndex is a mem index whose lifecycle methods can be made to
// fail on demand.
type flakyIndex struct {
	*indexmem.Index
	reserveErr, inAirErr, commitErr error
}

func (ix *flakyIndex) Reserve(ctx context.Context) (blobpack.BlobDesc, error) {
	if ix.reserveErr != nil {
		return blobpack.BlobDesc{}, ix.reserveErr
	}
	return ix.Index.Reserve(ctx)
}

func (ix *flakyIndex) InAir(ctx context.Context, desc blobpack.BlobDesc) error {
	if ix.inAirErr != nil {
		return ix.inAirErr
	}
	return ix.Index.InAir(ctx, desc)
}

func (ix *flakyIndex) CommitDone(ctx context.Context, desc blobpack.BlobDesc) error {
	if ix.commitErr != nil {
		return ix.commitErr
	}
	return ix.Index.CommitDone(ctx, desc)
}

func TestFatalIndexFailurePoisons(t *testing.T) {
	cases := []struct {
		name   string
		wreck func(*flakyIndex)
	}{{
		name:   "in-air",
		wreck: func(ix *flakyIndex) { ix.inAirErr = errors.New("index down") },
	}, {
		name:   "commit-done",
		wreck: func(ix *flakyIndex) { ix.commitErr = errors.New("index down") },
	}}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := context.Background()
			backend := testutil.NewBackend()
			ix := &flakyIndex{Index: indexmem.New()}
			s, err := blobpack.New(ctx, ix, backend, 1<<20)
			if err != nil {
				t.Fatal(err)
			}

			ch := make(chan blobpack.ChunkRef, 1)
			_, err = s.Store(ctx, []byte("payload"), blobpack.KindTreeLeaf, func(r blobpack.ChunkRef) { ch <- r })
			if err != nil {
				t.Fatal(err)
			}

			c.wreck(ix)
			func() {
				defer func() {
					if recover() == nil {
						t.Fatal("expected flush to panic on index failure")
					}
				}()
				s.Flush(ctx)
			}()

			// The batch was already detached from the accumulation
			// state when the failure hit: the store must refuse
			// further work rather than hand out success while refs
			// it issued are unretrievable.
			_, err = s.Retrieve(ctx, blobpack.ChunkRef{BlobID: []byte{1}, Length: 1, Kind: blobpack.KindTreeLeaf})
			if !errors.Is(err, blobpack.ErrPoisoned) {
				t.Errorf("got %v, want ErrPoisoned", err)
			}
			err = s.Flush(ctx)
			if !errors.Is(err, blobpack.ErrPoisoned) {
				t.Errorf("got %v, want ErrPoisoned", err)
			}
			noRef(t, ch)
		})
	}
}

func TestFlushRetryAfterReserveFailure(t *testing.T) {
	ctx := context.Background()
	backend := testutil.NewBackend()
	ix := &flakyIndex{Index: indexmem.New()}
	s, err := blobpack.New(ctx, ix, backend, 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	ref, err := s.Store(ctx, []byte("payload"), blobpack.KindTreeLeaf, nil)
	if err != nil {
		t.Fatal(err)
	}

	// A reservation failure is reported before any state changes,
	// so a retry flushes the very same blob.
	ix.reserveErr = errors.New("index down")
	err = s.Flush(ctx)
	if err == nil {
		t.Fatal("expected flush to fail while reservation is broken")
	}
	if backend.Stores() != 0 {
		t.Errorf("failed flush reached the backend (%d stores)", backend.Stores())
	}

	ix.reserveErr = nil
	err = s.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Retrieve(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("payload")) {
		t.Errorf("got %q, want %q", got, "payload")
	}
}

func TestRetrieveRangeOverflow(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(ctx, t, 1<<20, -1)

	ref, err := s.Store(ctx, []byte("payload"), blobpack.KindTreeLeaf, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Offset+Length overflows int64; the range check must not add them.
	bad := blobpack.ChunkRef{BlobID: ref.BlobID, Offset: 1 << 62, Length: 1 << 62, Kind: blobpack.KindTreeLeaf}
	if _, err := blobpack.RefFromBytes(bad.Bytes()); err != nil {
		t.Fatalf("overflow ref does not survive the codec: %v", err)
	}
	_, err = s.Retrieve(ctx, bad)
	if !errors.Is(err, blobpack.ErrRef) {
		t.Errorf("got %v, want ErrRef", err)
	}

	// Hand-built negative ranges never reach the slice either.
	bad = blobpack.ChunkRef{BlobID: ref.BlobID, Offset: -1, Length: 2, Kind: blobpack.KindTreeLeaf}
	_, err = s.Retrieve(ctx, bad)
	if !errors.Is(err, blobpack.ErrRef) {
		t.Errorf("got %v, want ErrRef", err)
	}
}

func TestStoreNamed(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(ctx, t, 1<<20, -1)

	err := s.StoreNamed(ctx, "root", []byte("snapshot-pointer"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.RetrieveNamed(ctx, "root")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("snapshot-pointer")) {
		t.Errorf("got %q, want %q", got, "snapshot-pointer")
	}

	_, err = s.RetrieveNamed(ctx, "missing")
	if !errors.Is(err, blobpack.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}

	// Named blobs are replaceable.
	err = s.StoreNamed(ctx, "root", []byte("newer"))
	if err != nil {
		t.Fatal(err)
	}
	got, err = s.RetrieveNamed(ctx, "root")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("newer")) {
		t.Errorf("got %q, want %q", got, "newer")
	}
}

func TestTagDelete(t *testing.T) {
	ctx := context.Background()
	s, backend, ix := newTestStore(ctx, t, 1<<20, -1)

	ref, err := s.Store(ctx, []byte("condemned"), blobpack.KindTreeLeaf, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}

	err = s.Tag(ctx, ref, blobpack.TagWillDelete)
	if err != nil {
		t.Fatal(err)
	}
	err = s.DeleteByTag(ctx, blobpack.TagWillDelete)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Retrieve(ctx, ref)
	if !errors.Is(err, blobpack.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if backend.Has(ref.BlobID) {
		t.Error("blob still present in backend after delete-by-tag")
	}

	descs, err := ix.ListByTag(ctx, blobpack.TagWillDelete)
	if err != nil {
		t.Fatal(err)
	}
	if len(descs) != 0 {
		t.Errorf("index still lists %d blobs for the tag", len(descs))
	}
}

func TestDeleteByTagPartialFailure(t *testing.T) {
	ctx := context.Background()
	s, backend, ix := newTestStore(ctx, t, 1<<20, -1)

	ref1, err := s.Store(ctx, []byte("first"), blobpack.KindTreeLeaf, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ref2, err := s.Store(ctx, []byte("second"), blobpack.KindTreeLeaf, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(ref1.BlobID, ref2.BlobID) {
		t.Fatal("expected the two chunks to land in distinct blobs")
	}

	err = s.Tag(ctx, ref1, blobpack.TagWillDelete)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Tag(ctx, ref2, blobpack.TagWillDelete)
	if err != nil {
		t.Fatal(err)
	}

	backend.DeleteHook = func(name []byte) error {
		if bytes.Equal(name, ref2.BlobID) {
			return errors.New("transient failure")
		}
		return nil
	}

	err = s.DeleteByTag(ctx, blobpack.TagWillDelete)
	if err == nil {
		t.Fatal("expected delete-by-tag to fail")
	}

	// The index is untouched so the operation can be retried.
	descs, err := ix.ListByTag(ctx, blobpack.TagWillDelete)
	if err != nil {
		t.Fatal(err)
	}
	if len(descs) != 2 {
		t.Errorf("index lists %d blobs for the tag, want 2", len(descs))
	}

	backend.DeleteHook = nil
	err = s.DeleteByTag(ctx, blobpack.TagWillDelete)
	if err != nil {
		t.Fatal(err)
	}
	descs, err = ix.ListByTag(ctx, blobpack.TagWillDelete)
	if err != nil {
		t.Fatal(err)
	}
	if len(descs) != 0 {
		t.Errorf("index still lists %d blobs for the tag", len(descs))
	}
	if backend.Has(ref1.BlobID) || backend.Has(ref2.BlobID) {
		t.Error("tagged blobs still present in backend")
	}
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	s, _, ix := newTestStore(ctx, t, 1<<20, -1)

	foreign := blobpack.ChunkRef{
		BlobID: []byte("some-external-blob"),
		Offset: 0,
		Length: 10,
		Kind:   blobpack.KindTreeLeaf,
	}
	err := s.Recover(ctx, foreign)
	if err != nil {
		t.Fatal(err)
	}

	// The recovered blob is tracked again: tag it and find it.
	err = s.Tag(ctx, foreign, blobpack.TagComplete)
	if err != nil {
		t.Fatal(err)
	}
	descs, err := ix.ListByTag(ctx, blobpack.TagComplete)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, desc := range descs {
		if bytes.Equal(desc.Name, foreign.BlobID) {
			found = true
		}
	}
	if !found {
		t.Error("recovered blob not listed under its tag")
	}

	// Recovering an empty ref is a no-op.
	err = s.Recover(ctx, blobpack.ChunkRef{BlobID: blobpack.EmptyBlobID, Kind: blobpack.KindTreeLeaf})
	if err != nil {
		t.Fatal(err)
	}
}
