package blobpack_test

import (
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bobg/blobpack"
)

func TestRefRoundTrip(t *testing.T) {
	f := func(blobID []byte, offsetRaw, lengthRaw uint32, branch bool) bool {
		ref := blobpack.ChunkRef{
			BlobID: blobID,
			Offset: int64(offsetRaw),
			Length: int64(lengthRaw),
			Kind:   blobpack.KindTreeLeaf,
		}
		if branch {
			ref.Kind = blobpack.KindTreeBranch
		}
		if ref.Length == 0 {
			ref.Offset = 0
		}
		if len(ref.BlobID) == 0 {
			ref.BlobID = []byte{}
		}

		got, err := blobpack.RefFromBytes(ref.Bytes())
		if err != nil {
			t.Logf("decoding: %s", err)
			return false
		}
		if diff := cmp.Diff(ref, got); diff != "" {
			t.Logf("mismatch (-want +got):\n%s", diff)
			return false
		}
		return true
	}
	err := quick.Check(f, nil)
	if err != nil {
		t.Error(err)
	}
}

func TestRefDecodeErrors(t *testing.T) {
	valid := blobpack.ChunkRef{
		BlobID: []byte{1, 2, 3},
		Offset: 10,
		Length: 20,
		Kind:   blobpack.KindTreeLeaf,
	}.Bytes()

	unknownKind := blobpack.ChunkRef{
		BlobID: []byte{1},
		Offset: 0,
		Length: 1,
		Kind:   blobpack.Kind(9),
	}.Bytes()

	// A record with only a blob id field.
	onlyBlobID := protowire.AppendTag(nil, 1, protowire.BytesType)
	onlyBlobID = protowire.AppendBytes(onlyBlobID, []byte{1})

	// A record with an unknown field number.
	unknownField := append(append([]byte{}, valid...), protowire.AppendTag(nil, 7, protowire.VarintType)...)
	unknownField = protowire.AppendVarint(unknownField, 1)

	// A negative offset, encoded as a huge varint.
	negOffset := protowire.AppendTag(nil, 1, protowire.BytesType)
	negOffset = protowire.AppendBytes(negOffset, []byte{1})
	negOffset = protowire.AppendTag(negOffset, 2, protowire.VarintType)
	negOffset = protowire.AppendVarint(negOffset, ^uint64(0))
	negOffset = protowire.AppendTag(negOffset, 3, protowire.VarintType)
	negOffset = protowire.AppendVarint(negOffset, 1)
	negOffset = protowire.AppendTag(negOffset, 4, protowire.VarintType)
	negOffset = protowire.AppendVarint(negOffset, uint64(blobpack.KindTreeLeaf))

	cases := []struct {
		name string
		inp  []byte
	}{
		{name: "truncated", inp: valid[:len(valid)-1]},
		{name: "unknown kind", inp: unknownKind},
		{name: "missing fields", inp: onlyBlobID},
		{name: "unknown field", inp: unknownField},
		{name: "negative offset", inp: negOffset},
		{name: "duplicate field", inp: append(append([]byte{}, valid...), valid...)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := blobpack.RefFromBytes(c.inp)
			if !errors.Is(err, blobpack.ErrRef) {
				t.Errorf("got %v, want ErrRef", err)
			}
		})
	}
}

func TestRefSane(t *testing.T) {
	// Well-formed bytes describing a zero-length chunk at a nonzero
	// offset must not decode: the empty ref is canonically {0, 0}.
	bad := blobpack.ChunkRef{
		BlobID: []byte{1},
		Offset: 5,
		Length: 0,
		Kind:   blobpack.KindTreeLeaf,
	}.Bytes()

	_, err := blobpack.RefFromBytes(bad)
	if !errors.Is(err, blobpack.ErrRef) {
		t.Errorf("got %v, want ErrRef", err)
	}
}
