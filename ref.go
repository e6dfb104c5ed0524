package blobpack

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the ChunkRef wire record.
// The record is a protobuf message;
// new fields may be added in later versions but these numbers are frozen.
const (
	refFieldBlobID = 1
	refFieldOffset = 2
	refFieldLength = 3
	refFieldKind   = 4
)

// Bytes encodes r as a compact binary record.
// RefFromBytes reverses it exactly.
func (r ChunkRef) Bytes() []byte {
	b := protowire.AppendTag(nil, refFieldBlobID, protowire.BytesType)
	b = protowire.AppendBytes(b, r.BlobID)
	b = protowire.AppendTag(b, refFieldOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Offset))
	b = protowire.AppendTag(b, refFieldLength, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Length))
	b = protowire.AppendTag(b, refFieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Kind))
	return b
}

// RefFromBytes decodes a record produced by ChunkRef.Bytes.
// There are no implicit defaults:
// a record missing any field fails to decode,
// as do truncated input, an unknown kind tag,
// and a byte range that no valid ref can have.
// All decode failures wrap ErrRef.
func RefFromBytes(inp []byte) (ChunkRef, error) {
	var (
		ref  ChunkRef
		seen [refFieldKind + 1]bool
	)
	for len(inp) > 0 {
		num, typ, n := protowire.ConsumeTag(inp)
		if n < 0 {
			return ChunkRef{}, errors.Wrap(ErrRef, "reading field tag")
		}
		inp = inp[n:]

		if num < refFieldBlobID || num > refFieldKind {
			return ChunkRef{}, errors.Wrapf(ErrRef, "unknown field %d", num)
		}
		if seen[num] {
			return ChunkRef{}, errors.Wrapf(ErrRef, "duplicate field %d", num)
		}
		seen[num] = true

		if num == refFieldBlobID {
			if typ != protowire.BytesType {
				return ChunkRef{}, errors.Wrapf(ErrRef, "wrong wire type %d for blob id", typ)
			}
			v, n := protowire.ConsumeBytes(inp)
			if n < 0 {
				return ChunkRef{}, errors.Wrap(ErrRef, "reading blob id")
			}
			ref.BlobID = append([]byte{}, v...)
			inp = inp[n:]
			continue
		}

		if typ != protowire.VarintType {
			return ChunkRef{}, errors.Wrapf(ErrRef, "wrong wire type %d for field %d", typ, num)
		}
		v, n := protowire.ConsumeVarint(inp)
		if n < 0 {
			return ChunkRef{}, errors.Wrapf(ErrRef, "reading field %d", num)
		}
		inp = inp[n:]

		switch num {
		case refFieldOffset:
			ref.Offset = int64(v)
		case refFieldLength:
			ref.Length = int64(v)
		case refFieldKind:
			ref.Kind = Kind(v)
		}
	}

	for f := refFieldBlobID; f <= refFieldKind; f++ {
		if !seen[f] {
			return ChunkRef{}, errors.Wrapf(ErrRef, "missing field %d", f)
		}
	}
	if ref.Kind != KindTreeBranch && ref.Kind != KindTreeLeaf {
		return ChunkRef{}, errors.Wrapf(ErrRef, "unknown kind %d", int(ref.Kind))
	}
	if ref.Offset < 0 || ref.Length < 0 {
		return ChunkRef{}, errors.Wrapf(ErrRef, "negative range [%d, %d)", ref.Offset, ref.Offset+ref.Length)
	}
	if ref.Length == 0 && ref.Offset != 0 {
		return ChunkRef{}, errors.Wrapf(ErrRef, "zero-length ref at nonzero offset %d", ref.Offset)
	}
	return ref, nil
}
