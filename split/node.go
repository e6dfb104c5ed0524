package split

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bobg/blobpack"
)

// A tree-branch blob is a protobuf message holding
// the encoded refs of the node's children, in order.
const nodeFieldChild = 1

func marshalNode(children [][]byte) []byte {
	b := []byte{}
	for _, c := range children {
		b = protowire.AppendTag(b, nodeFieldChild, protowire.BytesType)
		b = protowire.AppendBytes(b, c)
	}
	return b
}

func unmarshalNode(inp []byte) ([][]byte, error) {
	var children [][]byte
	for len(inp) > 0 {
		num, typ, n := protowire.ConsumeTag(inp)
		if n < 0 {
			return nil, errors.Wrap(blobpack.ErrRef, "reading node field tag")
		}
		inp = inp[n:]
		if num != nodeFieldChild || typ != protowire.BytesType {
			return nil, errors.Wrapf(blobpack.ErrRef, "unexpected node field %d (type %d)", num, typ)
		}
		v, n := protowire.ConsumeBytes(inp)
		if n < 0 {
			return nil, errors.Wrap(blobpack.ErrRef, "reading node child")
		}
		children = append(children, append([]byte{}, v...))
		inp = inp[n:]
	}
	return children, nil
}
