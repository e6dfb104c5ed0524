// Package split reads and writes hashsplit trees through a blobpack store.
// See github.com/bobg/hashsplit for more information.
//
// Write chunks a bytestream with a rolling hash,
// stores each chunk as a tree-leaf,
// and packs the chunk refs into tree-branch nodes,
// returning the ref of the tree's root.
// Read reassembles the stream from that root ref.
package split

import (
	"bytes"
	"context"
	"io"

	"github.com/bobg/hashsplit"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/blobpack"
)

// Option is a config option to Write.
type Option func(*writer)

// Fanout sets the tree fanout divisor.
// Higher values produce shallower, wider trees.
func Fanout(n uint) Option {
	return func(w *writer) { w.fanout = n }
}

type writer struct {
	fanout uint
}

// Write splits the content of r with a hashsplit.Splitter,
// storing the chunks as tree-leaf entries in s
// and the interior nodes as tree-branch entries.
// It flushes s before returning,
// so the returned root ref is immediately retrievable.
func Write(ctx context.Context, s *blobpack.Store, r io.Reader, opts ...Option) (blobpack.ChunkRef, error) {
	w := &writer{fanout: 4}
	for _, opt := range opts {
		opt(w)
	}

	tb := hashsplit.NewTreeBuilder()
	spl := hashsplit.NewSplitter(func(chunk []byte, level uint) error {
		size := len(chunk)
		ref, err := s.Store(ctx, chunk, blobpack.KindTreeLeaf, nil)
		if err != nil {
			return errors.Wrap(err, "storing split chunk")
		}
		tb.Add(ref.Bytes(), size, level/w.fanout)
		return nil
	})
	spl.MinSize = 1024
	spl.SplitBits = 14

	_, err := io.Copy(spl, r)
	if err != nil {
		return blobpack.ChunkRef{}, errors.Wrap(err, "splitting input")
	}
	err = spl.Close()
	if err != nil {
		return blobpack.ChunkRef{}, errors.Wrap(err, "closing splitter")
	}

	var root blobpack.ChunkRef
	if rootNode := tb.Root(); rootNode != nil {
		root, err = storeTree(ctx, s, rootNode)
	} else {
		// Zero-length input: an empty branch, which gets the canonical
		// empty ref and needs no storage at all.
		root, err = s.Store(ctx, nil, blobpack.KindTreeBranch, nil)
	}
	if err != nil {
		return blobpack.ChunkRef{}, err
	}

	// Chunk refs are identities, not promises of durability; the tree is
	// only usable once every blob under it is committed.
	err = s.Flush(ctx)
	if err != nil {
		return blobpack.ChunkRef{}, errors.Wrap(err, "flushing store")
	}
	return root, nil
}

func storeTree(ctx context.Context, s *blobpack.Store, n *hashsplit.Node) (blobpack.ChunkRef, error) {
	var children [][]byte
	if len(n.Leaves) > 0 {
		children = n.Leaves
	} else {
		for _, child := range n.Nodes {
			childRef, err := storeTree(ctx, s, child)
			if err != nil {
				return blobpack.ChunkRef{}, err
			}
			children = append(children, childRef.Bytes())
		}
	}
	ref, err := s.Store(ctx, marshalNode(children), blobpack.KindTreeBranch, nil)
	return ref, errors.Wrap(err, "storing tree node")
}

// Read reassembles the bytestream rooted at ref, writing it to w.
// Children of a branch node are fetched concurrently
// but their bytes appear in w in tree order.
func Read(ctx context.Context, s *blobpack.Store, ref blobpack.ChunkRef, w io.Writer) error {
	if ref.Kind == blobpack.KindTreeLeaf {
		chunk, err := s.Retrieve(ctx, ref)
		if err != nil {
			return errors.Wrap(err, "retrieving leaf chunk")
		}
		_, err = w.Write(chunk)
		return errors.Wrap(err, "writing leaf chunk")
	}

	node, err := s.Retrieve(ctx, ref)
	if err != nil {
		return errors.Wrap(err, "retrieving tree node")
	}
	children, err := unmarshalNode(node)
	if err != nil {
		return err
	}

	refs := make([]blobpack.ChunkRef, 0, len(children))
	for _, c := range children {
		childRef, err := blobpack.RefFromBytes(c)
		if err != nil {
			return errors.Wrap(err, "decoding child ref")
		}
		refs = append(refs, childRef)
	}

	var g errgroup.Group
	bufs := make([]bytes.Buffer, len(refs))
	for i, childRef := range refs {
		i, childRef := i, childRef
		g.Go(func() error {
			return Read(ctx, s, childRef, &bufs[i])
		})
	}
	err = g.Wait()
	if err != nil {
		return err
	}
	for i := range bufs {
		_, err = w.Write(bufs[i].Bytes())
		if err != nil {
			return errors.Wrap(err, "writing subtree")
		}
	}
	return nil
}
