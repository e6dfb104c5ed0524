// Package blobpack packs small, variable-length data chunks into large
// immutable blobs for storage in a pluggable backend.
//
// A caller hands a chunk to a Store and immediately gets back a ChunkRef
// locating the chunk inside the blob it will occupy.
// The blob itself is written later,
// when enough chunks have accumulated or when the caller asks for a flush.
// The ref is usable right away as an identity,
// but it does not resolve against durable storage
// until the blob carrying it has been committed;
// a per-chunk callback reports that moment,
// so a caller can keep building
// (for instance, assembling refs into a hash tree, see the split subpackage)
// without ever publishing a reference that later fails to load.
//
// Blob identities and lifecycle state
// (reserved, in-flight, committed, tagged)
// live in an Index,
// which is the authority consulted for crash recovery
// and for tag-based retention and deletion.
// Blob bytes live in a Backend,
// a plain named-blob key/value abstraction
// with implementations in the back subpackages.
package blobpack
