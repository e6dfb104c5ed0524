package blobpack

import "errors"

// Kind tells a reader how to interpret the bytes a ChunkRef points at.
type Kind int

const (
	// KindTreeBranch marks an interior hash-tree node:
	// a packed list of child refs.
	KindTreeBranch Kind = 1

	// KindTreeLeaf marks raw leaf content.
	KindTreeLeaf Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindTreeBranch:
		return "tree-branch"
	case KindTreeLeaf:
		return "tree-leaf"
	}
	return "unknown"
}

// ChunkRef locates a chunk:
// the blob that holds it,
// the byte range inside that blob's payload,
// and the Kind telling a reader how to interpret those bytes.
// A ChunkRef is immutable once constructed.
//
// A ref with offset 0 and length 0 is the canonical empty-chunk ref.
// It resolves to zero bytes without touching the backend,
// and no blob is ever written for it.
// Any other ref resolves only after the blob named by BlobID
// has been committed;
// the callback passed to Store.Store reports that moment.
type ChunkRef struct {
	BlobID []byte
	Offset int64
	Length int64
	Kind   Kind
}

// EmptyBlobID is the sentinel blob name used in empty-chunk refs.
var EmptyBlobID = []byte{0}

// IsEmpty reports whether r is the canonical empty-chunk ref.
func (r ChunkRef) IsEmpty() bool {
	return r.Offset == 0 && r.Length == 0
}

// BlobDesc is the Index's handle for a blob:
// its bookkeeping id and its backend name.
// A desc constructed from a ChunkRef carries only the name
// (ID is zero); index implementations must accept that.
type BlobDesc struct {
	ID   int64
	Name []byte
}

// Tag is a retention/classification label attached to blobs in the
// Index. The named values cover the deletion workflow; callers may use
// any other values for their own marking schemes.
type Tag int64

const (
	TagInProgress  Tag = 1
	TagComplete    Tag = 2
	TagWillDelete  Tag = 3
	TagReadyDelete Tag = 4
	TagDeleted     Tag = 5
)

// ErrNotFound is the error returned when a Backend
// is asked for a blob name it does not hold.
var ErrNotFound = errors.New("not found")

// ErrRef is the error wrapped by failures
// to decode a ChunkRef or tree-node record.
var ErrRef = errors.New("bad ref encoding")

var (
	// ErrPoisoned means a panic unwound through one of the store's
	// critical sections and its shared state is no longer trustworthy.
	ErrPoisoned = errors.New("store poisoned")

	// ErrRequestLimit means the store's request budget is exhausted.
	// The store refuses further operations until Reset.
	ErrRequestLimit = errors.New("request limit reached")

	// ErrNotPoisoned is returned by Reset on a store
	// whose request budget has not run out.
	ErrNotPoisoned = errors.New("store has not been poisoned")
)
