// Package sqlite3 implements a Sqlite-based blob index.
package sqlite3

import (
	"context"
	"crypto/rand"
	"database/sql"

	"github.com/bobg/sqlutil"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/blobpack"
	"github.com/bobg/blobpack/index"
)

var _ blobpack.Index = &Index{}

// Index is a Sqlite-based blob index.
type Index struct {
	db *sql.DB
}

// Blob lifecycle states as stored in the state column.
const (
	stateReserved  = 0
	stateInAir     = 1
	stateCommitted = 2
)

// Schema is the SQL that New executes.
// It creates the `blobs` table if it does not exist.
// (If it does exist, it must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS blobs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name BLOB UNIQUE NOT NULL,
  state INTEGER NOT NULL,
  tag INTEGER
);

CREATE INDEX IF NOT EXISTS tag_idx ON blobs (tag);
`

// New produces a new Index using `db` for storage.
// It expects to create the table `blobs`,
// or for that table already to exist with the correct schema.
// (See variable Schema.)
func New(ctx context.Context, db *sql.DB) (*Index, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Index{db: db}, err
}

// Reserve allocates a fresh blob identity.
func (ix *Index) Reserve(ctx context.Context) (blobpack.BlobDesc, error) {
	name := make([]byte, 16)
	_, err := rand.Read(name)
	if err != nil {
		return blobpack.BlobDesc{}, errors.Wrap(err, "generating blob name")
	}

	const q = `INSERT INTO blobs (name, state) VALUES ($1, $2)`

	res, err := ix.db.ExecContext(ctx, q, name, stateReserved)
	if err != nil {
		return blobpack.BlobDesc{}, errors.Wrap(err, "inserting blob")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return blobpack.BlobDesc{}, errors.Wrap(err, "getting blob id")
	}
	return blobpack.BlobDesc{ID: id, Name: name}, nil
}

// InAir records that the named blob is being written.
func (ix *Index) InAir(ctx context.Context, desc blobpack.BlobDesc) error {
	return ix.setState(ctx, desc, stateInAir)
}

// CommitDone records that the named blob is fully written.
func (ix *Index) CommitDone(ctx context.Context, desc blobpack.BlobDesc) error {
	return ix.setState(ctx, desc, stateCommitted)
}

func (ix *Index) setState(ctx context.Context, desc blobpack.BlobDesc, state int) error {
	const q = `UPDATE blobs SET state = $1 WHERE name = $2`

	res, err := ix.db.ExecContext(ctx, q, state, desc.Name)
	if err != nil {
		return errors.Wrapf(err, "updating blob %x", desc.Name)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if aff == 0 {
		return errors.Wrapf(blobpack.ErrNotFound, "blob %x", desc.Name)
	}
	return nil
}

// Recover marks the named blob committed, reinstating it if absent.
func (ix *Index) Recover(ctx context.Context, blobID []byte) error {
	const q = `INSERT INTO blobs (name, state) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET state = $2`

	_, err := ix.db.ExecContext(ctx, q, blobID, stateCommitted)
	return errors.Wrapf(err, "recovering blob %x", blobID)
}

// Tag attaches tag to the described blob.
func (ix *Index) Tag(ctx context.Context, desc blobpack.BlobDesc, tag blobpack.Tag) error {
	const q = `UPDATE blobs SET tag = $1 WHERE name = $2`

	res, err := ix.db.ExecContext(ctx, q, tag, desc.Name)
	if err != nil {
		return errors.Wrapf(err, "tagging blob %x", desc.Name)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if aff == 0 {
		return errors.Wrapf(blobpack.ErrNotFound, "blob %x", desc.Name)
	}
	return nil
}

// TagAll attaches tag to every tracked blob.
func (ix *Index) TagAll(ctx context.Context, tag blobpack.Tag) error {
	const q = `UPDATE blobs SET tag = $1`

	_, err := ix.db.ExecContext(ctx, q, tag)
	return errors.Wrap(err, "tagging all blobs")
}

// ListByTag returns the blobs carrying tag.
func (ix *Index) ListByTag(ctx context.Context, tag blobpack.Tag) ([]blobpack.BlobDesc, error) {
	const q = `SELECT id, name FROM blobs WHERE tag = $1`

	var descs []blobpack.BlobDesc
	err := sqlutil.ForQueryRows(ctx, ix.db, q, tag, func(id int64, name []byte) {
		descs = append(descs, blobpack.BlobDesc{ID: id, Name: name})
	})
	return descs, errors.Wrap(err, "querying tagged blobs")
}

// DeleteByTag purges the entries of blobs carrying tag.
func (ix *Index) DeleteByTag(ctx context.Context, tag blobpack.Tag) error {
	const q = `DELETE FROM blobs WHERE tag = $1`

	_, err := ix.db.ExecContext(ctx, q, tag)
	return errors.Wrap(err, "deleting tagged blobs")
}

// Reset drops tracking for blobs never committed.
func (ix *Index) Reset(ctx context.Context) error {
	const q = `DELETE FROM blobs WHERE state < $1`

	_, err := ix.db.ExecContext(ctx, q, stateCommitted)
	return errors.Wrap(err, "deleting uncommitted blobs")
}

// Flush is a successful no-op: every statement autocommits.
func (ix *Index) Flush(_ context.Context) error {
	return nil
}

func init() {
	index.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (blobpack.Index, error) {
		path, ok := conf["path"].(string)
		if !ok {
			return nil, errors.New(`missing "path" parameter`)
		}
		db, err := sql.Open("sqlite3", path)
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s", path)
		}
		return New(ctx, db)
	})
}
