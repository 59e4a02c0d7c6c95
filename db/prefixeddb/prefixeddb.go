// Package prefixeddb scopes a db.Database or db.WriteTx to a key prefix so
// several stores can share one backend.
package prefixeddb

import (
	"github.com/vocdoni/maci-coordinator/db"
)

func prefixed(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

// PrefixedReader exposes the keys of a reader under prefix, with the prefix
// stripped.
type PrefixedReader struct {
	prefix []byte
	reader db.Reader
}

var _ db.Reader = (*PrefixedReader)(nil)

// NewPrefixedReader returns a reader scoped to prefix.
func NewPrefixedReader(reader db.Reader, prefix []byte) *PrefixedReader {
	return &PrefixedReader{prefix: prefix, reader: reader}
}

func (r *PrefixedReader) Get(key []byte) ([]byte, error) {
	return r.reader.Get(prefixed(r.prefix, key))
}

func (r *PrefixedReader) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	n := len(r.prefix)
	return r.reader.Iterate(prefixed(r.prefix, prefix), func(key, value []byte) bool {
		return callback(key[n:], value)
	})
}

// PrefixedDatabase is a db.Database whose keys all live under prefix.
type PrefixedDatabase struct {
	PrefixedReader
	db db.Database
}

var _ db.Database = (*PrefixedDatabase)(nil)

// NewPrefixedDatabase returns a database scoped to prefix. Closing it
// closes the underlying database.
func NewPrefixedDatabase(database db.Database, prefix []byte) *PrefixedDatabase {
	return &PrefixedDatabase{
		PrefixedReader: PrefixedReader{prefix: prefix, reader: database},
		db:             database,
	}
}

func (d *PrefixedDatabase) Close() error { return d.db.Close() }

func (d *PrefixedDatabase) Compact() error { return d.db.Compact() }

func (d *PrefixedDatabase) WriteTx() db.WriteTx {
	return NewPrefixedWriteTx(d.db.WriteTx(), d.prefix)
}

// PrefixedWriteTx is a db.WriteTx whose keys all live under prefix.
type PrefixedWriteTx struct {
	PrefixedReader
	tx db.WriteTx
}

var (
	_ db.WriteTx          = (*PrefixedWriteTx)(nil)
	_ db.WriteTxUnwrapper = (*PrefixedWriteTx)(nil)
)

// NewPrefixedWriteTx returns a transaction scoped to prefix.
func NewPrefixedWriteTx(tx db.WriteTx, prefix []byte) *PrefixedWriteTx {
	return &PrefixedWriteTx{
		PrefixedReader: PrefixedReader{prefix: prefix, reader: tx},
		tx:             tx,
	}
}

func (t *PrefixedWriteTx) Set(key, value []byte) error {
	return t.tx.Set(prefixed(t.prefix, key), value)
}

func (t *PrefixedWriteTx) Delete(key []byte) error {
	return t.tx.Delete(prefixed(t.prefix, key))
}

// Apply adds the writes of other as they are, without adding the prefix.
func (t *PrefixedWriteTx) Apply(other db.WriteTx) error {
	return t.tx.Apply(other)
}

func (t *PrefixedWriteTx) Unwrap() db.WriteTx { return t.tx }

func (t *PrefixedWriteTx) Commit() error { return t.tx.Commit() }

func (t *PrefixedWriteTx) Discard() { t.tx.Discard() }
