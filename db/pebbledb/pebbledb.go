// Package pebbledb implements db.Database on top of pebble.
package pebbledb

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/vocdoni/maci-coordinator/db"
)

// PebbleDB is a db.Database backed by a pebble store on disk.
type PebbleDB struct {
	db *pebble.DB
}

var _ db.Database = (*PebbleDB)(nil)

// New opens or creates a pebble store at opts.Path.
func New(opts db.Options) (*PebbleDB, error) {
	if err := os.MkdirAll(opts.Path, os.ModePerm); err != nil {
		return nil, err
	}
	pdb, err := pebble.Open(opts.Path, &pebble.Options{
		Levels: []pebble.LevelOptions{{Compression: pebble.SnappyCompression}},
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", opts.Path, err)
	}
	return &PebbleDB{db: pdb}, nil
}

func get(r pebble.Reader, key []byte) ([]byte, error) {
	v, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(v), nil
}

func iterate(r pebble.Reader, prefix []byte, callback func(key, value []byte) bool) (err error) {
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: db.PrefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := iter.Close(); err == nil {
			err = cerr
		}
	}()
	for valid := iter.First(); valid; valid = iter.Next() {
		if !callback(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

func (d *PebbleDB) Close() error {
	return d.db.Close()
}

func (d *PebbleDB) Get(key []byte) ([]byte, error) {
	return get(d.db, key)
}

func (d *PebbleDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return iterate(d.db, prefix, callback)
}

// Compact compacts the whole key range in use.
func (d *PebbleDB) Compact() error {
	var first, last []byte
	if err := d.Iterate(nil, func(key, _ []byte) bool {
		if first == nil {
			first = bytes.Clone(key)
		}
		last = bytes.Clone(key)
		return true
	}); err != nil {
		return err
	}
	if first == nil {
		return nil
	}
	return d.db.Compact(first, append(last, 0), true)
}

// WriteTx returns a transaction over an indexed batch. Pebble batches do
// not detect conflicts: the last commit wins.
func (d *PebbleDB) WriteTx() db.WriteTx {
	return &WriteTx{batch: d.db.NewIndexedBatch()}
}

// WriteTx wraps a pebble indexed batch.
type WriteTx struct {
	batch *pebble.Batch
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	return get(tx.batch, key)
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return iterate(tx.batch, prefix, callback)
}

func (tx *WriteTx) Set(key, value []byte) error {
	return tx.batch.Set(key, value, nil)
}

func (tx *WriteTx) Delete(key []byte) error {
	return tx.batch.Delete(key, nil)
}

func (tx *WriteTx) Apply(other db.WriteTx) error {
	o, ok := db.UnwrapWriteTx(other).(*WriteTx)
	if !ok {
		return fmt.Errorf("cannot apply %T to a pebble tx", other)
	}
	return tx.batch.Apply(o.batch, nil)
}

func (tx *WriteTx) Commit() error {
	return tx.batch.Commit(pebble.Sync)
}

// Discard releases the batch. Calling it more than once is a no-op.
func (tx *WriteTx) Discard() {
	if tx.batch == nil {
		return
	}
	_ = tx.batch.Close()
	tx.batch = nil
}
