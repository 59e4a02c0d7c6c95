// Package leveldb implements db.Database on top of goleveldb.
package leveldb

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vocdoni/maci-coordinator/db"
)

// LevelDB is a db.Database backed by a goleveldb store on disk.
type LevelDB struct {
	db *leveldb.DB
}

var _ db.Database = (*LevelDB)(nil)

// New opens or creates a leveldb store at opts.Path.
func New(opts db.Options) (*LevelDB, error) {
	ldb, err := leveldb.OpenFile(opts.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", opts.Path, err)
	}
	return &LevelDB{db: ldb}, nil
}

func (d *LevelDB) Close() error {
	return d.db.Close()
}

func (d *LevelDB) Get(key []byte) ([]byte, error) {
	v, err := d.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	return v, err
}

func (d *LevelDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	iter := d.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if !callback(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

func (d *LevelDB) Compact() error {
	return d.db.CompactRange(util.Range{})
}

// WriteTx returns a transaction that buffers its writes in memory and
// flushes them as one leveldb batch. Conflicts are not detected.
func (d *LevelDB) WriteTx() db.WriteTx {
	return &WriteTx{db: d, pending: make(map[string]*[]byte)}
}

// WriteTx keeps pending writes keyed by string; a nil value is a delete.
type WriteTx struct {
	db      *LevelDB
	pending map[string]*[]byte
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	if v, ok := tx.pending[string(key)]; ok {
		if v == nil {
			return nil, db.ErrKeyNotFound
		}
		return bytes.Clone(*v), nil
	}
	return tx.db.Get(key)
}

// Iterate merges the stored keys under prefix with the pending writes.
func (tx *WriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	entries := make(map[string][]byte)
	if err := tx.db.Iterate(prefix, func(k, v []byte) bool {
		entries[string(k)] = bytes.Clone(v)
		return true
	}); err != nil {
		return err
	}
	for k, v := range tx.pending {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v == nil {
			delete(entries, k)
			continue
		}
		entries[k] = *v
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !callback([]byte(k), entries[k]) {
			break
		}
	}
	return nil
}

func (tx *WriteTx) Set(key, value []byte) error {
	v := bytes.Clone(value)
	tx.pending[string(key)] = &v
	return nil
}

func (tx *WriteTx) Delete(key []byte) error {
	tx.pending[string(key)] = nil
	return nil
}

func (tx *WriteTx) Apply(other db.WriteTx) error {
	o, ok := db.UnwrapWriteTx(other).(*WriteTx)
	if !ok {
		return fmt.Errorf("cannot apply %T to a leveldb tx", other)
	}
	for k, v := range o.pending {
		if v == nil {
			tx.pending[k] = nil
			continue
		}
		c := bytes.Clone(*v)
		tx.pending[k] = &c
	}
	return nil
}

func (tx *WriteTx) Commit() error {
	batch := new(leveldb.Batch)
	for k, v := range tx.pending {
		if v == nil {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), *v)
	}
	if err := tx.db.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return err
	}
	tx.pending = make(map[string]*[]byte)
	return nil
}

func (tx *WriteTx) Discard() {
	tx.pending = make(map[string]*[]byte)
}
