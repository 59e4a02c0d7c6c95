// Package inmemory implements an ephemeral db.Database with optimistic
// transactions.
package inmemory

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/vocdoni/maci-coordinator/db"
)

type entry struct {
	value   []byte
	version uint64
	deleted bool
}

// InMemoryDB keeps every key in a map. Each write bumps a global version so
// transactions can detect that a key they touched changed under them.
type InMemoryDB struct {
	mu          sync.RWMutex
	data        map[string]entry
	nextVersion uint64
	closed      bool
}

var _ db.Database = (*InMemoryDB)(nil)

// New returns a new in-memory database. Options are ignored.
func New(_ db.Options) (*InMemoryDB, error) {
	return &InMemoryDB{data: make(map[string]entry)}, nil
}

// Close drops every key. Further reads return db.ErrClosed.
func (d *InMemoryDB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.data = make(map[string]entry)
	return nil
}

func (*InMemoryDB) Compact() error { return nil }

func (d *InMemoryDB) WriteTx() db.WriteTx {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return &WriteTx{
		db:      d,
		writes:  make(map[string]*[]byte),
		reads:   make(map[string]uint64),
		baseVer: d.nextVersion,
	}
}

func (d *InMemoryDB) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, db.ErrClosed
	}
	ent, ok := d.data[string(key)]
	if !ok || ent.deleted {
		return nil, db.ErrKeyNotFound
	}
	return bytes.Clone(ent.value), nil
}

func (d *InMemoryDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	entries, _, err := d.snapshot(prefix)
	if err != nil {
		return err
	}
	return iterateEntries(entries, callback)
}

// snapshot copies the live entries under prefix with their versions.
func (d *InMemoryDB) snapshot(prefix []byte) (map[string][]byte, map[string]uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, nil, db.ErrClosed
	}
	entries := make(map[string][]byte)
	versions := make(map[string]uint64)
	for k, ent := range d.data {
		if ent.deleted || !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		entries[k] = bytes.Clone(ent.value)
		versions[k] = ent.version
	}
	return entries, versions, nil
}

// version must be called with the lock held.
func (d *InMemoryDB) version(key string) uint64 {
	return d.data[key].version
}

// apply must be called with the write lock held.
func (d *InMemoryDB) apply(key string, value *[]byte) {
	d.nextVersion++
	ent := entry{version: d.nextVersion, deleted: value == nil}
	if value != nil {
		ent.value = bytes.Clone(*value)
	}
	d.data[key] = ent
}

// WriteTx buffers writes and remembers the version of every key it touched.
// A nil pending value is a delete.
type WriteTx struct {
	db      *InMemoryDB
	writes  map[string]*[]byte
	reads   map[string]uint64
	baseVer uint64
	done    bool
}

var _ db.WriteTx = (*WriteTx)(nil)

// track records the version of key the first time the transaction sees it.
func (tx *WriteTx) track(key string) {
	if _, ok := tx.reads[key]; ok {
		return
	}
	tx.db.mu.RLock()
	tx.reads[key] = tx.db.version(key)
	tx.db.mu.RUnlock()
}

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	k := string(key)
	if pending, ok := tx.writes[k]; ok {
		if pending == nil {
			return nil, db.ErrKeyNotFound
		}
		return bytes.Clone(*pending), nil
	}
	tx.track(k)
	return tx.db.Get(key)
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	entries, versions, err := tx.db.snapshot(prefix)
	if err != nil {
		return err
	}
	for k, ver := range versions {
		if _, ok := tx.reads[k]; !ok {
			tx.reads[k] = ver
		}
	}
	for k, v := range tx.writes {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v == nil {
			delete(entries, k)
			continue
		}
		entries[k] = bytes.Clone(*v)
	}
	return iterateEntries(entries, callback)
}

func (tx *WriteTx) Set(key, value []byte) error {
	k := string(key)
	tx.track(k)
	v := bytes.Clone(value)
	tx.writes[k] = &v
	return nil
}

func (tx *WriteTx) Delete(key []byte) error {
	k := string(key)
	tx.track(k)
	tx.writes[k] = nil
	return nil
}

// Apply copies the pending writes of other, deletes included. Prefixed
// transactions are unwrapped so keys keep their full form.
func (tx *WriteTx) Apply(other db.WriteTx) error {
	o, ok := db.UnwrapWriteTx(other).(*WriteTx)
	if !ok {
		return fmt.Errorf("cannot apply %T to an inmemory tx", other)
	}
	for k, v := range o.writes {
		tx.track(k)
		if v == nil {
			tx.writes[k] = nil
			continue
		}
		c := bytes.Clone(*v)
		tx.writes[k] = &c
	}
	return nil
}

func (tx *WriteTx) Commit() error {
	if tx.done {
		return fmt.Errorf("inmemory tx already committed or discarded")
	}
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	if tx.db.closed {
		return db.ErrClosed
	}
	for key, seen := range tx.reads {
		if seen > tx.baseVer || tx.db.version(key) != seen {
			return db.ErrConflict
		}
	}
	for key, value := range tx.writes {
		tx.db.apply(key, value)
	}
	tx.done = true
	return nil
}

func (tx *WriteTx) Discard() {
	tx.writes = map[string]*[]byte{}
	tx.reads = map[string]uint64{}
	tx.done = true
}

func iterateEntries(entries map[string][]byte, callback func(key, value []byte) bool) error {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if !callback([]byte(key), entries[key]) {
			break
		}
	}
	return nil
}
