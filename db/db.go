// Package db defines the key-value database interface the coordinator
// persists its snapshots and jobs on, with the backend types available in
// the subpackages.
package db

import (
	"errors"
	"io"
)

const (
	// TypePebble selects the pebble backend.
	TypePebble = "pebble"
	// TypeLevelDB selects the goleveldb backend.
	TypeLevelDB = "leveldb"
	// TypeInMem selects the ephemeral in-memory backend.
	TypeInMem = "inmem"
)

var (
	// ErrKeyNotFound is returned by Get when the key does not exist.
	ErrKeyNotFound = errors.New("key not found")
	// ErrConflict is returned by Commit when a key read or written by the
	// transaction was modified concurrently.
	ErrConflict = errors.New("transaction conflict")
	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")
)

// Options configures a backend.
type Options struct {
	Path string
}

// Reader is the read side shared by databases and transactions.
type Reader interface {
	// Get returns a copy of the value stored at key, or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)
	// Iterate calls callback for every key with the given prefix in
	// ascending order until it returns false. The slices are only valid
	// during the call.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
}

// WriteTx is a set of writes applied atomically on Commit. Reads see the
// writes of the transaction itself.
type WriteTx interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
	// Apply adds the pending writes of other to this transaction.
	Apply(other WriteTx) error
	Commit() error
	// Discard drops the pending writes. It is safe to call after Commit.
	Discard()
}

// Database is a key-value store.
type Database interface {
	io.Closer
	Reader
	WriteTx() WriteTx
	Compact() error
}

// WriteTxUnwrapper is implemented by transactions wrapping another one.
type WriteTxUnwrapper interface {
	Unwrap() WriteTx
}

// UnwrapWriteTx returns the innermost transaction behind tx.
func UnwrapWriteTx(tx WriteTx) WriteTx {
	for {
		u, ok := tx.(WriteTxUnwrapper)
		if !ok {
			return tx
		}
		tx = u.Unwrap()
	}
}

// WriteKey sets a single key in its own transaction.
func WriteKey(database Database, key, value []byte) error {
	tx := database.WriteTx()
	defer tx.Discard()
	if err := tx.Set(key, value); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteKey removes a single key in its own transaction.
func DeleteKey(database Database, key []byte) error {
	tx := database.WriteTx()
	defer tx.Discard()
	if err := tx.Delete(key); err != nil {
		return err
	}
	return tx.Commit()
}

// PrefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil if there is none.
func PrefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
