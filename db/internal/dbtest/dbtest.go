// Package dbtest holds the behaviour every db.Database backend must share.
package dbtest

import (
	"fmt"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-coordinator/db"
)

// TestWriteTx checks reads inside a transaction and after commit.
func TestWriteTx(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx := database.WriteTx()
	_, err := tx.Get([]byte("a"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)

	c.Assert(tx.Set([]byte("a"), []byte("b")), qt.IsNil)
	v, err := tx.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("b"))

	_, err = database.Get([]byte("a"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)

	c.Assert(tx.Commit(), qt.IsNil)
	tx.Discard()
	v, err = database.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("b"))

	tx = database.WriteTx()
	c.Assert(tx.Delete([]byte("a")), qt.IsNil)
	_, err = tx.Get([]byte("a"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)
	tx.Discard()
	_, err = database.Get([]byte("a"))
	c.Assert(err, qt.IsNil)

	c.Assert(db.DeleteKey(database, []byte("a")), qt.IsNil)
	_, err = database.Get([]byte("a"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)
}

// TestIterate checks prefix iteration order and early termination.
func TestIterate(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx := database.WriteTx()
	for i := range 10 {
		c.Assert(tx.Set(fmt.Appendf(nil, "p/%d", i), []byte{byte(i)}), qt.IsNil)
		c.Assert(tx.Set(fmt.Appendf(nil, "q/%d", i), []byte{byte(i)}), qt.IsNil)
	}
	c.Assert(tx.Commit(), qt.IsNil)
	tx.Discard()

	var keys []string
	c.Assert(database.Iterate([]byte("p/"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		c.Assert(v, qt.HasLen, 1)
		return true
	}), qt.IsNil)
	c.Assert(keys, qt.HasLen, 10)
	c.Assert(keys[0], qt.Equals, "p/0")
	c.Assert(keys[9], qt.Equals, "p/9")

	count := 0
	c.Assert(database.Iterate([]byte("q/"), func(_, _ []byte) bool {
		count++
		return count < 3
	}), qt.IsNil)
	c.Assert(count, qt.Equals, 3)

	// pending writes are visible to the transaction iterator
	tx = database.WriteTx()
	defer tx.Discard()
	c.Assert(tx.Delete([]byte("p/0")), qt.IsNil)
	c.Assert(tx.Set([]byte("p/a"), []byte{1}), qt.IsNil)
	keys = nil
	c.Assert(tx.Iterate([]byte("p/"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	}), qt.IsNil)
	c.Assert(keys, qt.HasLen, 10)
	c.Assert(keys[0], qt.Equals, "p/1")
	c.Assert(keys[9], qt.Equals, "p/a")
}

// TestWriteTxApply checks that applied writes are committed with the
// receiving transaction.
func TestWriteTxApply(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx := database.WriteTx()
	c.Assert(tx.Set([]byte("a"), []byte("a")), qt.IsNil)
	other := database.WriteTx()
	c.Assert(other.Set([]byte("b"), []byte("b")), qt.IsNil)
	c.Assert(tx.Apply(other), qt.IsNil)
	other.Discard()
	c.Assert(tx.Commit(), qt.IsNil)
	tx.Discard()

	for _, k := range []string{"a", "b"} {
		v, err := database.Get([]byte(k))
		c.Assert(err, qt.IsNil)
		c.Assert(string(v), qt.Equals, k)
	}
}

// TestWriteTxApplyPrefixed checks that a prefixed transaction applied on a
// plain one keeps its prefix.
func TestWriteTxApplyPrefixed(t *testing.T, database, prefixed db.Database, prefix []byte) {
	c := qt.New(t)

	tx := database.WriteTx()
	other := prefixed.WriteTx()
	c.Assert(other.Set([]byte("k"), []byte("v")), qt.IsNil)
	c.Assert(tx.Apply(other), qt.IsNil)
	other.Discard()
	c.Assert(tx.Commit(), qt.IsNil)
	tx.Discard()

	v, err := prefixed.Get([]byte("k"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "v")
	v, err = database.Get(append(append([]byte{}, prefix...), 'k'))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "v")
	_, err = database.Get([]byte("k"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)
}

// TestConcurrentWriteTx checks that concurrent read-modify-write cycles
// retried on db.ErrConflict never lose an increment.
func TestConcurrentWriteTx(t *testing.T, database db.Database) {
	c := qt.New(t)
	key := []byte("counter")
	c.Assert(db.WriteKey(database, key, []byte{0}), qt.IsNil)

	const workers = 10
	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for {
				tx := database.WriteTx()
				v, err := tx.Get(key)
				if err != nil {
					tx.Discard()
					t.Error(err)
					return
				}
				if err := tx.Set(key, []byte{v[0] + 1}); err != nil {
					tx.Discard()
					t.Error(err)
					return
				}
				err = tx.Commit()
				tx.Discard()
				if err == nil {
					return
				}
				if err != db.ErrConflict {
					t.Error(err)
					return
				}
			}
		})
	}
	wg.Wait()

	v, err := database.Get(key)
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte{workers})
}
