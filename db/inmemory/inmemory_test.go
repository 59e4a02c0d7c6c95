package inmemory

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-coordinator/db"
	"github.com/vocdoni/maci-coordinator/db/internal/dbtest"
	"github.com/vocdoni/maci-coordinator/db/prefixeddb"
)

func newDB(t *testing.T) *InMemoryDB {
	database, err := New(db.Options{})
	qt.Assert(t, err, qt.IsNil)
	return database
}

func TestWriteTx(t *testing.T) {
	dbtest.TestWriteTx(t, newDB(t))
}

func TestIterate(t *testing.T) {
	dbtest.TestIterate(t, newDB(t))
}

func TestWriteTxApply(t *testing.T) {
	dbtest.TestWriteTxApply(t, newDB(t))
}

func TestWriteTxApplyPrefixed(t *testing.T) {
	database := newDB(t)
	prefix := []byte("one")
	dbtest.TestWriteTxApplyPrefixed(t, database, prefixeddb.NewPrefixedDatabase(database, prefix), prefix)
}

func TestConcurrentWriteTx(t *testing.T) {
	dbtest.TestConcurrentWriteTx(t, newDB(t))
}

func TestConflict(t *testing.T) {
	c := qt.New(t)
	database := newDB(t)

	tx1 := database.WriteTx()
	tx2 := database.WriteTx()
	_, err := tx1.Get([]byte("k"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)
	c.Assert(tx1.Set([]byte("k"), []byte("1")), qt.IsNil)
	c.Assert(tx2.Set([]byte("k"), []byte("2")), qt.IsNil)
	c.Assert(tx2.Commit(), qt.IsNil)
	c.Assert(tx1.Commit(), qt.ErrorIs, db.ErrConflict)

	v, err := database.Get([]byte("k"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "2")
}

func TestClosedDB(t *testing.T) {
	c := qt.New(t)
	database := newDB(t)
	c.Assert(db.WriteKey(database, []byte("k"), []byte("v")), qt.IsNil)
	tx := database.WriteTx()
	c.Assert(tx.Set([]byte("k"), []byte("w")), qt.IsNil)

	c.Assert(database.Close(), qt.IsNil)
	_, err := database.Get([]byte("k"))
	c.Assert(err, qt.ErrorIs, db.ErrClosed)
	c.Assert(database.Iterate(nil, func(_, _ []byte) bool { return true }), qt.ErrorIs, db.ErrClosed)
	c.Assert(tx.Commit(), qt.ErrorIs, db.ErrClosed)
}
