package leveldb

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-coordinator/db"
	"github.com/vocdoni/maci-coordinator/db/internal/dbtest"
	"github.com/vocdoni/maci-coordinator/db/prefixeddb"
)

func newDB(t *testing.T) db.Database {
	database, err := New(db.Options{Path: t.TempDir()})
	qt.Assert(t, err, qt.IsNil)
	t.Cleanup(func() { _ = database.Close() })
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

func TestReopen(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	database, err := New(db.Options{Path: dir})
	c.Assert(err, qt.IsNil)
	c.Assert(db.WriteKey(database, []byte("k"), []byte("v")), qt.IsNil)
	c.Assert(database.Compact(), qt.IsNil)
	c.Assert(database.Close(), qt.IsNil)

	database, err = New(db.Options{Path: dir})
	c.Assert(err, qt.IsNil)
	defer database.Close()
	v, err := database.Get([]byte("k"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "v")
}
