package prefixeddb

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-coordinator/db"
	"github.com/vocdoni/maci-coordinator/db/inmemory"
	"github.com/vocdoni/maci-coordinator/db/internal/dbtest"
)

func TestPrefixedDatabase(t *testing.T) {
	c := qt.New(t)
	base, err := inmemory.New(db.Options{})
	c.Assert(err, qt.IsNil)
	one := NewPrefixedDatabase(base, []byte("one/"))
	two := NewPrefixedDatabase(base, []byte("two/"))

	c.Assert(db.WriteKey(one, []byte("k"), []byte("1")), qt.IsNil)
	c.Assert(db.WriteKey(two, []byte("k"), []byte("2")), qt.IsNil)

	v, err := one.Get([]byte("k"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "1")
	v, err = base.Get([]byte("two/k"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "2")

	var keys []string
	c.Assert(one.Iterate(nil, func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	}), qt.IsNil)
	c.Assert(keys, qt.DeepEquals, []string{"k"})

	tx := one.WriteTx()
	c.Assert(db.UnwrapWriteTx(tx), qt.Not(qt.Equals), tx)
	tx.Discard()
}

func TestPrefixedBackendBehaviour(t *testing.T) {
	newPrefixed := func() db.Database {
		base, err := inmemory.New(db.Options{})
		qt.Assert(t, err, qt.IsNil)
		return NewPrefixedDatabase(base, []byte("p"))
	}
	t.Run("WriteTx", func(t *testing.T) { dbtest.TestWriteTx(t, newPrefixed()) })
	t.Run("Iterate", func(t *testing.T) { dbtest.TestIterate(t, newPrefixed()) })
	t.Run("Concurrent", func(t *testing.T) { dbtest.TestConcurrentWriteTx(t, newPrefixed()) })
}
