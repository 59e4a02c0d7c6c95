package metadb

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-coordinator/db"
)

func TestNew(t *testing.T) {
	c := qt.New(t)
	for _, typ := range []string{db.TypePebble, db.TypeLevelDB, db.TypeInMem} {
		database, err := New(typ, t.TempDir())
		c.Assert(err, qt.IsNil, qt.Commentf(typ))
		c.Assert(db.WriteKey(database, []byte("k"), []byte(typ)), qt.IsNil)
		v, err := database.Get([]byte("k"))
		c.Assert(err, qt.IsNil)
		c.Assert(string(v), qt.Equals, typ)
		c.Assert(database.Close(), qt.IsNil)
	}
	_, err := New("mongodb", t.TempDir())
	c.Assert(err, qt.ErrorMatches, `invalid db type "mongodb".*`)
}

func TestNewTest(t *testing.T) {
	database := NewTest(t)
	qt.Assert(t, db.WriteKey(database, []byte("k"), nil), qt.IsNil)
}
