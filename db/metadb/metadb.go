// Package metadb opens a db.Database by backend name.
package metadb

import (
	"cmp"
	"fmt"
	"os"
	"testing"

	"github.com/vocdoni/maci-coordinator/db"
	"github.com/vocdoni/maci-coordinator/db/inmemory"
	"github.com/vocdoni/maci-coordinator/db/leveldb"
	"github.com/vocdoni/maci-coordinator/db/pebbledb"
)

// New opens a database of type typ in dir. The in-memory type ignores dir.
func New(typ, dir string) (db.Database, error) {
	opts := db.Options{Path: dir}
	var (
		database db.Database
		err      error
	)
	switch typ {
	case db.TypePebble:
		database, err = pebbledb.New(opts)
	case db.TypeLevelDB:
		database, err = leveldb.New(opts)
	case db.TypeInMem:
		database, err = inmemory.New(opts)
	default:
		return nil, fmt.Errorf("invalid db type %q, available types: %q",
			typ, []string{db.TypePebble, db.TypeLevelDB, db.TypeInMem})
	}
	if err != nil {
		return nil, err
	}
	return database, nil
}

// ForTest returns the backend tests run against, $DB_TYPE or pebble.
func ForTest() string {
	return cmp.Or(os.Getenv("DB_TYPE"), db.TypePebble)
}

// NewTest opens a ForTest database in a temporary directory closed at the
// end of the test.
func NewTest(tb testing.TB) db.Database {
	database, err := New(ForTest(), tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { _ = database.Close() })
	return database
}
