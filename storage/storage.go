/*
Package storage persists the coordinator artifacts on a key-value database.

# Storage Organization

Every artifact lives under its own prefix:

  - ms/ : snapshot name → registry snapshot (state.RegistryJSON)
  - tl/ : pollID → exported tally (state.TallyData)
  - pj/ : pollID + kind + batch + jobID → pending prover job

Artifacts are CBOR encoded unless stated otherwise.
*/
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vocdoni/maci-coordinator/db"
	"github.com/vocdoni/maci-coordinator/db/prefixeddb"
	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/types"
)

var (
	ErrKeyAlreadyExists = errors.New("key already exists")
	ErrNotFound         = errors.New("not found")
	ErrNoMoreElements   = errors.New("no more elements")

	// Prefixes
	registryPrefix  = []byte("ms/")
	tallyDataPrefix = []byte("tl/")
	proverJobPrefix = []byte("pj/")

	cacheSize = 256
)

// Storage stores registry snapshots, tally data and prover jobs.
type Storage struct {
	db         db.Database
	globalLock sync.Mutex
	cache      *lru.Cache[string, any]
}

// New creates a new Storage instance.
func New(database db.Database) *Storage {
	cache, err := lru.New[string, any](cacheSize)
	if err != nil {
		log.Fatalf("failed to create LRU cache: %v", err)
	}
	return &Storage{db: database, cache: cache}
}

// Close closes the storage.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.Warnw("failed to close storage", "error", err)
	}
}

func pollKey(id types.PollID) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(id))
}

func cacheKey(prefix, key []byte) string {
	return string(prefix) + string(key)
}

// setArtifact encodes artifact and stores it under prefix and key,
// overwriting any previous value.
func (s *Storage) setArtifact(prefix, key []byte, artifact any, encoding ...ArtifactEncoding) error {
	data, err := EncodeArtifact(artifact, encoding...)
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedDatabase(s.db, prefix).WriteTx()
	defer wTx.Discard()
	if err := wTx.Set(key, data); err != nil {
		return err
	}
	if err := wTx.Commit(); err != nil {
		return err
	}
	s.cache.Remove(cacheKey(prefix, key))
	return nil
}

// getArtifact decodes the artifact stored under prefix and key into out.
// It returns ErrNotFound if there is none.
func (s *Storage) getArtifact(prefix, key []byte, out any, encoding ...ArtifactEncoding) error {
	data, err := prefixeddb.NewPrefixedReader(s.db, prefix).Get(key)
	if errors.Is(err, db.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := DecodeArtifact(data, out, encoding...); err != nil {
		return fmt.Errorf("could not decode artifact: %w", err)
	}
	return nil
}

func (s *Storage) deleteArtifact(prefix, key []byte) error {
	wTx := prefixeddb.NewPrefixedDatabase(s.db, prefix).WriteTx()
	defer wTx.Discard()
	if err := wTx.Delete(key); err != nil {
		return err
	}
	if err := wTx.Commit(); err != nil {
		return err
	}
	s.cache.Remove(cacheKey(prefix, key))
	return nil
}

// listArtifacts retrieves every key under prefix.
func (s *Storage) listArtifacts(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	if err := prefixeddb.NewPrefixedReader(s.db, prefix).Iterate(nil, func(k, _ []byte) bool {
		keys = append(keys, append([]byte(nil), k...))
		return true
	}); err != nil {
		return nil, err
	}
	return keys, nil
}
