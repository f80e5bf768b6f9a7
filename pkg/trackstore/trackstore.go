// Package trackstore persists the set of locally-tracked projects and
// their last-known head references across restarts, backed by
// go.etcd.io/bbolt.
package trackstore

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/driftmesh/node/pkg/pid"
)

var trackedBucket = []byte("tracked")

// Store wraps a bbolt database holding tracked-project state.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("trackstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(trackedBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("trackstore: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put records p as tracked with the given head reference.
func (s *Store) Put(p pid.ID, head string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(trackedBucket).Put(p[:], []byte(head))
	})
}

// Delete stops tracking p.
func (s *Store) Delete(p pid.ID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(trackedBucket).Delete(p[:])
	})
}

// All loads every tracked project and its head reference. cmd/meshd
// calls it once at startup to populate the object store; the engine's
// own tracked set, which its gossiped inventory is built from, is not
// loaded from it.
func (s *Store) All() (map[pid.ID]string, error) {
	out := make(map[pid.ID]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(trackedBucket).ForEach(func(k, v []byte) error {
			if len(k) != len(pid.ID{}) {
				return nil
			}
			var p pid.ID
			copy(p[:], k)
			out[p] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("trackstore: scan: %w", err)
	}
	return out, nil
}
