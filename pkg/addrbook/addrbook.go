// Package addrbook persists the peer address book across restarts:
// for every known NID, its last address, attempt count, and whether it
// is a configured persistent peer. Backed by goleveldb, distinct from
// trackstore's bbolt-backed tracked-project state. cmd/meshd opens the
// book at startup; no other code in this module reads or writes its
// entries.
package addrbook

import (
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"

	"github.com/driftmesh/node/pkg/netaddr"
	"github.com/driftmesh/node/pkg/nid"
)

// hotCacheSize bounds the in-memory front cache that Get, Put and
// Delete keep over the goleveldb store.
const hotCacheSize = 256

// Entry is one peer's persisted address-book record.
type Entry struct {
	Addr       netaddr.Addr `json:"addr"`
	Attempts   int          `json:"attempts"`
	Persistent bool         `json:"persistent"`
}

// Book wraps a goleveldb database holding one Entry per known NID,
// fronted by a bounded LRU cache of recently touched entries.
type Book struct {
	db  *leveldb.DB
	hot *lru.Cache
}

// Open opens (creating if needed) the goleveldb database at path.
func Open(path string) (*Book, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("addrbook: open %s: %w", path, err)
	}
	hot, err := lru.New(hotCacheSize)
	if err != nil {
		return nil, fmt.Errorf("addrbook: new cache: %w", err)
	}
	return &Book{db: db, hot: hot}, nil
}

// Close releases the underlying database files.
func (b *Book) Close() error {
	return b.db.Close()
}

// Put records or overwrites n's address-book entry.
func (b *Book) Put(n nid.ID, e Entry) error {
	v, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("addrbook: marshal entry: %w", err)
	}
	if err := b.db.Put(n[:], v, nil); err != nil {
		return fmt.Errorf("addrbook: put: %w", err)
	}
	b.hot.Add(n, e)
	return nil
}

// Get loads n's address-book entry, if any, checking the hot cache
// before falling back to goleveldb.
func (b *Book) Get(n nid.ID) (Entry, bool, error) {
	if cached, ok := b.hot.Get(n); ok {
		return cached.(Entry), true, nil
	}
	v, err := b.db.Get(n[:], nil)
	if err != nil {
		if err == errors.ErrNotFound {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("addrbook: get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(v, &e); err != nil {
		return Entry{}, false, fmt.Errorf("addrbook: unmarshal entry: %w", err)
	}
	b.hot.Add(n, e)
	return e, true, nil
}

// Delete removes n's address-book entry entirely.
func (b *Book) Delete(n nid.ID) error {
	b.hot.Remove(n)
	return b.db.Delete(n[:], nil)
}

// All loads every known peer's address-book entry.
func (b *Book) All() (map[nid.ID]Entry, error) {
	out := make(map[nid.ID]Entry)
	iter := b.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		if len(iter.Key()) != len(nid.ID{}) {
			continue
		}
		var n nid.ID
		copy(n[:], iter.Key())
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("addrbook: unmarshal entry: %w", err)
		}
		out[n] = e
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("addrbook: iterate: %w", err)
	}
	return out, nil
}
