package store

import (
	"context"
	"sync"

	"github.com/driftmesh/node/pkg/nid"
	"github.com/driftmesh/node/pkg/pid"
)

// DevStore is a minimal in-memory ObjectStore, standing in for a real
// content-addressed repository store: it knows presence/head/visibility
// for each tracked project but holds no actual repository data, so
// Fetch always succeeds without transferring anything. Good enough to
// exercise the engine's FetchRequest/FetchResponse path in a
// single-node run or a test; a real deployment replaces this with the
// genuine object store.
type DevStore struct {
	mu     sync.RWMutex
	heads  map[pid.ID]string
	public map[pid.ID]bool
}

// NewDevStore creates an empty DevStore.
func NewDevStore() *DevStore {
	return &DevStore{heads: make(map[pid.ID]string), public: make(map[pid.ID]bool)}
}

// Put records p as locally present with the given head. cmd/meshd calls
// it at startup for each project loaded from trackstore; the `track`
// control command does not call it.
func (d *DevStore) Put(p pid.ID, head string, public bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.heads[p] = head
	d.public[p] = public
}

// Remove forgets p. The `untrack` control command does not call it.
func (d *DevStore) Remove(p pid.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.heads, p)
	delete(d.public, p)
}

// Has implements ObjectStore.
func (d *DevStore) Has(_ context.Context, p pid.ID) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	head, ok := d.heads[p]
	return head, ok, nil
}

// IsPublic implements ObjectStore.
func (d *DevStore) IsPublic(_ context.Context, p pid.ID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.public[p], nil
}

// Fetch implements ObjectStore. DevStore holds no repository content,
// so a fetch always "succeeds" as a no-op transfer.
func (d *DevStore) Fetch(_ context.Context, _ pid.ID, _ nid.ID) error {
	return nil
}
