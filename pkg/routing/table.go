// Package routing implements the Routing Table: a mapping from Project
// Identifier to the set of peers claiming to host it, plus whatever the
// local node itself knows about each project. Insertion is idempotent
// and peer removal is a single mutex-guarded pass over every claim set.
package routing

import (
	"sync"

	"github.com/driftmesh/node/pkg/nid"
	"github.com/driftmesh/node/pkg/pid"
)

// Local describes what the local node itself knows about a project,
// returned alongside the remote claims by Lookup.
type Local struct {
	Present bool
	Head    string
}

// Table is owned exclusively by the engine goroutine that runs the
// protocol loop; external observers only ever see snapshots returned by
// Lookup/Projects, never the live maps.
type Table struct {
	mu     sync.RWMutex
	claims map[pid.ID]map[nid.ID]struct{}
	local  map[pid.ID]Local
}

// New creates an empty Routing Table.
func New() *Table {
	return &Table{
		claims: make(map[pid.ID]map[nid.ID]struct{}),
		local:  make(map[pid.ID]Local),
	}
}

// Insert idempotently adds nid to pid's claim set.
func (t *Table) Insert(p pid.ID, n nid.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertLocked(p, n)
}

func (t *Table) insertLocked(p pid.ID, n nid.ID) {
	set, ok := t.claims[p]
	if !ok {
		set = make(map[nid.ID]struct{})
		t.claims[p] = set
	}
	set[n] = struct{}{}
}

// RemovePeer removes nid from every pid's set and prunes now-empty
// entries: after RemovePeer, no lookup can return that nid again.
func (t *Table) RemovePeer(n nid.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for p, set := range t.claims {
		if _, ok := set[n]; ok {
			delete(set, n)
			if len(set) == 0 {
				delete(t.claims, p)
			}
		}
	}
}

// ReplacePeerClaims wholesale-replaces a peer's contribution to the
// table: every pid the peer used to claim but no longer does is
// removed, every newly-claimed pid gains the peer. Both loops run under
// the same write lock, so no observer ever sees a partial update.
func (t *Table) ReplacePeerClaims(n nid.ID, previous, current map[pid.ID]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for p := range previous {
		if _, stillClaimed := current[p]; stillClaimed {
			continue
		}
		if set, ok := t.claims[p]; ok {
			delete(set, n)
			if len(set) == 0 {
				delete(t.claims, p)
			}
		}
	}
	for p := range current {
		t.insertLocked(p, n)
	}
}

// SetLocal records the local node's own knowledge of a project (e.g.
// after `track`).
func (t *Table) SetLocal(p pid.ID, l Local) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local[p] = l
}

// ClearLocal removes the local record of a project (`untrack`).
func (t *Table) ClearLocal(p pid.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.local, p)
}

// Lookup returns the local node's knowledge of pid (if any) plus the set
// of remote nids currently claiming it.
func (t *Table) Lookup(p pid.ID) (Local, []nid.ID) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	local := t.local[p]
	set := t.claims[p]
	remote := make([]nid.ID, 0, len(set))
	for n := range set {
		remote = append(remote, n)
	}
	return local, remote
}

// Projects returns every pid with at least one remote claim or a local
// record, for `sessions`/`seeds`-style enumeration.
func (t *Table) Projects() []pid.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[pid.ID]struct{}, len(t.claims)+len(t.local))
	for p := range t.claims {
		seen[p] = struct{}{}
	}
	for p := range t.local {
		seen[p] = struct{}{}
	}
	out := make([]pid.ID, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	return out
}
