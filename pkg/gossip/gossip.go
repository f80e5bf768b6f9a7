// Package gossip implements the Inventory Gossip component: it merges
// incoming per-peer Inventory messages into the Routing Table and keeps
// enough per-peer history to diff a fresher inventory against a peer's
// previous contribution.
package gossip

import (
	"github.com/driftmesh/node/pkg/crdt"
	"github.com/driftmesh/node/pkg/nid"
	"github.com/driftmesh/node/pkg/pid"
	"github.com/driftmesh/node/pkg/routing"
	"github.com/driftmesh/node/pkg/wire"
)

type peerState struct {
	version crdt.Max[uint64]
	pids    map[pid.ID]struct{}
	heads   map[pid.ID]string
}

// Store tracks the latest Inventory version and contributed pid set for
// every peer, so a routing table update never has to scan its own
// (potentially large) maps to compute a diff.
type Store struct {
	peers map[nid.ID]*peerState
}

// New creates an empty gossip Store.
func New() *Store {
	return &Store{peers: make(map[nid.ID]*peerState)}
}

// Head returns the last-known head reference a peer reported for pid.
func (s *Store) Head(n nid.ID, p pid.ID) (string, bool) {
	ps, ok := s.peers[n]
	if !ok {
		return "", false
	}
	h, ok := ps.heads[p]
	return h, ok
}

// Merge applies an incoming Inventory from n to the routing table. It
// returns false without touching anything if inv's version is not
// strictly greater than the version already stored for n, matching the
// "stored inventory is the one with the highest version observed"
// invariant.
func (s *Store) Merge(n nid.ID, inv *wire.Inventory, table *routing.Table) bool {
	ps, ok := s.peers[n]
	if !ok {
		ps = &peerState{
			version: crdt.NewMax(uint64(0)),
			pids:    make(map[pid.ID]struct{}),
			heads:   make(map[pid.ID]string),
		}
		s.peers[n] = ps
	}

	if inv.Version <= ps.version.Get() {
		return false
	}
	ps.version.Merge(crdt.NewMax(inv.Version))

	current := make(map[pid.ID]struct{}, len(inv.Entries))
	heads := make(map[pid.ID]string, len(inv.Entries))
	for _, e := range inv.Entries {
		current[e.PID] = struct{}{}
		heads[e.PID] = e.Head
	}

	table.ReplacePeerClaims(n, ps.pids, current)
	ps.pids = current
	ps.heads = heads
	return true
}

// Forget drops all gossip bookkeeping for a peer, called alongside
// routing.Table.RemovePeer when a session is evicted.
func (s *Store) Forget(n nid.ID) {
	delete(s.peers, n)
}

// Snapshot builds the Inventory message representing the local node's
// own tracked set, for sending on Negotiate and after a local change.
func Snapshot(version uint64, tracked map[pid.ID]string) *wire.Inventory {
	entries := make([]wire.InventoryEntry, 0, len(tracked))
	for p, head := range tracked {
		entries = append(entries, wire.InventoryEntry{PID: p, Head: head})
	}
	return &wire.Inventory{Version: version, Entries: entries}
}
