package routing

import (
	"testing"

	"github.com/driftmesh/node/pkg/nid"
	"github.com/driftmesh/node/pkg/pid"
	"github.com/stretchr/testify/require"
)

func mkNID(b byte) nid.ID {
	var n nid.ID
	n[0] = b
	return n
}

func mkPID(b byte) pid.ID {
	var p pid.ID
	p[0] = b
	return p
}

func TestInsertIdempotent(t *testing.T) {
	tbl := New()
	p, n := mkPID(1), mkNID(1)
	tbl.Insert(p, n)
	tbl.Insert(p, n)
	_, remote := tbl.Lookup(p)
	require.Equal(t, []nid.ID{n}, remote)
}

func TestRemovePeerInvariant(t *testing.T) {
	tbl := New()
	p, n := mkPID(1), mkNID(1)
	tbl.Insert(p, n)
	tbl.RemovePeer(n)
	_, remote := tbl.Lookup(p)
	for _, got := range remote {
		require.NotEqual(t, n, got)
	}
	require.Empty(t, remote)
}

func TestRemovePeerPrunesEmptyEntries(t *testing.T) {
	tbl := New()
	p, n := mkPID(1), mkNID(1)
	tbl.Insert(p, n)
	tbl.RemovePeer(n)
	require.NotContains(t, tbl.Projects(), p)
}

func TestReplacePeerClaimsAtomicSwap(t *testing.T) {
	tbl := New()
	n := mkNID(1)
	p1, p2, p3 := mkPID(1), mkPID(2), mkPID(3)

	tbl.ReplacePeerClaims(n, nil, map[pid.ID]struct{}{p1: {}, p2: {}})
	_, r1 := tbl.Lookup(p1)
	require.Contains(t, r1, n)
	_, r2 := tbl.Lookup(p2)
	require.Contains(t, r2, n)

	// Fresher inventory drops p1, keeps p2, adds p3.
	tbl.ReplacePeerClaims(n, map[pid.ID]struct{}{p1: {}, p2: {}}, map[pid.ID]struct{}{p2: {}, p3: {}})
	_, r1 = tbl.Lookup(p1)
	require.NotContains(t, r1, n)
	_, r2 = tbl.Lookup(p2)
	require.Contains(t, r2, n)
	_, r3 := tbl.Lookup(p3)
	require.Contains(t, r3, n)
}

func TestMultiPeerConvergence(t *testing.T) {
	// Three peers claiming disjoint sets of projects should each show up
	// independently under their own pid, with no cross-contamination.
	tbl := New()
	p1, p2 := mkPID(1), mkPID(2)
	a, b, c := mkNID(1), mkNID(2), mkNID(3)

	tbl.Insert(p1, a)
	tbl.Insert(p1, b)
	tbl.Insert(p2, c)

	_, r1 := tbl.Lookup(p1)
	require.ElementsMatch(t, []nid.ID{a, b}, r1)
	_, r2 := tbl.Lookup(p2)
	require.ElementsMatch(t, []nid.ID{c}, r2)
}

func TestLocalAndRemoteAreIndependent(t *testing.T) {
	tbl := New()
	p := mkPID(9)
	tbl.SetLocal(p, Local{Present: true, Head: "abc"})
	local, remote := tbl.Lookup(p)
	require.True(t, local.Present)
	require.Equal(t, "abc", local.Head)
	require.Empty(t, remote)

	tbl.ClearLocal(p)
	local, _ = tbl.Lookup(p)
	require.False(t, local.Present)
}
