package addrbook

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftmesh/node/pkg/netaddr"
	"github.com/driftmesh/node/pkg/nid"
)

func mkNID(b byte) nid.ID {
	var n nid.ID
	n[0] = b
	return n
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addrbook")
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	n := mkNID(1)
	addr, _ := netaddr.New("10.0.0.1:9000")
	require.NoError(t, b.Put(n, Entry{Addr: addr, Attempts: 2, Persistent: true}))

	e, ok, err := b.Get(n)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, addr, e.Addr)
	require.Equal(t, 2, e.Attempts)
	require.True(t, e.Persistent)

	require.NoError(t, b.Delete(n))
	_, ok, err = b.Get(n)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAllListsEveryEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addrbook")
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	a1, _ := netaddr.New("10.0.0.1:9000")
	a2, _ := netaddr.New("10.0.0.2:9000")
	n1, n2 := mkNID(1), mkNID(2)
	require.NoError(t, b.Put(n1, Entry{Addr: a1}))
	require.NoError(t, b.Put(n2, Entry{Addr: a2}))

	all, err := b.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, a1, all[n1].Addr)
	require.Equal(t, a2, all[n2].Addr)
}
