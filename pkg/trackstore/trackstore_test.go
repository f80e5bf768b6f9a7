package trackstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftmesh/node/pkg/pid"
)

func mkPID(b byte) pid.ID {
	var p pid.ID
	p[0] = b
	return p
}

func TestPutDeleteAllRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracked.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	p1, p2 := mkPID(1), mkPID(2)
	require.NoError(t, s.Put(p1, "refs/heads/main@abc"))
	require.NoError(t, s.Put(p2, "refs/heads/main@def"))

	all, err := s.All()
	require.NoError(t, err)
	require.Equal(t, "refs/heads/main@abc", all[p1])
	require.Equal(t, "refs/heads/main@def", all[p2])

	require.NoError(t, s.Delete(p1))
	all, err = s.All()
	require.NoError(t, err)
	require.NotContains(t, all, p1)
	require.Contains(t, all, p2)
}

func TestReopenPreservesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracked.db")
	s, err := Open(path)
	require.NoError(t, err)
	p := mkPID(7)
	require.NoError(t, s.Put(p, "refs/heads/main@xyz"))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	all, err := s2.All()
	require.NoError(t, err)
	require.Equal(t, "refs/heads/main@xyz", all[p])
}
