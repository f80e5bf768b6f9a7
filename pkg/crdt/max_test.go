package crdt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinCommutative(t *testing.T) {
	a, b := NewMax(3), NewMax(7)
	require.Equal(t, a.Join(b).Get(), b.Join(a).Get())
}

func TestJoinAssociative(t *testing.T) {
	a, b, c := NewMax(3), NewMax(7), NewMax(5)
	left := a.Join(b).Join(c).Get()
	right := a.Join(b.Join(c)).Get()
	require.Equal(t, left, right)
}

func TestJoinIdempotent(t *testing.T) {
	a := NewMax(9)
	require.Equal(t, a.Get(), a.Join(a).Get())
}

func TestMergeKeepsHighest(t *testing.T) {
	m := NewMax(uint64(1))
	m.Merge(NewMax(uint64(5)))
	require.EqualValues(t, 5, m.Get())
	m.Merge(NewMax(uint64(2)))
	require.EqualValues(t, 5, m.Get())
}
