package session

import (
	"testing"
	"time"

	"github.com/driftmesh/node/pkg/netaddr"
	"github.com/driftmesh/node/pkg/nid"
	"github.com/stretchr/testify/require"
)

func mkNID(b byte) nid.ID {
	var n nid.ID
	n[0] = b
	return n
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	r := NewRegistry()
	n := mkNID(1)
	addr, err := netaddr.New("127.0.0.1:8001")
	require.NoError(t, err)

	s1 := r.GetOrCreate(n, addr, true)
	require.Equal(t, StateInitial, s1.State)

	s2 := r.GetOrCreate(n, netaddr.Addr{}, false)
	require.Same(t, s1, s2)
	require.True(t, s2.Persistent, "persistent flag set on first registration must stick")
}

func TestOutboundLifecycleResetsAttemptsOnNegotiate(t *testing.T) {
	r := NewRegistry()
	n := mkNID(2)
	addr, _ := netaddr.New("10.0.0.1:9000")

	r.GetOrCreate(n, addr, false)
	r.BeginOutbound(n, addr)
	s, _ := r.Get(n)
	require.Equal(t, StateAttemptedOutbound, s.State)

	r.CompleteOutbound(n)
	s, _ = r.Get(n)
	require.Equal(t, StateConnected, s.State)
	require.Equal(t, DirectionOutbound, s.Direction)

	r.Negotiate(n)
	s, _ = r.Get(n)
	require.Equal(t, StateNegotiated, s.State)
	require.Zero(t, s.Attempts)
}

func TestDisconnectTransientPersistentReconnects(t *testing.T) {
	r := NewRegistry()
	n := mkNID(3)
	addr, _ := netaddr.New("10.0.0.2:9000")
	r.GetOrCreate(n, addr, true)
	r.BeginOutbound(n, addr)
	r.CompleteOutbound(n)
	r.Negotiate(n)

	should := r.Disconnect(n, ReasonConnectionError)
	require.True(t, should)
	s, _ := r.Get(n)
	require.Equal(t, StateDisconnected, s.State)
	require.Equal(t, 1, s.Attempts)
}

func TestDisconnectDialErrorOnNegotiatedPersistentDoesNotReconnect(t *testing.T) {
	r := NewRegistry()
	n := mkNID(4)
	addr, _ := netaddr.New("10.0.0.3:9000")
	r.GetOrCreate(n, addr, true)
	r.BeginOutbound(n, addr)
	r.CompleteOutbound(n)
	r.Negotiate(n)

	should := r.Disconnect(n, ReasonDialError)
	require.False(t, should)
	s, _ := r.Get(n)
	require.Zero(t, s.Attempts, "non-transient reasons must not advance the retry counter")
}

func TestDisconnectUserNeverReconnects(t *testing.T) {
	r := NewRegistry()
	n := mkNID(5)
	addr, _ := netaddr.New("10.0.0.4:9000")
	r.GetOrCreate(n, addr, true)
	r.BeginOutbound(n, addr)
	r.CompleteOutbound(n)
	r.Negotiate(n)

	should := r.Disconnect(n, ReasonUser)
	require.False(t, should)
}

func TestDisconnectStopsAtMaxAttempts(t *testing.T) {
	r := NewRegistry()
	r.MaxAttempts = 2
	n := mkNID(6)
	addr, _ := netaddr.New("10.0.0.5:9000")
	r.GetOrCreate(n, addr, true)
	r.BeginOutbound(n, addr)
	r.CompleteOutbound(n)
	r.Negotiate(n)

	require.True(t, r.Disconnect(n, ReasonTimeout))
	require.True(t, r.Disconnect(n, ReasonTimeout))
	require.False(t, r.Disconnect(n, ReasonTimeout))
}

func TestDisconnectNonPersistentRequiresRecentNegotiation(t *testing.T) {
	r := NewRegistry()
	r.NegotiatedWin = time.Millisecond
	n := mkNID(7)
	addr, _ := netaddr.New("10.0.0.6:9000")
	r.GetOrCreate(n, addr, false)
	r.BeginOutbound(n, addr)
	r.CompleteOutbound(n)
	r.Negotiate(n)

	time.Sleep(5 * time.Millisecond)
	should := r.Disconnect(n, ReasonConnectionError)
	require.False(t, should, "a non-persistent peer with a stale negotiation should not be retried")
}

func TestAcceptInboundCreatesSession(t *testing.T) {
	r := NewRegistry()
	n := mkNID(8)
	addr, _ := netaddr.New("10.0.0.7:9000")

	r.AcceptInbound(n, addr)
	s, ok := r.Get(n)
	require.True(t, ok)
	require.Equal(t, StateConnected, s.State)
	require.Equal(t, DirectionInbound, s.Direction)
}

func TestFailHandshakeIsNotRetried(t *testing.T) {
	r := NewRegistry()
	n := mkNID(9)
	addr, _ := netaddr.New("10.0.0.8:9000")
	r.GetOrCreate(n, addr, true)
	r.BeginOutbound(n, addr)
	r.CompleteOutbound(n)

	r.FailHandshake(n)
	s, _ := r.Get(n)
	require.Equal(t, StateDisconnected, s.State)
}

func TestEvictRemovesSession(t *testing.T) {
	r := NewRegistry()
	n := mkNID(10)
	r.GetOrCreate(n, netaddr.Addr{}, false)
	r.Evict(n)
	_, ok := r.Get(n)
	require.False(t, ok)
}

func TestAllReturnsIndependentCopies(t *testing.T) {
	r := NewRegistry()
	n := mkNID(11)
	r.GetOrCreate(n, netaddr.Addr{}, false)

	all := r.All()
	require.Len(t, all, 1)
	all[0].Attempts = 99

	s, _ := r.Get(n)
	require.Zero(t, s.Attempts, "All() must return copies, not live pointers")
}

func TestTieBreakLowerIDYields(t *testing.T) {
	low, high := mkNID(1), mkNID(2)
	require.True(t, TieBreak(low, high))
	require.False(t, TieBreak(high, low))
}
