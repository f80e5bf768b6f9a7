// Package session implements the Session Registry: the per-peer
// connection state machine, the lexicographic tie-break for
// simultaneous inbound/outbound dials to the same peer, and the
// bounded-retry reconnection policy.
package session

import (
	"time"

	"github.com/driftmesh/node/pkg/netaddr"
	"github.com/driftmesh/node/pkg/nid"
)

// State is one of the states a Session occupies over its lifetime.
type State int

const (
	StateInitial State = iota
	StateAttemptedOutbound
	StateConnected
	StateNegotiated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateAttemptedOutbound:
		return "AttemptedOutbound"
	case StateConnected:
		return "Connected"
	case StateNegotiated:
		return "Negotiated"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Direction records whether a Connected/Negotiated session originated
// from a local dial or a remote accept.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionInbound
	DirectionOutbound
)

// Session is one entry per known peer.
type Session struct {
	NID        nid.ID
	Addr       netaddr.Addr
	State      State
	Direction  Direction
	Attempts   int
	Persistent bool
	LastSeen   time.Time
	// negotiatedAt is set whenever the session last reached Negotiated,
	// used by the reconnection policy's "recently negotiated" test.
	negotiatedAt time.Time
}

// RecentlyNegotiated reports whether the session reached Negotiated
// within window of now. Feeds the reconnection policy's distinction
// between a peer worth retrying and one that never really connected.
func (s *Session) RecentlyNegotiated(now time.Time, window time.Duration) bool {
	if s.negotiatedAt.IsZero() {
		return false
	}
	return now.Sub(s.negotiatedAt) <= window
}
