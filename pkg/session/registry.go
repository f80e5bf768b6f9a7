package session

import (
	"sync"
	"time"

	"github.com/driftmesh/node/pkg/netaddr"
	"github.com/driftmesh/node/pkg/nid"
)

// DefaultMaxConnectionAttempts bounds consecutive transient-failure
// retries before a non-persistent peer is evicted.
const DefaultMaxConnectionAttempts = 5

// RecentlyNegotiatedWindow is the recency threshold used by the
// reconnection policy's "was recently negotiated" test.
const RecentlyNegotiatedWindow = 5 * time.Minute

// Registry holds one Session per known peer. It is driven exclusively
// from the single goroutine that runs the protocol loop; the mutex here
// only protects the map against concurrent read-only snapshots taken by
// control-socket query commands running on other goroutines.
type Registry struct {
	mu             sync.RWMutex
	sessions       map[nid.ID]*Session
	MaxAttempts    int
	NegotiatedWin  time.Duration
}

// NewRegistry creates an empty Session Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:      make(map[nid.ID]*Session),
		MaxAttempts:   DefaultMaxConnectionAttempts,
		NegotiatedWin: RecentlyNegotiatedWindow,
	}
}

// GetOrCreate returns the session for n, creating an Initial one the
// first time any collaborator addresses n.
func (r *Registry) GetOrCreate(n nid.ID, addr netaddr.Addr, persistent bool) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[n]
	if !ok {
		s = &Session{NID: n, Addr: addr, State: StateInitial, Persistent: persistent}
		r.sessions[n] = s
		return s
	}
	if addr != (netaddr.Addr{}) {
		s.Addr = addr
	}
	s.Persistent = s.Persistent || persistent
	return s
}

// Get returns the session for n, if any.
func (r *Registry) Get(n nid.ID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[n]
	return s, ok
}

// Evict removes a session entirely. Called once a non-persistent peer
// has exhausted its consecutive transient-failure retries.
func (r *Registry) Evict(n nid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, n)
}

// All returns a snapshot of every session, for the `sessions` control
// command.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

// BeginOutbound transitions Initial → AttemptedOutbound on a Connect
// command.
func (r *Registry) BeginOutbound(n nid.ID, addr netaddr.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[n]
	s.Addr = addr
	s.State = StateAttemptedOutbound
	s.Direction = DirectionOutbound
}

// CompleteOutbound transitions AttemptedOutbound → Connected{out} on a
// `connected(nid)` event.
func (r *Registry) CompleteOutbound(n nid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[n]
	s.State = StateConnected
	s.Direction = DirectionOutbound
	s.LastSeen = time.Now()
}

// AcceptInbound transitions Initial → Connected{in} on an inbound
// `accepted(nid)` event.
func (r *Registry) AcceptInbound(n nid.ID, addr netaddr.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[n]
	if !ok {
		s = &Session{NID: n}
		r.sessions[n] = s
	}
	s.Addr = addr
	s.State = StateConnected
	s.Direction = DirectionInbound
	s.LastSeen = time.Now()
}

// Negotiate transitions Connected{*} → Negotiated{*} on a successful
// handshake and resets the attempt counter to zero.
func (r *Registry) Negotiate(n nid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[n]
	s.State = StateNegotiated
	s.Attempts = 0
	now := time.Now()
	s.LastSeen = now
	s.negotiatedAt = now
}

// FailHandshake transitions Connected{*} → Disconnected on a failed
// handshake; this is non-retryable.
func (r *Registry) FailHandshake(n nid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[n]
	s.State = StateDisconnected
}

// Disconnect transitions Negotiated{*} (or any live state) → Disconnected
// on an I/O error or peer-requested close, and evaluates the
// reconnection policy, incrementing Attempts when a reconnect will be
// attempted. It returns whether the caller should emit a Connect.
func (r *Registry) Disconnect(n nid.ID, reason DisconnectReason) (shouldReconnect bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[n]
	if !ok {
		return false
	}
	s.State = StateDisconnected
	now := time.Now()
	recently := s.RecentlyNegotiated(now, r.NegotiatedWin)
	shouldReconnect = ShouldReconnect(reason, s.Attempts, s.Persistent, recently, r.MaxAttempts)
	if reason != ReasonUser && reason.isTransient() {
		// User disconnects and non-transient reasons (DialError,
		// HandshakeFailed) never touch the counter; only a considered
		// retry advances Attempts.
		if shouldReconnect {
			s.Attempts++
		}
		// A non-persistent peer that has exhausted its attempts here is
		// left Disconnected for the caller to Evict; persistent peers
		// are kept around regardless of attempt count.
	}
	return shouldReconnect
}

// TieBreak resolves a simultaneous inbound/outbound dial to the same
// peer: the side with the lexicographically smaller identifier yields
// its outbound attempt in favor of the other direction's session.
// local is this node's own identifier; remote is the peer racing
// against it. It returns true if the local outbound attempt should be
// abandoned.
func TieBreak(local, remote nid.ID) bool {
	return local.Less(remote)
}
