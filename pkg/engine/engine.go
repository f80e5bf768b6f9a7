// Package engine implements the Protocol Engine: the single-threaded
// reactor that owns the Session Registry and Routing Table, consumes
// transport and control events, and emits I/O commands onto an Outbox
// rather than performing I/O itself. The Engine's methods are not
// goroutine-safe by themselves — by contract a single caller serializes
// every call, exactly as the surrounding reactor (Loop, in reactor.go)
// does for production use and a test harness does directly for
// deterministic simulation.
package engine

import (
	"context"
	"time"

	"github.com/driftmesh/node/pkg/gossip"
	"github.com/driftmesh/node/pkg/netaddr"
	"github.com/driftmesh/node/pkg/nid"
	"github.com/driftmesh/node/pkg/pid"
	"github.com/driftmesh/node/pkg/routing"
	"github.com/driftmesh/node/pkg/session"
	"github.com/driftmesh/node/pkg/store"
	"github.com/driftmesh/node/pkg/wire"
)

// OutCommand is one entry on the Outbox: an instruction for the
// surrounding reactor to perform I/O. The Engine never performs I/O
// directly.
type OutCommand interface{ isOutCommand() }

// ConnectOut asks the reactor to dial addr.
type ConnectOut struct {
	NID  nid.ID
	Addr netaddr.Addr
}

func (ConnectOut) isOutCommand() {}

// SendOut asks the reactor to deliver msg over n's session.
type SendOut struct {
	NID nid.ID
	Msg wire.Message
}

func (SendOut) isOutCommand() {}

// SetTimerOut asks the reactor to call Tick for Key once time At is reached.
type SetTimerOut struct {
	Key string
	At  time.Time
}

func (SetTimerOut) isOutCommand() {}

// DisconnectOut asks the reactor to close n's transport connection.
type DisconnectOut struct {
	NID nid.ID
}

func (DisconnectOut) isOutCommand() {}

// FetchResult is delivered to the caller-supplied callback passed to
// Fetch, either on a matching FetchResponse or when the attempt can no
// longer succeed.
type FetchResult struct {
	PID     pid.ID
	NID     nid.ID
	Success bool
	Reason  string
}

type pendingFetch struct {
	deadline time.Time
	onResult func(FetchResult)
}

// Config configures a new Engine.
type Config struct {
	LocalNID    nid.ID
	Connect     []netaddr.Addr
	MaxAttempts int
	FetchWindow time.Duration
}

// Engine is the Protocol Engine.
type Engine struct {
	local       nid.ID
	sessions    *session.Registry
	table       *routing.Table
	gossip      *gossip.Store
	verifier    store.Verifier
	objects     store.ObjectStore
	outbox      []OutCommand
	connect     []netaddr.Addr
	localVer    uint64
	tracked     map[pid.ID]string
	pending     map[pid.ID]map[nid.ID]*pendingFetch
	fetchWindow time.Duration
}

// New creates an Engine. verifier and objects may be nil in tests that
// never exercise handshake verification or FetchRequest serving.
func New(cfg Config, verifier store.Verifier, objects store.ObjectStore) *Engine {
	window := cfg.FetchWindow
	if window <= 0 {
		window = 30 * time.Second
	}
	reg := session.NewRegistry()
	if cfg.MaxAttempts > 0 {
		reg.MaxAttempts = cfg.MaxAttempts
	}
	return &Engine{
		local:       cfg.LocalNID,
		sessions:    reg,
		table:       routing.New(),
		gossip:      gossip.New(),
		verifier:    verifier,
		objects:     objects,
		connect:     cfg.Connect,
		tracked:     make(map[pid.ID]string),
		pending:     make(map[pid.ID]map[nid.ID]*pendingFetch),
		fetchWindow: window,
	}
}

// Sessions exposes the registry for read-only control-socket queries.
func (e *Engine) Sessions() *session.Registry { return e.sessions }

// Table exposes the routing table for read-only control-socket queries.
func (e *Engine) Table() *routing.Table { return e.table }

func (e *Engine) emit(cmd OutCommand) {
	e.outbox = append(e.outbox, cmd)
}

// Drain returns every command queued since the last Drain and clears
// the outbox.
func (e *Engine) Drain() []OutCommand {
	out := e.outbox
	e.outbox = nil
	return out
}

// Initialize seeds the outbox with a Connect per configured persistent
// peer, in order, before any events arrive.
func (e *Engine) Initialize() {
	for _, addr := range e.connect {
		e.emit(ConnectOut{Addr: addr})
	}
}

// Connect is the control-facing entry point for an explicit connect
// request (CLI `connect` command or the Sync Orchestrator dialing a
// disconnected seed).
func (e *Engine) Connect(n nid.ID, addr netaddr.Addr, persistent bool) {
	e.sessions.GetOrCreate(n, addr, persistent)
	e.sessions.BeginOutbound(n, addr)
	e.emit(ConnectOut{NID: n, Addr: addr})
}

// Connected reports that an outbound dial to n succeeded. It returns
// false if the attempt has been superseded by a concurrent inbound
// connection that already won the tie-break for n, in which case the
// caller owns a surplus socket and must close it itself without
// touching the session.
func (e *Engine) Connected(n nid.ID) bool {
	s, ok := e.sessions.Get(n)
	if !ok || s.State != session.StateAttemptedOutbound {
		return false
	}
	e.sessions.CompleteOutbound(n)
	return true
}

// Accepted reports an inbound connection from n. If a local outbound
// attempt to the same NID is in flight, the lexicographic tie-break
// decides which direction survives; the caller passes the result to
// the transport so exactly one of the two racing sockets is kept. It
// returns whether this inbound connection is the winner and should be
// read from and sent over; a false result means the caller must close
// the socket it just accepted and nothing else.
func (e *Engine) Accepted(n nid.ID, addr netaddr.Addr) bool {
	if s, ok := e.sessions.Get(n); ok && s.State == session.StateAttemptedOutbound {
		if !session.TieBreak(e.local, n) {
			// Local NID wins the tie-break: keep the outbound attempt
			// and reject the inbound side.
			return false
		}
		e.sessions.AcceptInbound(n, addr)
		return true
	}
	e.sessions.AcceptInbound(n, addr)
	return true
}

// Disconnected reports that n's session dropped, applies the
// reconnection policy, and fails every fetch pending against n. A
// non-persistent peer is evicted once its attempts reach MaxAttempts;
// until then a peer that is not reconnected stays Disconnected.
func (e *Engine) Disconnected(n nid.ID, reason session.DisconnectReason) {
	shouldReconnect := e.sessions.Disconnect(n, reason)
	e.gossip.Forget(n)
	e.table.RemovePeer(n)
	e.failPendingForPeer(n, "disconnected")

	if !shouldReconnect {
		if s, ok := e.sessions.Get(n); ok && !s.Persistent && s.Attempts >= e.sessions.MaxAttempts {
			e.sessions.Evict(n)
		}
		return
	}
	s, ok := e.sessions.Get(n)
	if !ok {
		return
	}
	e.sessions.BeginOutbound(n, s.Addr)
	e.emit(ConnectOut{NID: n, Addr: s.Addr})
}

func (e *Engine) failPendingForPeer(n nid.ID, reason string) {
	for p, byPeer := range e.pending {
		if pf, ok := byPeer[n]; ok {
			delete(byPeer, n)
			if len(byPeer) == 0 {
				delete(e.pending, p)
			}
			pf.onResult(FetchResult{PID: p, NID: n, Success: false, Reason: reason})
		}
	}
}

// Received dispatches a decoded message arriving on n's session.
func (e *Engine) Received(n nid.ID, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.Hello:
		e.handleHello(n, m)
	case *wire.Inventory:
		e.handleInventory(n, m)
	case *wire.RefsAnnouncement:
		e.handleRefsAnnouncement(n, m)
	case *wire.FetchRequest:
		e.handleFetchRequest(n, m)
	case *wire.FetchResponse:
		e.handleFetchResponse(n, m)
	}
}

func (e *Engine) handleHello(n nid.ID, h *wire.Hello) {
	if e.verifier != nil && !e.verifier.Verify(n, h.NID[:], nil) {
		e.sessions.FailHandshake(n)
		e.emit(DisconnectOut{NID: n})
		return
	}
	e.sessions.Negotiate(n)
	e.emit(SendOut{NID: n, Msg: gossip.Snapshot(e.localVer, e.tracked)})
}

func (e *Engine) handleInventory(n nid.ID, inv *wire.Inventory) {
	e.gossip.Merge(n, inv, e.table)
}

func (e *Engine) handleRefsAnnouncement(n nid.ID, a *wire.RefsAnnouncement) {
	if e.verifier != nil && !e.verifier.Verify(n, []byte(a.Head), a.Signature) {
		return
	}
	e.table.SetLocal(a.PID, routing.Local{Present: true, Head: a.Head})
}

func (e *Engine) handleFetchRequest(n nid.ID, f *wire.FetchRequest) {
	if e.objects == nil {
		e.emit(SendOut{NID: n, Msg: &wire.FetchResponse{PID: f.PID, Success: false, Reason: "no object store"}})
		return
	}
	head, ok, err := e.objects.Has(context.Background(), f.PID)
	if err != nil || !ok {
		e.emit(SendOut{NID: n, Msg: &wire.FetchResponse{PID: f.PID, Success: false, Reason: "not seeded"}})
		return
	}
	e.emit(SendOut{NID: n, Msg: &wire.FetchResponse{PID: f.PID, Success: true, Reason: head}})
}

func (e *Engine) handleFetchResponse(n nid.ID, r *wire.FetchResponse) {
	byPeer, ok := e.pending[r.PID]
	if !ok {
		return
	}
	pf, ok := byPeer[n]
	if !ok {
		return
	}
	delete(byPeer, n)
	if len(byPeer) == 0 {
		delete(e.pending, r.PID)
	}
	pf.onResult(FetchResult{PID: r.PID, NID: n, Success: r.Success, Reason: r.Reason})
}

// Fetch issues a FetchRequest to n for p if n is Negotiated, and
// registers onResult to be called exactly once with the outcome: a
// matching FetchResponse, a disconnect, or expiry at Tick(now) past the
// fetch window. It reports false immediately (without registering
// anything) if n has no Negotiated session.
func (e *Engine) Fetch(p pid.ID, n nid.ID, now time.Time, onResult func(FetchResult)) bool {
	s, ok := e.sessions.Get(n)
	if !ok || s.State != session.StateNegotiated {
		return false
	}
	byPeer, ok := e.pending[p]
	if !ok {
		byPeer = make(map[nid.ID]*pendingFetch)
		e.pending[p] = byPeer
	}
	byPeer[n] = &pendingFetch{deadline: now.Add(e.fetchWindow), onResult: onResult}
	e.emit(SendOut{NID: n, Msg: &wire.FetchRequest{PID: p}})
	return true
}

// Tick advances time, expiring any fetch past its deadline.
func (e *Engine) Tick(now time.Time) {
	for p, byPeer := range e.pending {
		for n, pf := range byPeer {
			if now.Before(pf.deadline) {
				continue
			}
			delete(byPeer, n)
			pf.onResult(FetchResult{PID: p, NID: n, Success: false, Reason: "timeout"})
		}
		if len(byPeer) == 0 {
			delete(e.pending, p)
		}
	}
}

// Track registers p as locally seeded with the given head and bumps
// the local inventory version, matching the `track` control command.
func (e *Engine) Track(p pid.ID, head string) {
	e.tracked[p] = head
	e.localVer++
	e.table.SetLocal(p, routing.Local{Present: true, Head: head})
}

// Untrack stops seeding p and clears the local routing record. Per the
// open question on synchronous-vs-deferred deletion, this node treats
// it as synchronous: the in-memory record is gone as soon as Untrack
// returns, and the object store deletion (if any) is the caller's
// responsibility to perform before or after calling this.
func (e *Engine) Untrack(p pid.ID) {
	delete(e.tracked, p)
	e.localVer++
	e.table.ClearLocal(p)
}

// SyncInventory recomputes the local inventory version (a no-op beyond
// the version bump here since tracked/heads are already current) and
// returns the Inventory message to gossip to every negotiated peer.
func (e *Engine) SyncInventory() *wire.Inventory {
	e.localVer++
	return gossip.Snapshot(e.localVer, e.tracked)
}

// BroadcastInventory recomputes the local inventory and queues a Send
// to every currently negotiated peer, for the `sync-inventory` control
// command and any caller that wants to push a change immediately
// instead of waiting for the next per-peer handshake.
func (e *Engine) BroadcastInventory() {
	msg := e.SyncInventory()
	for _, n := range e.NegotiatedPeers() {
		e.emit(SendOut{NID: n, Msg: msg})
	}
}

// NegotiatedPeers returns every NID currently in the Negotiated state,
// used to fan SyncInventory's result out as Send commands.
func (e *Engine) NegotiatedPeers() []nid.ID {
	var out []nid.ID
	for _, s := range e.sessions.All() {
		if s.State == session.StateNegotiated {
			out = append(out, s.NID)
		}
	}
	return out
}

// LocalHead returns the head this node currently tracks for p, and
// whether p is tracked at all.
func (e *Engine) LocalHead(p pid.ID) (string, bool) {
	h, ok := e.tracked[p]
	return h, ok
}

// RemoteHead returns the head n last gossiped for p, per the most
// recent Inventory merged from n.
func (e *Engine) RemoteHead(n nid.ID, p pid.ID) (string, bool) {
	return e.gossip.Head(n, p)
}

// IsPublic reports whether p's object store entry is publicly
// readable. With no object store attached it reports true.
func (e *Engine) IsPublic(ctx context.Context, p pid.ID) (bool, error) {
	if e.objects == nil {
		return true, nil
	}
	return e.objects.IsPublic(ctx, p)
}

// AnnounceRefs signs and gossips p's locally tracked head to every NID
// in targets that currently holds a Negotiated session, silently
// skipping the rest. It returns the subset actually sent to, and false
// if p isn't locally tracked (the `announce-refs` caller must refuse
// this before it ever reaches here).
func (e *Engine) AnnounceRefs(p pid.ID, signature []byte, targets []nid.ID) ([]nid.ID, bool) {
	head, ok := e.tracked[p]
	if !ok {
		return nil, false
	}
	msg := &wire.RefsAnnouncement{PID: p, Head: head, Signature: signature}
	var sent []nid.ID
	for _, n := range targets {
		s, ok := e.sessions.Get(n)
		if !ok || s.State != session.StateNegotiated {
			continue
		}
		e.emit(SendOut{NID: n, Msg: msg})
		sent = append(sent, n)
	}
	return sent, true
}
