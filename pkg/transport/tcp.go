// Package transport is the reactor's I/O collaborator: it performs the
// actual dialing, accepting, framing, and writing the Protocol Engine's
// Outbox asks for, and feeds back connected/accepted/received/
// disconnected events onto the engine's Loop. The Engine itself never
// imports net; everything here is the thin, swappable shell around it.
package transport

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftmesh/node/pkg/engine"
	"github.com/driftmesh/node/pkg/netaddr"
	"github.com/driftmesh/node/pkg/nid"
	"github.com/driftmesh/node/pkg/session"
	"github.com/driftmesh/node/pkg/wire"
)

// TCP dials and accepts peer connections over TCP and drives an
// engine.Loop from them.
type TCP struct {
	local nid.ID
	loop  *engine.Loop
	log   *zap.Logger

	ln net.Listener

	mu    sync.Mutex
	conns map[nid.ID]net.Conn
}

// New creates a TCP transport bound to loop. local is sent as this
// node's identity in every Hello.
func New(local nid.ID, loop *engine.Loop, log *zap.Logger) *TCP {
	if log == nil {
		log = zap.NewNop()
	}
	return &TCP{local: local, loop: loop, log: log, conns: make(map[nid.ID]net.Conn)}
}

// Listen opens the peer-protocol listening socket.
func (t *TCP) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	t.ln = ln
	return nil
}

// Serve accepts inbound connections until the listener is closed. Each
// connection's first frame must be a Hello identifying the peer.
func (t *TCP) Serve() error {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return err
		}
		go t.handleInbound(conn)
	}
}

// Close stops accepting new peer connections.
func (t *TCP) Close() error {
	if t.ln == nil {
		return nil
	}
	return t.ln.Close()
}

func (t *TCP) handleInbound(conn net.Conn) {
	msg, err := wire.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return
	}
	hello, ok := msg.(*wire.Hello)
	if !ok {
		conn.Close()
		return
	}
	n := hello.NID
	addr := remoteAddr(conn)
	connID := uuid.NewString()

	// Accepted runs on the loop's own goroutine, so its tie-break
	// decision is made against the session state synchronously with
	// any in-flight dial for n: whichever of dial or handleInbound asks
	// second sees the already-updated state and loses. Only the winner
	// ever touches t.conns, so a losing outbound dial never clobbers an
	// accepted inbound socket or vice versa.
	var won bool
	t.loop.Do(func(e *engine.Engine) {
		won = e.Accepted(n, addr)
		if won {
			e.Received(n, hello)
		}
	})
	if !won {
		conn.Close()
		return
	}

	// Answer with this node's own Hello: the dialing side only reaches
	// Negotiated once it receives one.
	if err := wire.WriteFrame(conn, &wire.Hello{Version: 1, NID: t.local}); err != nil {
		conn.Close()
		t.loop.Post(func(e *engine.Engine) { e.Disconnected(n, session.ReasonConnectionError) })
		return
	}

	t.mu.Lock()
	t.conns[n] = conn
	t.mu.Unlock()

	t.log.Info("inbound connection accepted",
		zap.String("conn_id", connID), zap.String("nid", n.String()), zap.String("addr", addr.String()))

	t.readLoop(n, conn)
}

// Dispatch performs every command an engine call queued: dialing,
// sending a frame, or closing a connection. It satisfies
// control.OutboxSink.
func (t *TCP) Dispatch(cmds []engine.OutCommand) {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case engine.ConnectOut:
			go t.dial(c.NID, c.Addr)
		case engine.SendOut:
			t.send(c.NID, c.Msg)
		case engine.DisconnectOut:
			t.disconnect(c.NID)
		case engine.SetTimerOut:
			// No per-peer backoff timer is needed today: Disconnected
			// already re-emits Connect immediately for a retryable peer.
		}
	}
}

func (t *TCP) dial(n nid.ID, addr netaddr.Addr) {
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.loop.Post(func(e *engine.Engine) { e.Disconnected(n, session.ReasonDialError) })
		return
	}

	hello := &wire.Hello{Version: 1, NID: t.local}
	if err := wire.WriteFrame(conn, hello); err != nil {
		conn.Close()
		t.loop.Post(func(e *engine.Engine) { e.Disconnected(n, session.ReasonDialError) })
		return
	}

	// Mirror handleInbound: only register this socket, and only post
	// Connected's session transition, if the loop confirms the outbound
	// attempt hasn't already been superseded by a winning inbound
	// connection for n.
	var won bool
	t.loop.Do(func(e *engine.Engine) { won = e.Connected(n) })
	if !won {
		conn.Close()
		return
	}

	t.mu.Lock()
	t.conns[n] = conn
	t.mu.Unlock()

	t.log.Info("outbound connection established",
		zap.String("conn_id", uuid.NewString()), zap.String("nid", n.String()), zap.String("addr", addr.String()))

	t.readLoop(n, conn)
}

func (t *TCP) readLoop(n nid.ID, conn net.Conn) {
	for {
		msg, err := wire.ReadFrame(conn)
		if err != nil {
			t.mu.Lock()
			current, ok := t.conns[n]
			if ok && current == conn {
				delete(t.conns, n)
			}
			t.mu.Unlock()
			conn.Close()
			if ok && current == conn {
				t.loop.Post(func(e *engine.Engine) { e.Disconnected(n, session.ReasonConnectionError) })
			}
			return
		}
		t.loop.Post(func(e *engine.Engine) { e.Received(n, msg) })
	}
}

func (t *TCP) send(n nid.ID, msg wire.Message) {
	t.mu.Lock()
	conn, ok := t.conns[n]
	t.mu.Unlock()
	if !ok {
		return
	}
	if err := wire.WriteFrame(conn, msg); err != nil {
		t.log.Warn("send failed", zap.String("nid", n.String()), zap.Error(err))
	}
}

func (t *TCP) disconnect(n nid.ID) {
	t.mu.Lock()
	conn, ok := t.conns[n]
	delete(t.conns, n)
	t.mu.Unlock()
	if ok {
		conn.Close()
	}
}

func remoteAddr(conn net.Conn) netaddr.Addr {
	a, err := netaddr.New(conn.RemoteAddr().String())
	if err != nil {
		return netaddr.Addr{}
	}
	return a
}
