package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/driftmesh/node/pkg/engine"
	"github.com/driftmesh/node/pkg/netaddr"
	"github.com/driftmesh/node/pkg/nid"
	"github.com/driftmesh/node/pkg/pid"
	"github.com/driftmesh/node/pkg/session"
)

// OutboxSink receives the commands an engine call queued, for the
// owner (cmd/meshd) to actually dial, send, or disconnect over the
// transport. The control server never touches a network connection
// itself beyond the control socket.
type OutboxSink interface {
	Dispatch(cmds []engine.OutCommand)
}

// Signer produces the signature attached to a RefsAnnouncement. Kept
// external to the engine: the Protocol Engine only ever verifies
// signatures (see store.Verifier), it never holds a private key.
type Signer interface {
	Sign(message []byte) []byte
}

// Server accepts connections on a Unix domain socket and dispatches
// each line as a control command against an engine.Loop.
type Server struct {
	loop     *engine.Loop
	sink     OutboxSink
	log      *zap.Logger
	signer   Signer
	listener net.Listener
}

// NewServer wraps loop for control-socket access. sink receives every
// outbox command produced while handling a request. signer signs the
// head announced by announce-refs; a nil signer leaves announcements
// unsigned, which is only acceptable against peers that don't enforce
// RefsAnnouncement verification.
func NewServer(loop *engine.Loop, sink OutboxSink, log *zap.Logger, signer Signer) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{loop: loop, sink: sink, log: log, signer: signer}
}

// Listen opens the Unix domain socket at path, replacing any stale
// socket file left behind by an unclean shutdown.
func (s *Server) Listen(path string) error {
	if err := removeStaleSocket(path); err != nil {
		return err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", path, err)
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new control connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		req, err := ParseLine(line)
		if err != nil {
			_ = enc.Encode(ErrorView(err))
			continue
		}
		resp, shutdown := s.dispatch(enc, req)
		if resp != nil {
			_ = enc.Encode(resp)
		}
		if shutdown {
			return
		}
	}
}

// dispatch runs one command. Most commands return a single response
// value for handleConn to encode; announce-refs instead streams its
// own lines directly through enc and returns (nil, false).
func (s *Server) dispatch(enc *json.Encoder, req Request) (interface{}, bool) {
	switch req.Command {
	case CmdTrack:
		return s.doTrack(req.Args)
	case CmdUntrack:
		return s.doUntrack(req.Args)
	case CmdFetch:
		return s.doFetch(req.Args)
	case CmdAnnounceRefs:
		s.doAnnounceRefs(enc, req.Args)
		return nil, false
	case CmdSessions:
		return s.doSessions()
	case CmdSeeds:
		return s.doSeeds(req.Args)
	case CmdConnect:
		return s.doConnect(req.Args)
	case CmdSyncInventory:
		return s.doSyncInventory()
	case CmdShutdown:
		return orderedMapOK(), true
	default:
		return ErrorView(fmt.Errorf("control: unknown command %q", req.Command)), false
	}
}

func (s *Server) doTrack(args []string) (interface{}, bool) {
	if len(args) < 2 {
		return ErrorView(fmt.Errorf("control: track requires <pid> <head>")), false
	}
	p, err := pid.Parse(args[0])
	if err != nil {
		return ErrorView(err), false
	}
	head := args[1]
	s.loop.Do(func(e *engine.Engine) { e.Track(p, head) })
	s.dispatchOutbox()
	return orderedMapOK(), false
}

func (s *Server) doUntrack(args []string) (interface{}, bool) {
	if len(args) < 1 {
		return ErrorView(fmt.Errorf("control: untrack requires <pid>")), false
	}
	p, err := pid.Parse(args[0])
	if err != nil {
		return ErrorView(err), false
	}
	s.loop.Do(func(e *engine.Engine) { e.Untrack(p) })
	s.dispatchOutbox()
	return orderedMapOK(), false
}

func (s *Server) doFetch(args []string) (interface{}, bool) {
	if len(args) < 2 {
		return ErrorView(fmt.Errorf("control: fetch requires <pid> <nid>")), false
	}
	p, err := pid.Parse(args[0])
	if err != nil {
		return ErrorView(err), false
	}
	n, err := nid.Parse(args[1])
	if err != nil {
		return ErrorView(err), false
	}

	result := make(chan engine.FetchResult, 1)
	var accepted bool
	s.loop.Do(func(e *engine.Engine) {
		accepted = e.Fetch(p, n, time.Now(), func(r engine.FetchResult) {
			select {
			case result <- r:
			default:
			}
		})
	})
	s.dispatchOutbox()
	if !accepted {
		return FetchResultView(p, n, false, "no negotiated session"), false
	}

	select {
	case r := <-result:
		return FetchResultView(r.PID, r.NID, r.Success, r.Reason), false
	case <-time.After(45 * time.Second):
		return FetchResultView(p, n, false, "client timeout"), false
	}
}

// doAnnounceRefs gossips the locally tracked head for pid to every
// negotiated peer that is publicly visible for it and not already
// reporting that same head, streaming one "announced" line per peer
// followed by a terminating summary line.
func (s *Server) doAnnounceRefs(enc *json.Encoder, args []string) {
	if len(args) < 1 {
		_ = enc.Encode(ErrorView(fmt.Errorf("control: announce-refs requires <pid>")))
		return
	}
	p, err := pid.Parse(args[0])
	if err != nil {
		_ = enc.Encode(ErrorView(err))
		return
	}

	var (
		head    string
		tracked bool
		public  bool
		visErr  error
		targets []nid.ID
	)
	s.loop.Do(func(e *engine.Engine) {
		head, tracked = e.LocalHead(p)
		if !tracked {
			return
		}
		public, visErr = e.IsPublic(context.Background(), p)
		for _, n := range e.NegotiatedPeers() {
			if !public {
				continue // no identity-document visibility service wired yet
			}
			if remote, ok := e.RemoteHead(n, p); ok && remote == head {
				continue // already synced, nothing to announce
			}
			targets = append(targets, n)
		}
	})
	if !tracked {
		_ = enc.Encode(ErrorView(fmt.Errorf("control: %s is not seeded", p)))
		return
	}
	if visErr != nil {
		_ = enc.Encode(ErrorView(visErr))
		return
	}

	var signature []byte
	if s.signer != nil {
		signature = s.signer.Sign([]byte(head))
	}
	var sent []nid.ID
	s.loop.Do(func(e *engine.Engine) {
		sent, _ = e.AnnounceRefs(p, signature, targets)
	})
	s.dispatchOutbox()

	for _, n := range sent {
		_ = enc.Encode(AnnouncedView(p, n))
	}
	_ = enc.Encode(announceDoneView(len(sent)))
}

func (s *Server) doSessions() (interface{}, bool) {
	var sessions []*session.Session
	s.loop.Do(func(e *engine.Engine) { sessions = e.Sessions().All() })
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].NID.Less(sessions[j].NID) })
	out := make([]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionView(sess.NID, sess.Addr, sess.State.String(), directionString(sess.Direction), sess.Attempts, sess.Persistent))
	}
	return out, false
}

// doSeeds lists every peer known to claim pid, per the `seeds PID`
// control command: one entry per peer with its last-known address (if
// any), whether it currently holds a negotiated session, and its sync
// status relative to the locally tracked head.
func (s *Server) doSeeds(args []string) (interface{}, bool) {
	if len(args) < 1 {
		return ErrorView(fmt.Errorf("control: seeds requires <pid>")), false
	}
	p, err := pid.Parse(args[0])
	if err != nil {
		return ErrorView(err), false
	}

	var remote []nid.ID
	var sessions []*session.Session
	var localHead string
	var localOK bool
	heads := make(map[nid.ID]string)
	s.loop.Do(func(e *engine.Engine) {
		_, r := e.Table().Lookup(p)
		remote = r
		sessions = e.Sessions().All()
		localHead, localOK = e.LocalHead(p)
		for _, n := range r {
			if h, ok := e.RemoteHead(n, p); ok {
				heads[n] = h
			}
		}
	})
	byNID := make(map[nid.ID]*session.Session, len(sessions))
	for _, sess := range sessions {
		byNID[sess.NID] = sess
	}
	sort.Slice(remote, func(i, j int) bool { return remote[i].Less(remote[j]) })

	out := make([]interface{}, 0, len(remote))
	for _, n := range remote {
		connected := false
		var addrs []netaddr.Addr
		if sess, ok := byNID[n]; ok {
			connected = sess.State == session.StateNegotiated
			if sess.Addr != (netaddr.Addr{}) {
				addrs = []netaddr.Addr{sess.Addr}
			}
		}
		status, remoteHead := seedStatus(localOK, localHead, heads[n])
		out = append(out, SeedView(n, addrs, connected, status, remoteHead))
	}
	return out, false
}

// seedStatus derives a Seed's sync status from the locally tracked
// head and the last head n gossiped for the same PID.
func seedStatus(localOK bool, localHead, remoteHead string) (status, remote string) {
	if remoteHead == "" {
		return StatusUnknown, ""
	}
	if !localOK {
		return StatusUnknown, remoteHead
	}
	if remoteHead == localHead {
		return StatusSynced, remoteHead
	}
	return StatusOutOfSync, remoteHead
}

func (s *Server) doConnect(args []string) (interface{}, bool) {
	if len(args) < 2 {
		return ErrorView(fmt.Errorf("control: connect requires <nid> <address>")), false
	}
	n, err := nid.Parse(args[0])
	if err != nil {
		return ErrorView(err), false
	}
	addr, err := netaddr.New(args[1])
	if err != nil {
		return ErrorView(err), false
	}
	persistent := false
	if len(args) >= 3 {
		persistent, _ = strconv.ParseBool(args[2])
	}
	s.loop.Do(func(e *engine.Engine) { e.Connect(n, addr, persistent) })
	s.dispatchOutbox()
	return orderedMapOK(), false
}

func (s *Server) doSyncInventory() (interface{}, bool) {
	s.loop.Do(func(e *engine.Engine) { e.BroadcastInventory() })
	s.dispatchOutbox()
	return orderedMapOK(), false
}

func (s *Server) dispatchOutbox() {
	if s.sink == nil {
		return
	}
	cmds := s.loop.DrainOutbox()
	if len(cmds) > 0 {
		s.sink.Dispatch(cmds)
	}
}

func directionString(d session.Direction) string {
	switch d {
	case session.DirectionInbound:
		return "inbound"
	case session.DirectionOutbound:
		return "outbound"
	default:
		return "none"
	}
}

func orderedMapOK() interface{} {
	return map[string]string{"status": "ok"}
}

// removeStaleSocket clears a leftover socket file from an unclean
// shutdown, but refuses to clobber a socket another live process is
// still listening on.
func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	conn, err := net.Dial("unix", path)
	if err == nil {
		conn.Close()
		return fmt.Errorf("control: socket %s already in use", path)
	}
	return os.Remove(path)
}
