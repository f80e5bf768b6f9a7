// Package control implements the node's local control protocol: a
// line-delimited command/response exchange over a Unix domain socket
// that the CLI uses to drive the Protocol Engine and Sync Orchestrator.
package control

import (
	"fmt"

	orderedjson "github.com/nspcc-dev/go-ordered-json"
	"github.com/kballard/go-shellquote"

	"github.com/driftmesh/node/pkg/netaddr"
	"github.com/driftmesh/node/pkg/nid"
	"github.com/driftmesh/node/pkg/pid"
)

// Command names recognized on the control socket.
const (
	CmdFetch          = "fetch"
	CmdTrack          = "track"
	CmdUntrack        = "untrack"
	CmdAnnounceRefs   = "announce-refs"
	CmdSessions       = "sessions"
	CmdSeeds          = "seeds"
	CmdConnect        = "connect"
	CmdSyncInventory  = "sync-inventory"
	CmdShutdown       = "shutdown"
)

// Sync-status values reported for a Seed's head relative to the local
// copy, per SeedView/SeedInfo.Status.
const (
	StatusSynced    = "synced"
	StatusOutOfSync = "out_of_sync"
	StatusUnknown   = "unknown"
)

// Request is one parsed command line.
type Request struct {
	Command string
	Args    []string
}

// ParseLine splits a control-socket line into a Request, honoring shell
// quoting so an Address argument containing spaces survives transport.
func ParseLine(line string) (Request, error) {
	fields, err := shellquote.Split(line)
	if err != nil {
		return Request{}, fmt.Errorf("control: parse line: %w", err)
	}
	if len(fields) == 0 {
		return Request{}, fmt.Errorf("control: empty command line")
	}
	return Request{Command: fields[0], Args: fields[1:]}, nil
}

// Line re-renders req as a shell-quoted command line, used by the
// client side to build outgoing requests.
func (r Request) Line() string {
	return shellquote.Join(append([]string{r.Command}, r.Args...)...)
}

// SessionView is one entry in a `sessions` response, built as an
// ordered map so every response has its fields in the same order
// regardless of the underlying session struct's field layout.
func SessionView(n nid.ID, addr netaddr.Addr, state, direction string, attempts int, persistent bool) *orderedjson.OrderedMap {
	m := orderedjson.NewOrderedMap()
	m.Set("nid", n.String())
	m.Set("address", addr.String())
	m.Set("state", state)
	m.Set("direction", direction)
	m.Set("attempts", attempts)
	m.Set("persistent", persistent)
	return m
}

// SeedView is one entry in a `seeds` response: connected reports
// session connectivity (used by the Sync Orchestrator's fetch loop to
// split its seed pool), status is one of StatusSynced/StatusOutOfSync/
// StatusUnknown, and remote is the peer's last-gossiped head, set
// whenever status isn't StatusUnknown.
func SeedView(n nid.ID, addrs []netaddr.Addr, connected bool, status, remote string) *orderedjson.OrderedMap {
	addrStrs := make([]string, len(addrs))
	for i, a := range addrs {
		addrStrs[i] = a.String()
	}
	m := orderedjson.NewOrderedMap()
	m.Set("nid", n.String())
	m.Set("addresses", addrStrs)
	m.Set("connected", connected)
	m.Set("status", status)
	if remote != "" {
		m.Set("remote", remote)
	}
	return m
}

// AnnouncedView is one line of an announce-refs event stream: PID
// announced to NID.
func AnnouncedView(p pid.ID, n nid.ID) *orderedjson.OrderedMap {
	m := orderedjson.NewOrderedMap()
	m.Set("event", "announced")
	m.Set("pid", p.String())
	m.Set("nid", n.String())
	return m
}

// announceDoneView is the terminator line of an announce-refs event
// stream, carrying the total count of peers announced to.
func announceDoneView(count int) *orderedjson.OrderedMap {
	m := orderedjson.NewOrderedMap()
	m.Set("status", "ok")
	m.Set("announced", count)
	return m
}

// FetchResultView renders a FetchResult response.
func FetchResultView(p pid.ID, n nid.ID, success bool, reason string) *orderedjson.OrderedMap {
	m := orderedjson.NewOrderedMap()
	m.Set("pid", p.String())
	m.Set("nid", n.String())
	m.Set("success", success)
	m.Set("reason", reason)
	return m
}

// ErrorView renders a uniform error response body.
func ErrorView(err error) *orderedjson.OrderedMap {
	m := orderedjson.NewOrderedMap()
	m.Set("error", err.Error())
	return m
}
