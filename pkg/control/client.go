package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client dials a node's control socket and issues line-delimited
// commands, decoding each reply as a JSON value.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// Dial connects to the control socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", path, err)
	}
	return &Client{conn: conn, scanner: bufio.NewScanner(conn)}, nil
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends a line and decodes the single-line JSON reply into out.
func (c *Client) call(req Request, out interface{}) error {
	if _, err := fmt.Fprintln(c.conn, req.Line()); err != nil {
		return fmt.Errorf("control: write request: %w", err)
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("control: read response: %w", err)
		}
		return fmt.Errorf("control: connection closed without a response")
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(c.scanner.Bytes(), out); err != nil {
		return fmt.Errorf("control: decode response: %w", err)
	}
	return nil
}

// SessionInfo mirrors one entry of a `sessions` response.
type SessionInfo struct {
	NID        string `json:"nid"`
	Address    string `json:"address"`
	State      string `json:"state"`
	Direction  string `json:"direction"`
	Attempts   int    `json:"attempts"`
	Persistent bool   `json:"persistent"`
}

// SeedInfo mirrors one entry of a `seeds` response. Connected reports
// session connectivity; Status is one of StatusSynced/StatusOutOfSync/
// StatusUnknown and Remote is the peer's last-gossiped head, set
// whenever Status isn't StatusUnknown.
type SeedInfo struct {
	NID       string   `json:"nid"`
	Addresses []string `json:"addresses"`
	Connected bool     `json:"connected"`
	Status    string   `json:"status"`
	Remote    string   `json:"remote"`
}

// FetchOutcome mirrors a `fetch` response.
type FetchOutcome struct {
	PID     string `json:"pid"`
	NID     string `json:"nid"`
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

type statusOnly struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (c *Client) simpleCall(cmd string, args ...string) error {
	var resp statusOnly
	if err := c.call(Request{Command: cmd, Args: args}, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("control: %s: %s", cmd, resp.Error)
	}
	return nil
}

// Track asks the node to start seeding p at the given head.
func (c *Client) Track(pidHex, head string) error {
	return c.simpleCall(CmdTrack, pidHex, head)
}

// Untrack asks the node to stop seeding p.
func (c *Client) Untrack(pidHex string) error {
	return c.simpleCall(CmdUntrack, pidHex)
}

// announceStreamLine covers every shape a line of the announce-refs
// event stream can take: an "announced" event, the terminating
// summary, or an error.
type announceStreamLine struct {
	Event     string `json:"event"`
	NID       string `json:"nid"`
	Status    string `json:"status"`
	Announced int    `json:"announced"`
	Error     string `json:"error"`
}

// AnnounceRefs asks the node to gossip its locally tracked head for p
// to every connected peer that needs it, returning the NIDs actually
// announced to.
func (c *Client) AnnounceRefs(pidHex string) ([]string, error) {
	if _, err := fmt.Fprintln(c.conn, (Request{Command: CmdAnnounceRefs, Args: []string{pidHex}}).Line()); err != nil {
		return nil, fmt.Errorf("control: write request: %w", err)
	}

	var targets []string
	for {
		if !c.scanner.Scan() {
			if err := c.scanner.Err(); err != nil {
				return nil, fmt.Errorf("control: read response: %w", err)
			}
			return nil, fmt.Errorf("control: connection closed without a response")
		}
		var line announceStreamLine
		if err := json.Unmarshal(c.scanner.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("control: decode response: %w", err)
		}
		if line.Error != "" {
			return nil, fmt.Errorf("control: %s: %s", CmdAnnounceRefs, line.Error)
		}
		if line.Event == "announced" {
			targets = append(targets, line.NID)
			continue
		}
		return targets, nil
	}
}

// Connect asks the node to dial a peer, optionally as a persistent peer.
func (c *Client) Connect(nidStr, addr string, persistent bool) error {
	if persistent {
		return c.simpleCall(CmdConnect, nidStr, addr, "true")
	}
	return c.simpleCall(CmdConnect, nidStr, addr)
}

// SyncInventory asks the node to push its current inventory to every
// negotiated peer immediately.
func (c *Client) SyncInventory() error {
	return c.simpleCall(CmdSyncInventory)
}

// Shutdown asks the node to terminate gracefully.
func (c *Client) Shutdown() error {
	return c.simpleCall(CmdShutdown)
}

// Fetch requests a project from a specific peer and waits for the
// outcome.
func (c *Client) Fetch(pidHex, nidStr string) (FetchOutcome, error) {
	var out struct {
		FetchOutcome
		Error string `json:"error"`
	}
	if err := c.call(Request{Command: CmdFetch, Args: []string{pidHex, nidStr}}, &out); err != nil {
		return FetchOutcome{}, err
	}
	if out.Error != "" {
		return FetchOutcome{}, fmt.Errorf("control: %s: %s", CmdFetch, out.Error)
	}
	return out.FetchOutcome, nil
}

// Sessions lists every known peer session.
func (c *Client) Sessions() ([]SessionInfo, error) {
	var out []SessionInfo
	if err := c.call(Request{Command: CmdSessions}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Seeds lists every peer known to claim pid.
func (c *Client) Seeds(pidHex string) ([]SeedInfo, error) {
	var out []SeedInfo
	if err := c.call(Request{Command: CmdSeeds, Args: []string{pidHex}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
