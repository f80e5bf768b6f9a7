// Package syncer implements the Sync Orchestrator: the client-side
// coordinator that drives a node's control socket through a `sync`
// invocation's fetch and announce phases. It never talks to the wire
// protocol directly — everything goes through a Client, so it can run
// from meshctl against a remote node exactly as it runs in tests
// against a fake.
package syncer

import (
	"fmt"
	"time"

	"github.com/driftmesh/node/pkg/control"
	"github.com/driftmesh/node/pkg/nid"
	"github.com/driftmesh/node/pkg/pid"
)

// Client is the subset of control.Client the orchestrator needs. The
// real control.Client satisfies it; tests supply a fake.
type Client interface {
	Sessions() ([]control.SessionInfo, error)
	Seeds(pidHex string) ([]control.SeedInfo, error)
	Fetch(pidHex, nidStr string) (control.FetchOutcome, error)
	AnnounceRefs(pidHex string) ([]string, error)
	Connect(nidStr, addr string, persistent bool) error
}

// Options configures one sync invocation.
type Options struct {
	PID      pid.ID
	Seeds    []string // explicit --seed NIDs, tried before the node's own seed listing
	Replicas int      // target replica count; 0 or less means one replica for the fetch loop and the whole seed pool for the announce loop
	Timeout  time.Duration
	Fetch    bool
	Announce bool
}

// FetchReport is one fetch attempt's outcome, in the order attempted.
type FetchReport struct {
	NID      string
	Success  bool
	Reason   string
	Duration time.Duration
}

// AnnounceReport is one announce attempt's outcome.
type AnnounceReport struct {
	NID      string
	Success  bool
	Reason   string
	Duration time.Duration
}

// Result is the full outcome of a sync invocation.
type Result struct {
	Fetches      []FetchReport
	Announces    []AnnounceReport
	ReplicaCount int  // peers that successfully served the project this run
	NothingToDo  bool // no announce sent: the replica target and every explicit seed were already synced, or the node had no peer to announce to
}

const defaultTimeout = 30 * time.Second

// Run executes opts against client: the fetch loop first, then the
// announce loop, matching the ordering a `sync --fetch --announce`
// invocation specifies.
func Run(client Client, opts Options) (Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var res Result

	if opts.Fetch {
		if err := runFetchLoop(client, opts, timeout, &res); err != nil {
			return res, fmt.Errorf("syncer: fetch loop: %w", err)
		}
	}
	if opts.Announce {
		if err := runAnnounceLoop(client, opts, &res); err != nil {
			return res, fmt.Errorf("syncer: announce loop: %w", err)
		}
	}
	return res, nil
}

// runFetchLoop implements the four-step fetch loop: explicit seeds
// first (waited on, up to the call's deadline, if not yet negotiated),
// then connected seeds not already attempted, then disconnected seeds
// dialed address-by-address until one connects or all are exhausted.
// The replica target is clamped to the seed pool actually available,
// so a --replicas value larger than the known pool doesn't spin the
// loop past what it could ever satisfy.
func runFetchLoop(client Client, opts Options, timeout time.Duration, res *Result) error {
	deadline := time.Now().Add(timeout)
	attempted := make(map[string]bool)

	sessions, err := client.Sessions()
	if err != nil {
		return err
	}
	negotiated := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		negotiated[s.NID] = s.State == "Negotiated"
	}

	seeds, err := client.Seeds(opts.PID.String())
	if err != nil {
		return err
	}
	target := clampTarget(opts.Replicas, len(seeds))

	// Step 1: explicit seeds. One not yet negotiated is polled up to the
	// deadline instead of being skipped outright, since it may still be
	// mid-handshake.
	for _, n := range opts.Seeds {
		if res.ReplicaCount >= target || pastDeadline(deadline) {
			return nil
		}
		attempted[n] = true
		if !negotiated[n] && !waitForNegotiated(client, n, deadline) {
			res.Fetches = append(res.Fetches, FetchReport{NID: n, Success: false, Reason: "no session, skipped"})
			continue
		}
		fetchOne(client, opts.PID, n, res)
	}
	if res.ReplicaCount >= target {
		return nil
	}

	var disconnected []control.SeedInfo
	for _, s := range seeds {
		if attempted[s.NID] {
			continue
		}
		if negotiated[s.NID] {
			attempted[s.NID] = true
			if res.ReplicaCount >= target || pastDeadline(deadline) {
				return nil
			}
			fetchOne(client, opts.PID, s.NID, res)
		} else {
			disconnected = append(disconnected, s)
		}
	}
	if res.ReplicaCount >= target {
		return nil
	}

	// Step 4: disconnected seeds, dialed address-by-address.
	for _, s := range disconnected {
		if res.ReplicaCount >= target || pastDeadline(deadline) {
			return nil
		}
		connected := false
		for _, addr := range s.Addresses {
			if err := client.Connect(s.NID, addr, false); err == nil {
				connected = true
				break
			}
		}
		if !connected {
			res.Fetches = append(res.Fetches, FetchReport{NID: s.NID, Success: false, Reason: "no address reachable"})
			continue
		}
		fetchOne(client, opts.PID, s.NID, res)
	}
	return nil
}

// clampTarget turns a --replicas value into the real target for this
// run: at least 1, and never more than the known seed pool can ever
// satisfy.
func clampTarget(replicas, poolSize int) int {
	target := replicas
	if target <= 0 {
		target = 1
	}
	if poolSize > 0 && target > poolSize {
		target = poolSize
	}
	return target
}

const negotiationPollInterval = 100 * time.Millisecond

// waitForNegotiated polls Sessions until n reaches Negotiated or
// deadline passes, giving an explicit seed that's mid-handshake a real
// chance to finish before the fetch loop gives up on it.
func waitForNegotiated(client Client, n string, deadline time.Time) bool {
	for {
		sessions, err := client.Sessions()
		if err == nil {
			for _, s := range sessions {
				if s.NID == n && s.State == "Negotiated" {
					return true
				}
			}
		}
		if pastDeadline(deadline) {
			return false
		}
		interval := negotiationPollInterval
		if remaining := time.Until(deadline); remaining < interval {
			interval = remaining
		}
		if interval <= 0 {
			return false
		}
		time.Sleep(interval)
	}
}

func fetchOne(client Client, p pid.ID, n string, res *Result) {
	start := time.Now()
	outcome, err := client.Fetch(p.String(), n)
	elapsed := time.Since(start)
	if err != nil {
		res.Fetches = append(res.Fetches, FetchReport{NID: n, Success: false, Reason: err.Error(), Duration: elapsed})
		return
	}
	res.Fetches = append(res.Fetches, FetchReport{NID: n, Success: outcome.Success, Reason: outcome.Reason, Duration: elapsed})
	if outcome.Success {
		res.ReplicaCount++
	}
}

// runAnnounceLoop skips announcing entirely when the replica target is
// already met and every explicit seed is already synced, per "Announce
// invoked when synced_count >= replicas AND all explicit seeds synced
// returns nothing without emitting any wire messages". Otherwise it
// issues exactly one announce-refs call; the node itself picks the
// connected-but-not-synced targets and fans the announcement out to
// them.
func runAnnounceLoop(client Client, opts Options, res *Result) error {
	seeds, err := client.Seeds(opts.PID.String())
	if err != nil {
		return err
	}

	maxPossible := len(seeds)
	target := opts.Replicas
	if target <= 0 || target > maxPossible {
		target = maxPossible
	}

	syncedCount := 0
	synced := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		if s.Status == control.StatusSynced {
			syncedCount++
			synced[s.NID] = true
		}
	}

	explicitSeedsSynced := true
	for _, n := range opts.Seeds {
		if !synced[n] {
			explicitSeedsSynced = false
			break
		}
	}

	if explicitSeedsSynced && syncedCount >= target {
		res.NothingToDo = true
		return nil
	}

	start := time.Now()
	targets, err := client.AnnounceRefs(opts.PID.String())
	elapsed := time.Since(start)
	if err != nil {
		res.Announces = append(res.Announces, AnnounceReport{Success: false, Reason: err.Error(), Duration: elapsed})
		return nil
	}
	for _, n := range targets {
		res.Announces = append(res.Announces, AnnounceReport{NID: n, Success: true, Duration: elapsed})
	}
	if len(targets) == 0 {
		res.NothingToDo = true
	}
	return nil
}

func pastDeadline(deadline time.Time) bool {
	return time.Now().After(deadline)
}

// ValidateSeed checks that s is a well-formed NID before it's queued as
// an explicit fetch target, so a typo fails fast instead of surfacing
// as an opaque "no session, skipped" fetch failure later.
func ValidateSeed(s string) error {
	_, err := nid.Parse(s)
	return err
}
