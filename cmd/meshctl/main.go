// Command meshctl is the CLI client: it talks to a running node's
// control socket to drive sync, inspect sessions and seeds, and
// request connections.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli"
	"golang.org/x/term"
	"golang.org/x/text/width"

	"github.com/driftmesh/node/pkg/control"
	"github.com/driftmesh/node/pkg/pid"
	"github.com/driftmesh/node/pkg/syncer"
)

func main() {
	app := cli.NewApp()
	app.Name = "meshctl"
	app.Usage = "driftmesh control-socket client"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "socket, s", Value: "./data/control.sock", Usage: "path to the node's control socket"},
	}
	app.Commands = []cli.Command{
		syncCommand(),
		sessionsCommand(),
		seedsCommand(),
		connectCommand(),
		trackCommand(),
		untrackCommand(),
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dial(c *cli.Context) (*control.Client, error) {
	return control.Dial(c.GlobalString("socket"))
}

func syncCommand() cli.Command {
	return cli.Command{
		Name:  "sync",
		Usage: "fetch and/or announce a project",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "pid", Usage: "project identifier (hex)"},
			cli.BoolFlag{Name: "fetch"},
			cli.BoolFlag{Name: "announce"},
			cli.BoolFlag{Name: "inventory", Usage: "push the local inventory instead of fetch/announce"},
			cli.StringSliceFlag{Name: "seed", Usage: "explicit seed NID, repeatable"},
			cli.IntFlag{Name: "replicas", Value: 1},
			cli.IntFlag{Name: "timeout", Value: 30, Usage: "seconds"},
			cli.StringFlag{Name: "sort-by", Value: "nid"},
			cli.BoolFlag{Name: "verbose"},
		},
		Action: runSync,
	}
}

func runSync(c *cli.Context) error {
	inventory := c.Bool("inventory")
	fetch := c.Bool("fetch")
	announce := c.Bool("announce")
	if inventory && (fetch || announce) {
		return cli.NewExitError("--inventory cannot be combined with --fetch/--announce", 2)
	}
	if !inventory && !fetch && !announce {
		fetch, announce = true, true
	}

	cl, err := dial(c)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("node not running: %v", err), 3)
	}
	defer cl.Close()

	if inventory {
		if err := cl.SyncInventory(); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		fmt.Fprintln(c.App.Writer, "inventory pushed")
		return nil
	}

	p, err := pid.Parse(c.String("pid"))
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("invalid --pid: %v", err), 2)
	}
	for _, s := range c.StringSlice("seed") {
		if err := syncer.ValidateSeed(s); err != nil {
			return cli.NewExitError(fmt.Sprintf("invalid --seed %q: %v", s, err), 2)
		}
	}

	res, err := syncer.Run(cl, syncer.Options{
		PID:      p,
		Seeds:    c.StringSlice("seed"),
		Replicas: c.Int("replicas"),
		Timeout:  time.Duration(c.Int("timeout")) * time.Second,
		Fetch:    fetch,
		Announce: announce,
	})
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	renderSyncResult(c, res)

	if fetch && res.ReplicaCount == 0 && len(res.Fetches) > 0 {
		allTimedOut := true
		for _, f := range res.Fetches {
			if f.Reason != "timeout" {
				allTimedOut = false
				break
			}
		}
		if allTimedOut {
			return cli.NewExitError("all seeds timed out", 4)
		}
		return cli.NewExitError("repository not seeded by any reachable peer", 5)
	}
	return nil
}

func renderSyncResult(c *cli.Context, res syncer.Result) {
	w := c.App.Writer
	sortBy := c.String("sort-by")
	if res.NothingToDo {
		fmt.Fprintln(w, "nothing to announce: already in sync")
	}
	if len(res.Fetches) > 0 {
		fetches := append([]syncer.FetchReport(nil), res.Fetches...)
		sort.Slice(fetches, func(i, j int) bool {
			switch sortBy {
			case "status":
				return boolStatus(fetches[i].Success) < boolStatus(fetches[j].Success)
			default:
				return fetches[i].NID < fetches[j].NID
			}
		})
		fmt.Fprintln(w, "fetch results:")
		rows := make([][]string, 0, len(fetches))
		for _, f := range fetches {
			rows = append(rows, []string{f.NID, boolStatus(f.Success), f.Reason, durationCell(c, f.Duration)})
		}
		printTable(w, []string{"NID", "OK", "REASON", "TIME"}, rows)
	}
	if len(res.Announces) > 0 {
		announces := append([]syncer.AnnounceReport(nil), res.Announces...)
		sort.Slice(announces, func(i, j int) bool {
			switch sortBy {
			case "status":
				return boolStatus(announces[i].Success) < boolStatus(announces[j].Success)
			default:
				return announces[i].NID < announces[j].NID
			}
		})
		fmt.Fprintln(w, "announce results:")
		rows := make([][]string, 0, len(announces))
		for _, a := range announces {
			rows = append(rows, []string{a.NID, boolStatus(a.Success), a.Reason, durationCell(c, a.Duration)})
		}
		printTable(w, []string{"NID", "OK", "REASON", "TIME"}, rows)
	}
}

func durationCell(c *cli.Context, d time.Duration) string {
	if !c.Bool("verbose") {
		return ""
	}
	return d.Round(time.Millisecond).String()
}

func boolStatus(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}

func sessionsCommand() cli.Command {
	return cli.Command{
		Name:  "sessions",
		Usage: "list peer sessions",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "sort-by", Value: "nid"},
		},
		Action: func(c *cli.Context) error {
			cl, err := dial(c)
			if err != nil {
				return cli.NewExitError(fmt.Sprintf("node not running: %v", err), 3)
			}
			defer cl.Close()
			sessions, err := cl.Sessions()
			if err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
			sortBy := c.String("sort-by")
			sort.Slice(sessions, func(i, j int) bool {
				switch sortBy {
				case "status":
					return sessions[i].State < sessions[j].State
				default:
					return sessions[i].NID < sessions[j].NID
				}
			})
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				rows = append(rows, []string{s.NID, s.Address, s.State, s.Direction, fmt.Sprint(s.Attempts)})
			}
			printTable(c.App.Writer, []string{"NID", "ADDRESS", "STATE", "DIRECTION", "ATTEMPTS"}, rows)
			return nil
		},
	}
}

func seedsCommand() cli.Command {
	return cli.Command{
		Name:      "seeds",
		Usage:     "list seeds known for a project",
		ArgsUsage: "<pid>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.NewExitError("seeds requires a <pid> argument", 2)
			}
			p, err := pid.Parse(c.Args().First())
			if err != nil {
				return cli.NewExitError(err.Error(), 2)
			}
			cl, err := dial(c)
			if err != nil {
				return cli.NewExitError(fmt.Sprintf("node not running: %v", err), 3)
			}
			defer cl.Close()
			seeds, err := cl.Seeds(p.String())
			if err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
			rows := make([][]string, 0, len(seeds))
			for _, s := range seeds {
				rows = append(rows, []string{s.NID, strings.Join(s.Addresses, ","), boolStatus(s.Connected), s.Status, s.Remote})
			}
			printTable(c.App.Writer, []string{"NID", "ADDRESSES", "CONNECTED", "STATUS", "REMOTE"}, rows)
			return nil
		},
	}
}

func connectCommand() cli.Command {
	return cli.Command{
		Name:      "connect",
		Usage:     "dial a peer",
		ArgsUsage: "<nid> <address>",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "persistent"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return cli.NewExitError("connect requires <nid> <address>", 2)
			}
			cl, err := dial(c)
			if err != nil {
				return cli.NewExitError(fmt.Sprintf("node not running: %v", err), 3)
			}
			defer cl.Close()
			if err := cl.Connect(c.Args().Get(0), c.Args().Get(1), c.Bool("persistent")); err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
			return nil
		},
	}
}

func trackCommand() cli.Command {
	return cli.Command{
		Name:      "track",
		Usage:     "start seeding a project",
		ArgsUsage: "<pid> <head>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return cli.NewExitError("track requires <pid> <head>", 2)
			}
			cl, err := dial(c)
			if err != nil {
				return cli.NewExitError(fmt.Sprintf("node not running: %v", err), 3)
			}
			defer cl.Close()
			if err := cl.Track(c.Args().Get(0), c.Args().Get(1)); err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
			return nil
		},
	}
}

func untrackCommand() cli.Command {
	return cli.Command{
		Name:      "untrack",
		Usage:     "stop seeding a project",
		ArgsUsage: "<pid>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.NewExitError("untrack requires <pid>", 2)
			}
			cl, err := dial(c)
			if err != nil {
				return cli.NewExitError(fmt.Sprintf("node not running: %v", err), 3)
			}
			defer cl.Close()
			if err := cl.Untrack(c.Args().Get(0)); err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
			return nil
		},
	}
}

// displayWidth measures s the way a terminal would render it, counting
// East Asian wide/fullwidth runes as two columns instead of one so
// table columns padded with printTable still line up.
func displayWidth(s string) int {
	total := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			total += 2
		default:
			total++
		}
	}
	return total
}

func printTable(w interface{ Write([]byte) (int, error) }, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = displayWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				continue
			}
			if dw := displayWidth(cell); dw > widths[i] {
				widths[i] = dw
			}
		}
	}
	plain := !term.IsTerminal(int(os.Stdout.Fd()))
	writeRow(w, header, widths, plain)
	for _, row := range rows {
		writeRow(w, row, widths, plain)
	}
}

func writeRow(w interface{ Write([]byte) (int, error) }, cells []string, widths []int, plain bool) {
	var b strings.Builder
	for i, cell := range cells {
		pad := widths[i] - displayWidth(cell)
		if pad < 0 {
			pad = 0
		}
		b.WriteString(cell)
		b.WriteString(strings.Repeat(" ", pad+2))
	}
	if !plain {
		// A real terminal gets the same plain text today; color coding
		// is reserved for a future pass once status taxonomy settles.
	}
	b.WriteString("\n")
	_, _ = w.Write([]byte(b.String()))
}
