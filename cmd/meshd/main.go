// Command meshd is the node daemon: it loads configuration, starts the
// Protocol Engine's reactor loop, the peer-protocol TCP transport, the
// control socket, and a Prometheus metrics endpoint, then waits for a
// shutdown signal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/driftmesh/node/pkg/addrbook"
	"github.com/driftmesh/node/pkg/config"
	"github.com/driftmesh/node/pkg/control"
	"github.com/driftmesh/node/pkg/engine"
	"github.com/driftmesh/node/pkg/eventstream"
	"github.com/driftmesh/node/pkg/identity"
	"github.com/driftmesh/node/pkg/metrics"
	"github.com/driftmesh/node/pkg/netaddr"
	"github.com/driftmesh/node/pkg/session"
	"github.com/driftmesh/node/pkg/store"
	"github.com/driftmesh/node/pkg/trackstore"
	"github.com/driftmesh/node/pkg/transport"
)

func main() {
	app := cli.NewApp()
	app.Name = "meshd"
	app.Usage = "driftmesh node daemon"
	app.Commands = []cli.Command{
		{
			Name:  "node",
			Usage: "Start the node",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config, c", Value: "meshd.yaml", Usage: "path to the node's YAML configuration"},
				cli.StringFlag{Name: "key", Value: "", Usage: "not read: a fresh dev private key is generated on every start"},
			},
			Action: startNode,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func startNode(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	log, err := newLogger(cfg.NodeConfiguration.LogLevel)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer log.Sync() //nolint:errcheck

	if err := os.MkdirAll(cfg.NodeConfiguration.DataDir, 0o755); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	key, err := identity.Generate()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	log.Info("node identity", zap.String("nid", key.NID().String()))

	tracked, err := trackstore.Open(cfg.NodeConfiguration.DataDir + "/tracked.db")
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer tracked.Close()

	addrs, err := addrbook.Open(cfg.NodeConfiguration.DataDir + "/addrbook")
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer addrs.Close()

	objects := store.NewDevStore()
	existing, err := tracked.All()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	for p, head := range existing {
		objects.Put(p, head, true)
	}

	var connect []netaddr.Addr
	for _, hostport := range cfg.NetworkConfiguration.Connect {
		a, err := netaddr.New(hostport)
		if err != nil {
			log.Warn("skipping malformed connect address", zap.String("address", hostport), zap.Error(err))
			continue
		}
		connect = append(connect, a)
	}

	eng := engine.New(engine.Config{
		LocalNID:    key.NID(),
		Connect:     connect,
		MaxAttempts: cfg.NetworkConfiguration.MaxConnectAttempts,
		FetchWindow: cfg.NetworkConfiguration.FetchTimeout,
	}, identity.Verifier{}, objects)
	loop := engine.NewLoop(eng)
	defer loop.Stop()

	tcp := transport.New(key.NID(), loop, log)
	if err := tcp.Listen(cfg.NetworkConfiguration.ListenAddress); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer tcp.Close()
	go func() {
		if err := tcp.Serve(); err != nil {
			log.Warn("peer listener stopped", zap.Error(err))
		}
	}()

	loop.Do(func(e *engine.Engine) { e.Initialize() })
	tcp.Dispatch(loop.DrainOutbox())

	ctl := control.NewServer(loop, tcp, log, key)
	if err := ctl.Listen(cfg.NodeConfiguration.ControlSocketPath); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer ctl.Close()
	go func() {
		if err := ctl.Serve(); err != nil {
			log.Warn("control listener stopped", zap.Error(err))
		}
	}()

	var eventsSrv *http.Server
	hub := eventstream.New(log)
	if addr := cfg.NodeConfiguration.EventStreamAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/events", hub)
		eventsSrv = &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := eventsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("event stream listener stopped", zap.Error(err))
			}
		}()
	}
	lastState := make(map[string]string)

	reg := prometheus.NewRegistry()
	metrics.New(reg)
	metricsSrv := &http.Server{
		Addr:    cfg.NodeConfiguration.MetricsAddress,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics listener stopped", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	usr1Ch := make(chan os.Signal, 1)
	signal.Notify(usr1Ch, syscall.SIGUSR1)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	log.Info("node started",
		zap.String("listen", cfg.NetworkConfiguration.ListenAddress),
		zap.String("control", cfg.NodeConfiguration.ControlSocketPath))

Main:
	for {
		select {
		case <-ctx.Done():
			break Main
		case <-sigCh:
			log.Info("shutdown requested")
			cancel()
		case <-usr1Ch:
			log.Info("forcing inventory sync")
			loop.Do(func(e *engine.Engine) { e.BroadcastInventory() })
			tcp.Dispatch(loop.DrainOutbox())
			hub.Publish(eventstream.Event{Type: eventstream.TypeInventoryUpdated, Timestamp: time.Now()})
		case now := <-ticker.C:
			loop.Tick(now)
			tcp.Dispatch(loop.DrainOutbox())
			publishSessionChanges(loop, hub, lastState, now)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if eventsSrv != nil {
		_ = eventsSrv.Shutdown(shutdownCtx)
	}
	log.Info("node stopped")
	return nil
}

// publishSessionChanges compares each peer's current session state
// against what was last published and emits a TypeSessionChanged event
// for every NID whose state moved, so event-stream clients see
// transitions without the engine itself depending on eventstream.
func publishSessionChanges(loop *engine.Loop, hub *eventstream.Hub, lastState map[string]string, now time.Time) {
	var sessions []*session.Session
	loop.Do(func(e *engine.Engine) { sessions = e.Sessions().All() })
	seen := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		key := s.NID.String()
		seen[key] = struct{}{}
		state := s.State.String()
		if lastState[key] == state {
			continue
		}
		lastState[key] = state
		hub.Publish(eventstream.Event{
			Type:      eventstream.TypeSessionChanged,
			NID:       key,
			State:     state,
			Timestamp: now,
		})
	}
	for key := range lastState {
		if _, ok := seen[key]; !ok {
			delete(lastState, key)
		}
	}
}
