// Package daemon wires the sync engine to its event sources and runs them.
//
// The daemon owns the background workers: the engine's periodic scheduler,
// the reachability monitor (connectivity regained -> immediate sync), the
// power monitor (device pressure -> schedule tuning), the spool watcher
// (local mutations from disk) and the dashboard. All of them funnel into the
// engine's single serialized entry point, so none of them can start
// overlapping cycles.
package daemon

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/driftlab/edgesync/internal/cloud"
	"github.com/driftlab/edgesync/internal/config"
	"github.com/driftlab/edgesync/internal/dashboard"
	"github.com/driftlab/edgesync/internal/engine"
	"github.com/driftlab/edgesync/internal/netmon"
	"github.com/driftlab/edgesync/internal/power"
	"github.com/driftlab/edgesync/internal/resolve"
	"github.com/driftlab/edgesync/internal/spool"
	"github.com/driftlab/edgesync/internal/store"
)

// Daemon runs the sync engine with all its event sources.
type Daemon struct {
	cfg    *config.Config
	logger *log.Logger

	store   store.Store
	engine  *engine.Engine
	netmon  *netmon.Monitor
	powmon  *power.Monitor
	spooler *spool.Watcher
	board   *dashboard.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a daemon from configuration. Use Start() to begin syncing.
func New(cfg *config.Config, logger *log.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	var st store.Store
	if cfg.StorePath != "" {
		sqlStore, err := store.OpenSQLite(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		st = sqlStore
	} else {
		logger.Println("No store_path configured; using in-memory store")
		st = store.NewMemoryStore()
	}

	client, err := cloud.NewHTTPClient(cloud.HTTPConfig{
		BaseURL: cfg.CloudURL,
		Timeout: cfg.CloudTimeout,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create cloud client: %w", err)
	}

	registry := prometheus.NewRegistry()

	eng, err := engine.New(&engine.Config{
		Store:        st,
		Client:       client,
		Policy:       resolve.ParsePolicy(cfg.Policy),
		BatchSize:    cfg.BatchSize,
		BaseInterval: cfg.BaseInterval,
		CycleTimeout: cfg.CycleTimeout,
		Logger:       log.New(logger.Writer(), "[engine] ", log.LstdFlags),
		Registerer:   registry,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	probeAddr := cfg.ProbeAddr
	if probeAddr == "" {
		probeAddr, err = probeAddrFromURL(cfg.CloudURL)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	nm, err := netmon.New(&netmon.Config{
		ProbeAddr: probeAddr,
		Interval:  cfg.ProbeInterval,
		Logger:    log.New(logger.Writer(), "[netmon] ", log.LstdFlags),
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create reachability monitor: %w", err)
	}

	pm, err := power.NewMonitor(&power.MonitorConfig{
		Sampler:  &power.SysfsSampler{},
		Interval: cfg.PowerInterval,
		Logger:   log.New(logger.Writer(), "[power] ", log.LstdFlags),
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create power monitor: %w", err)
	}

	d := &Daemon{
		cfg:    cfg,
		logger: logger,
		store:  st,
		engine: eng,
		netmon: nm,
		powmon: pm,
	}

	if cfg.SpoolDir != "" {
		d.spooler, err = spool.New(&spool.Config{
			Dir:      cfg.SpoolDir,
			Enqueuer: eng,
			Logger:   log.New(logger.Writer(), "[spool] ", log.LstdFlags),
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to create spool watcher: %w", err)
		}
	}

	if cfg.DashboardPort > 0 {
		d.board, err = dashboard.NewServer(&dashboard.Config{
			Port:     cfg.DashboardPort,
			Engine:   eng,
			Pending:  st,
			Gatherer: registry,
			Logger:   log.New(logger.Writer(), "[dashboard] ", log.LstdFlags),
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to create dashboard: %w", err)
		}
		eng.Subscribe(d.board.BroadcastCycle)
	}

	return d, nil
}

// Engine exposes the daemon's engine, mainly for tests and embedding.
func (d *Daemon) Engine() *engine.Engine {
	return d.engine
}

// Start launches all background workers and blocks until ctx is cancelled.
// If any worker fails to start, the ones already started are stopped and
// the store is closed before the error is returned.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Println("Starting daemon")
	d.ctx, d.cancel = context.WithCancel(ctx)

	var started []func()
	abort := func(err error) error {
		for i := len(started) - 1; i >= 0; i-- {
			started[i]()
		}
		d.cancel()
		if cerr := d.store.Close(); cerr != nil {
			d.logger.Printf("Error closing store: %v", cerr)
		}
		return err
	}

	if d.board != nil {
		if err := d.board.Start(); err != nil {
			return abort(fmt.Errorf("failed to start dashboard: %w", err))
		}
		started = append(started, func() { _ = d.board.Stop() })
	}
	if d.spooler != nil {
		if err := d.spooler.Start(); err != nil {
			return abort(fmt.Errorf("failed to start spool watcher: %w", err))
		}
		started = append(started, func() { _ = d.spooler.Stop() })
	}
	if err := d.netmon.Start(); err != nil {
		return abort(fmt.Errorf("failed to start reachability monitor: %w", err))
	}
	started = append(started, d.netmon.Stop)
	if err := d.powmon.Start(); err != nil {
		return abort(fmt.Errorf("failed to start power monitor: %w", err))
	}

	d.wg.Add(3)
	go d.runScheduler()
	go d.watchReachability()
	go d.watchPower()

	// Kick one cycle immediately so a freshly started daemon converges
	// without waiting out the first interval.
	d.engine.SyncNow()

	<-d.ctx.Done()
	return d.Stop()
}

// Stop shuts down all workers. An in-flight sync cycle runs to completion.
func (d *Daemon) Stop() error {
	d.logger.Println("Stopping daemon")
	if d.cancel != nil {
		d.cancel()
	}

	d.netmon.Stop()
	d.powmon.Stop()
	if d.spooler != nil {
		_ = d.spooler.Stop()
	}

	d.wg.Wait()
	d.engine.Wait()

	if d.board != nil {
		if err := d.board.Stop(); err != nil {
			d.logger.Printf("Error stopping dashboard: %v", err)
		}
	}
	if err := d.store.Close(); err != nil {
		d.logger.Printf("Error closing store: %v", err)
	}

	d.logger.Println("Daemon stopped")
	return nil
}

// runScheduler drives the engine's periodic cycles.
func (d *Daemon) runScheduler() {
	defer d.wg.Done()
	d.engine.Run(d.ctx)
}

// watchReachability triggers a sync whenever connectivity comes back.
// Triggering a busy engine is a no-op, so flapping is harmless.
func (d *Daemon) watchReachability() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case tr, ok := <-d.netmon.Transitions():
			if !ok {
				return
			}
			if d.board != nil {
				d.board.BroadcastReachability(tr.Satisfied)
			}
			if tr.Satisfied {
				d.logger.Println("Connectivity regained; requesting sync")
				d.engine.SyncNow()
			}
		}
	}
}

// watchPower applies schedule tunings from the power monitor.
func (d *Daemon) watchPower() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case tuning, ok := <-d.powmon.Tunings():
			if !ok {
				return
			}
			d.engine.ApplyTuning(tuning)
			if d.board != nil {
				d.board.BroadcastTuning(tuning)
			}
		}
	}
}

// probeAddrFromURL derives a dialable host:port from the authority URL.
func probeAddrFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("cannot derive probe address from cloud URL %q", raw)
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host += ":443"
		default:
			host += ":80"
		}
	}
	return host, nil
}
