// Package daemon implements the switch daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/l2vpn/internal/command"
	"firestige.xyz/l2vpn/internal/config"
	logpkg "firestige.xyz/l2vpn/internal/log"
	"firestige.xyz/l2vpn/internal/metrics"
	"firestige.xyz/l2vpn/internal/pool"
	"firestige.xyz/l2vpn/internal/report"
	"firestige.xyz/l2vpn/internal/vswitch"
)

// Daemon manages the switch process lifecycle.
type Daemon struct {
	// Configuration
	mu         sync.Mutex
	config     *config.Config
	configPath string

	// Core components
	sw            *vswitch.Switch
	reporter      report.Reporter
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	switchDone   chan error
	udsDone      chan struct{}
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	sigChan      chan os.Signal
	pidWritten   bool

	overrides func(*config.Config) error
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithOverrides sets the command-line overrides cfg was built with. Reload applies them to
// the re-read file so that only real file changes are reported.
func WithOverrides(fn func(*config.Config) error) Option {
	return func(d *Daemon) {
		d.overrides = fn
	}
}

// New creates a daemon for cfg. configPath is re-read on reload and may be empty.
func New(cfg *config.Config, configPath string, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		switchDone:   make(chan error, 1),
		udsDone:      make(chan struct{}),
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Start initializes and starts all daemon components. On failure everything already started
// is torn down again.
func (d *Daemon) Start() (err error) {
	defer func() {
		if err != nil {
			d.Stop()
		}
	}()

	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting l2vpn switch daemon",
		"version", command.Version,
		"config", d.configPath,
		"listen", d.config.Switch.Listen,
		"socket", d.config.Control.Socket,
	)

	// 2. Write PID file
	if err := writePIDFile(d.config.Control.PIDFile); err != nil {
		return err
	}
	d.pidWritten = true

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Session event reporter
	reporter, err := report.New(d.config.Events)
	if err != nil {
		return fmt.Errorf("failed to create event reporter: %w", err)
	}
	d.reporter = reporter

	// 5. Address pool and switch listener
	p, err := pool.New(d.config.Switch.Base, d.config.Switch.Vendor)
	if err != nil {
		return fmt.Errorf("failed to create address pool: %w", err)
	}

	ln, err := net.Listen("tcp", d.config.Switch.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.config.Switch.Listen, err)
	}

	d.sw = vswitch.New(ln, p,
		vswitch.WithWriteTimeout(d.config.Switch.WriteTimeout),
		vswitch.WithFloodMulticast(d.config.Switch.FloodMulticast),
		vswitch.WithReporter(d.reporter),
	)
	go func() {
		d.switchDone <- d.sw.Run(d.ctx)
	}()

	// 6. Command handler, with shutdown wired to the main loop
	d.cmdHandler = command.NewCommandHandler(d.sw, d)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})

	// 7. UDS server for CLI control
	d.udsServer = command.NewUDSServer(d.config.Control.Socket, d.cmdHandler)
	udsErr := make(chan error, 1)
	go func() {
		defer close(d.udsDone)
		if err := d.udsServer.Start(d.ctx); err != nil {
			udsErr <- err
		}
	}()

	select {
	case <-d.udsServer.Ready():
	case err := <-udsErr:
		return fmt.Errorf("failed to start control socket: %w", err)
	}

	slog.Info("daemon started successfully", "addr", d.sw.Addr().String())
	return nil
}

// Addr returns the switch listen address once started.
func (d *Daemon) Addr() net.Addr {
	if d.sw == nil {
		return nil
	}
	return d.sw.Addr()
}

// Stop performs graceful shutdown of all daemon components. Safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Cancel context: the switch closes every session, the UDS server stops accepting
	d.cancel()

	// 2. Wait for the switch to release all sessions
	if d.sw != nil {
		select {
		case err := <-d.switchDone:
			if err != nil {
				slog.Error("switch stopped with error", "error", err)
			}
		case <-time.After(10 * time.Second):
			slog.Warn("switch did not stop in time")
		}
	}

	// 3. Stop UDS server (no new CLI commands)
	if d.udsServer != nil {
		slog.Info("stopping uds server")
		d.udsServer.Stop()
		select {
		case <-d.udsDone:
		case <-time.After(5 * time.Second):
		}
	}

	// 4. Flush pending session events
	if d.reporter != nil {
		if err := d.reporter.Close(); err != nil {
			slog.Error("error closing event reporter", "error", err)
		}
	}

	// 5. Stop metrics server
	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 6. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 7. Remove PID file
	if d.pidWritten {
		if err := removePIDFile(d.config.Control.PIDFile); err != nil {
			slog.Error("error removing PID file", "error", err)
		}
	}

	slog.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via UDS
//  3. the switch failing (listener error), which is returned
//
// SIGHUP triggers config reload.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case err := <-d.switchDone:
			// Hand the result back so Stop does not wait for it again.
			d.switchDone <- err
			d.Stop()
			if err != nil {
				return fmt.Errorf("switch failed: %w", err)
			}
			return nil
		}
	}
}

// Reload re-reads the config file.
// Hot-reloadable: log level/format/outputs.
// Cold (requires restart): switch listen/base/vendor, events, metrics, control socket.
// Implements ConfigReloader for CommandHandler.
func (d *Daemon) Reload() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}
	if d.overrides != nil {
		if err := d.overrides(newConfig); err != nil {
			return fmt.Errorf("failed to apply overrides: %w", err)
		}
	}
	if err := config.ValidateLog(newConfig.Log); err != nil {
		return err
	}

	hotReloaded := []string{}
	old := d.config.Log
	d.config.Log = newConfig.Log
	if err := d.initLogging(); err != nil {
		d.config.Log = old
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}
	if newConfig.Log.Level != old.Level || newConfig.Log.Format != old.Format {
		hotReloaded = append(hotReloaded, "log")
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", restartRequired(d.config, newConfig),
	)

	return nil
}

// restartRequired lists the sections of loaded that differ from running but only take
// effect on restart.
func restartRequired(running, loaded *config.Config) []string {
	sections := []string{}
	if loaded.Switch.Listen != running.Switch.Listen {
		sections = append(sections, "switch.listen")
	}
	if loaded.Switch.Base != running.Switch.Base || loaded.Switch.Vendor != running.Switch.Vendor {
		sections = append(sections, "switch.base/vendor")
	}
	if loaded.Switch.FloodMulticast != running.Switch.FloodMulticast {
		sections = append(sections, "switch.flood_multicast")
	}
	if loaded.Events.Type != running.Events.Type {
		sections = append(sections, "events.type")
	}
	if loaded.Metrics.Listen != running.Metrics.Listen || loaded.Metrics.Enabled != running.Metrics.Enabled {
		sections = append(sections, "metrics")
	}
	if loaded.Control.Socket != running.Control.Socket {
		sections = append(sections, "control.socket")
	}
	return sections
}

// LogConfig returns the active log configuration.
func (d *Daemon) LogConfig() config.LogConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config.Log
}

// TriggerShutdown asks Run to stop. Repeated calls are no-ops.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdownChan)
	})
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}

	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)

	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return err
	}

	return nil
}
