// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"firestige.xyz/meshnode/internal/command"
	"firestige.xyz/meshnode/internal/config"
	"firestige.xyz/meshnode/internal/dataplane"
	"firestige.xyz/meshnode/internal/engine"
	"firestige.xyz/meshnode/internal/identity"
	logpkg "firestige.xyz/meshnode/internal/log"
	"firestige.xyz/meshnode/internal/metrics"
)

// Daemon manages the meshnode daemon process lifecycle.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	registry      *identity.Registry
	engine        *engine.Engine
	dataplane     *dataplane.Dataplane // nil if dataplane disabled
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server // nil if metrics disabled

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New creates a new Daemon instance. socketPath and pidFile override the
// configured values when non-empty.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := logpkg.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting meshnode daemon",
		"hostname", d.config.Node.Hostname,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Open the dataplane and build the identity tables on top of it
	var observer identity.Observer
	if d.config.Dataplane.Enabled {
		dp, err := dataplane.New(dataplane.Config{
			BPFFSPath:   d.config.Dataplane.BPFFSPath,
			ProgramPath: d.config.Dataplane.ProgramPath,
			NetnsDir:    d.config.Dataplane.NetnsDir,
		})
		if err != nil {
			return fmt.Errorf("failed to open dataplane: %w", err)
		}
		d.dataplane = dp
		observer = dp.Observer()
	}
	d.registry = identity.NewRegistry(observer)

	// 5. Build the classification engine
	d.engine = engine.New(engine.Options{
		EnableIPv4: d.config.Classifier.EnableIPv4,
		EnableIPv6: d.config.Classifier.EnableIPv6,
		DNSCapture: d.config.Classifier.DNSCapture,
	}, d.registry)

	// 6. Create command handler
	var cmdDP command.Dataplane
	if d.dataplane != nil {
		cmdDP = d.dataplane
	}
	d.cmdHandler = command.NewCommandHandler(d.registry, d.engine, cmdDP, d.config.Node.Hostname)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		close(d.shutdownChan)
	})

	// 7. Start UDS server for CLI/CNI control
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			slog.Error("control server failed", "error", err)
		}
	}()

	slog.Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown of all daemon components.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Stop UDS server (no new commands)
	if d.udsServer != nil {
		slog.Info("stopping control server")
		d.udsServer.Stop()
	}

	// 2. Close the dataplane. Pinned maps and attached filters stay so
	// redirection keeps working across a daemon restart.
	if d.dataplane != nil {
		if err := d.dataplane.Close(); err != nil {
			slog.Error("error closing dataplane", "error", err)
		}
		d.dataplane = nil
	}

	// 3. Stop metrics server
	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 4. Cancel context to signal all goroutines
	d.cancel()

	// 5. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 6. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via UDS
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT)

	slog.Info("daemon running, waiting for signals or commands")

	select {
	case sig := <-d.sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-d.shutdownChan:
		slog.Info("shutdown triggered by command")
	case <-d.ctx.Done():
		slog.Info("context cancelled", "error", d.ctx.Err())
		d.Stop()
		return d.ctx.Err()
	}

	d.Stop()
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
