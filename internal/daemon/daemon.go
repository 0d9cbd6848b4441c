// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"icc.tech/webcapture-agent/internal/browser"
	"icc.tech/webcapture-agent/internal/command"
	"icc.tech/webcapture-agent/internal/config"
	"icc.tech/webcapture-agent/internal/logging"
	"icc.tech/webcapture-agent/internal/metrics"
	"icc.tech/webcapture-agent/internal/worker"
)

// Daemon manages the webcapture-agent daemon process lifecycle.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string

	pool          *worker.Pool
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	kafkaConsumer *command.SubmissionConsumer // nil if submission channel disabled
	metricsServer *metrics.Server             // nil if metrics disabled

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	shutdownOnce sync.Once      // daemon.shutdown may arrive repeatedly before the server stops
	sigChan      chan os.Signal // promoted from Run() local for cleanup in Stop()
}

// New creates a new Daemon instance.
func New(configPath string) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := logging.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting webcapture-agent daemon",
		"version", "0.1.0",
		"config", d.configPath,
		"socket", d.config.Control.Socket,
		"browsers", len(d.config.Browsers),
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Ensure the artifact directory exists
	if err := os.MkdirAll(d.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir %s: %w", d.config.OutputDir, err)
	}

	// 4. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 5. Build the capture pipeline: gateway, capturer, worker pool
	endpoints := make([]browser.Endpoint, 0, len(d.config.Browsers))
	for _, b := range d.config.Browsers {
		endpoints = append(endpoints, browser.Endpoint{
			URL:    b.Endpoint,
			SlowMo: time.Duration(b.SlowMoMs) * time.Millisecond,
		})
	}
	capturer := browser.NewCapturer(browser.CapturerConfig{
		OutputDir:       d.config.OutputDir,
		PageLoadTimeout: d.config.PageLoadTimeout(),
		CaptureTimeout:  d.config.CaptureTimeout(),
		ViewportWidth:   d.config.Viewport.Width,
		ViewportHeight:  d.config.Viewport.Height,
		UserAgent:       d.config.UserAgent,
		FullPage:        d.config.Screenshot.FullPage,
		Quality:         d.config.Screenshot.Quality,
	})
	d.pool = worker.NewPool(worker.PoolConfig{
		Endpoints:           endpoints,
		MaxRetries:          d.config.MaxRetries,
		QueuePollInterval:   d.config.QueuePollInterval(),
		RejectDuplicateURLs: d.config.RejectDuplicateURLs,
	}, browser.NewCDPGateway(), capturer)

	// 6. Connect workers and start dispatching
	if err := d.pool.Connect(d.ctx); err != nil {
		return fmt.Errorf("failed to connect workers: %w", err)
	}
	d.pool.Start()

	// 7. Command handler with shutdown hook so daemon.shutdown can trigger
	// graceful stop
	d.cmdHandler = command.NewCommandHandler(d.pool)
	d.cmdHandler.SetShutdownFunc(d.triggerShutdown)

	// 8. Start UDS server for CLI control
	d.udsServer = command.NewUDSServer(d.config.Control.Socket, d.cmdHandler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			slog.Error("uds server failed", "error", err)
		}
	}()

	// 9. Start Kafka submission consumer (if enabled)
	if d.config.SubmissionChannel.Enabled {
		if err := d.startKafkaConsumer(); err != nil {
			// Non-fatal: daemon can still run with UDS-only submission
			slog.Error("failed to start kafka consumer", "error", err)
		}
	}

	slog.Info("daemon started successfully")
	return nil
}

// triggerShutdown closes the shutdown channel exactly once. The command
// handler invokes it for every daemon.shutdown it receives, and the UDS
// server keeps accepting commands until Stop(), so repeat invocations must
// not panic.
func (d *Daemon) triggerShutdown() {
	d.shutdownOnce.Do(func() {
		slog.Info("shutdown triggered via daemon.shutdown command")
		close(d.shutdownChan)
	})
}

// Stop performs graceful shutdown of all daemon components.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Stop Kafka submission consumer first (no new submissions)
	if d.kafkaConsumer != nil {
		if err := d.kafkaConsumer.Stop(); err != nil {
			slog.Error("error stopping kafka consumer", "error", err)
		}
		d.kafkaConsumer = nil // prevent double-stop on repeated calls
	}

	// 2. Stop UDS server (no new CLI commands)
	if d.udsServer != nil {
		d.udsServer.Stop()
	}

	// 3. Drain the pool: in-flight captures finish, sessions close
	if d.pool != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		d.pool.Shutdown(shutdownCtx)
		cancel()
	}

	// 4. Stop metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
		cancel()
	}

	// 5. Cancel context to signal all remaining goroutines
	d.cancel()

	// 6. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 7. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered by an
// OS signal (SIGTERM, SIGINT) or the daemon.shutdown command.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT)

	slog.Info("daemon running, waiting for signals or commands")

	select {
	case sig := <-d.sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		d.Stop()
		return nil

	case <-d.shutdownChan:
		slog.Info("shutdown triggered by command")
		d.Stop()
		return nil

	case <-d.ctx.Done():
		slog.Info("context cancelled", "error", d.ctx.Err())
		d.Stop()
		return d.ctx.Err()
	}
}

// startKafkaConsumer starts the Kafka submission consumer in background.
func (d *Daemon) startKafkaConsumer() error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to resolve hostname: %w", err)
	}

	consumer, err := command.NewSubmissionConsumer(
		d.config.SubmissionChannel,
		hostname,
		d.cmdHandler,
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	d.kafkaConsumer = consumer

	go func() {
		if err := consumer.Start(d.ctx); err != nil && err != context.Canceled {
			slog.Error("kafka consumer stopped with error", "error", err)
		}
	}()

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
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	slog.Info("metrics server started",
		"addr", d.config.Metrics.Listen,
		"path", d.config.Metrics.Path,
	)
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.config.Control.PIDFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.config.Control.PIDFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.config.Control.PIDFile, err)
	}

	slog.Debug("PID file written", "path", d.config.Control.PIDFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.config.Control.PIDFile == "" {
		return nil
	}

	if err := os.Remove(d.config.Control.PIDFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.config.Control.PIDFile, err)
	}

	slog.Debug("PID file removed", "path", d.config.Control.PIDFile)
	return nil
}
