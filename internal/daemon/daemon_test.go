package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"icc.tech/webcapture-agent/internal/capture"
	"icc.tech/webcapture-agent/internal/command"
	"icc.tech/webcapture-agent/internal/config"
	"icc.tech/webcapture-agent/internal/worker"
)

// idlePool satisfies command.Dispatcher without a live browser pool.
type idlePool struct{}

func (idlePool) Enqueue(capture.Task) error { return nil }

func (idlePool) Running() bool { return true }

func (idlePool) Status() worker.PoolStatus { return worker.PoolStatus{HealthyWorkers: 1} }

func TestNewRejectsMissingConfig(t *testing.T) {
	if _, err := New("/nonexistent/config.yml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestNewLoadsConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
webcapture-agent:
  output_dir: ` + dir + `
  browsers:
    - endpoint: "http://127.0.0.1:9222"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	d, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.config.OutputDir != dir {
		t.Errorf("output dir: %q", d.config.OutputDir)
	}
	if d.shutdownChan == nil {
		t.Error("shutdown channel not initialised")
	}
}

func TestPIDFileLifecycle(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "agent.pid")
	d := &Daemon{config: &config.GlobalConfig{
		Control: config.ControlConfig{PIDFile: pidFile},
	}}

	if err := d.writePIDFile(); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read PID file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Errorf("PID file content %q, want %d", data, os.Getpid())
	}

	if err := d.removePIDFile(); err != nil {
		t.Fatalf("removePIDFile: %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("PID file still present after remove")
	}

	// Removing again is a no-op.
	if err := d.removePIDFile(); err != nil {
		t.Errorf("second removePIDFile: %v", err)
	}
}

func TestTriggerShutdownIdempotent(t *testing.T) {
	d := &Daemon{shutdownChan: make(chan struct{})}

	d.triggerShutdown()
	d.triggerShutdown() // second trigger must not close again

	select {
	case <-d.shutdownChan:
	default:
		t.Fatal("shutdown channel not closed")
	}
}

func TestRepeatedShutdownCommands(t *testing.T) {
	// The UDS server keeps serving until Stop(), so two quick stop
	// invocations can both deliver daemon.shutdown before it goes away.
	d := &Daemon{shutdownChan: make(chan struct{})}
	h := command.NewCommandHandler(idlePool{})
	h.SetShutdownFunc(d.triggerShutdown)

	for i := 0; i < 2; i++ {
		resp := h.Handle(context.Background(), command.Command{Method: "daemon.shutdown", ID: "stop"})
		if resp.Error != nil {
			t.Fatalf("shutdown command %d: %v", i+1, resp.Error)
		}
	}

	select {
	case <-d.shutdownChan:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never triggered")
	}
	// Give the second handler goroutine time to run; a double close would
	// panic and abort the test binary here.
	time.Sleep(50 * time.Millisecond)
}

func TestPIDFileDisabledWhenEmpty(t *testing.T) {
	d := &Daemon{config: &config.GlobalConfig{}}
	if err := d.writePIDFile(); err != nil {
		t.Errorf("writePIDFile with empty path: %v", err)
	}
	if err := d.removePIDFile(); err != nil {
		t.Errorf("removePIDFile with empty path: %v", err)
	}
}
