package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
webcapture-agent:
  output_dir: /tmp/captures
  timeouts:
    page_load_ms: 20000
    capture_ms: 5000
  max_retries: 3
  viewport:
    width: 1920
    height: 1080
  screenshot:
    full_page: true
    quality: 90
  user_agent: "test-agent/1.0"
  reject_duplicate_urls: true
  browsers:
    - endpoint: "http://10.0.0.1:9222"
      slow_mo_ms: 100
    - endpoint: "http://10.0.0.2:9222"
  control:
    socket: /tmp/test.sock
    pid_file: /tmp/test.pid
  log:
    level: debug
    format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/captures", cfg.OutputDir)
	assert.Equal(t, 20000, cfg.Timeouts.PageLoadMs)
	assert.Equal(t, 5000, cfg.Timeouts.CaptureMs)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1920, cfg.Viewport.Width)
	assert.Equal(t, 1080, cfg.Viewport.Height)
	assert.True(t, cfg.Screenshot.FullPage)
	assert.Equal(t, 90, cfg.Screenshot.Quality)
	assert.Equal(t, "test-agent/1.0", cfg.UserAgent)
	assert.True(t, cfg.RejectDuplicateURLs)
	require.Len(t, cfg.Browsers, 2)
	assert.Equal(t, "http://10.0.0.1:9222", cfg.Browsers[0].Endpoint)
	assert.Equal(t, 100, cfg.Browsers[0].SlowMoMs)
	assert.Equal(t, "/tmp/test.sock", cfg.Control.Socket)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
webcapture-agent:
  output_dir: /tmp/captures
  browsers:
    - endpoint: "http://127.0.0.1:9222"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30000, cfg.Timeouts.PageLoadMs)
	assert.Equal(t, 10000, cfg.Timeouts.CaptureMs)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 50, cfg.QueuePollIntervalMs)
	assert.Equal(t, 1280, cfg.Viewport.Width)
	assert.Equal(t, 800, cfg.Viewport.Height)
	assert.False(t, cfg.Screenshot.FullPage)
	assert.Equal(t, 85, cfg.Screenshot.Quality)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Listen)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.False(t, cfg.SubmissionChannel.Enabled)
	assert.Equal(t, "/var/run/webcapture-agent.sock", cfg.Control.Socket)
	assert.Equal(t, "/var/run/webcapture-agent.pid", cfg.Control.PIDFile)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yml")
	assert.Error(t, err)
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing output_dir", `
webcapture-agent:
  browsers:
    - endpoint: "http://127.0.0.1:9222"
`},
		{"no browsers", `
webcapture-agent:
  output_dir: /tmp/captures
`},
		{"browser without endpoint", `
webcapture-agent:
  output_dir: /tmp/captures
  browsers:
    - slow_mo_ms: 50
`},
		{"negative slow_mo", `
webcapture-agent:
  output_dir: /tmp/captures
  browsers:
    - endpoint: "http://127.0.0.1:9222"
      slow_mo_ms: -1
`},
		{"zero page load timeout", `
webcapture-agent:
  output_dir: /tmp/captures
  timeouts:
    page_load_ms: 0
  browsers:
    - endpoint: "http://127.0.0.1:9222"
`},
		{"negative max_retries", `
webcapture-agent:
  output_dir: /tmp/captures
  max_retries: -1
  browsers:
    - endpoint: "http://127.0.0.1:9222"
`},
		{"quality out of range", `
webcapture-agent:
  output_dir: /tmp/captures
  screenshot:
    quality: 101
  browsers:
    - endpoint: "http://127.0.0.1:9222"
`},
		{"bad log level", `
webcapture-agent:
  output_dir: /tmp/captures
  browsers:
    - endpoint: "http://127.0.0.1:9222"
  log:
    level: verbose
`},
		{"bad log format", `
webcapture-agent:
  output_dir: /tmp/captures
  browsers:
    - endpoint: "http://127.0.0.1:9222"
  log:
    format: xml
`},
		{"submission channel without brokers", `
webcapture-agent:
  output_dir: /tmp/captures
  browsers:
    - endpoint: "http://127.0.0.1:9222"
  submission_channel:
    enabled: true
    topic: capture-commands
`},
		{"submission channel without topic", `
webcapture-agent:
  output_dir: /tmp/captures
  browsers:
    - endpoint: "http://127.0.0.1:9222"
  submission_channel:
    enabled: true
    brokers: ["localhost:9092"]
`},
		{"submission channel bad ttl", `
webcapture-agent:
  output_dir: /tmp/captures
  browsers:
    - endpoint: "http://127.0.0.1:9222"
  submission_channel:
    enabled: true
    brokers: ["localhost:9092"]
    topic: capture-commands
    command_ttl: "not-a-duration"
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSubmissionChannelGroupIDDefault(t *testing.T) {
	path := writeConfig(t, `
webcapture-agent:
  output_dir: /tmp/captures
  browsers:
    - endpoint: "http://127.0.0.1:9222"
  submission_channel:
    enabled: true
    brokers: ["localhost:9092"]
    topic: capture-commands
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "webcapture-agent", cfg.SubmissionChannel.GroupID)
	assert.Equal(t, 5*time.Minute, cfg.SubmissionTTL())
}

func TestDurationAccessors(t *testing.T) {
	cfg := GlobalConfig{
		Timeouts:            TimeoutsConfig{PageLoadMs: 20000, CaptureMs: 5000},
		QueuePollIntervalMs: 50,
	}
	assert.Equal(t, 20*time.Second, cfg.PageLoadTimeout())
	assert.Equal(t, 5*time.Second, cfg.CaptureTimeout())
	assert.Equal(t, 50*time.Millisecond, cfg.QueuePollInterval())
}
