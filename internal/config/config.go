// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GlobalConfig represents the top-level static configuration.
// Maps to the `webcapture-agent:` root key in YAML.
type GlobalConfig struct {
	OutputDir           string                  `mapstructure:"output_dir"`
	Timeouts            TimeoutsConfig          `mapstructure:"timeouts"`
	MaxRetries          int                     `mapstructure:"max_retries"`
	QueuePollIntervalMs int                     `mapstructure:"queue_poll_interval_ms"`
	Viewport            ViewportConfig          `mapstructure:"viewport"`
	Screenshot          ScreenshotConfig        `mapstructure:"screenshot"`
	UserAgent           string                  `mapstructure:"user_agent"`
	RejectDuplicateURLs bool                    `mapstructure:"reject_duplicate_urls"`
	Browsers            []BrowserConfig         `mapstructure:"browsers"`
	Control             ControlConfig           `mapstructure:"control"`
	SubmissionChannel   SubmissionChannelConfig `mapstructure:"submission_channel"`
	Metrics             MetricsConfig           `mapstructure:"metrics"`
	Log                 LogConfig               `mapstructure:"log"`
}

// TimeoutsConfig bounds the two phases of a capture attempt.
type TimeoutsConfig struct {
	PageLoadMs int `mapstructure:"page_load_ms"`
	CaptureMs  int `mapstructure:"capture_ms"`
}

// ViewportConfig is the emulated browser window size.
type ViewportConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// ScreenshotConfig controls image artifact rendering.
type ScreenshotConfig struct {
	FullPage bool `mapstructure:"full_page"`
	Quality  int  `mapstructure:"quality"` // JPEG only, 0-100
}

// BrowserConfig identifies one remote browser endpoint. One worker is
// created per entry.
type BrowserConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	SlowMoMs int    `mapstructure:"slow_mo_ms"`
}

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// SubmissionChannelConfig configures the optional remote submission channel.
type SubmissionChannelConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	GroupID    string   `mapstructure:"group_id"`
	CommandTTL string   `mapstructure:"command_ttl"` // Default "5m"
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string           `mapstructure:"level"`  // debug / info / warn / error
	Format string           `mapstructure:"format"` // json / text
	File   FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// configRoot is the top-level wrapper matching the YAML structure
// `webcapture-agent: ...`.
type configRoot struct {
	WebcaptureAgent GlobalConfig `mapstructure:"webcapture-agent"`
}

// Load loads configuration from file.
// The YAML file uses `webcapture-agent:` as root key; env vars use the
// WEBCAPTURE_AGENT_ prefix (e.g. WEBCAPTURE_AGENT_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// No explicit env prefix; the `webcapture-agent.` key prefix maps to
	// WEBCAPTURE_AGENT_ through the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.WebcaptureAgent

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "webcapture-agent." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("webcapture-agent.timeouts.page_load_ms", 30000)
	v.SetDefault("webcapture-agent.timeouts.capture_ms", 10000)
	v.SetDefault("webcapture-agent.max_retries", 2)
	v.SetDefault("webcapture-agent.queue_poll_interval_ms", 50)
	v.SetDefault("webcapture-agent.viewport.width", 1280)
	v.SetDefault("webcapture-agent.viewport.height", 800)
	v.SetDefault("webcapture-agent.screenshot.full_page", false)
	v.SetDefault("webcapture-agent.screenshot.quality", 85)
	v.SetDefault("webcapture-agent.reject_duplicate_urls", false)

	// Control defaults
	v.SetDefault("webcapture-agent.control.socket", "/var/run/webcapture-agent.sock")
	v.SetDefault("webcapture-agent.control.pid_file", "/var/run/webcapture-agent.pid")

	// Submission channel defaults
	v.SetDefault("webcapture-agent.submission_channel.enabled", false)
	v.SetDefault("webcapture-agent.submission_channel.command_ttl", "5m")

	// Metrics defaults
	v.SetDefault("webcapture-agent.metrics.enabled", true)
	v.SetDefault("webcapture-agent.metrics.listen", ":9090")
	v.SetDefault("webcapture-agent.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("webcapture-agent.log.level", "info")
	v.SetDefault("webcapture-agent.log.format", "text")
	v.SetDefault("webcapture-agent.log.file.enabled", false)
	v.SetDefault("webcapture-agent.log.file.path", "/var/log/webcapture-agent/webcapture-agent.log")
	v.SetDefault("webcapture-agent.log.file.rotation.max_size_mb", 100)
	v.SetDefault("webcapture-agent.log.file.rotation.max_age_days", 30)
	v.SetDefault("webcapture-agent.log.file.rotation.max_backups", 5)
	v.SetDefault("webcapture-agent.log.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults that cannot be expressed as static viper defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	if cfg.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}

	if len(cfg.Browsers) == 0 {
		return fmt.Errorf("at least one browser endpoint is required")
	}
	for i, b := range cfg.Browsers {
		if b.Endpoint == "" {
			return fmt.Errorf("browsers[%d].endpoint is required", i)
		}
		if b.SlowMoMs < 0 {
			return fmt.Errorf("browsers[%d].slow_mo_ms must not be negative", i)
		}
	}

	if cfg.Timeouts.PageLoadMs <= 0 {
		return fmt.Errorf("timeouts.page_load_ms must be positive")
	}
	if cfg.Timeouts.CaptureMs <= 0 {
		return fmt.Errorf("timeouts.capture_ms must be positive")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if cfg.QueuePollIntervalMs <= 0 {
		return fmt.Errorf("queue_poll_interval_ms must be positive")
	}
	if cfg.Viewport.Width <= 0 || cfg.Viewport.Height <= 0 {
		return fmt.Errorf("viewport dimensions must be positive")
	}
	if cfg.Screenshot.Quality < 0 || cfg.Screenshot.Quality > 100 {
		return fmt.Errorf("screenshot.quality must be between 0 and 100")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	if cfg.SubmissionChannel.Enabled {
		if len(cfg.SubmissionChannel.Brokers) == 0 {
			return fmt.Errorf("submission_channel.brokers is required when submission_channel.enabled=true")
		}
		if cfg.SubmissionChannel.Topic == "" {
			return fmt.Errorf("submission_channel.topic is required when submission_channel.enabled=true")
		}
		if cfg.SubmissionChannel.GroupID == "" {
			cfg.SubmissionChannel.GroupID = "webcapture-agent"
		}
		if _, err := time.ParseDuration(cfg.SubmissionChannel.CommandTTL); err != nil {
			return fmt.Errorf("invalid submission_channel.command_ttl: %w", err)
		}
	}

	return nil
}

// PageLoadTimeout returns timeouts.page_load_ms as a duration.
func (cfg *GlobalConfig) PageLoadTimeout() time.Duration {
	return time.Duration(cfg.Timeouts.PageLoadMs) * time.Millisecond
}

// CaptureTimeout returns timeouts.capture_ms as a duration.
func (cfg *GlobalConfig) CaptureTimeout() time.Duration {
	return time.Duration(cfg.Timeouts.CaptureMs) * time.Millisecond
}

// QueuePollInterval returns queue_poll_interval_ms as a duration.
func (cfg *GlobalConfig) QueuePollInterval() time.Duration {
	return time.Duration(cfg.QueuePollIntervalMs) * time.Millisecond
}

// SubmissionTTL returns the parsed submission_channel.command_ttl. Call
// after validation; an unparsable value falls back to five minutes.
func (cfg *GlobalConfig) SubmissionTTL() time.Duration {
	d, err := time.ParseDuration(cfg.SubmissionChannel.CommandTTL)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}
