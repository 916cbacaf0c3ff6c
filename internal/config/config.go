// Package config handles configuration loading, validation, and
// management for shieldd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Storage configuration for persistence.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Session configuration for the protection engine.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Scheduler configuration for automatic activation.
	Scheduler SchedulerConfig `toml:"scheduler" json:"scheduler" yaml:"scheduler"`

	// IPC configuration for the control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Notifications configuration.
	Notifications NotificationConfig `toml:"notifications" json:"notifications" yaml:"notifications"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Type is the storage backend: "sqlite" or "memory".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the path to the database file (for sqlite).
	Path string `toml:"path" json:"path" yaml:"path"`
}

// SessionConfig holds protection engine tuning.
type SessionConfig struct {
	// TickIntervalMs is the expiry poll cadence in milliseconds. The
	// engine requires at least one tick per second.
	TickIntervalMs int `toml:"tick_interval_ms" json:"tick_interval_ms" yaml:"tick_interval_ms"`

	// EndingSoonWarningSec is how many seconds before the scheduled end
	// the "ending soon" notification fires. 0 disables it.
	EndingSoonWarningSec int `toml:"ending_soon_warning_sec" json:"ending_soon_warning_sec" yaml:"ending_soon_warning_sec"`

	// MathRetryLimit overrides the sobriety-challenge retry limit for
	// math challenges. 0 keeps the default.
	MathRetryLimit int `toml:"math_retry_limit" json:"math_retry_limit" yaml:"math_retry_limit"`

	// TypingRetryLimit overrides the retry limit for reversed-typing
	// challenges. 0 keeps the default.
	TypingRetryLimit int `toml:"typing_retry_limit" json:"typing_retry_limit" yaml:"typing_retry_limit"`
}

// SchedulerConfig holds automatic activation tuning.
type SchedulerConfig struct {
	// PollIntervalSec is how often recurring schedules are evaluated.
	PollIntervalSec int `toml:"poll_interval_sec" json:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// IPCConfig holds control socket configuration.
type IPCConfig struct {
	// SocketPath is the unix socket the daemon listens on.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// MaxConnections bounds concurrent control clients.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`
}

// NotificationConfig holds alert delivery configuration.
type NotificationConfig struct {
	// Enabled turns user notifications on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Desktop requests desktop notifications where available; when
	// false, notifications go to the log.
	Desktop bool `toml:"desktop" json:"desktop" yaml:"desktop"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int64  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Storage: StorageConfig{
			Type: "sqlite",
			Path: filepath.Join(defaultDataDir(), "shieldd.db"),
		},
		Session: SessionConfig{
			TickIntervalMs:       1000,
			EndingSoonWarningSec: 300,
		},
		Scheduler: SchedulerConfig{
			PollIntervalSec: 30,
		},
		IPC: IPCConfig{
			SocketPath:     defaultSocketPath(),
			MaxConnections: 8,
		},
		Notifications: NotificationConfig{
			Enabled: true,
			Desktop: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// defaultDataDir returns the platform data directory for shieldd.
func defaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		homeDir, _ := os.UserHomeDir()
		dataHome = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataHome, "shieldd")
}

// defaultSocketPath returns the control socket path.
func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}
	return filepath.Join(runtimeDir, "shieldd.sock")
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path required for sqlite backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage type: %q", c.Storage.Type)
	}

	if c.Session.TickIntervalMs <= 0 || c.Session.TickIntervalMs > 1000 {
		return fmt.Errorf("session.tick_interval_ms must be in (0, 1000], got %d", c.Session.TickIntervalMs)
	}
	if c.Session.EndingSoonWarningSec < 0 {
		return fmt.Errorf("session.ending_soon_warning_sec must not be negative")
	}
	if c.Session.MathRetryLimit < 0 || c.Session.TypingRetryLimit < 0 {
		return fmt.Errorf("challenge retry limits must not be negative")
	}
	if c.Scheduler.PollIntervalSec <= 0 {
		return fmt.Errorf("scheduler.poll_interval_sec must be positive")
	}
	if c.IPC.SocketPath == "" {
		return fmt.Errorf("ipc.socket_path required")
	}
	if c.IPC.MaxConnections <= 0 {
		return fmt.Errorf("ipc.max_connections must be positive")
	}
	return nil
}

// TickInterval returns the session tick cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Session.TickIntervalMs) * time.Millisecond
}

// EndingSoonWarning returns the ending-soon notification lead time.
func (c *Config) EndingSoonWarning() time.Duration {
	return time.Duration(c.Session.EndingSoonWarningSec) * time.Second
}

// SchedulerPollInterval returns the schedule evaluation cadence.
func (c *Config) SchedulerPollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalSec) * time.Second
}

// ApplyEnvOverrides applies SHIELDD_* environment variables on top of
// file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SHIELDD_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("SHIELDD_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SHIELDD_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("SHIELDD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SHIELDD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("SHIELDD_TICK_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.TickIntervalMs = n
		}
	}
}
