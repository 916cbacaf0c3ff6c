package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.TickInterval() != time.Second {
		t.Errorf("default tick interval = %v, want 1s", cfg.TickInterval())
	}
	if cfg.EndingSoonWarning() != 5*time.Minute {
		t.Errorf("default ending-soon warning = %v, want 5m", cfg.EndingSoonWarning())
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:   "default is valid",
			modify: func(c *Config) {},
		},
		{
			name:    "unknown storage type",
			modify:  func(c *Config) { c.Storage.Type = "flatfile" },
			wantErr: true,
		},
		{
			name:    "sqlite without path",
			modify:  func(c *Config) { c.Storage.Path = "" },
			wantErr: true,
		},
		{
			name:   "memory without path is valid",
			modify: func(c *Config) { c.Storage.Type = "memory"; c.Storage.Path = "" },
		},
		{
			name:    "tick slower than 1 Hz",
			modify:  func(c *Config) { c.Session.TickIntervalMs = 2000 },
			wantErr: true,
		},
		{
			name:    "zero tick interval",
			modify:  func(c *Config) { c.Session.TickIntervalMs = 0 },
			wantErr: true,
		},
		{
			name:    "negative retry limit",
			modify:  func(c *Config) { c.Session.MathRetryLimit = -1 },
			wantErr: true,
		},
		{
			name:    "missing socket path",
			modify:  func(c *Config) { c.IPC.SocketPath = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shieldd.toml")
	content := `
version = 1

[storage]
type = "memory"

[session]
tick_interval_ms = 250
ending_soon_warning_sec = 60
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("storage type = %q, want memory", cfg.Storage.Type)
	}
	if cfg.Session.TickIntervalMs != 250 {
		t.Errorf("tick interval = %d, want 250", cfg.Session.TickIntervalMs)
	}
	// Unset sections keep defaults.
	if cfg.Scheduler.PollIntervalSec != 30 {
		t.Errorf("scheduler poll interval = %d, want default 30", cfg.Scheduler.PollIntervalSec)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shieldd.yaml")
	content := `
version: 1
storage:
  type: memory
session:
  tick_interval_ms: 500
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.TickIntervalMs != 500 {
		t.Errorf("tick interval = %d, want 500", cfg.Session.TickIntervalMs)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHIELDD_STORAGE_TYPE", "memory")
	t.Setenv("SHIELDD_TICK_INTERVAL_MS", "100")

	cfg, err := NewLoader("").Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("env override not applied: storage type = %q", cfg.Storage.Type)
	}
	if cfg.Session.TickIntervalMs != 100 {
		t.Errorf("env override not applied: tick = %d", cfg.Session.TickIntervalMs)
	}
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader(filepath.Join(t.TempDir(), "absent.toml")).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Type != "sqlite" {
		t.Errorf("expected defaults for missing file, got storage type %q", cfg.Storage.Type)
	}
}

func TestHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shieldd.toml")
	if err := os.WriteFile(path, []byte("[storage]\ntype = \"memory\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	defer loader.Close()

	if _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	if err := loader.Watch(); err != nil {
		t.Fatal(err)
	}

	updated := "[storage]\ntype = \"memory\"\n\n[session]\ntick_interval_ms = 200\n"
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Session.TickIntervalMs != 200 {
			t.Errorf("reloaded tick interval = %d, want 200", cfg.Session.TickIntervalMs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
