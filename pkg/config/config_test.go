package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevoDB/bpt/pkg/common/log"
	"github.com/KevoDB/bpt/pkg/storage"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig("/data/names.bpt")

	if cfg.Version != CurrentConfigVersion {
		t.Errorf("expected version %d, got %d", CurrentConfigVersion, cfg.Version)
	}

	if cfg.IndexPath != "/data/names.bpt" {
		t.Errorf("expected index path /data/names.bpt, got %s", cfg.IndexPath)
	}

	if cfg.Mode() != storage.ModeAuto {
		t.Errorf("expected storage mode %s, got %s", storage.ModeAuto, cfg.Mode())
	}

	if cfg.Level() != log.LevelInfo {
		t.Errorf("expected log level INFO, got %s", cfg.Level())
	}

	if cfg.Telemetry.Enabled {
		t.Error("expected telemetry disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*Config)
		expected string
	}{
		{
			name:     "invalid version",
			mutate:   func(c *Config) { c.Version = 0 },
			expected: "invalid configuration: invalid version 0",
		},
		{
			name:     "unknown storage mode",
			mutate:   func(c *Config) { c.StorageMode = "tape" },
			expected: `invalid configuration: unknown storage mode: "tape"`,
		},
		{
			name:     "negative value size",
			mutate:   func(c *Config) { c.ValSize = -1 },
			expected: "invalid configuration: value size must not be negative",
		},
		{
			name:     "empty listen address",
			mutate:   func(c *Config) { c.ListenAddr = "" },
			expected: "invalid configuration: listen address not specified",
		},
		{
			name: "tls without key",
			mutate: func(c *Config) {
				c.TLSEnabled = true
				c.TLSCertFile = "server.crt"
			},
			expected: "invalid configuration: TLS requires both a certificate and a key file",
		},
		{
			name:     "unknown log level",
			mutate:   func(c *Config) { c.LogLevel = "chatty" },
			expected: `invalid configuration: unknown log level "chatty"`,
		},
		{
			name:     "zero concurrency",
			mutate:   func(c *Config) { c.Concurrency = 0 },
			expected: "invalid configuration: concurrency must be positive",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig("index.bpt")
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}

			if err.Error() != tc.expected {
				t.Errorf("expected error %q, got %q", tc.expected, err.Error())
			}
		})
	}
}

func TestConfigValidateTelemetry(t *testing.T) {
	cfg := NewDefaultConfig("index.bpt")
	cfg.Telemetry.SampleRate = 2

	// Disabled telemetry is not validated
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.Telemetry.Enabled = true
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfigSaveLoad(t *testing.T) {
	for _, name := range []string{"bpt.json", "bpt.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "conf", name)

			cfg := NewDefaultConfig("/data/names.bpt")
			cfg.StorageMode = string(storage.ModeMmap)
			cfg.ValSize = 8
			cfg.Concurrency = 4
			cfg.LogLevel = "debug"
			cfg.Telemetry.Enabled = true
			cfg.Telemetry.BatchTimeout = 2 * time.Second

			if err := cfg.Save(path); err != nil {
				t.Fatalf("failed to save config: %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("failed to load config: %v", err)
			}

			if loaded.IndexPath != cfg.IndexPath {
				t.Errorf("expected index path %s, got %s", cfg.IndexPath, loaded.IndexPath)
			}
			if loaded.Mode() != storage.ModeMmap {
				t.Errorf("expected mmap mode, got %s", loaded.Mode())
			}
			if loaded.ValSize != 8 || loaded.Concurrency != 4 {
				t.Errorf("unexpected val size %d / concurrency %d", loaded.ValSize, loaded.Concurrency)
			}
			if loaded.Level() != log.LevelDebug {
				t.Errorf("expected debug level, got %s", loaded.Level())
			}
			if !loaded.Telemetry.Enabled || loaded.Telemetry.BatchTimeout != 2*time.Second {
				t.Errorf("telemetry not preserved: %+v", loaded.Telemetry)
			}

			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Errorf("expected temp file to be renamed away")
			}
		})
	}
}

func TestLoadYAMLPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bpt.yml")
	data := []byte("index_path: /srv/genes.bpt\nstorage_mode: file\nlisten_addr: 0.0.0.0:9000\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.IndexPath != "/srv/genes.bpt" || cfg.Mode() != storage.ModeFile || cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("unexpected config: %+v", cfg)
	}

	// Defaults survive for fields the file leaves out
	if cfg.Concurrency != 8 || cfg.Version != CurrentConfigVersion {
		t.Errorf("expected defaults to be kept, got concurrency %d version %d", cfg.Concurrency, cfg.Version)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.json")); err != ErrConfigNotFound {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	invalid := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(invalid, []byte(`{"concurrency": -2}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(invalid); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfigLoadFromEnv(t *testing.T) {
	t.Setenv("BPT_INDEX", "/env/index.bpt")
	t.Setenv("BPT_STORAGE_MODE", "memory")
	t.Setenv("BPT_VAL_SIZE", "16")
	t.Setenv("BPT_LISTEN_ADDR", ":7000")
	t.Setenv("BPT_LOG_LEVEL", "warn")
	t.Setenv("BPT_LOG_FILE", "/var/log/bpt.log")
	t.Setenv("BPT_CONCURRENCY", "not-a-number")
	t.Setenv("BPT_TELEMETRY_ENABLED", "true")

	cfg := NewDefaultConfig("")
	cfg.LoadFromEnv()

	if cfg.IndexPath != "/env/index.bpt" {
		t.Errorf("expected index path from env, got %s", cfg.IndexPath)
	}
	if cfg.Mode() != storage.ModeMemory {
		t.Errorf("expected memory mode, got %s", cfg.Mode())
	}
	if cfg.ValSize != 16 {
		t.Errorf("expected val size 16, got %d", cfg.ValSize)
	}
	if cfg.ListenAddr != ":7000" {
		t.Errorf("expected listen addr :7000, got %s", cfg.ListenAddr)
	}
	if cfg.Level() != log.LevelWarn {
		t.Errorf("expected warn level, got %s", cfg.Level())
	}
	if cfg.Concurrency != 8 {
		t.Errorf("invalid concurrency should keep the default, got %d", cfg.Concurrency)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("expected telemetry enabled from env")
	}
	if len(cfg.LoggerOptions()) != 2 {
		t.Errorf("expected level and file logger options, got %d", len(cfg.LoggerOptions()))
	}
}
