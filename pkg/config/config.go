package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/KevoDB/bpt/pkg/common/log"
	"github.com/KevoDB/bpt/pkg/storage"
	"github.com/KevoDB/bpt/pkg/telemetry"
)

const CurrentConfigVersion = 1

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("config file not found")
)

// Config holds the settings shared by the lookup tool, the REPL and the server.
type Config struct {
	Version int `json:"version" yaml:"version"`

	// Index configuration
	IndexPath   string `json:"index_path" yaml:"index_path"`
	StorageMode string `json:"storage_mode" yaml:"storage_mode"`
	ValSize     int    `json:"val_size" yaml:"val_size"` // 0 accepts the file's value size

	// Server configuration
	ListenAddr  string `json:"listen_addr" yaml:"listen_addr"`
	TLSEnabled  bool   `json:"tls_enabled" yaml:"tls_enabled"`
	TLSCertFile string `json:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file" yaml:"tls_key_file"`
	TLSCAFile   string `json:"tls_ca_file" yaml:"tls_ca_file"`

	// Logging configuration
	LogLevel      string `json:"log_level" yaml:"log_level"`
	LogFile       string `json:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `json:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `json:"log_max_backups" yaml:"log_max_backups"`
	LogMaxAgeDays int    `json:"log_max_age_days" yaml:"log_max_age_days"`
	LogCompress   bool   `json:"log_compress" yaml:"log_compress"`

	// Batch lookups
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig(indexPath string) *Config {
	return &Config{
		Version: CurrentConfigVersion,

		IndexPath:   indexPath,
		StorageMode: string(storage.ModeAuto),

		ListenAddr: "localhost:50051",

		LogLevel:      "info",
		LogMaxSizeMB:  100,
		LogMaxBackups: 3,
		LogMaxAgeDays: 28,

		Concurrency: 8,

		Telemetry: telemetry.DefaultConfig(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if _, err := storage.ParseMode(c.StorageMode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.ValSize < 0 {
		return fmt.Errorf("%w: value size must not be negative", ErrInvalidConfig)
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address not specified", ErrInvalidConfig)
	}

	if c.TLSEnabled && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return fmt.Errorf("%w: TLS requires both a certificate and a key file", ErrInvalidConfig)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	}

	if c.Telemetry.Enabled {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("%w: telemetry: %v", ErrInvalidConfig, err)
		}
	}

	return nil
}

// Mode returns the parsed storage mode.
func (c *Config) Mode() storage.Mode {
	mode, err := storage.ParseMode(c.StorageMode)
	if err != nil {
		return storage.ModeAuto
	}
	return mode
}

// Level returns the parsed log level.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.LevelInfo
	}
	return level
}

// LoggerOptions turns the logging fields into logger options.
func (c *Config) LoggerOptions() []log.LoggerOption {
	opts := []log.LoggerOption{log.WithLevel(c.Level())}
	if c.LogFile != "" {
		opts = append(opts, log.WithFile(c.LogFile, c.LogMaxSizeMB, c.LogMaxBackups, c.LogMaxAgeDays, c.LogCompress))
	}
	return opts
}

// LoadFromEnv overrides fields from BPT_* environment variables.
func (c *Config) LoadFromEnv() {
	if val := os.Getenv("BPT_INDEX"); val != "" {
		c.IndexPath = val
	}

	if val := os.Getenv("BPT_STORAGE_MODE"); val != "" {
		c.StorageMode = val
	}

	if val := os.Getenv("BPT_VAL_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			c.ValSize = size
		}
	}

	if val := os.Getenv("BPT_LISTEN_ADDR"); val != "" {
		c.ListenAddr = val
	}

	if val := os.Getenv("BPT_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}

	if val := os.Getenv("BPT_LOG_FILE"); val != "" {
		c.LogFile = val
	}

	if val := os.Getenv("BPT_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Concurrency = n
		}
	}

	c.Telemetry.LoadFromEnv()
}

// Load reads a config file. Files ending in .yaml or .yml are decoded as
// YAML, anything else as JSON. Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewDefaultConfig("")
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to path, replacing any existing file atomically
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
