// Package config loads keyscan settings from defaults, an optional YAML
// file and KEYSCAN_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/MJE43/keyscan/internal/checkpoint"
	"github.com/MJE43/keyscan/internal/logging"
)

// Checkpoint backends.
const (
	BackendFile = "file"
	BackendBolt = "bolt"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Scan       ScanConfig       `yaml:"scan"`
	Files      FilesConfig      `yaml:"files"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the HTTP API settings. Browsers may only call the API
// from AllowedOrigins; by default no cross-origin caller is allowed.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type ScanConfig struct {
	Workers           int           `yaml:"workers"`
	PausePollInterval time.Duration `yaml:"pause_poll_interval"`
	ProgressEvery     uint64        `yaml:"progress_every"`
	// CheckpointEvery of 0 writes checkpoints only on stop.
	CheckpointEvery uint64 `yaml:"checkpoint_every"`
}

// FilesConfig names the on-disk artifacts. An empty Database disables run
// history.
type FilesConfig struct {
	Checkpoint string `yaml:"checkpoint"`
	Matches    string `yaml:"matches"`
	Log        string `yaml:"log"`
	Database   string `yaml:"database"`
}

type CheckpointConfig struct {
	Backend      string `yaml:"backend"`
	DeletePolicy string `yaml:"delete_policy"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: "127.0.0.1:5000"},
		Scan: ScanConfig{
			Workers:           4,
			PausePollInterval: 100 * time.Millisecond,
			ProgressEvery:     1000,
		},
		Files: FilesConfig{
			Checkpoint: "progress_state.json",
			Matches:    "found_keys.txt",
			Log:        "log.txt",
			Database:   "keyscan.db",
		},
		Checkpoint: CheckpointConfig{
			Backend:      BackendFile,
			DeletePolicy: string(checkpoint.DeleteOnCompletion),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load applies the YAML file at path (skipped when empty) and then the
// environment over the defaults, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overrides fields from KEYSCAN_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, set func(string) error) {
		if v, ok := lookup(key); ok {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	str("KEYSCAN_SERVER_ADDR", &c.Server.Addr)
	if v, ok := lookup("KEYSCAN_SERVER_ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}
	num("KEYSCAN_SCAN_WORKERS", func(v string) (err error) {
		c.Scan.Workers, err = strconv.Atoi(v)
		return err
	})
	num("KEYSCAN_SCAN_PAUSE_POLL_INTERVAL", func(v string) (err error) {
		c.Scan.PausePollInterval, err = time.ParseDuration(v)
		return err
	})
	num("KEYSCAN_SCAN_PROGRESS_EVERY", func(v string) (err error) {
		c.Scan.ProgressEvery, err = strconv.ParseUint(v, 10, 64)
		return err
	})
	num("KEYSCAN_SCAN_CHECKPOINT_EVERY", func(v string) (err error) {
		c.Scan.CheckpointEvery, err = strconv.ParseUint(v, 10, 64)
		return err
	})
	str("KEYSCAN_FILES_CHECKPOINT", &c.Files.Checkpoint)
	str("KEYSCAN_FILES_MATCHES", &c.Files.Matches)
	str("KEYSCAN_FILES_LOG", &c.Files.Log)
	str("KEYSCAN_FILES_DATABASE", &c.Files.Database)
	str("KEYSCAN_CHECKPOINT_BACKEND", &c.Checkpoint.Backend)
	str("KEYSCAN_CHECKPOINT_DELETE_POLICY", &c.Checkpoint.DeletePolicy)
	str("KEYSCAN_LOG_LEVEL", &c.Log.Level)
	num("KEYSCAN_LOG_JSON", func(v string) (err error) {
		c.Log.JSON, err = strconv.ParseBool(v)
		return err
	})

	return multierr.Combine(errs...)
}

// splitList parses a comma separated value, dropping blank items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	for _, o := range c.Server.AllowedOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			errs = append(errs, fmt.Errorf("server.allowed_origins: %q is not an http(s) origin", o))
		}
	}
	if c.Scan.Workers < 1 {
		errs = append(errs, fmt.Errorf("scan.workers must be positive, got %d", c.Scan.Workers))
	}
	if c.Scan.PausePollInterval <= 0 {
		errs = append(errs, fmt.Errorf("scan.pause_poll_interval must be positive, got %s", c.Scan.PausePollInterval))
	}
	if c.Files.Checkpoint == "" {
		errs = append(errs, errors.New("files.checkpoint is required"))
	}
	if c.Files.Matches == "" {
		errs = append(errs, errors.New("files.matches is required"))
	}
	switch c.Checkpoint.Backend {
	case BackendFile, BackendBolt:
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend must be %q or %q, got %q", BackendFile, BackendBolt, c.Checkpoint.Backend))
	}
	if _, err := checkpoint.ParsePolicy(c.Checkpoint.DeletePolicy); err != nil {
		errs = append(errs, fmt.Errorf("checkpoint.delete_policy: %w", err))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return multierr.Combine(errs...)
}

// Policy returns the parsed checkpoint delete policy. Call after Validate.
func (c Config) Policy() checkpoint.DeletePolicy {
	p, _ := checkpoint.ParsePolicy(c.Checkpoint.DeletePolicy)
	return p
}

// Logging returns the logger options.
func (c Config) Logging() logging.Options {
	return logging.Options{Level: c.Log.Level, JSON: c.Log.JSON}
}
