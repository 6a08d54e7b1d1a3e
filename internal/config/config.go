package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend kinds.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Environment variables that override the config file.
const (
	EnvBackend = "TIMEWATCH_BACKEND"
	EnvDataDir = "TIMEWATCH_DATA_DIR"
	EnvVerbose = "TIMEWATCH_VERBOSE"
)

const appName = "timewatch"

// Config holds the cookie store configuration.
type Config struct {
	// Backend selects the persistence layer: sqlite, bolt, file or memory
	Backend string `yaml:"backend"`

	// DataDir is the directory the cookie database lives in
	DataDir string `yaml:"data_dir"`

	// Verbose enables debug logging
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend: BackendSQLite,
		DataDir: filepath.Join(xdg.DataHome, appName),
	}
}

// DefaultPath is the config file location under the XDG config home.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

// Load builds a Config from the defaults, the YAML file at path, the
// dotenv file at envFile and then the process environment, each layer
// overriding the previous one. Missing files are skipped.
func Load(path, envFile string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if v := os.Getenv(EnvBackend); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvVerbose); v != "" {
		verbose, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", EnvVerbose, err)
		}
		cfg.Verbose = verbose
	}

	return cfg, cfg.Validate()
}

// Validate checks the backend kind and data directory.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendBolt, BackendFile:
		if c.DataDir == "" {
			return fmt.Errorf("backend %s needs a data directory", c.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// StorePath is the database file of the configured backend.
func (c Config) StorePath() string {
	switch c.Backend {
	case BackendBolt:
		return filepath.Join(c.DataDir, "cookies.bolt")
	case BackendFile:
		return filepath.Join(c.DataDir, "cookies.yaml")
	case BackendMemory:
		return ""
	default:
		return filepath.Join(c.DataDir, "cookies.db")
	}
}
