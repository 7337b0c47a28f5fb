// Package config loads docstore settings from a YAML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/roach88/docstore/internal/pool"
)

// Environment variables that override values read from the config file.
const (
	EnvDriver = "DOCSTORE_DRIVER"
	EnvDSN    = "DOCSTORE_DSN"
)

// Config holds the settings shared by every docstore command.
type Config struct {
	// Driver is the database/sql driver name, "postgres" or "sqlite3".
	Driver string `yaml:"driver"`

	// DSN is the data source name handed to the driver. For SQLite this is
	// a file path.
	DSN string `yaml:"dsn"`

	// LogLevel is any level logrus can parse ("debug", "info", "warn", ...).
	LogLevel string `yaml:"log_level"`

	Pool PoolConfig `yaml:"pool"`
}

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Driver:   pool.DriverSQLite,
		DSN:      "docstore.db",
		LogLevel: "info",
		Pool: PoolConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			AcquireTimeout:  5 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
//
// The result is not validated: callers layer their own overrides on top and
// then call Validate.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// decode rejects unknown fields so typos surface instead of silently
// falling back to defaults.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvDriver); ok && v != "" {
		c.Driver = v
	}
	if v, ok := os.LookupEnv(EnvDSN); ok && v != "" {
		c.DSN = v
	}
}

// Validate checks the configuration for values the pool would reject or
// misinterpret.
func (c Config) Validate() error {
	switch c.Driver {
	case pool.DriverPostgres, pool.DriverSQLite:
	default:
		return fmt.Errorf("unknown driver %q: must be %q or %q",
			c.Driver, pool.DriverPostgres, pool.DriverSQLite)
	}
	if c.DSN == "" {
		return errors.New("dsn is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Pool.MaxOpenConns < 0 {
		return fmt.Errorf("pool.max_open_conns must be non-negative, got %d", c.Pool.MaxOpenConns)
	}
	if c.Pool.MaxIdleConns < 0 {
		return fmt.Errorf("pool.max_idle_conns must be non-negative, got %d", c.Pool.MaxIdleConns)
	}
	if c.Pool.ConnMaxLifetime < 0 {
		return fmt.Errorf("pool.conn_max_lifetime must be non-negative, got %s", c.Pool.ConnMaxLifetime)
	}
	if c.Pool.AcquireTimeout < 0 {
		return fmt.Errorf("pool.acquire_timeout must be non-negative, got %s", c.Pool.AcquireTimeout)
	}
	return nil
}

// Level parses LogLevel. An empty level means info.
func (c Config) Level() (log.Level, error) {
	if c.LogLevel == "" {
		return log.InfoLevel, nil
	}
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// PoolConfig converts c into the settings pool.Open expects.
func (c Config) PoolConfig() pool.Config {
	return pool.Config{
		Driver:          c.Driver,
		DSN:             c.DSN,
		MaxOpenConns:    c.Pool.MaxOpenConns,
		MaxIdleConns:    c.Pool.MaxIdleConns,
		ConnMaxLifetime: c.Pool.ConnMaxLifetime,
		AcquireTimeout:  c.Pool.AcquireTimeout,
	}
}
