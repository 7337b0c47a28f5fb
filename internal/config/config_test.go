package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/pool"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvDriver, "")
	t.Setenv(EnvDSN, "")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
driver: postgres
dsn: postgres://localhost/docs?sslmode=disable
log_level: debug
pool:
  max_open_conns: 20
  conn_max_lifetime: 1h
  acquire_timeout: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, pool.DriverPostgres, cfg.Driver)
	assert.Equal(t, "postgres://localhost/docs?sslmode=disable", cfg.DSN)
	assert.Equal(t, 20, cfg.Pool.MaxOpenConns)
	assert.Equal(t, 2, cfg.Pool.MaxIdleConns, "unset fields keep their defaults")
	assert.Equal(t, time.Hour, cfg.Pool.ConnMaxLifetime)
	assert.Equal(t, 250*time.Millisecond, cfg.Pool.AcquireTimeout)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, lvl)
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_UnknownField(t *testing.T) {
	clearEnv(t)

	_, err := Load(writeConfig(t, "drivr: postgres\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drivr")
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDriver, pool.DriverPostgres)
	t.Setenv(EnvDSN, "postgres://env/docs")

	cfg, err := Load(writeConfig(t, "driver: sqlite3\ndsn: file.db\n"))
	require.NoError(t, err)
	assert.Equal(t, pool.DriverPostgres, cfg.Driver)
	assert.Equal(t, "postgres://env/docs", cfg.DSN)
}

func TestLoad_LeavesValidationToCaller(t *testing.T) {
	t.Setenv(EnvDriver, "bogus")
	t.Setenv(EnvDSN, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "bogus", cfg.Driver)
	require.Error(t, cfg.Validate())

	cfg.Driver = pool.DriverSQLite
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown driver", func(c *Config) { c.Driver = "mysql" }, "unknown driver"},
		{"empty dsn", func(c *Config) { c.DSN = "" }, "dsn is required"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"negative open conns", func(c *Config) { c.Pool.MaxOpenConns = -1 }, "max_open_conns"},
		{"negative idle conns", func(c *Config) { c.Pool.MaxIdleConns = -1 }, "max_idle_conns"},
		{"negative lifetime", func(c *Config) { c.Pool.ConnMaxLifetime = -time.Second }, "conn_max_lifetime"},
		{"negative timeout", func(c *Config) { c.Pool.AcquireTimeout = -time.Second }, "acquire_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestPoolConfig(t *testing.T) {
	cfg := Default()
	cfg.Driver = pool.DriverPostgres
	cfg.DSN = "postgres://x"

	assert.Equal(t, pool.Config{
		Driver:          pool.DriverPostgres,
		DSN:             "postgres://x",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		AcquireTimeout:  5 * time.Second,
	}, cfg.PoolConfig())
}
