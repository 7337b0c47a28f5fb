// Package pool owns the bounded set of database connections shared by every
// store operation.
//
// A Pool is constructed explicitly, passed by reference, and shut down with
// Close. Connections are lent out for one logical operation at a time:
//
//	err := p.WithConn(ctx, func(conn *sql.Conn) error {
//	    // use conn; it is released on every return path
//	    return nil
//	})
//
// After Close, Acquire fails fast with ErrClosed instead of dialing.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DefaultMaxOpenConns bounds a Postgres pool whose Config leaves
// MaxOpenConns unset.
const DefaultMaxOpenConns = 10

// ErrClosed is returned by Acquire once the pool has been closed.
var ErrClosed = errors.New("pool is closed")

// Config describes how to open a Pool.
type Config struct {
	Driver string // DriverPostgres or DriverSQLite
	DSN    string

	MaxOpenConns    int           // 0 means DefaultMaxOpenConns (SQLite is always 1)
	MaxIdleConns    int           // 0 means the database/sql default
	ConnMaxLifetime time.Duration // 0 means forever; ignored for SQLite
	AcquireTimeout  time.Duration // 0 means wait for ctx only
}

// Pool lends out connections from a bounded *sql.DB.
type Pool struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
	closed  atomic.Bool
}

// Open opens the database described by cfg and verifies it is reachable.
//
// SQLite databases are configured for a single writer: WAL journaling,
// NORMAL synchronous mode, a 5-second busy timeout, foreign keys on, and
// BEGIN IMMEDIATE transactions, with at most one open connection.
func Open(cfg Config) (*Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	dsn := cfg.DSN
	switch cfg.Driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	applyLimits(db, cfg)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.WithFields(log.Fields{
		"driver":         cfg.Driver,
		"maxOpenConns":   db.Stats().MaxOpenConnections,
		"acquireTimeout": cfg.AcquireTimeout,
	}).Debug("opened connection pool")

	return &Pool{db: db, driver: cfg.Driver, timeout: cfg.AcquireTimeout}, nil
}

// applyLimits bounds db according to cfg.
func applyLimits(db *sql.DB, cfg Config) {
	if cfg.Driver == DriverSQLite {
		// SQLite only supports one writer at a time. The single connection
		// is never recycled: for an in-memory database it is the database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpen)
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
}

// sqliteDSN appends the connection parameters a single-writer SQLite store
// needs, leaving any the caller already set untouched.
func sqliteDSN(dsn string) string {
	params := []string{
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_busy_timeout=5000",
		"_foreign_keys=on",
		"_txlock=immediate",
	}
	for _, p := range params {
		name := p[:strings.IndexByte(p, '=')+1]
		if strings.Contains(dsn, name) {
			continue
		}
		if strings.Contains(dsn, "?") {
			dsn += "&" + p
		} else {
			dsn += "?" + p
		}
	}
	return dsn
}

// Driver returns the name of the database/sql driver backing the pool.
func (p *Pool) Driver() string { return p.driver }

// DB returns the underlying *sql.DB.
// Prefer Acquire/WithConn so that the closed state is honoured.
func (p *Pool) DB() *sql.DB { return p.db }

// Acquire borrows a connection, waiting while the pool is saturated.
// The returned connection must be handed back with Release.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		if p.closed.Load() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

// Release hands a connection back to the pool. A connection left broken by
// an abandoned context is discarded by database/sql rather than reused.
func (p *Pool) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		log.WithField("err", err).Debug("failed to release connection")
	}
}

// WithConn runs fn with a borrowed connection and releases it on every
// return path, including panics.
func (p *Pool) WithConn(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)

	return fn(conn)
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool { return p.closed.Load() }

// Close marks the pool closed and closes the database. It is safe to call
// more than once; only the first call closes the database.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}

// Stats returns database/sql pool statistics.
func (p *Pool) Stats() sql.DBStats { return p.db.Stats() }

// Collector returns a prometheus collector exporting the pool's statistics
// under the given database name.
func (p *Pool) Collector(name string) prometheus.Collector {
	return collectors.NewDBStatsCollector(p.db, name)
}
