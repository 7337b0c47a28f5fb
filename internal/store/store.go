package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/roach88/docstore/internal/pool"
)

// SchemaVersion is the schema Migrate brings a database to.
//
// 0 - legacy layout (no op uniqueness, no metadata column)
// 1 - UNIQUE index on ops(collection, doc_id, version)
// 2 - snapshots.metadata column
const SchemaVersion = 2

// Store persists document snapshots and their op logs.
type Store struct {
	pool    *pool.Pool
	dialect *dialect
}

// New returns a Store issuing queries through p. The Store takes ownership
// of p: closing the Store closes the pool.
func New(p *pool.Pool) (*Store, error) {
	d, err := dialectFor(p.Driver())
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, dialect: d}, nil
}

// Open opens a pool from cfg and migrates the schema.
// This function is idempotent - safe to call multiple times.
func Open(cfg pool.Config) (*Store, error) {
	p, err := pool.Open(cfg)
	if err != nil {
		return nil, err
	}

	s, err := New(p)
	if err != nil {
		p.Close()
		return nil, err
	}

	if err := s.Migrate(context.Background()); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return s, nil
}

// Close marks the store unusable and closes its pool. Subsequent calls fail
// fast with ErrClosed.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Pool returns the connection pool backing the store.
func (s *Store) Pool() *pool.Pool {
	return s.pool
}

// Migrate creates missing tables and applies schema migrations in a single
// transaction. Concurrent migrators serialize on the dialect's lock.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.pool.WithConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		if s.dialect.lockMigrations != "" {
			if _, err := tx.ExecContext(ctx, s.dialect.lockMigrations); err != nil {
				return fmt.Errorf("lock migrations: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.dialect.schema); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}

		version, err := s.schemaVersion(ctx, tx)
		if err != nil {
			return err
		}
		from := version

		if version < 1 {
			if err := migrateToV1(ctx, tx); err != nil {
				return err
			}
			version = 1
		}
		if version < 2 {
			if err := s.migrateToV2(ctx, tx); err != nil {
				return err
			}
			version = 2
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO docstore_schema (id, version) VALUES (1, $1)
			ON CONFLICT (id) DO UPDATE SET version = excluded.version
		`), SchemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}

		if from != SchemaVersion {
			log.WithFields(log.Fields{
				"driver": s.dialect.name,
				"from":   from,
				"to":     SchemaVersion,
			}).Info("migrated docstore schema")
		}
		return nil
	})
	return wrapError("migrate", docKey{}, err)
}

func (s *Store) schemaVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	var version int
	err := tx.QueryRowContext(ctx, `SELECT version FROM docstore_schema WHERE id = 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}

// migrateToV1 adds the UNIQUE index on op versions to legacy databases. New
// databases already have it via the ops primary key.
func migrateToV1(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS ops_collection_doc_id_version_key
		ON ops (collection, doc_id, version)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 adds snapshots.metadata where it is missing.
func (s *Store) migrateToV2(ctx context.Context, tx *sql.Tx) error {
	var n int
	if err := tx.QueryRowContext(ctx, s.dialect.hasColumn, "snapshots", "metadata").Scan(&n); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	if n > 0 {
		return nil
	}

	colType := "TEXT"
	if s.dialect.name == pool.DriverPostgres {
		colType = "JSONB"
	}
	if _, err := tx.ExecContext(ctx, "ALTER TABLE snapshots ADD COLUMN metadata "+colType); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

func (s *Store) rebind(query string) string {
	if s.dialect.name == pool.DriverSQLite {
		return rebind(query)
	}
	return query
}

// docKey is a validated (collection, id) pair. Both parts are compared
// byte for byte.
type docKey struct {
	collection string
	id         string
}

func newDocKey(op, collection, id string) (docKey, error) {
	key := docKey{collection: collection, id: id}
	switch {
	case collection == "":
		return key, &Error{Code: ErrCodeQuery, Op: op, DocID: id, Err: errors.New("collection is required")}
	case id == "":
		return key, &Error{Code: ErrCodeQuery, Op: op, Collection: collection, Err: errors.New("document id is required")}
	}
	return key, nil
}

// nullJSON maps an absent payload to SQL NULL. Payloads are bound as text so
// that Postgres parses them as JSONB rather than bytea.
func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
