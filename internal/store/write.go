package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/roach88/docstore/internal/metrics"
)

// Commit persists op and its resulting snapshot if, and only if,
// snapshot.Version is the document's next version: the current version plus
// one, or 1 for a document that has never been committed.
//
// The version check and both writes run in one transaction holding the
// document's snapshot row. Of two concurrent commits at the same next
// version exactly one returns true; the other returns (false, nil) and the
// caller is expected to rebase and retry. Commits to different documents
// never block each other.
//
// Errors are reserved for infrastructure and query failures. Writing an op
// at a version already present in the log is an INTEGRITY_VIOLATION error and
// leaves the snapshot untouched.
func (s *Store) Commit(ctx context.Context, collection, id string, op json.RawMessage, snapshot Snapshot) (ok bool, err error) {
	start := time.Now()
	defer func() {
		metrics.CommitDuration.Observe(time.Since(start).Seconds())
		switch {
		case err != nil:
			metrics.CommitsTotal.WithLabelValues(metrics.Fail).Inc()
		case ok:
			metrics.CommitsTotal.WithLabelValues(metrics.Ok).Inc()
		default:
			metrics.CommitsTotal.WithLabelValues(metrics.Conflict).Inc()
		}
	}()

	key, err := newDocKey("commit", collection, id)
	if err != nil {
		return false, err
	}
	if err := validatePayload(op, snapshot); err != nil {
		return false, &Error{Code: ErrCodeQuery, Op: "commit", Collection: collection, DocID: id, Err: err}
	}

	var current int64
	err = s.pool.WithConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() // No-op if committed

		exists := true
		err = tx.QueryRowContext(ctx, s.dialect.lockSnapshot, key.collection, key.id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			exists = false
		} else if err != nil {
			return fmt.Errorf("lock snapshot: %w", err)
		}

		if snapshot.Version != current+1 {
			return nil
		}

		var result sql.Result
		if exists {
			result, err = tx.ExecContext(ctx, s.dialect.updateSnapshot,
				key.collection,
				key.id,
				nullString(snapshot.Type),
				snapshot.Version,
				nullJSON(snapshot.Data),
				nullJSON(snapshot.Meta),
				current,
			)
		} else {
			// A concurrent first commit may insert between our read and this
			// write; ON CONFLICT DO NOTHING then affects no rows.
			result, err = tx.ExecContext(ctx, s.dialect.insertSnapshot,
				key.collection,
				key.id,
				nullString(snapshot.Type),
				snapshot.Version,
				nullJSON(snapshot.Data),
				nullJSON(snapshot.Meta),
			)
		}
		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rowsAffected != 1 {
			// Lost the race: the op must not be written without its snapshot.
			return nil
		}

		if _, err := tx.ExecContext(ctx, s.dialect.insertOp,
			key.collection,
			key.id,
			snapshot.Version,
			string(op),
		); err != nil {
			return fmt.Errorf("insert op: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		ok = true
		return nil
	})

	fields := log.Fields{
		"collection": key.collection,
		"doc":        key.id,
		"version":    snapshot.Version,
	}
	if err != nil {
		err = wrapError("commit", key, err)
		log.WithFields(fields).WithField("err", err).Warn("commit failed")
		return false, err
	}
	if !ok {
		log.WithFields(fields).WithField("current", current).
			Debug("unable to commit, not the latest version")
	}
	return ok, nil
}

// validatePayload rejects ops and snapshots that cannot be stored as JSON.
func validatePayload(op json.RawMessage, snapshot Snapshot) error {
	if len(op) == 0 {
		return errors.New("op is required")
	}
	if !json.Valid(op) {
		return errors.New("op is not valid JSON")
	}
	if len(snapshot.Data) != 0 && !json.Valid(snapshot.Data) {
		return errors.New("snapshot data is not valid JSON")
	}
	if len(snapshot.Meta) != 0 && !json.Valid(snapshot.Meta) {
		return errors.New("snapshot metadata is not valid JSON")
	}
	return nil
}
