package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/roach88/docstore/internal/metrics"
)

// GetSnapshot returns the current snapshot of a document.
//
// A document that has never been committed is not an error: it reads as
// Version 0 with empty Type, Data and Meta. The read takes no locks and may
// be stale as soon as it returns.
func (s *Store) GetSnapshot(ctx context.Context, collection, id string) (Snapshot, error) {
	key, err := newDocKey("get snapshot", collection, id)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{ID: id}
	err = s.pool.WithConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, s.dialect.selectSnapshot, key.collection, key.id)
		err := scanSnapshot(row, &snap)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		metrics.ReadsTotal.WithLabelValues(metrics.OpGetSnapshot, metrics.Fail).Inc()
		return Snapshot{}, wrapError("get snapshot", key, err)
	}

	metrics.ReadsTotal.WithLabelValues(metrics.OpGetSnapshot, metrics.Ok).Inc()
	return snap, nil
}

// GetSnapshotBulk returns the snapshots of several documents in a collection
// with one query. Every requested id is present in the result; ids that were
// never committed map to Version 0 snapshots.
func (s *Store) GetSnapshotBulk(ctx context.Context, collection string, ids []string) (map[string]Snapshot, error) {
	result := make(map[string]Snapshot, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var bulkKey docKey
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		key, err := newDocKey("get snapshot bulk", collection, id)
		if err != nil {
			return nil, err
		}
		bulkKey.collection = key.collection
		if _, seen := result[id]; !seen {
			unique = append(unique, id)
		}
		result[id] = Snapshot{ID: id}
	}

	query, args := s.dialect.bulkSnapshots(bulkKey.collection, unique)
	err := s.pool.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query snapshots: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var docID string
			var snap Snapshot
			if err := scanSnapshot(rows, &snap, &docID); err != nil {
				return err
			}
			snap.ID = docID
			result[docID] = snap
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate snapshots: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.ReadsTotal.WithLabelValues(metrics.OpGetSnapshotBulk, metrics.Fail).Inc()
		return nil, wrapError("get snapshot bulk", bulkKey, err)
	}

	metrics.ReadsTotal.WithLabelValues(metrics.OpGetSnapshotBulk, metrics.Ok).Inc()
	return result, nil
}

// GetOps returns the ops of a document with versions greater than from and,
// when to is non-nil, less than or equal to *to, in ascending version order.
//
// Returns an empty slice (not nil) when nothing is in range or the document
// does not exist.
func (s *Store) GetOps(ctx context.Context, collection, id string, from int64, to *int64) ([]Op, error) {
	key, err := newDocKey("get ops", collection, id)
	if err != nil {
		return nil, err
	}

	ops := []Op{}
	err = s.pool.WithConn(ctx, func(conn *sql.Conn) error {
		var rows *sql.Rows
		var err error
		if to == nil {
			rows, err = conn.QueryContext(ctx, s.dialect.selectOps, key.collection, key.id, from)
		} else {
			rows, err = conn.QueryContext(ctx, s.dialect.selectOpsTo, key.collection, key.id, from, *to)
		}
		if err != nil {
			return fmt.Errorf("query ops: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			op := Op{Collection: collection, ID: id}
			var payload []byte
			if err := rows.Scan(&op.Version, &payload); err != nil {
				return fmt.Errorf("scan op: %w", err)
			}
			op.Payload = payload
			ops = append(ops, op)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate ops: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.ReadsTotal.WithLabelValues(metrics.OpGetOps, metrics.Fail).Inc()
		return nil, wrapError("get ops", key, err)
	}

	metrics.ReadsTotal.WithLabelValues(metrics.OpGetOps, metrics.Ok).Inc()
	metrics.OpsReadTotal.Add(float64(len(ops)))

	log.WithFields(log.Fields{
		"collection": key.collection,
		"doc":        key.id,
		"from":       from,
		"count":      len(ops),
	}).Debug("read ops")

	return ops, nil
}

// GetOpsToSnapshot returns the ops that take a document from version from up
// to the version of snapshot, which the caller already holds.
func (s *Store) GetOpsToSnapshot(ctx context.Context, collection, id string, from int64, snapshot Snapshot) ([]Op, error) {
	to := snapshot.Version
	return s.GetOps(ctx, collection, id, from, &to)
}

type scanner interface {
	Scan(dest ...any) error
}

// scanSnapshot scans (version, doc_type, data, metadata) into snap, preceded
// by any extra destinations.
func scanSnapshot(row scanner, snap *Snapshot, extra ...any) error {
	var docType sql.NullString
	var data, meta []byte

	dest := append(extra, &snap.Version, &docType, &data, &meta)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("scan snapshot: %w", err)
	}

	snap.Type = docType.String
	snap.Data = data
	snap.Meta = meta
	return nil
}
