// Package store persists collaboratively-edited documents: the current
// snapshot of each document plus its append-only log of ops.
//
// The store is keyed by (collection, id) and implements a version gate:
//   - Snapshots: one row per document, overwritten on every commit
//   - Ops: one row per accepted change, never mutated or deleted
//
// # Invariants
//
// Contiguous versions
//   - A document's ops carry versions 1..N with no gaps or duplicates
//   - PRIMARY KEY(collection, doc_id, version) enforces this structurally
//   - snapshot.version == max(op.version) after every successful commit
//
// Optimistic concurrency
//   - Commit succeeds only when snapshot.Version == current + 1
//   - The snapshot row is locked for the transaction (FOR UPDATE on
//     Postgres, BEGIN IMMEDIATE on SQLite)
//   - Losing the race is (false, nil), never an error
//
// Connection safety
//   - Every operation borrows one connection via pool.WithConn
//   - Transactions are rolled back on every non-commit path
//
// # Dialects
//
//   - postgres (github.com/lib/pq): JSONB columns, row locks, advisory lock
//     around migrations
//   - sqlite3 (github.com/mattn/go-sqlite3): TEXT columns, single writer
//
// Document keys are stored and compared exactly as given. Two Unicode
// spellings of the same id are two documents.
package store
