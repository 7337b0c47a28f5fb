package store

import (
	"context"
	"encoding/json"
)

// Snapshot is the materialized state of a document at Version.
//
// Version counts the ops ever committed for the document. A document that
// has never been committed reads as Version 0 with empty Type, Data and Meta.
type Snapshot struct {
	ID      string          `json:"id"`
	Version int64           `json:"v"`
	Type    string          `json:"type,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Meta    json.RawMessage `json:"m,omitempty"`
}

// Exists reports whether the snapshot has ever been committed.
func (s Snapshot) Exists() bool {
	return s.Version > 0
}

// Op is one accepted change to a document. Payload is stored verbatim.
type Op struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Version    int64           `json:"v"`
	Payload    json.RawMessage `json:"op"`
}

// Adapter is the surface a sync engine consumes.
//
// Commit reports a version conflict as (false, nil); only infrastructure and
// query failures are errors. Callers own retrying with a rebased op.
type Adapter interface {
	Commit(ctx context.Context, collection, id string, op json.RawMessage, snapshot Snapshot) (bool, error)
	GetSnapshot(ctx context.Context, collection, id string) (Snapshot, error)
	GetOps(ctx context.Context, collection, id string, from int64, to *int64) ([]Op, error)
	Close() error
}

var _ Adapter = (*Store)(nil)
