package store

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/roach88/docstore/internal/pool"
)

//go:embed schema_postgres.sql
var postgresSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

// dialect holds the SQL a Store issues against one database flavour.
// Queries are written with $N placeholders and rebound for SQLite.
type dialect struct {
	name   string
	schema string

	// lockSnapshot reads the current version and holds the row for the rest
	// of the transaction.
	lockSnapshot   string
	insertSnapshot string
	updateSnapshot string
	insertOp       string

	selectSnapshot string
	selectOps      string
	selectOpsTo    string

	// lockMigrations serializes concurrent migrators. Empty if the
	// transaction itself is already exclusive.
	lockMigrations string
	hasColumn      string

	// bulkSnapshots builds a query selecting many documents of a collection.
	bulkSnapshots func(collection string, ids []string) (string, []any)
}

const (
	insertSnapshotSQL = `
		INSERT INTO snapshots (collection, doc_id, doc_type, version, data, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (collection, doc_id) DO NOTHING`

	updateSnapshotSQL = `
		UPDATE snapshots
		SET doc_type = $3, version = $4, data = $5, metadata = $6
		WHERE collection = $1 AND doc_id = $2 AND version = $7`

	insertOpSQL = `
		INSERT INTO ops (collection, doc_id, version, operation)
		VALUES ($1, $2, $3, $4)`

	selectSnapshotSQL = `
		SELECT version, doc_type, data, metadata
		FROM snapshots
		WHERE collection = $1 AND doc_id = $2`

	selectOpsSQL = `
		SELECT version, operation
		FROM ops
		WHERE collection = $1 AND doc_id = $2 AND version > $3
		ORDER BY version ASC`

	selectOpsToSQL = `
		SELECT version, operation
		FROM ops
		WHERE collection = $1 AND doc_id = $2 AND version > $3 AND version <= $4
		ORDER BY version ASC`

	bulkSnapshotsColumns = `SELECT doc_id, version, doc_type, data, metadata FROM snapshots`
)

var postgresDialect = &dialect{
	name:   pool.DriverPostgres,
	schema: postgresSchema,

	lockSnapshot: `
		SELECT version
		FROM snapshots
		WHERE collection = $1 AND doc_id = $2
		FOR UPDATE`,
	insertSnapshot: insertSnapshotSQL,
	updateSnapshot: updateSnapshotSQL,
	insertOp:       insertOpSQL,

	selectSnapshot: selectSnapshotSQL,
	selectOps:      selectOpsSQL,
	selectOpsTo:    selectOpsToSQL,

	lockMigrations: `SELECT pg_advisory_xact_lock(hashtext('docstore_schema'))`,
	hasColumn: `
		SELECT COUNT(*)
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2`,

	bulkSnapshots: func(collection string, ids []string) (string, []any) {
		return bulkSnapshotsColumns + ` WHERE collection = $1 AND doc_id = ANY($2)`,
			[]any{collection, pq.Array(ids)}
	},
}

// SQLite has no row locks. Transactions begin IMMEDIATE (see pool.Open), so
// the write lock is taken up front and held until commit.
var sqliteDialect = &dialect{
	name:   pool.DriverSQLite,
	schema: sqliteSchema,

	lockSnapshot: rebind(`
		SELECT version
		FROM snapshots
		WHERE collection = $1 AND doc_id = $2`),
	insertSnapshot: rebind(insertSnapshotSQL),
	updateSnapshot: rebind(updateSnapshotSQL),
	insertOp:       rebind(insertOpSQL),

	selectSnapshot: rebind(selectSnapshotSQL),
	selectOps:      rebind(selectOpsSQL),
	selectOpsTo:    rebind(selectOpsToSQL),

	hasColumn: rebind(`
		SELECT COUNT(*)
		FROM pragma_table_info($1)
		WHERE name = $2`),

	bulkSnapshots: func(collection string, ids []string) (string, []any) {
		placeholders := make([]string, len(ids))
		args := make([]any, 0, len(ids)+1)
		args = append(args, collection)
		for i, id := range ids {
			placeholders[i] = fmt.Sprintf("$%d", i+2)
			args = append(args, id)
		}
		query := bulkSnapshotsColumns +
			` WHERE collection = $1 AND doc_id IN (` + strings.Join(placeholders, ", ") + `)`
		return rebind(query), args
	},
}

// rebind rewrites $N placeholders as SQLite's numbered ?N form.
func rebind(query string) string {
	return strings.ReplaceAll(query, "$", "?")
}

func dialectFor(driver string) (*dialect, error) {
	switch driver {
	case pool.DriverPostgres:
		return postgresDialect, nil
	case pool.DriverSQLite:
		return sqliteDialect, nil
	default:
		return nil, fmt.Errorf("no dialect for driver %q", driver)
	}
}
