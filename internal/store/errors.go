package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/docstore/internal/pool"
)

// ErrorCode categorizes store failures.
//
// Version conflicts are deliberately absent: a commit that loses the version
// race reports success=false with a nil error.
type ErrorCode string

const (
	// ErrCodeConnection indicates the pool could not lend a connection or the
	// database was unreachable. Abandoned contexts land here too.
	ErrCodeConnection ErrorCode = "CONNECTION"

	// ErrCodeQuery indicates a malformed query, an invalid key or payload, or
	// a constraint failure other than a duplicate op version.
	ErrCodeQuery ErrorCode = "QUERY"

	// ErrCodeIntegrity indicates an op was written at a version that already
	// exists in the log.
	ErrCodeIntegrity ErrorCode = "INTEGRITY_VIOLATION"

	// ErrCodeClosed indicates the store has been closed.
	ErrCodeClosed ErrorCode = "CLOSED"
)

// Error is the error type returned by every Store operation.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the failing operation (e.g. "commit", "get snapshot").
	Op string

	// Collection and DocID identify the document, when there is one.
	Collection string
	DocID      string

	// Err is the underlying cause.
	Err error
}

// Sentinels for use with errors.Is. Any *Error matches the sentinel that
// carries its Code.
var (
	ErrConnection         = &Error{Code: ErrCodeConnection}
	ErrQuery              = &Error{Code: ErrCodeQuery}
	ErrIntegrityViolation = &Error{Code: ErrCodeIntegrity}
	ErrClosed             = &Error{Code: ErrCodeClosed}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Collection != "" || e.DocID != "" {
		msg += fmt.Sprintf(" (collection=%s, doc=%s)", e.Collection, e.DocID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Code == e.Code
}

// IsIntegrityViolation returns true if err reports a duplicate op version.
func IsIntegrityViolation(err error) bool {
	return errorCode(err) == ErrCodeIntegrity
}

// IsConnection returns true if err reports an unreachable database or an
// exhausted or abandoned connection acquisition.
func IsConnection(err error) bool {
	return errorCode(err) == ErrCodeConnection
}

// IsClosed returns true if err was caused by using a closed store.
func IsClosed(err error) bool {
	return errorCode(err) == ErrCodeClosed
}

func errorCode(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// wrapError classifies err and attaches the operation and document key.
// Errors that are already classified keep their code.
func wrapError(op string, key docKey, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{
		Code:       classify(err),
		Op:         op,
		Collection: key.collection,
		DocID:      key.id,
		Err:        err,
	}
}

// classify maps a driver or pool error onto an ErrorCode.
func classify(err error) ErrorCode {
	switch {
	case errors.Is(err, pool.ErrClosed):
		return ErrCodeClosed
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return ErrCodeConnection
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "23":
			if pqErr.Code.Name() == "unique_violation" {
				return ErrCodeIntegrity
			}
		case "08", // connection_exception
			"53", // insufficient_resources, e.g. too_many_connections
			"57": // operator_intervention, e.g. admin_shutdown
			return ErrCodeConnection
		}
		return ErrCodeQuery
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return ErrCodeIntegrity
		case liteErr.Code == sqlite3.ErrBusy,
			liteErr.Code == sqlite3.ErrLocked,
			liteErr.Code == sqlite3.ErrCantOpen,
			liteErr.Code == sqlite3.ErrIoErr:
			return ErrCodeConnection
		}
		return ErrCodeQuery
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrCodeConnection
	}
	return ErrCodeQuery
}
