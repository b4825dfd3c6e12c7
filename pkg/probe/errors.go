/*
2024 © Postgres.ai
*/

package probe

import (
	"strings"

	"github.com/jackc/pgconn"
	"github.com/pkg/errors"
)

// Kind defines a class of probe failures.
type Kind int

// Probe failure kinds.
const (
	// ConnectionFailure means a session is unusable.
	ConnectionFailure Kind = iota + 1

	// StatementExecutionFailure means the probed statement failed. The probe transaction has been rolled back.
	StatementExecutionFailure

	// InspectionFailure means the catalog query failed. The probe transaction has been rolled back.
	InspectionFailure

	// LockModeParseFailure means the catalog reported a lock mode which is unknown.
	LockModeParseFailure

	// RollbackFailure means the probe transaction could not be rolled back.
	RollbackFailure

	// WaitTimeout means the caller gave up waiting for a free session pair. No transaction was started.
	WaitTimeout
)

var kindNames = map[Kind]string{
	ConnectionFailure:         "connection_failure",
	StatementExecutionFailure: "statement_execution_failure",
	InspectionFailure:         "inspection_failure",
	LockModeParseFailure:      "lock_mode_parse_failure",
	RollbackFailure:           "rollback_failure",
	WaitTimeout:               "wait_timeout",
}

var kindMessages = map[Kind]string{
	ConnectionFailure:         "database session is unavailable",
	StatementExecutionFailure: "statement execution failed",
	InspectionFailure:         "failed to inspect locks",
	LockModeParseFailure:      "failed to parse lock mode",
	RollbackFailure:           "failed to roll back the probe transaction",
	WaitTimeout:               "timed out waiting for a free session pair",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return "unknown"
}

// Error describes a failed probe.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return kindMessages[e.Kind] + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Cause returns the underlying error.
func (e *Error) Cause() error {
	return e.Err
}

// KindOf returns the kind of a probe error.
func KindOf(err error) (Kind, bool) {
	var probeErr *Error
	if errors.As(err, &probeErr) {
		return probeErr.Kind, true
	}

	return 0, false
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// rollbackFailure keeps the failure which happened before the rollback in the message.
func rollbackFailure(rollbackErr, previous error) *Error {
	if previous == nil {
		return newError(RollbackFailure, rollbackErr)
	}

	return newError(RollbackFailure, errors.Wrapf(rollbackErr, "after %v", previous))
}

// PostgreSQL error codes which get a clarified message.
const (
	// SyntaxPQErrorCode defines the pq syntax error code.
	SyntaxPQErrorCode = "42601"

	// QueryCanceledPQErrorCode defines the error code of a statement canceled by statement_timeout.
	QueryCanceledPQErrorCode = "57014"

	// LockNotAvailablePQErrorCode defines the error code of a lock wait canceled by lock_timeout.
	LockNotAvailablePQErrorCode = "55P03"
)

func clarifyQueryError(query string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case SyntaxPQErrorCode:
		if strings.ContainsRune(query, '\u00a0') {
			return errors.WithMessage(err,
				`There are "non-breaking spaces" in your input (ASCII code 160). Repeat your request using regular spaces instead (ASCII code 32).`)
		}

	case QueryCanceledPQErrorCode:
		return errors.WithMessage(err, "statement timeout exceeded")

	case LockNotAvailablePQErrorCode:
		return errors.WithMessage(err, "lock timeout exceeded, a conflicting lock is held by another session")
	}

	return err
}
