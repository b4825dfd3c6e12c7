/*
2024 © Postgres.ai
*/

package probe

import (
	"testing"

	"github.com/jackc/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestClarifyQueryError(t *testing.T) {
	testCases := []struct {
		caseName        string
		query           string
		err             error
		expectedMessage string
	}{
		{
			caseName:        "non-breaking space",
			query:           "select\u00a01",
			err:             &pgconn.PgError{Severity: "ERROR", Code: SyntaxPQErrorCode, Message: "syntax error"},
			expectedMessage: `There are "non-breaking spaces" in your input`,
		},
		{
			caseName:        "regular syntax error",
			query:           "selec 1",
			err:             &pgconn.PgError{Severity: "ERROR", Code: SyntaxPQErrorCode, Message: "syntax error"},
			expectedMessage: "ERROR: syntax error (SQLSTATE 42601)",
		},
		{
			caseName:        "statement timeout",
			query:           "select pg_sleep(100)",
			err:             &pgconn.PgError{Severity: "ERROR", Code: QueryCanceledPQErrorCode, Message: "canceling statement due to statement timeout"},
			expectedMessage: "statement timeout exceeded: ERROR: canceling statement due to statement timeout",
		},
		{
			caseName:        "lock timeout",
			query:           "lock table t",
			err:             &pgconn.PgError{Severity: "ERROR", Code: LockNotAvailablePQErrorCode, Message: "canceling statement due to lock timeout"},
			expectedMessage: "lock timeout exceeded",
		},
		{
			caseName:        "not a database error",
			query:           "select 1",
			err:             errors.New("conn busy"),
			expectedMessage: "conn busy",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.caseName, func(t *testing.T) {
			err := clarifyQueryError(tc.query, tc.err)
			assert.Contains(t, err.Error(), tc.expectedMessage)
		})
	}
}

func TestKind(t *testing.T) {
	err := errors.Wrap(newError(InspectionFailure, errors.New("boom")), "request")

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, InspectionFailure, kind)
	assert.Equal(t, "inspection_failure", kind.String())
	assert.Equal(t, "request: failed to inspect locks: boom", err.Error())

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)

	assert.Equal(t, "wait_timeout", WaitTimeout.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

func TestRollbackFailureKeepsPreviousError(t *testing.T) {
	previous := newError(StatementExecutionFailure, errors.New("division by zero"))
	err := rollbackFailure(errors.New("conn closed"), previous)

	assert.Equal(t, RollbackFailure, err.Kind)
	assert.Equal(t,
		"failed to roll back the probe transaction: after statement execution failed: division by zero: conn closed",
		err.Error())

	assert.Equal(t, "failed to roll back the probe transaction: conn closed", rollbackFailure(errors.New("conn closed"), nil).Error())
}
