/*
2024 © Postgres.ai
*/

// Package session provides long-lived database sessions used by the lock probe.
package session

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
)

// Tx defines a database transaction which is only ever rolled back.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...interface{}) error
	Rollback(ctx context.Context) error
}

// Rows defines a result set of a query.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close()
}

// Session defines a single database connection.
type Session interface {
	Begin(ctx context.Context) (Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (Rows, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	IsClosed() bool
}

// Conn is a session backed by a pgx connection.
type Conn struct {
	conn *pgx.Conn
}

var _ Session = (*Conn)(nil)

// Connect opens a new session.
func Connect(ctx context.Context, connString string) (*Conn, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to the database")
	}

	return &Conn{conn: conn}, nil
}

// BackendPID returns the process ID of the server backend serving the session.
func (c *Conn) BackendPID() uint32 {
	return c.conn.PgConn().PID()
}

// Begin starts a transaction.
func (c *Conn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}

	return &pgxTx{tx: tx}, nil
}

// Query runs a query outside of any transaction.
func (c *Conn) Query(ctx context.Context, sql string, args ...interface{}) (Rows, error) {
	return c.conn.Query(ctx, sql, args...)
}

// Ping checks that the connection is alive.
func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close closes the connection.
func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// IsClosed reports if the connection is closed or broken.
func (c *Conn) IsClosed() bool {
	return c.conn.IsClosed()
}

type pgxTx struct {
	tx pgx.Tx
}

// Exec runs a statement and discards its results.
func (t *pgxTx) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return err
}

// Rollback aborts the transaction.
func (t *pgxTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
