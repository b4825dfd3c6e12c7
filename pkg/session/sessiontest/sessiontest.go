/*
2024 © Postgres.ai
*/

// Package sessiontest provides in-memory sessions for tests.
package sessiontest

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgtype"
	"github.com/pkg/errors"

	"gitlab.com/postgres-ai/lockprobe/pkg/session"
)

// Journal records the calls made to sessions sharing it.
type Journal struct {
	mu     sync.Mutex
	events []string
}

// Add appends an event.
func (j *Journal) Add(format string, args ...interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, fmt.Sprintf(format, args...))
}

// Events returns a copy of the recorded events.
func (j *Journal) Events() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	events := make([]string, len(j.events))
	copy(events, j.events)

	return events
}

// Session is a fake session.
type Session struct {
	Name    string
	Journal *Journal

	BeginErr    error
	RollbackErr error
	PingErr     error
	ExecFunc    func(ctx context.Context, sql string) error
	QueryFunc   func(ctx context.Context, sql string, args []interface{}) (session.Rows, error)

	mu       sync.Mutex
	closed   bool
	openTxs  int
	commands []string
}

var _ session.Session = (*Session)(nil)

// NewSession creates a fake session writing to the journal.
func NewSession(name string, journal *Journal) *Session {
	return &Session{Name: name, Journal: journal}
}

// Begin starts a fake transaction.
func (s *Session) Begin(_ context.Context) (session.Tx, error) {
	s.record("begin")

	if s.BeginErr != nil {
		return nil, s.BeginErr
	}

	s.mu.Lock()
	s.openTxs++
	s.mu.Unlock()

	return &Tx{session: s}, nil
}

// Query runs QueryFunc.
func (s *Session) Query(ctx context.Context, sql string, args ...interface{}) (session.Rows, error) {
	s.record("query")

	if s.QueryFunc == nil {
		return NewRows(), nil
	}

	return s.QueryFunc(ctx, sql, args)
}

// Ping returns PingErr.
func (s *Session) Ping(_ context.Context) error {
	return s.PingErr
}

// Close marks the session closed.
func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

// IsClosed reports if Close has been called.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// OpenTxs returns the number of transactions which have not been rolled back.
func (s *Session) OpenTxs() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.openTxs
}

// Commands returns the statements executed in transactions.
func (s *Session) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	commands := make([]string, len(s.commands))
	copy(commands, s.commands)

	return commands
}

func (s *Session) record(event string) {
	if s.Journal != nil {
		s.Journal.Add("%s: %s", s.Name, event)
	}
}

// Tx is a fake transaction.
type Tx struct {
	session *Session
	done    bool
}

// Exec runs ExecFunc of the session.
func (t *Tx) Exec(ctx context.Context, sql string, _ ...interface{}) error {
	if t.done {
		return errors.New("transaction is already finished")
	}

	t.session.record("exec")

	t.session.mu.Lock()
	t.session.commands = append(t.session.commands, sql)
	t.session.mu.Unlock()

	if t.session.ExecFunc == nil {
		return nil
	}

	return t.session.ExecFunc(ctx, sql)
}

// Rollback finishes the transaction.
func (t *Tx) Rollback(_ context.Context) error {
	t.session.record("rollback")

	if t.session.RollbackErr != nil {
		return t.session.RollbackErr
	}

	if !t.done {
		t.done = true

		t.session.mu.Lock()
		t.session.openTxs--
		t.session.mu.Unlock()
	}

	return nil
}

// Rows is a fake result set.
type Rows struct {
	data    [][]interface{}
	pos     int
	err     error
	scanErr error
	closed  bool
}

var _ session.Rows = (*Rows)(nil)

// NewRows creates a result set of the given rows.
func NewRows(rows ...[]interface{}) *Rows {
	return &Rows{data: rows, pos: -1}
}

// WithErr sets the error reported after traversal.
func (r *Rows) WithErr(err error) *Rows {
	r.err = err
	return r
}

// WithScanErr sets the error returned by Scan.
func (r *Rows) WithScanErr(err error) *Rows {
	r.scanErr = err
	return r
}

// Next moves to the next row.
func (r *Rows) Next() bool {
	if r.closed {
		return false
	}

	r.pos++

	return r.pos < len(r.data)
}

// Scan copies values of the current row.
func (r *Rows) Scan(dest ...interface{}) error {
	if r.scanErr != nil {
		return r.scanErr
	}

	row := r.data[r.pos]
	if len(row) != len(dest) {
		return errors.Errorf("expected %d destinations, got %d", len(row), len(dest))
	}

	for i, value := range row {
		switch d := dest[i].(type) {
		case *string:
			s, ok := value.(string)
			if !ok {
				return errors.Errorf("cannot scan %T into *string", value)
			}

			*d = s

		case *int:
			n, ok := value.(int)
			if !ok {
				return errors.Errorf("cannot scan %T into *int", value)
			}

			*d = n

		case *pgtype.Text:
			if err := d.Set(value); err != nil {
				return err
			}

		default:
			return errors.Errorf("unsupported destination %T", dest[i])
		}
	}

	return nil
}

// Err returns the traversal error.
func (r *Rows) Err() error {
	return r.err
}

// Close closes the result set.
func (r *Rows) Close() {
	r.closed = true
}

// Closed reports if Close has been called.
func (r *Rows) Closed() bool {
	return r.closed
}
