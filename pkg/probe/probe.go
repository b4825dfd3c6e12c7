/*
2024 © Postgres.ai
*/

// Package probe predicts the relation locks of a statement: it runs the statement in a transaction
// that is never committed while another session reads the locks the transaction holds.
package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/xid"

	"gitlab.com/postgres-ai/database-lab/v2/pkg/log"

	"gitlab.com/postgres-ai/lockprobe/pkg/locks"
	"gitlab.com/postgres-ai/lockprobe/pkg/session"
	"gitlab.com/postgres-ai/lockprobe/pkg/util/text"
)

const (
	// DefaultRoundTripTimeout limits every database round trip of a probe cycle.
	DefaultRoundTripTimeout = time.Minute

	// StatementPreviewSize limits the statement text written to the log.
	StatementPreviewSize = 1000
)

// Executor runs a probe cycle with exclusive access to a session pair.
type Executor interface {
	Do(ctx context.Context, fn session.PairFunc) error
}

// Config defines the probe options.
type Config struct {
	// StatementTimeout is set as statement_timeout of the probe transaction. Zero keeps the server setting.
	StatementTimeout time.Duration

	// LockTimeout is set as lock_timeout of the probe transaction. Zero keeps the server setting.
	LockTimeout time.Duration

	// RoundTripTimeout limits each round trip of a started cycle.
	RoundTripTimeout time.Duration

	// TagStatements prefixes statements with a unique comment and matches the activity by it.
	TagStatements bool

	// ActivityQuerySize is track_activity_query_size of the server in bytes.
	// Untagged statements must be shorter to be found in pg_stat_activity. Zero disables the check.
	ActivityQuerySize int
}

// ErrStatementTooLong is returned for an untagged statement that pg_stat_activity cannot hold in full.
var ErrStatementTooLong = errors.New("statement is too long to be matched in pg_stat_activity")

// Request describes a statement to probe.
type Request struct {
	Statement string
	Schema    *string
	Relation  *string
}

// Engine runs probe cycles.
type Engine struct {
	pairs Executor
	cfg   Config
}

// NewEngine creates a new probe engine.
func NewEngine(pairs Executor, cfg Config) *Engine {
	if cfg.RoundTripTimeout <= 0 {
		cfg.RoundTripTimeout = DefaultRoundTripTimeout
	}

	return &Engine{
		pairs: pairs,
		cfg:   cfg,
	}
}

// Analyze returns the relation locks acquired by the statement.
// The probe transaction is always rolled back before Analyze returns.
func (e *Engine) Analyze(ctx context.Context, req Request) ([]locks.Record, error) {
	if strings.TrimSpace(req.Statement) == "" {
		return nil, newError(StatementExecutionFailure, errors.New("statement must not be empty"))
	}

	statement, match := req.Statement, ExactMatch(req.Statement)

	if e.cfg.TagStatements {
		tag := xid.New().String()
		statement, match = TagStatement(statement, tag), TagMatch(tag)
	} else if err := e.checkStatementSize(statement); err != nil {
		return nil, err
	}

	preview, _ := text.CutText(statement, StatementPreviewSize, text.SeparatorEllipsis)
	log.Dbg("Probe statement:", preview)

	var records []locks.Record

	start := time.Now()

	err := e.pairs.Do(ctx, func(probe, inspector session.Session) error {
		var cycleErr error

		records, cycleErr = e.cycle(ctx, probe, inspector, statement, match, req.Schema, req.Relation)

		return cycleErr
	})

	if err != nil {
		if _, ok := KindOf(err); !ok {
			err = newError(acquireFailureKind(err), err)
		}

		log.Err("Probe failed: ", err)

		return nil, err
	}

	log.Dbg(fmt.Sprintf("Probe finished in %v, %d locks found", time.Since(start), len(records)))

	return records, nil
}

// TagStatement prefixes the statement with a comment carrying the tag.
func TagStatement(statement, tag string) string {
	return tagComment(tag) + " " + statement
}

func tagComment(tag string) string {
	return fmt.Sprintf("/* lockprobe:%s */", tag)
}

// checkStatementSize rejects statements that pg_stat_activity would truncate.
// The server keeps at most track_activity_query_size - 1 bytes of the activity text.
func (e *Engine) checkStatementSize(statement string) error {
	if e.cfg.ActivityQuerySize <= 0 || len(statement) < e.cfg.ActivityQuerySize {
		return nil
	}

	return newError(StatementExecutionFailure, errors.Wrapf(ErrStatementTooLong,
		"%d bytes given, at most %d bytes are kept; enable tagStatements or raise track_activity_query_size",
		len(statement), e.cfg.ActivityQuerySize-1))
}

// acquireFailureKind classifies errors returned before a cycle starts.
func acquireFailureKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WaitTimeout
	}

	return ConnectionFailure
}

// cycle runs the statement, inspects its locks and rolls back. A started cycle ignores cancellation of ctx.
func (e *Engine) cycle(ctx context.Context, probe, inspector session.Session, statement string,
	match Match, schema, relation *string) (records []locks.Record, err error) {
	cycleCtx := context.WithoutCancel(ctx)

	handle, err := e.runProbe(cycleCtx, probe, statement)
	if err != nil {
		return nil, err
	}

	defer func() {
		if rollbackErr := handle.Rollback(); rollbackErr != nil {
			records = nil
			err = rollbackFailure(rollbackErr, err)
		}
	}()

	inspectCtx, cancel := context.WithTimeout(cycleCtx, e.cfg.RoundTripTimeout)
	defer cancel()

	return Inspect(inspectCtx, inspector, match, schema, relation)
}

// Handle holds an open probe transaction.
type Handle struct {
	ctx     context.Context
	tx      session.Tx
	timeout time.Duration
	done    bool
}

// Rollback aborts the probe transaction. Only the first call reaches the database.
func (h *Handle) Rollback() error {
	if h.done {
		return nil
	}

	h.done = true

	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()

	if err := h.tx.Rollback(ctx); err != nil {
		log.Err("Probe rollback: ", err)
		return err
	}

	log.Dbg("Probe transaction rolled back")

	return nil
}

// runProbe begins a transaction and executes the statement in it.
// If the statement fails, the transaction is rolled back before the error is returned.
func (e *Engine) runProbe(ctx context.Context, probe session.Session, statement string) (*Handle, error) {
	beginCtx, cancel := context.WithTimeout(ctx, e.cfg.RoundTripTimeout)
	defer cancel()

	tx, err := probe.Begin(beginCtx)
	if err != nil {
		return nil, newError(ConnectionFailure, errors.Wrap(err, "failed to begin the probe transaction"))
	}

	handle := &Handle{ctx: ctx, tx: tx, timeout: e.cfg.RoundTripTimeout}

	if err := e.execute(ctx, tx, statement); err != nil {
		execErr := e.classifyExecError(probe, statement, err)

		if execErr.Kind == ConnectionFailure {
			// The server aborts the transaction of a lost connection.
			return nil, execErr
		}

		if rollbackErr := handle.Rollback(); rollbackErr != nil {
			return nil, rollbackFailure(rollbackErr, execErr)
		}

		return nil, execErr
	}

	return handle, nil
}

func (e *Engine) execute(ctx context.Context, tx session.Tx, statement string) error {
	for _, setting := range e.localSettings() {
		if err := e.exec(ctx, tx, setting); err != nil {
			return errors.Wrapf(err, "failed to apply %q", setting)
		}
	}

	return e.exec(ctx, tx, statement)
}

func (e *Engine) exec(ctx context.Context, tx session.Tx, sql string) error {
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.RoundTripTimeout)
	defer cancel()

	return tx.Exec(execCtx, sql)
}

// localSettings returns the statements limiting the probe transaction.
func (e *Engine) localSettings() []string {
	settings := make([]string, 0, 2)

	if e.cfg.StatementTimeout > 0 {
		settings = append(settings, "set local statement_timeout = "+pq.QuoteLiteral(milliseconds(e.cfg.StatementTimeout)))
	}

	if e.cfg.LockTimeout > 0 {
		settings = append(settings, "set local lock_timeout = "+pq.QuoteLiteral(milliseconds(e.cfg.LockTimeout)))
	}

	return settings
}

func milliseconds(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}

func (e *Engine) classifyExecError(probe session.Session, statement string, err error) *Error {
	if probe.IsClosed() {
		return newError(ConnectionFailure, errors.Wrap(err, "probe session is lost"))
	}

	return newError(StatementExecutionFailure, clarifyQueryError(statement, err))
}
