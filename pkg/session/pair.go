/*
2024 © Postgres.ai
*/

package session

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"gitlab.com/postgres-ai/database-lab/v2/pkg/log"
)

// ErrPairClosed is returned when a closed pair is used.
var ErrPairClosed = errors.New("session pair is closed")

// PairFunc runs a probe cycle with both sessions of a pair.
type PairFunc func(probe, inspector Session) error

// Pair owns two sessions to the same database: the probe session runs statements,
// the inspector session observes the locks the probe session holds.
// At most one probe cycle runs on a pair at any time.
type Pair struct {
	sem       *semaphore.Weighted
	probe     Session
	inspector Session
	closed    bool
}

// NewPair creates a new pair. The roles of the sessions never change.
func NewPair(probe, inspector Session) *Pair {
	return &Pair{
		sem:       semaphore.NewWeighted(1),
		probe:     probe,
		inspector: inspector,
	}
}

// OpenPair connects both sessions of a new pair.
func OpenPair(ctx context.Context, connString string) (*Pair, error) {
	probe, err := Connect(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open the probe session")
	}

	inspector, err := Connect(ctx, connString)
	if err != nil {
		if closeErr := probe.Close(ctx); closeErr != nil {
			log.Err("failed to close the probe session: ", closeErr)
		}

		return nil, errors.Wrap(err, "failed to open the inspector session")
	}

	log.Dbg("Session pair opened. Probe PID:", probe.BackendPID(), "Inspector PID:", inspector.BackendPID())

	return NewPair(probe, inspector), nil
}

// WithExclusiveAccess waits until no other cycle runs on the pair and calls fn with both sessions.
// Once fn has been called, it runs to completion regardless of ctx.
func (p *Pair) WithExclusiveAccess(ctx context.Context, fn PairFunc) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "failed to acquire the session pair")
	}

	defer p.sem.Release(1)

	if p.closed {
		return ErrPairClosed
	}

	return fn(p.probe, p.inspector)
}

// Ping checks both sessions.
func (p *Pair) Ping(ctx context.Context) error {
	return p.WithExclusiveAccess(ctx, func(probe, inspector Session) error {
		if err := probe.Ping(ctx); err != nil {
			return errors.Wrap(err, "probe session is unavailable")
		}

		if err := inspector.Ping(ctx); err != nil {
			return errors.Wrap(err, "inspector session is unavailable")
		}

		return nil
	})
}

// Close waits for the running cycle and closes both sessions.
func (p *Pair) Close(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "failed to acquire the session pair")
	}

	defer p.sem.Release(1)

	if p.closed {
		return nil
	}

	p.closed = true

	probeErr := p.probe.Close(ctx)
	inspectorErr := p.inspector.Close(ctx)

	if probeErr != nil {
		return errors.Wrap(probeErr, "failed to close the probe session")
	}

	if inspectorErr != nil {
		return errors.Wrap(inspectorErr, "failed to close the inspector session")
	}

	return nil
}
