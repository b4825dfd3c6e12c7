/*
2024 © Postgres.ai
*/

package session

import (
	"context"

	"github.com/pkg/errors"

	"gitlab.com/postgres-ai/database-lab/v2/pkg/log"
)

// Pool holds independent session pairs. Each pair serves one cycle at a time.
type Pool struct {
	free  chan *Pair
	pairs []*Pair
}

// NewPool creates a pool of the given pairs.
func NewPool(pairs ...*Pair) *Pool {
	free := make(chan *Pair, len(pairs))

	for _, pair := range pairs {
		free <- pair
	}

	return &Pool{
		free:  free,
		pairs: pairs,
	}
}

// OpenPool opens size pairs against the same database.
func OpenPool(ctx context.Context, connString string, size int) (*Pool, error) {
	if size < 1 {
		return nil, errors.Errorf("invalid number of session pairs: %d", size)
	}

	pairs := make([]*Pair, 0, size)

	for i := 0; i < size; i++ {
		pair, err := OpenPair(ctx, connString)
		if err != nil {
			closePairs(ctx, pairs)
			return nil, errors.Wrapf(err, "failed to open session pair #%d", i+1)
		}

		pairs = append(pairs, pair)
	}

	return NewPool(pairs...), nil
}

// Size returns the number of pairs.
func (p *Pool) Size() int {
	return len(p.pairs)
}

// Do takes a free pair and runs fn with exclusive access to it.
func (p *Pool) Do(ctx context.Context, fn PairFunc) error {
	select {
	case pair := <-p.free:
		defer func() { p.free <- pair }()

		return pair.WithExclusiveAccess(ctx, fn)

	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "all session pairs are busy")
	}
}

// Ping checks every pair.
func (p *Pool) Ping(ctx context.Context) error {
	for i, pair := range p.pairs {
		if err := pair.Ping(ctx); err != nil {
			return errors.Wrapf(err, "session pair #%d", i+1)
		}
	}

	return nil
}

// Pairs returns the pairs of the pool.
func (p *Pool) Pairs() []*Pair {
	return p.pairs
}

// Close closes all pairs.
func (p *Pool) Close(ctx context.Context) error {
	return closePairs(ctx, p.pairs)
}

func closePairs(ctx context.Context, pairs []*Pair) error {
	var firstErr error

	for _, pair := range pairs {
		if err := pair.Close(ctx); err != nil {
			log.Err("failed to close session pair: ", err)

			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
