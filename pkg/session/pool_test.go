/*
2024 © Postgres.ai
*/

package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/postgres-ai/lockprobe/pkg/session"
)

func TestPoolRunsPairsIndependently(t *testing.T) {
	first, _, _ := newTestPair()
	second, _, _ := newTestPair()
	pool := session.NewPool(first, second)

	require.Equal(t, 2, pool.Size())

	// Both cycles must be in flight at the same time to pass the barrier.
	var barrier sync.WaitGroup
	barrier.Add(2)

	var wg sync.WaitGroup
	wg.Add(2)

	seen := make(chan session.Session, 2)

	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()

			err := pool.Do(context.Background(), func(probe, _ session.Session) error {
				seen <- probe
				barrier.Done()
				barrier.Wait()

				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	close(seen)

	probes := make([]session.Session, 0, 2)
	for probe := range seen {
		probes = append(probes, probe)
	}

	require.Len(t, probes, 2)
	assert.NotSame(t, probes[0], probes[1])
}

func TestPoolWaitsForFreePair(t *testing.T) {
	pair, _, _ := newTestPair()
	pool := session.NewPool(pair)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = pool.Do(context.Background(), func(_, _ session.Session) error {
			close(started)
			<-release

			return nil
		})
	}()

	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.Do(ctx, func(_, _ session.Session) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done

	assert.NoError(t, pool.Do(context.Background(), func(_, _ session.Session) error { return nil }))
}

func TestPoolClose(t *testing.T) {
	pair, probe, inspector := newTestPair()
	pool := session.NewPool(pair)

	require.NoError(t, pool.Ping(context.Background()))
	require.NoError(t, pool.Close(context.Background()))

	assert.True(t, probe.IsClosed())
	assert.True(t, inspector.IsClosed())
}
