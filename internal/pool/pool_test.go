package pool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/dgramfire/internal/pool"
	"github.com/torosent/dgramfire/internal/sender"
	"github.com/torosent/dgramfire/internal/worker"
)

var destination = sender.Destination{Host: "127.0.0.1", Port: 9999}

type countingSender struct {
	calls atomic.Int64
}

func (c *countingSender) Send(_ context.Context, _ sender.Destination) (int, error) {
	c.calls.Add(1)
	return 1, nil
}

// slowSender stalls every send so joining has to wait for it.
type slowSender struct {
	latency time.Duration
}

func (s slowSender) Send(_ context.Context, _ sender.Destination) (int, error) {
	time.Sleep(s.latency)
	return 1, nil
}

type panicSender struct{}

func (panicSender) Send(_ context.Context, _ sender.Destination) (int, error) {
	panic("boom")
}

func factory(s sender.Sender, interval time.Duration) pool.Factory {
	return func(id int, dst sender.Destination) *worker.Worker {
		return worker.New(id, dst, s, worker.WithInterval(interval))
	}
}

func TestStartReturnsOneHandlePerWorker(t *testing.T) {
	t.Parallel()

	for _, count := range []int{1, 4, 16} {
		s := new(countingSender)
		p := pool.New(factory(s, 20*time.Millisecond))

		ctx, cancel := context.WithCancel(t.Context())

		handles, err := p.Start(ctx, count, destination)
		require.NoError(t, err)
		require.Len(t, handles, count)

		for id, handle := range handles {
			assert.Equal(t, id, handle.ID())
		}

		require.Eventually(t, func() bool { return s.calls.Load() >= int64(count) }, time.Second, time.Millisecond)

		cancel()
		require.NoError(t, p.JoinAll(handles))

		var sends int64
		for _, handle := range handles {
			assert.Equal(t, worker.StateStopped, handle.State())
			sends += handle.Worker().Sends()
		}
		assert.Equal(t, s.calls.Load(), sends)
	}
}

func TestStartDoesNotBlock(t *testing.T) {
	t.Parallel()

	p := pool.New(factory(slowSender{latency: 200 * time.Millisecond}, time.Hour))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	start := time.Now()
	handles, err := p.Start(ctx, 8, destination)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 100*time.Millisecond)

	cancel()
	require.NoError(t, p.JoinAll(handles))
}

func TestJoinAllWaitsForSlowestWorker(t *testing.T) {
	t.Parallel()

	latency := 150 * time.Millisecond
	p := pool.New(factory(slowSender{latency: latency}, time.Hour))

	ctx, cancel := context.WithCancel(t.Context())

	handles, err := p.Start(ctx, 4, destination)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	cancel()

	start := time.Now()
	require.NoError(t, p.JoinAll(handles))

	assert.GreaterOrEqual(t, time.Since(start), latency/2)
	for _, handle := range handles {
		select {
		case <-handle.Done():
		default:
			t.Fatalf("worker %d still running after JoinAll", handle.ID())
		}
		assert.Equal(t, worker.StateStopped, handle.State())
	}
}

func TestStartRejectsInvalidCount(t *testing.T) {
	t.Parallel()

	p := pool.New(factory(new(countingSender), time.Second))

	for _, count := range []int{0, -3} {
		handles, err := p.Start(t.Context(), count, destination)

		require.ErrorIs(t, err, pool.ErrInvalidWorkers)
		assert.Nil(t, handles)
	}

	_, err := pool.New(nil).Start(t.Context(), 1, destination)
	require.ErrorIs(t, err, pool.ErrMissingFactory)
}

func TestJoinAllReportsWorkerPanics(t *testing.T) {
	t.Parallel()

	p := pool.New(factory(panicSender{}, time.Second))

	handles, err := p.Start(t.Context(), 2, destination)
	require.NoError(t, err)

	err = p.JoinAll(handles)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked: boom")
}

func TestJoinAllWithoutHandlesReportsGroupError(t *testing.T) {
	t.Parallel()

	p := pool.New(factory(panicSender{}, time.Second))

	handles, err := p.Start(t.Context(), 3, destination)
	require.NoError(t, err)

	err = p.JoinAll(handles[:1])
	require.Error(t, err)

	for _, handle := range handles {
		assert.Equal(t, worker.StateStopped, handle.State())
	}

	err = p.JoinAll(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked: boom")
}
