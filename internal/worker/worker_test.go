package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/dgramfire/internal/sender"
	"github.com/torosent/dgramfire/internal/worker"
)

var (
	errUnreachable = errors.New("network unreachable")
	destination    = sender.Destination{Host: "127.0.0.1", Port: 9999}
)

// fakeSender counts calls and can fail or stall every send.
type fakeSender struct {
	calls    atomic.Int64
	finished atomic.Int64
	err      error
	latency  time.Duration
	ctxErr   atomic.Value
}

func (f *fakeSender) Send(ctx context.Context, _ sender.Destination) (int, error) {
	f.calls.Add(1)
	if f.latency > 0 {
		time.Sleep(f.latency)
	}
	if err := ctx.Err(); err != nil {
		f.ctxErr.Store(err)
	}
	f.finished.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	return 16, nil
}

type recorded struct {
	worker int
	bytes  int
	err    error
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []recorded
}

func (r *fakeRecorder) RecordSend(worker int, _ time.Duration, bytes int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, recorded{worker: worker, bytes: bytes, err: err})
}

func (r *fakeRecorder) snapshot() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]recorded(nil), r.records...)
}

func runAsync(ctx context.Context, w *worker.Worker) <-chan error {
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return done
}

func TestWorkerSendsOncePerInterval(t *testing.T) {
	t.Parallel()

	var (
		fake     = new(fakeSender)
		recorder = new(fakeRecorder)
		w        = worker.New(7, destination, fake,
			worker.WithInterval(50*time.Millisecond),
			worker.WithRecorder(recorder),
		)
	)

	ctx, cancel := context.WithTimeout(t.Context(), 230*time.Millisecond)
	defer cancel()

	require.NoError(t, w.Run(ctx))

	calls := fake.calls.Load()
	assert.GreaterOrEqual(t, calls, int64(3))
	assert.LessOrEqual(t, calls, int64(7))
	assert.Equal(t, calls, w.Sends())
	assert.Zero(t, w.Failures())
	assert.Equal(t, worker.StateStopped, w.State())

	records := recorder.snapshot()
	require.Len(t, records, int(calls))
	for _, rec := range records {
		assert.Equal(t, 7, rec.worker)
		assert.Equal(t, 16, rec.bytes)
		assert.NoError(t, rec.err)
	}
}

func TestWorkerSurvivesPersistentFailures(t *testing.T) {
	t.Parallel()

	var (
		interval = 100 * time.Millisecond
		fake     = &fakeSender{err: errUnreachable}
		w        = worker.New(0, destination, fake, worker.WithInterval(interval))
	)

	ctx, cancel := context.WithCancel(t.Context())
	done := runAsync(ctx, w)

	require.Eventually(t, func() bool { return fake.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, worker.StateRunning, w.State())

	cancel()
	stoppedAt := time.Now()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * interval):
		t.Fatal("worker did not stop within one interval of cancellation")
	}

	assert.Less(t, time.Since(stoppedAt), 2*interval)
	assert.Equal(t, fake.calls.Load(), w.Failures())
}

func TestWorkerFinishesInFlightSend(t *testing.T) {
	t.Parallel()

	var (
		fake = &fakeSender{latency: 150 * time.Millisecond}
		w    = worker.New(0, destination, fake, worker.WithInterval(time.Hour))
	)

	ctx, cancel := context.WithCancel(t.Context())
	done := runAsync(ctx, w)

	require.Eventually(t, func() bool { return fake.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	require.NoError(t, <-done)

	assert.Equal(t, int64(1), fake.finished.Load())
	assert.Nil(t, fake.ctxErr.Load(), "send context must not be canceled by the stop signal")
	assert.Equal(t, int64(1), w.Sends())
}

func TestWorkerSendsOnceWhenAlreadyCanceled(t *testing.T) {
	t.Parallel()

	fake := new(fakeSender)
	w := worker.New(0, destination, fake)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	require.NoError(t, w.Run(ctx))

	assert.Equal(t, int64(1), fake.calls.Load())
	assert.Equal(t, worker.StateStopped, w.State())
}

func TestWorkerRunsOnce(t *testing.T) {
	t.Parallel()

	w := worker.New(1, destination, new(fakeSender), worker.WithInterval(10*time.Millisecond))
	assert.Equal(t, worker.StateIdle, w.State())

	ctx, cancel := context.WithCancel(t.Context())
	done := runAsync(ctx, w)

	require.Eventually(t, func() bool { return w.State() == worker.StateRunning }, time.Second, time.Millisecond)

	err := w.Run(ctx)
	require.ErrorIs(t, err, worker.ErrAlreadyStarted)

	cancel()
	require.NoError(t, <-done)

	err = w.Run(t.Context())
	require.ErrorIs(t, err, worker.ErrAlreadyStarted)
}

func TestWorkerRequiresSender(t *testing.T) {
	t.Parallel()

	w := worker.New(0, destination, nil)

	require.ErrorIs(t, w.Run(t.Context()), worker.ErrMissingSender)
	assert.Equal(t, worker.StateStopped, w.State())
}

func TestWorkerUsesInjectedPacer(t *testing.T) {
	t.Parallel()

	var (
		fake  = new(fakeSender)
		pacer = &countingPacer{limit: 4}
		w     = worker.New(0, destination, fake, worker.WithPacer(pacer))
	)

	err := w.Run(t.Context())

	require.ErrorIs(t, err, errPacer)
	assert.Equal(t, int64(5), fake.calls.Load())
}

var errPacer = errors.New("pacer exhausted")

// countingPacer allows limit waits, then fails.
type countingPacer struct {
	limit int
	calls int
}

func (c *countingPacer) Wait(ctx context.Context) error {
	c.calls++
	if c.calls > c.limit {
		return errPacer
	}
	return ctx.Err()
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := map[worker.State]string{
		worker.StateIdle:     "idle",
		worker.StateRunning:  "running",
		worker.StateStopping: "stopping",
		worker.StateStopped:  "stopped",
		worker.State(42):     "unknown",
	}

	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}
