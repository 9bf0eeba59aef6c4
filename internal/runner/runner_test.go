package runner_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/dgramfire/internal/lifecycle"
	"github.com/torosent/dgramfire/internal/pool"
	"github.com/torosent/dgramfire/internal/runner"
	"github.com/torosent/dgramfire/internal/sender"
)

var destination = sender.Destination{Host: "127.0.0.1", Port: 9999}

// fakeSender counts sends and optionally fails all of them.
type fakeSender struct {
	calls atomic.Int64
	err   error
}

func (f *fakeSender) Send(_ context.Context, _ sender.Destination) (int, error) {
	f.calls.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	return 32, nil
}

// fakeNotifier lets tests deliver termination requests.
type fakeNotifier struct {
	mu       sync.Mutex
	channels []chan<- os.Signal
}

func (f *fakeNotifier) Notify(c chan<- os.Signal, _ ...os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.channels = append(f.channels, c)
}

func (f *fakeNotifier) Stop(_ chan<- os.Signal) {}

func (f *fakeNotifier) deliver(sig os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.channels {
		select {
		case c <- sig:
		default:
		}
	}
}

type countingRecorder struct {
	sends atomic.Int64
}

func (c *countingRecorder) RecordSend(_ int, _ time.Duration, _ int, _ error) {
	c.sends.Add(1)
}

func TestRunHonorsDuration(t *testing.T) {
	t.Parallel()

	var (
		fake     = new(fakeSender)
		recorder = new(countingRecorder)
		interval = 100 * time.Millisecond
		duration = 300 * time.Millisecond
	)

	r := runner.New(runner.Options{
		Workers:     4,
		Destination: destination,
		Duration:    duration,
		Interval:    interval,
		Sender:      fake,
		Recorder:    recorder,
		Notifier:    new(fakeNotifier),
	})

	start := time.Now()
	res, err := r.Run(t.Context())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, duration)
	assert.Less(t, elapsed, duration+interval+100*time.Millisecond)

	assert.Equal(t, 4, res.Workers)
	assert.Equal(t, lifecycle.CauseDuration, res.Cause)
	assert.Equal(t, fake.calls.Load(), res.Sends)
	assert.Equal(t, res.Sends, recorder.sends.Load())
	assert.GreaterOrEqual(t, res.Sends, int64(4*3))
	assert.LessOrEqual(t, res.Sends, int64(4*4))
	assert.Zero(t, res.Errors)
	assert.Len(t, res.RunID, 26)
	assert.Equal(t, r.RunID(), res.RunID)
}

func TestRunZeroDurationSendsOncePerWorker(t *testing.T) {
	t.Parallel()

	fake := new(fakeSender)
	r := runner.New(runner.Options{
		Workers:     3,
		Destination: destination,
		Interval:    time.Hour,
		Sender:      fake,
		Notifier:    new(fakeNotifier),
	})

	start := time.Now()
	res, err := r.Run(t.Context())

	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(3), res.Sends)
}

func TestRunStopsOnTermination(t *testing.T) {
	t.Parallel()

	var (
		fake     = new(fakeSender)
		notifier = new(fakeNotifier)
		interval = 100 * time.Millisecond
	)

	r := runner.New(runner.Options{
		Workers:     4,
		Destination: destination,
		Duration:    time.Minute,
		Interval:    interval,
		Sender:      fake,
		Notifier:    notifier,
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		notifier.deliver(syscall.SIGTERM)
	}()

	start := time.Now()
	res, err := r.Run(t.Context())

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond+interval+200*time.Millisecond)
	assert.Equal(t, lifecycle.CauseTermination, res.Cause)
	assert.GreaterOrEqual(t, res.Sends, int64(4))
}

func TestRunStopsOnParentCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	r := runner.New(runner.Options{
		Workers:     2,
		Destination: destination,
		Duration:    time.Minute,
		Interval:    100 * time.Millisecond,
		Sender:      new(fakeSender),
		Notifier:    new(fakeNotifier),
	})

	res, err := r.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, lifecycle.CauseCanceled, res.Cause)
}

func TestRunAbsorbsSendFailures(t *testing.T) {
	t.Parallel()

	fake := &fakeSender{err: errors.New("host unreachable")}
	r := runner.New(runner.Options{
		Workers:     2,
		Destination: destination,
		Duration:    200 * time.Millisecond,
		Interval:    50 * time.Millisecond,
		Sender:      fake,
		Notifier:    new(fakeNotifier),
	})

	start := time.Now()
	res, err := r.Run(t.Context())

	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Positive(t, res.Sends)
	assert.Equal(t, res.Sends, res.Errors)
}

func TestRunRejectsInvalidSetup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts runner.Options
		want error
	}{
		{
			name: "missing sender",
			opts: runner.Options{Workers: 1, Destination: destination},
			want: runner.ErrMissingSender,
		},
		{
			name: "no workers",
			opts: runner.Options{Workers: 0, Destination: destination, Sender: new(fakeSender)},
			want: pool.ErrInvalidWorkers,
		},
		{
			name: "bad port",
			opts: runner.Options{Workers: 1, Destination: sender.Destination{Host: "h", Port: 70000}, Sender: new(fakeSender)},
			want: sender.ErrInvalidPort,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			test.opts.Notifier = new(fakeNotifier)
			test.opts.Duration = time.Hour

			start := time.Now()
			_, err := runner.New(test.opts).Run(t.Context())

			require.ErrorIs(t, err, test.want)
			assert.Less(t, time.Since(start), time.Second)
		})
	}
}

func TestRunKeepsProvidedRunID(t *testing.T) {
	t.Parallel()

	r := runner.New(runner.Options{
		Workers:     1,
		Destination: destination,
		Sender:      new(fakeSender),
		Notifier:    new(fakeNotifier),
		RunID:       "run-42",
	})

	res, err := r.Run(t.Context())

	require.NoError(t, err)
	assert.Equal(t, "run-42", res.RunID)
}
