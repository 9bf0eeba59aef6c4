// Package worker implements the paced send loop run by each pool member.
//
// A Worker sends one datagram, waits one pacing interval and repeats until its
// context is canceled. Send failures are recorded and logged but never stop
// the loop; only cancellation does. An in-flight send is never cut short: it
// runs detached from cancellation under its own timeout, and cancellation is
// observed once the attempt has finished.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/therenotomorrow/ex"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/dgramfire/internal/sender"
	"github.com/torosent/dgramfire/internal/tracing"
)

const (
	// DefaultInterval is the pause between two sends of one worker.
	DefaultInterval = time.Second

	failureLogBurst  = 1
	failureLogPeriod = 10 * time.Second
)

const (
	ErrMissingSender  = ex.Error("sender is missing")
	ErrAlreadyStarted = ex.Error("worker already started")
)

// Recorder receives the outcome of every send attempt. Implementations must
// be safe for concurrent use.
type Recorder interface {
	RecordSend(worker int, latency time.Duration, bytes int, err error)
}

// Option configures a Worker.
type Option func(w *Worker)

// WithInterval sets the pacing interval.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		w.interval = d
	}
}

// WithArrivalModel selects uniform or Poisson spacing.
func WithArrivalModel(model ArrivalModel) Option {
	return func(w *Worker) {
		w.model = model
	}
}

// WithPacer replaces the pacer built from interval and arrival model.
func WithPacer(p Pacer) Option {
	return func(w *Worker) {
		w.pacer = p
	}
}

// WithSendTimeout bounds a single send attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(w *Worker) {
		w.sendTimeout = d
	}
}

// WithRecorder reports every attempt to r.
func WithRecorder(r Recorder) Option {
	return func(w *Worker) {
		w.recorder = r
	}
}

// WithLogger sets the worker logger. Failure logs are sampled.
func WithLogger(log zerolog.Logger) Option {
	return func(w *Worker) {
		w.log = log
	}
}

// WithTracer records a span per send attempt.
func WithTracer(tracer trace.Tracer) Option {
	return func(w *Worker) {
		w.tracer = tracer
	}
}

// Worker is a single paced sender. It holds no socket between sends.
type Worker struct {
	id          int
	dst         sender.Destination
	sender      sender.Sender
	interval    time.Duration
	model       ArrivalModel
	pacer       Pacer
	sendTimeout time.Duration
	recorder    Recorder
	tracer      trace.Tracer
	log         zerolog.Logger
	failLog     zerolog.Logger

	state    atomic.Int32
	sends    atomic.Int64
	failures atomic.Int64
}

// New builds an idle worker that sends to dst through s.
func New(id int, dst sender.Destination, s sender.Sender, opts ...Option) *Worker {
	w := &Worker{
		id:          id,
		dst:         dst,
		sender:      s,
		interval:    DefaultInterval,
		model:       ArrivalModelUniform,
		sendTimeout: sender.DefaultTimeout,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.pacer == nil {
		w.pacer = NewPacer(w.model, w.interval, time.Now().UnixNano()+int64(id))
	}
	if w.tracer == nil {
		w.tracer = noop.NewTracerProvider().Tracer("dgramfire")
	}

	w.log = w.log.With().Int("worker", id).Logger()
	w.failLog = w.log.Sample(&zerolog.BurstSampler{Burst: failureLogBurst, Period: failureLogPeriod})

	return w
}

// ID returns the worker's index in its pool.
func (w *Worker) ID() int { return w.id }

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Sends returns the number of attempted sends.
func (w *Worker) Sends() int64 { return w.sends.Load() }

// Failures returns the number of failed sends.
func (w *Worker) Failures() int64 { return w.failures.Load() }

// Run executes the send loop until ctx is canceled: send, wait one pacing
// gap, check ctx. Every worker attempts at least one send and never stops
// mid-send. It returns nil on cancellation; a worker can be run only once.
func (w *Worker) Run(ctx context.Context) error {
	if w.sender == nil {
		w.state.Store(int32(StateStopped))
		return ErrMissingSender
	}
	if !w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted.Reason(fmt.Sprintf("worker %d is %s", w.id, w.State()))
	}
	defer w.state.Store(int32(StateStopped))

	w.log.Debug().Stringer("destination", w.dst).Msg("worker started")

	var err error
	for {
		w.sendOnce(ctx)

		if waitErr := w.pacer.Wait(ctx); waitErr != nil {
			if ctx.Err() == nil {
				err = fmt.Errorf("worker %d pacing: %w", w.id, waitErr)
			}
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	w.state.Store(int32(StateStopping))
	w.log.Debug().
		Int64("sends", w.sends.Load()).
		Int64("failures", w.failures.Load()).
		Msg("worker stopped")

	return err
}

func (w *Worker) sendOnce(ctx context.Context) {
	sendCtx := context.WithoutCancel(ctx)
	if w.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(sendCtx, w.sendTimeout)
		defer cancel()
	}

	sendCtx, span := tracing.StartSendSpan(sendCtx, w.tracer, w.dst.String(), w.id)

	start := time.Now()
	n, err := w.sender.Send(sendCtx, w.dst)
	latency := time.Since(start)

	tracing.EndSpan(span, err, attribute.Int("dgramfire.bytes", n))

	w.sends.Add(1)
	if w.recorder != nil {
		w.recorder.RecordSend(w.id, latency, n, err)
	}

	if err != nil {
		failures := w.failures.Add(1)
		w.failLog.Warn().Err(err).Int64("failures", failures).Msg("send failed")
	}
}
