package runner

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/therenotomorrow/ex"

	"github.com/torosent/dgramfire/internal/lifecycle"
	"github.com/torosent/dgramfire/internal/pool"
	"github.com/torosent/dgramfire/internal/sender"
	"github.com/torosent/dgramfire/internal/worker"
)

const ErrMissingSender = ex.Error("sender is missing")

// Result captures execution summary.
type Result struct {
	RunID    string
	Workers  int
	Sends    int64
	Errors   int64
	Duration time.Duration
	Cause    lifecycle.Cause
}

// Runner wires a worker pool to a lifecycle controller for one run.
type Runner struct {
	opt Options
	log zerolog.Logger
}

func New(opt Options) *Runner {
	opt.normalize()
	log := opt.Logger.With().Str("run_id", opt.RunID).Logger()
	return &Runner{opt: opt, log: log}
}

// RunID identifies the run in logs and history records.
func (r *Runner) RunID() string {
	return r.opt.RunID
}

// Run starts every worker, arms the duration timer, registers the
// termination handler and blocks until all workers have stopped. Canceling
// ctx stops the run like a termination request. Send failures never make
// Run fail; lifecycle and startup failures do.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	result := Result{RunID: r.opt.RunID, Workers: r.opt.Workers}

	if r.opt.Sender == nil {
		return result, ErrMissingSender
	}
	if err := r.opt.Destination.Validate(); err != nil {
		return result, err
	}

	sig := lifecycle.NewSignal(ctx)

	ctrlOpts := []lifecycle.Option{lifecycle.WithLogger(r.log)}
	if r.opt.Notifier != nil {
		ctrlOpts = append(ctrlOpts, lifecycle.WithNotifier(r.opt.Notifier))
	}

	ctrl, err := lifecycle.NewController(sig, ctrlOpts...)
	if err != nil {
		return result, err
	}
	defer ctrl.Close()

	if err := ctrl.Start(r.opt.Duration); err != nil {
		return result, err
	}

	p := pool.New(r.newWorker, pool.WithLogger(r.log))

	handles, err := p.Start(sig.Context(), r.opt.Workers, r.opt.Destination)
	if err != nil {
		return result, err
	}

	r.log.Info().
		Int("workers", r.opt.Workers).
		Dur("duration", r.opt.Duration).
		Dur("interval", r.opt.Interval).
		Stringer("destination", r.opt.Destination).
		Msg("run started")

	joinErr := p.JoinAll(handles)

	for _, handle := range handles {
		result.Sends += handle.Worker().Sends()
		result.Errors += handle.Worker().Failures()
	}
	result.Duration = time.Since(start)
	result.Cause = sig.Cause()

	r.log.Info().
		Int64("sends", result.Sends).
		Int64("errors", result.Errors).
		Dur("elapsed", result.Duration).
		Str("cause", string(result.Cause)).
		Msg("run finished")

	if joinErr != nil {
		return result, errors.Join(errors.New("workers stopped with errors"), joinErr)
	}
	return result, nil
}

func (r *Runner) newWorker(id int, dst sender.Destination) *worker.Worker {
	opts := []worker.Option{
		worker.WithInterval(r.opt.Interval),
		worker.WithArrivalModel(r.opt.ArrivalModel),
		worker.WithSendTimeout(r.opt.SendTimeout),
		worker.WithLogger(r.log),
	}
	if r.opt.Recorder != nil {
		opts = append(opts, worker.WithRecorder(r.opt.Recorder))
	}
	if r.opt.Tracer != nil {
		opts = append(opts, worker.WithTracer(r.opt.Tracer))
	}
	return worker.New(id, dst, r.opt.Sender, opts...)
}
