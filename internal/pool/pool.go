// Package pool starts a fixed number of paced workers and joins them.
package pool

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/therenotomorrow/ex"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/dgramfire/internal/sender"
	"github.com/torosent/dgramfire/internal/worker"
)

const (
	ErrInvalidWorkers = ex.Error("worker count must be at least 1")
	ErrMissingFactory = ex.Error("worker factory is missing")
)

// Factory builds the worker with index id.
type Factory func(id int, dst sender.Destination) *worker.Worker

// Handle is a running worker. It is used only to join; cancellation is
// always global and goes through the context given to Start.
type Handle struct {
	worker *worker.Worker
	done   chan struct{}
	err    error
}

// ID returns the worker index.
func (h *Handle) ID() int { return h.worker.ID() }

// State returns the worker's current state.
func (h *Handle) State() worker.State { return h.worker.State() }

// Worker exposes the underlying worker for its counters.
func (h *Handle) Worker() *worker.Worker { return h.worker }

// Done is closed once the worker has stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the worker has stopped and returns its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Option configures a Pool.
type Option func(p *Pool)

// WithLogger sets the pool logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pool) {
		p.log = log
	}
}

// Pool owns the goroutines of its workers.
type Pool struct {
	factory Factory
	log     zerolog.Logger
	group   errgroup.Group
}

// New returns a pool that builds workers with factory.
func New(factory Factory, opts ...Option) *Pool {
	p := &Pool{factory: factory, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches count workers against dst and returns without waiting for
// any of them. All workers observe ctx; canceling it stops every worker.
func (p *Pool) Start(ctx context.Context, count int, dst sender.Destination) ([]*Handle, error) {
	if p.factory == nil {
		return nil, ErrMissingFactory
	}
	if count < 1 {
		return nil, ErrInvalidWorkers.Reason("got " + strconv.Itoa(count))
	}

	handles := make([]*Handle, count)
	for id := range handles {
		handles[id] = &Handle{
			worker: p.factory(id, dst),
			done:   make(chan struct{}),
		}
	}

	for _, handle := range handles {
		p.group.Go(func() error {
			defer close(handle.done)

			handle.err = p.run(ctx, handle.worker)

			return handle.err
		})
	}

	p.log.Info().Int("workers", count).Stringer("destination", dst).Msg("workers started")

	return handles, nil
}

// JoinAll blocks until every handle has stopped and every goroutine of the
// pool has returned, however long the slowest worker takes. Worker errors are
// joined; with no handles to report them, the group's first error is returned.
func (p *Pool) JoinAll(handles []*Handle) error {
	errs := make([]error, 0)
	for _, handle := range handles {
		if err := handle.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	groupErr := p.group.Wait()

	p.log.Debug().Int("workers", len(handles)).Msg("workers joined")

	if len(errs) == 0 {
		return groupErr
	}
	return errors.Join(errs...)
}

func (p *Pool) run(ctx context.Context, w *worker.Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d panicked: %v", w.ID(), r)
		}
	}()

	return w.Run(ctx)
}
