package worker

import (
	"context"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// ArrivalModel selects how a worker spaces its sends.
type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// Pacer blocks until the next send is due. Wait returns ctx.Err() once ctx
// is done.
type Pacer interface {
	Wait(ctx context.Context) error
}

// NewPacer returns a pacer for model with a mean gap of interval, measured
// from the moment the pacer is created.
func NewPacer(model ArrivalModel, interval time.Duration, seed int64) Pacer {
	if interval <= 0 {
		interval = DefaultInterval
	}

	switch model {
	case ArrivalModelPoisson:
		seeded := rand.New(rand.NewSource(seed))
		return &poissonPacer{interval: interval, sample: seeded.ExpFloat64}
	default:
		limiter := rate.NewLimiter(rate.Every(interval), 1)
		// Spend the initial token so the first Wait covers a full interval.
		limiter.Allow()
		return &uniformPacer{limiter: limiter}
	}
}

// uniformPacer delegates spacing to a rate.Limiter with a burst of one.
type uniformPacer struct {
	limiter *rate.Limiter
}

// Wait reserves the next token and sleeps until it is due. Unlike
// rate.Limiter.Wait it does not fail early when ctx has a nearer deadline.
func (u *uniformPacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	reservation := u.limiter.Reserve()
	delay := reservation.Delay()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// poissonPacer samples exponential gaps to approximate a Poisson process.
// It is owned by a single worker and needs no locking.
type poissonPacer struct {
	interval time.Duration
	sample   func() float64
}

func (p *poissonPacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delay := p.nextDelay()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *poissonPacer) nextDelay() time.Duration {
	delay := float64(p.interval) * p.sample()
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	return time.Duration(delay)
}
