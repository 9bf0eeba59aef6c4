package lifecycle

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/therenotomorrow/ex"
)

const (
	ErrMissingSignal     = ex.Error("signal is missing")
	ErrMissingNotifier   = ex.Error("notifier is missing")
	ErrNegativeDuration  = ex.Error("duration must not be negative")
	ErrAlreadyArmed      = ex.Error("timer already armed")
	ErrAlreadyRegistered = ex.Error("termination handler already registered")
	ErrClosed            = ex.Error("controller closed")
)

// LifecycleError reports a failure to arm the timer or register the
// termination handler. A run cannot proceed without both.
type LifecycleError struct {
	Op  string
	Err error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("lifecycle %s: %v", e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// Notifier is the registration point the host uses to deliver termination
// requests. It matches os/signal so production code can use it directly.
type Notifier interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type osNotifier struct{}

func (osNotifier) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
func (osNotifier) Stop(c chan<- os.Signal)                     { signal.Stop(c) }

// OSNotifier delivers process signals.
func OSNotifier() Notifier {
	return osNotifier{}
}

// DefaultSignals are the termination requests a Controller listens for.
var DefaultSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// Option configures a Controller.
type Option func(c *Controller)

// WithNotifier replaces the process signal notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// Controller is the only writer of a run's Signal.
type Controller struct {
	signal   *Signal
	notifier Notifier
	signals  []os.Signal
	log      zerolog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	sigCh  chan os.Signal
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewController builds a Controller for sig.
func NewController(sig *Signal, opts ...Option) (*Controller, error) {
	if sig == nil {
		return nil, &LifecycleError{Op: "init", Err: ErrMissingSignal}
	}

	c := &Controller{
		signal:   sig,
		notifier: OSNotifier(),
		signals:  DefaultSignals,
		log:      zerolog.Nop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Signal returns the Signal owned by the Controller.
func (c *Controller) Signal() *Signal {
	return c.signal
}

// Arm starts a one-shot timer that fires the Signal after d. A zero duration
// fires it as soon as the timer goroutine runs.
func (c *Controller) Arm(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return &LifecycleError{Op: "arm", Err: ErrClosed}
	case c.timer != nil:
		return &LifecycleError{Op: "arm", Err: ErrAlreadyArmed}
	case d < 0:
		return &LifecycleError{Op: "arm", Err: ErrNegativeDuration.Reason(d.String())}
	}

	c.timer = time.AfterFunc(d, func() {
		if c.signal.SignalCause(CauseDuration) {
			c.log.Info().Dur("duration", d).Msg("duration elapsed, stopping workers")
		}
	})

	return nil
}

// RegisterTerminationHandler installs the termination listener. The first
// request fires the Signal and unregisters the handler, so a second request
// gets the default (abrupt) behavior.
func (c *Controller) RegisterTerminationHandler() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return &LifecycleError{Op: "register", Err: ErrClosed}
	case c.sigCh != nil:
		return &LifecycleError{Op: "register", Err: ErrAlreadyRegistered}
	case c.notifier == nil:
		return &LifecycleError{Op: "register", Err: ErrMissingNotifier}
	}

	sigCh := make(chan os.Signal, 1)
	c.notifier.Notify(sigCh, c.signals...)
	c.sigCh = sigCh

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		select {
		case received := <-sigCh:
			c.notifier.Stop(sigCh)
			if c.signal.SignalCause(CauseTermination) {
				c.log.Info().Stringer("signal", received).Msg("termination requested, stopping workers")
			}
		case <-c.done:
		}
	}()

	return nil
}

// Start arms the timer and registers the termination handler.
func (c *Controller) Start(d time.Duration) error {
	if err := c.Arm(d); err != nil {
		return err
	}
	return c.RegisterTerminationHandler()
}

// Close stops the timer, unregisters the termination handler and waits for
// the listener to exit. It does not fire the Signal.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.sigCh != nil {
		c.notifier.Stop(c.sigCh)
	}
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
	c.signal.release()
}
