package runner

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/dgramfire/internal/lifecycle"
	"github.com/torosent/dgramfire/internal/sender"
	"github.com/torosent/dgramfire/internal/worker"
)

// Options configure the Runner.
type Options struct {
	Workers      int                 // number of paced workers (>= 1)
	Destination  sender.Destination  // target of every datagram
	Duration     time.Duration       // run length; 0 stops right after the first sends
	Interval     time.Duration       // mean pause between two sends of one worker
	ArrivalModel worker.ArrivalModel // uniform or poisson pacing
	SendTimeout  time.Duration       // per-send deadline
	Sender       sender.Sender       // datagram transmitter (required)
	Recorder     worker.Recorder     // optional per-send metrics sink
	Tracer       trace.Tracer        // optional per-send spans
	Logger       zerolog.Logger
	Notifier     lifecycle.Notifier // termination source; process signals when nil
	RunID        string             // generated when empty
}

func (o *Options) normalize() {
	if o.Interval <= 0 {
		o.Interval = worker.DefaultInterval
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = sender.DefaultTimeout
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = worker.ArrivalModelUniform
	}
	if o.Duration < 0 {
		o.Duration = 0
	}
	if o.RunID == "" {
		o.RunID = ulid.Make().String()
	}
}
