// Package runner executes one bounded traffic run for dgramfire.
//
// A [Runner] owns the run's cancellation signal through a lifecycle
// controller, starts a pool of paced workers that share it and waits for
// all of them to stop:
//
//	r := runner.New(runner.Options{
//		Workers:     4,
//		Destination: sender.Destination{Host: "127.0.0.1", Port: 9999},
//		Duration:    3 * time.Second,
//		Sender:      udp,
//		Recorder:    collector,
//	})
//	result, err := r.Run(ctx)
//
// The run ends when the duration elapses or a termination request arrives,
// whichever happens first. Workers finish their in-flight send, so the run
// lasts at most the duration plus one send timeout.
//
// # Arrival Models
//
// Sends of one worker are paced by:
//   - [worker.ArrivalModelUniform]: one send per interval
//   - [worker.ArrivalModelPoisson]: exponential gaps with a mean of one interval
//
// # Errors
//
// Failed sends are counted in [Result.Errors] and never fail the run. Run
// returns an error only when the run could not start (missing sender,
// invalid destination, lifecycle registration failure) or a worker stopped
// abnormally.
package runner
