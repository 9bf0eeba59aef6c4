package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/torosent/dgramfire/internal/config"
	"github.com/torosent/dgramfire/internal/dashboard"
	"github.com/torosent/dgramfire/internal/lifecycle"
	"github.com/torosent/dgramfire/internal/logging"
	"github.com/torosent/dgramfire/internal/metrics"
	"github.com/torosent/dgramfire/internal/output"
	"github.com/torosent/dgramfire/internal/runner"
	"github.com/torosent/dgramfire/internal/sender"
	"github.com/torosent/dgramfire/internal/threshold"
	"github.com/torosent/dgramfire/internal/tracing"
	"github.com/torosent/dgramfire/internal/worker"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
	historyTimeout   = 5 * time.Second
)

// env carries the process surfaces a run touches.
type env struct {
	stdout   io.Writer
	stderr   io.Writer
	notifier lifecycle.Notifier
}

func main() {
	e := env{stdout: os.Stdout, stderr: os.Stderr, notifier: lifecycle.OSNotifier()}
	if err := run(context.Background(), os.Args[1:], e); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, e env) error {
	loader := config.NewLoader()
	loader.SetOutput(e.stdout)
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	expiresAt, err := cfg.ExpiresAt()
	if err != nil {
		return err
	}
	if err := config.CheckExpiry(time.Now(), expiresAt); err != nil {
		return err
	}

	if cfg.PrintConfig {
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = e.stdout.Write(data)
		return err
	}

	log := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		JSON:   cfg.LogFormat == config.LogFormatJSON,
		Writer: e.stderr,
	})
	for _, warning := range cfg.Warnings() {
		log.Warn().Msg(warning)
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	udp, err := sender.NewUDPSender(
		sender.BuildPayload(cfg.Payload, cfg.PayloadSize),
		sender.WithTimeout(cfg.SendTimeout),
		sender.WithSource(cfg.Source),
	)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	dst := sender.Destination{Host: cfg.Host, Port: cfg.Port}

	opts := runner.Options{
		Workers:      cfg.Workers,
		Destination:  dst,
		Duration:     cfg.Duration,
		Interval:     cfg.Interval,
		ArrivalModel: toWorkerArrivalModel(cfg.Arrival),
		SendTimeout:  cfg.SendTimeout,
		Sender:       udp,
		Recorder:     collector,
		Logger:       log,
		Notifier:     e.notifier,
	}
	if provider.Enabled() {
		opts.Tracer = provider.Tracer()
	}
	r := runner.New(opts)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var dash *dashboard.Dashboard
	if cfg.Dashboard {
		dash, err = dashboard.New(collector, dashboard.RunInfo{
			Destination:  dst.String(),
			Workers:      cfg.Workers,
			Duration:     cfg.Duration,
			Interval:     cfg.Interval,
			ArrivalModel: string(cfg.Arrival),
			PayloadSize:  udp.PayloadSize(),
			RunID:        r.RunID(),
		}, cancel)
		if err != nil {
			return err
		}
		dash.Start()
	}

	var progress *output.ProgressReporter
	if !cfg.Quiet && !cfg.JSONOutput && !cfg.Dashboard {
		progress = output.NewProgressReporter(collector, progressInterval, e.stdout)
		progress.Start()
	}

	startedAt := time.Now().UTC()
	collector.Start()
	result, runErr := r.Run(ctx)
	stats := collector.Stats(result.Duration)

	if dash != nil {
		dash.Stop()
	}
	if progress != nil {
		progress.Stop()
		fmt.Fprintln(e.stdout)
	}
	if runErr != nil {
		return runErr
	}

	results := threshold.NewEvaluator(thresholds).Evaluate(stats)
	summary := output.Summary{
		RunID:       result.RunID,
		Destination: dst.String(),
		Workers:     result.Workers,
		Cause:       string(result.Cause),
		StartedAt:   startedAt,
		Stats:       stats,
		Thresholds:  output.ThresholdResults(results),
	}

	switch {
	case cfg.JSONOutput:
		if err := output.PrintJSONReport(e.stdout, summary); err != nil {
			return err
		}
	case !cfg.Quiet:
		output.PrintReport(e.stdout, summary)
	}

	if cfg.HistoryFile != "" {
		appendHistory(ctx, log, cfg.HistoryFile, summary)
	}

	if failed := threshold.Failed(results); failed > 0 {
		return fmt.Errorf("%d of %d thresholds failed", failed, len(results))
	}
	return nil
}

// appendHistory records the run; a history failure never fails the run.
func appendHistory(ctx context.Context, log zerolog.Logger, path string, summary output.Summary) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	if err := output.AppendHistory(ctx, path, summary); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("history not recorded")
	}
}

func toWorkerArrivalModel(model config.ArrivalModel) worker.ArrivalModel {
	switch model {
	case config.ArrivalModelPoisson:
		return worker.ArrivalModelPoisson
	default:
		return worker.ArrivalModelUniform
	}
}
