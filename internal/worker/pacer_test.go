package worker

import (
	"context"
	"testing"
	"time"
)

func TestUniformPacerSpacesWaits(t *testing.T) {
	p := NewPacer(ArrivalModelUniform, 100*time.Millisecond, 1)

	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("first Wait() took %s, want about one interval", elapsed)
	}

	start = time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("second Wait() took %s, want about one interval", elapsed)
	}
}

func TestUniformPacerReturnsContextErrorAtDeadline(t *testing.T) {
	p := NewPacer(ArrivalModelUniform, 200*time.Millisecond, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := p.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestUniformPacerHonorsCancellation(t *testing.T) {
	p := NewPacer(ArrivalModelUniform, time.Hour, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := p.Wait(ctx); err == nil {
		t.Fatal("Wait() should fail once the context is done")
	}
}

func TestPoissonPacerUsesSampler(t *testing.T) {
	p := &poissonPacer{interval: 10 * time.Millisecond, sample: func() float64 { return 2 }}

	if got := p.nextDelay(); got != 20*time.Millisecond {
		t.Fatalf("nextDelay() = %s, want 20ms", got)
	}

	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("Wait() returned after %s, want >= 40ms", elapsed)
	}
}

func TestPoissonPacerHonorsCancellation(t *testing.T) {
	p := NewPacer(ArrivalModelPoisson, time.Hour, 7)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Wait(ctx); err != context.Canceled {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestNewPacerDefaultsInterval(t *testing.T) {
	p, ok := NewPacer(ArrivalModelPoisson, 0, 1).(*poissonPacer)
	if !ok {
		t.Fatal("expected poisson pacer")
	}
	if p.interval != DefaultInterval {
		t.Fatalf("interval = %s, want %s", p.interval, DefaultInterval)
	}
	if _, ok := NewPacer("unknown", time.Second, 1).(*uniformPacer); !ok {
		t.Fatal("unknown model should fall back to uniform")
	}
}
