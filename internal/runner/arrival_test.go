package runner

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

func TestPoissonArrivalNextDelayUsesSampler(t *testing.T) {
	ctrl := &poissonArrival{sample: func() float64 { return 1 }}
	ctrl.SetRate(200)
	delay := ctrl.nextDelay()
	expected := time.Second / 200
	if delay != expected {
		t.Fatalf("expected delay %s, got %s", expected, delay)
	}
}

func TestPoissonArrivalWaitCancelledContext(t *testing.T) {
	ctrl := &poissonArrival{sample: func() float64 { return 1 }}
	ctrl.SetRate(0.000001)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ctrl.Wait(ctx); err == nil {
		t.Fatalf("expected context error when cancelled")
	}
}

func TestPoissonArrivalZeroRateDoesNotWait(t *testing.T) {
	ctrl := &poissonArrival{sample: func() float64 { return 1 }}
	if err := ctrl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestUniformArrivalSpacing(t *testing.T) {
	opt := Options{}
	opt.normalize()
	ctrl := newArrivalController(opt, rand.New(rand.NewSource(1)))
	ctrl.SetRate(100)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 6; i++ {
		if err := ctrl.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	// First start is immediate, then one every 10ms.
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("6 starts at 100/s took %s, want >= 50ms spacing", elapsed)
	}
}

func TestUniformArrivalFreshWindowStartsImmediately(t *testing.T) {
	opt := Options{}
	opt.normalize()
	ctrl := newArrivalController(opt, rand.New(rand.NewSource(1)))

	ctrl.SetRate(1)
	if err := ctrl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	ctrl.SetRate(1)
	start := time.Now()
	if err := ctrl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("first start of a new window was delayed")
	}
}

func TestNewArrivalControllerPoisson(t *testing.T) {
	opt := Options{ArrivalModel: ArrivalModelPoisson}
	opt.normalize()
	if _, ok := newArrivalController(opt, rand.New(rand.NewSource(1))).(*poissonArrival); !ok {
		t.Fatal("expected poisson controller")
	}
}
