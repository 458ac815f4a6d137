package runner

import (
	"context"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/stepfire/internal/metrics"
)

// ArrivalModel selects how starts are spaced inside a rate window.
type ArrivalModel string

const (
	// ArrivalModelUniform spaces starts evenly.
	ArrivalModelUniform ArrivalModel = "uniform"
	// ArrivalModelPoisson draws exponential gaps with the window's mean rate.
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// Defaults applied by normalize.
const (
	DefaultMaxConcurrency    = 256
	DefaultAssertionInterval = time.Second
	DefaultSnapshotInterval  = time.Second
	DefaultSnapshotCapacity  = 100
)

// Reporter receives the final statistics after cleanup. Errors are logged and
// never mask an earlier run failure.
type Reporter interface {
	Report(ctx context.Context, stats metrics.ScenarioStats, snapshots []metrics.Snapshot) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, stats metrics.ScenarioStats, snapshots []metrics.Snapshot) error

func (f ReporterFunc) Report(ctx context.Context, stats metrics.ScenarioStats, snapshots []metrics.Snapshot) error {
	return f(ctx, stats, snapshots)
}

// Options configure the Runner.
type Options struct {
	MaxConcurrency    int           // worker ceiling for open-loop entries
	AssertionInterval time.Duration // while-running assertion period
	SnapshotInterval  time.Duration // snapshot sampling period
	SnapshotCapacity  int           // retained snapshots
	ResultCacheTTL    time.Duration // CurrentResult staleness bound (0 uses the metrics default)
	// GracefulShutdown controls in-flight iterations when a phase stops early:
	// 0 lets them finish, >0 cancels their context after this long, <0 cancels at once.
	GracefulShutdown time.Duration
	ArrivalModel     ArrivalModel
	RandomSeed       int64
	RunID            string // tags logs, spans and reports; a new ULID when empty
	Logger           *zap.Logger
	Tracer           trace.Tracer // optional; spans per iteration and step
	Reporters        []Reporter
	Clock            func() time.Time // result timestamps; tests inject a fake

	LimiterFactory func(rps float64) *rate.Limiter // optional injection for tests
	PoissonSampler func() float64                  // optional injection for tests
}

func (o *Options) normalize() {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.AssertionInterval <= 0 {
		o.AssertionInterval = DefaultAssertionInterval
	}
	if o.SnapshotInterval <= 0 {
		o.SnapshotInterval = DefaultSnapshotInterval
	}
	if o.SnapshotCapacity <= 0 {
		o.SnapshotCapacity = DefaultSnapshotCapacity
	}
	if o.ResultCacheTTL <= 0 {
		o.ResultCacheTTL = metrics.DefaultCacheTTL
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = ArrivalModelUniform
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = rand.Int63()
	}
	if o.RunID == "" {
		o.RunID = ulid.Make().String()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps float64) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst of one keeps starts evenly spaced inside a window.
			return rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}
