package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/stepfire/internal/feeder"
	"github.com/torosent/stepfire/internal/loadprofile"
	"github.com/torosent/stepfire/internal/metrics"
	"github.com/torosent/stepfire/internal/scenario"
)

// Runner executes one scenario run: init, warmup, measurement, assertions,
// cleanup and reporting. A Runner is single use.
type Runner struct {
	sc        *scenario.Scenario
	opt       Options
	runID     string
	logger    *zap.Logger
	result    *metrics.ScenarioResult
	snapshots *metrics.EvenlySpreadSnapshots
	data      *feeder.Dataset
	rng       *rand.Rand
	pending   feeder.Record // drawn by a scheduler but never handed over

	started  atomic.Bool
	stopOnce sync.Once
	stopping chan struct{}
	stopMu   sync.Mutex
	stopErr  error
}

// New validates sc and prepares a run. The scenario must not change afterwards.
func New(sc *scenario.Scenario, opt Options) (*Runner, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	opt.normalize()

	runID := opt.RunID
	r := &Runner{
		sc:        sc,
		opt:       opt,
		runID:     runID,
		logger:    opt.Logger.With(zap.String("scenario", sc.Name), zap.String("run_id", runID)),
		snapshots: metrics.NewEvenlySpreadSnapshots(opt.SnapshotCapacity),
		rng:       rand.New(rand.NewSource(opt.RandomSeed)),
		stopping:  make(chan struct{}),
	}
	r.result = metrics.NewScenarioResult(sc.Name, sc.StepNames(),
		metrics.WithClock(opt.Clock),
		metrics.WithCacheTTL(opt.ResultCacheTTL),
		metrics.WithRunID(runID),
	)
	if sc.Data != nil {
		r.data = feeder.New(sc.Data.Source, sc.Data.Behavior,
			feeder.WithSeed(opt.RandomSeed),
			feeder.Bounded(sc.Bounded()),
		)
	}
	return r, nil
}

// RunID identifies this run in logs, spans and reports.
func (r *Runner) RunID() string { return r.runID }

// PlannedDuration is the scheduled time of warmup plus measurement. Bursts and
// data bounded runs contribute nothing.
func (r *Runner) PlannedDuration() time.Duration {
	return loadprofile.TotalDuration(r.sc.Warmup) + loadprofile.TotalDuration(r.sc.Load)
}

// CurrentResult returns the live statistics. Without force, a copy up to the
// cache TTL old may be returned.
func (r *Runner) CurrentResult(force bool) metrics.ScenarioStats {
	return r.result.CurrentResult(force)
}

// Snapshots returns the retained measurement timeline in time order.
func (r *Runner) Snapshots() []metrics.Snapshot {
	return r.snapshots.GetSnapshots()
}

// Stop asks the run to finish early. The first reason wins; a nil reason
// becomes ErrStopped. Stop is safe to call at any time, including before Run.
func (r *Runner) Stop(reason error) {
	if reason == nil {
		reason = ErrStopped
	}
	r.signalStop(reason)
}

func (r *Runner) signalStop(reason error) {
	r.stopOnce.Do(func() {
		r.stopMu.Lock()
		r.stopErr = reason
		r.stopMu.Unlock()
		close(r.stopping)
	})
}

func (r *Runner) stopReason() error {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	return r.stopErr
}

// Run executes the scenario and returns the final statistics. The error, if
// any, is the most significant failure: an InitError, a while-running
// AssertionError, a StopError, a when-done AssertionError, then a
// CleanupError or reporter failure.
func (r *Runner) Run(ctx context.Context) (metrics.ScenarioStats, error) {
	if !r.started.CompareAndSwap(false, true) {
		return metrics.ScenarioStats{}, ErrAlreadyStarted
	}

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	go func() {
		select {
		case <-r.stopping:
			cancelRun(r.stopReason())
		case <-runCtx.Done():
			r.signalStop(context.Cause(runCtx))
		}
	}()

	r.result.SetStatus(metrics.RunStatusRunning)
	r.logger.Info("run started",
		zap.Int("steps", len(r.sc.Steps)),
		zap.Duration("planned", r.PlannedDuration()),
		zap.Bool("bounded", r.sc.Bounded()),
	)

	var whileErr, stopErr, whenDoneErr, cleanupErr error
	initErr := r.initPhase(runCtx)
	if initErr != nil {
		r.result.SetStatus(metrics.RunStatusFailed)
		r.logger.Error("init failed", zap.Error(initErr))
	} else {
		whileErr, stopErr, whenDoneErr = r.loadPhases(runCtx)
		cleanupErr = r.cleanupPhase(ctx)
	}

	stats := r.result.CurrentResult(true)
	reportErr := r.report(context.WithoutCancel(ctx), stats)

	err := firstError(initErr, whileErr, stopErr, whenDoneErr, cleanupErr, reportErr)
	r.logger.Info("run finished",
		zap.String("status", string(stats.Status)),
		zap.Int64("ok", stats.Ok.RequestCount),
		zap.Int64("failed", stats.Failed.RequestCount),
		zap.Duration("duration", stats.Duration),
		zap.Error(err),
	)
	return stats, err
}

func (r *Runner) hookContext() *scenario.Context {
	return &scenario.Context{ScenarioName: r.sc.Name, RunID: r.runID, Logger: r.logger}
}

func (r *Runner) initPhase(ctx context.Context) error {
	r.result.MarkPhaseStart(metrics.PhaseInit)
	defer r.result.MarkPhaseEnd(metrics.PhaseInit)

	if r.sc.Init != nil {
		if err := callHook(ctx, r.sc.Init, r.hookContext()); err != nil {
			return &InitError{Err: err}
		}
	}
	if r.data != nil {
		if err := r.data.Resolve(ctx); err != nil {
			return &InitError{Err: fmt.Errorf("input data: %w", err)}
		}
		r.logger.Info("input data resolved", zap.Int("records", r.data.Len()))
	}
	return nil
}

func (r *Runner) loadPhases(ctx context.Context) (whileErr, stopErr, whenDoneErr error) {
	if len(r.sc.Warmup) > 0 {
		r.result.MarkPhaseStart(metrics.PhaseWarmup)
		err := r.runPhase(ctx, metrics.PhaseWarmup, r.sc.Warmup, false, func(o metrics.IterationOutcome) {
			r.result.RecordWarmup(o.Status)
		}, nil)
		r.result.MarkPhaseEnd(metrics.PhaseWarmup)
		if err != nil {
			r.result.SetStatus(metrics.RunStatusFailed)
			return nil, &StopError{Cause: err}, nil
		}
		if ctx.Err() != nil {
			r.result.SetStatus(metrics.RunStatusStopped)
			return nil, &StopError{Cause: context.Cause(ctx)}, nil
		}
	}

	whileErr, stopErr = r.measure(ctx)
	if whileErr != nil || stopErr != nil {
		return whileErr, stopErr, nil
	}

	r.result.SetStatus(metrics.RunStatusCompleted)
	if r.sc.WhenDone != nil {
		if err := r.assert(r.sc.WhenDone); err != nil {
			r.result.SetAssertionFailure(err)
			r.result.SetStatus(metrics.RunStatusFailed)
			r.logger.Warn("when-done assertion failed", zap.Error(err))
			whenDoneErr = &AssertionError{When: WhenDone, Err: err}
		}
	}
	return nil, nil, whenDoneErr
}

func (r *Runner) measure(ctx context.Context) (whileErr, stopErr error) {
	mctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r.result.MarkPhaseStart(metrics.PhaseMeasurement)
	r.takeSnapshot()

	// While-running assertions apply only until the whole plan is scheduled.
	var (
		gate      sync.Mutex
		scheduled bool
	)
	watchCtx, stopWatch := context.WithCancel(mctx)
	endWatch := func() {
		gate.Lock()
		scheduled = true
		gate.Unlock()
		stopWatch()
	}
	fail := func(aerr *AssertionError) bool {
		gate.Lock()
		defer gate.Unlock()
		if scheduled {
			return false
		}
		r.signalStop(aerr)
		cancel(aerr)
		return true
	}

	var watching sync.WaitGroup
	watching.Add(1)
	go func() {
		defer watching.Done()
		r.watch(watchCtx, fail)
	}()

	err := r.runPhase(mctx, metrics.PhaseMeasurement, r.sc.Load, r.sc.Bounded(), r.result.RecordIteration, endWatch)
	endWatch()
	watching.Wait()

	r.result.MarkPhaseEnd(metrics.PhaseMeasurement)
	r.takeSnapshot()

	var aerr *AssertionError
	switch cause := context.Cause(mctx); {
	case errors.As(cause, &aerr):
		return aerr, nil
	case err != nil:
		r.result.SetStatus(metrics.RunStatusFailed)
		return nil, &StopError{Cause: err}
	case ctx.Err() != nil:
		r.result.SetStatus(metrics.RunStatusStopped)
		return nil, &StopError{Cause: context.Cause(ctx)}
	}
	return nil, nil
}

// watch samples snapshots and evaluates the while-running assertion until ctx
// is done. A failing assertion is handed to fail, which stops the measurement
// unless the plan has already been fully scheduled.
func (r *Runner) watch(ctx context.Context, fail func(*AssertionError) bool) {
	snapshots := time.NewTicker(r.opt.SnapshotInterval)
	defer snapshots.Stop()

	var assertions <-chan time.Time
	if r.sc.WhileRunning != nil {
		t := time.NewTicker(r.opt.AssertionInterval)
		defer t.Stop()
		assertions = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-snapshots.C:
			r.takeSnapshot()
		case <-assertions:
			if ctx.Err() != nil {
				return
			}
			err := r.assert(r.sc.WhileRunning)
			if err == nil {
				continue
			}
			if !fail(&AssertionError{When: WhileRunning, Err: err}) {
				return
			}
			r.result.SetAssertionFailure(err)
			r.result.SetStatus(metrics.RunStatusStopped)
			r.logger.Warn("while-running assertion failed, stopping run", zap.Error(err))
			return
		}
	}
}

func (r *Runner) takeSnapshot() {
	r.snapshots.AddSnapshot(metrics.NewSnapshot(r.result.CurrentResult(true)))
}

func (r *Runner) assert(check scenario.Assertion) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("assertion panicked: %v", v)
		}
	}()
	return check(r.result.CurrentResult(true))
}

// cleanupPhase runs Clean even when the run was cancelled.
func (r *Runner) cleanupPhase(ctx context.Context) error {
	r.result.MarkPhaseStart(metrics.PhaseCleanup)
	defer r.result.MarkPhaseEnd(metrics.PhaseCleanup)

	if r.sc.Clean == nil {
		return nil
	}
	if err := callHook(context.WithoutCancel(ctx), r.sc.Clean, r.hookContext()); err != nil {
		r.logger.Error("cleanup failed", zap.Error(err))
		return &CleanupError{Err: err}
	}
	return nil
}

func (r *Runner) report(ctx context.Context, stats metrics.ScenarioStats) error {
	if len(r.opt.Reporters) == 0 {
		return nil
	}
	snapshots := r.Snapshots()
	var errs []error
	for _, rep := range r.opt.Reporters {
		if err := rep.Report(ctx, stats, snapshots); err != nil {
			r.logger.Error("reporter failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("report: %w", errors.Join(errs...))
	}
	return nil
}

func callHook(ctx context.Context, hook scenario.Hook, sc *scenario.Context) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("hook panicked: %v\n%s", v, debug.Stack())
		}
	}()
	return hook(ctx, sc)
}
