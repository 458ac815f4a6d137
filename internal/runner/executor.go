package runner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/stepfire/internal/feeder"
	"github.com/torosent/stepfire/internal/loadprofile"
	"github.com/torosent/stepfire/internal/metrics"
	"github.com/torosent/stepfire/internal/scenario"
)

// phaseSink receives every completed iteration of a phase.
type phaseSink func(metrics.IterationOutcome)

// runPhase drives the scheduler and a fixed pool of workers over profiles and
// returns once every started iteration has completed. Cancelling ctx stops
// scheduling; in-flight iterations are governed by GracefulShutdown.
// scheduled, if set, is called when the scheduler has stopped emitting.
func (r *Runner) runPhase(ctx context.Context, phase metrics.Phase, profiles []loadprofile.Profile, bounded bool, sink phaseSink, scheduled func()) error {
	plan := compilePlan(profiles)
	workers := r.opt.MaxConcurrency
	if plan.maxConcurrency > workers {
		workers = plan.maxConcurrency
	}
	logger := r.logger.With(zap.String("phase", string(phase)))
	logger.Info("phase started",
		zap.Int("workers", workers),
		zap.Duration("planned", plan.totalDuration()),
		zap.Bool("bounded", bounded),
	)

	iterCtx, release := r.iterationContext(ctx)
	defer release()

	var data feeder.Feeder
	if r.data != nil {
		data = r.data
	}
	jobs := make(chan job)
	sched := &scheduler{
		opt:     r.opt,
		plan:    plan,
		jobs:    jobs,
		data:    data,
		rng:     r.rng,
		logger:  logger,
		pending: r.pending,
	}

	var g errgroup.Group
	g.Go(func() error {
		defer close(jobs)
		err := sched.run(ctx, bounded)
		if scheduled != nil {
			scheduled()
		}
		return err
	})
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for j := range jobs {
				// Starts handed over after the phase stopped are dropped.
				if ctx.Err() == nil {
					sink(r.sc.RunIteration(iterCtx, scenario.IterationInfo{
						Number:   j.number,
						Data:     j.data,
						Logger:   logger,
						Tracer:   r.opt.Tracer,
						Stopping: r.stopping,
					}))
				}
				if j.done != nil {
					j.done()
				}
			}
			return nil
		})
	}
	err := g.Wait()
	r.pending = sched.pending
	logger.Info("phase finished", zap.Int64("started", sched.next), zap.Error(err))
	return err
}

// iterationContext derives the context of in-flight iterations from the phase
// context. It outlives a stopped phase by the graceful shutdown window.
func (r *Runner) iterationContext(phaseCtx context.Context) (context.Context, func()) {
	iterCtx, cancel := context.WithCancelCause(context.WithoutCancel(phaseCtx))

	var mu sync.Mutex
	var timer *time.Timer
	stop := context.AfterFunc(phaseCtx, func() {
		cause := context.Cause(phaseCtx)
		switch grace := r.opt.GracefulShutdown; {
		case grace < 0:
			cancel(cause)
		case grace > 0:
			mu.Lock()
			timer = time.AfterFunc(grace, func() { cancel(cause) })
			mu.Unlock()
		}
	})

	return iterCtx, func() {
		stop()
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		cancel(nil)
	}
}
