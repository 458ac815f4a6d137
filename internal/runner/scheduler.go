package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/stepfire/internal/feeder"
	"github.com/torosent/stepfire/internal/loadprofile"
)

const (
	rampWindow   = 100 * time.Millisecond
	randomWindow = time.Second
)

// job is one iteration start handed from the scheduler to a worker.
type job struct {
	number int64
	data   feeder.Record
	done   func() // released by the worker after the iteration completed
}

// scheduler turns the entries of a phase plan into iteration starts. It runs in
// a single goroutine, so input records are drawn in emission order.
type scheduler struct {
	opt     Options
	plan    *phasePlan
	jobs    chan<- job
	data    feeder.Feeder // nil without input data
	rng     *rand.Rand
	logger  *zap.Logger
	next    int64
	pending feeder.Record // drawn but not yet handed to a worker
}

// run emits the whole plan, or one start per record for a data bounded phase.
// It returns nil when ctx is cancelled or the data is exhausted.
func (s *scheduler) run(ctx context.Context, bounded bool) error {
	var err error
	if bounded {
		err = s.runBounded(ctx)
	} else {
		err = s.runPlan(ctx)
	}
	if err == nil || errors.Is(err, feeder.ErrExhausted) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *scheduler) runBounded(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := s.emit(ctx, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *scheduler) runPlan(ctx context.Context) error {
	for idx, entry := range s.plan.entries {
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Debug("load entry started",
			zap.Int("entry", idx),
			zap.Stringer("profile", entry.profile),
		)
		if err := s.runEntry(ctx, entry); err != nil {
			return fmt.Errorf("load entry %d (%s): %w", idx, entry.profile, err)
		}
	}
	return nil
}

// runEntry dispatches to the algorithm of the entry's kind. Timed entries own
// [start, start+duration) and stop emitting at their deadline.
func (s *scheduler) runEntry(ctx context.Context, entry planEntry) error {
	p := entry.profile
	if p.Kind == loadprofile.KindBurst {
		return s.burst(ctx, p.Count)
	}

	start := time.Now()
	end := start.Add(p.Duration)
	ectx, cancel := context.WithDeadline(ctx, end)
	defer cancel()

	var err error
	switch p.Kind {
	case loadprofile.KindFixedRate:
		err = s.windows(ectx, start, end, p.Interval, func(_ int, offset, length time.Duration) int {
			return scaleCount(float64(p.Rate), length, p.Interval)
		})
	case loadprofile.KindRamp:
		var carry float64
		err = s.windows(ectx, start, end, rampWindow, func(_ int, offset, length time.Duration) int {
			rps, _ := s.plan.rateAt(entry.start + offset + length/2)
			target := rps*length.Seconds() + carry
			n := int(math.Floor(target))
			carry = target - float64(n)
			return n
		})
	case loadprofile.KindRandomRate:
		err = s.windows(ectx, start, end, randomWindow, func(_ int, offset, length time.Duration) int {
			drawn := p.MinRate + s.rng.Intn(p.MaxRate-p.MinRate+1)
			return scaleCount(float64(drawn), length, randomWindow)
		})
	case loadprofile.KindFixedConcurrency:
		err = s.concurrency(ectx, p.Concurrency)
	case loadprofile.KindPause:
		err = sleepUntil(ectx, end)
	default:
		err = fmt.Errorf("unsupported profile type %q", p.Kind)
	}

	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// burst emits count starts as fast as the workers accept them.
func (s *scheduler) burst(ctx context.Context, count int) error {
	for i := 0; i < count; i++ {
		if err := s.emit(ctx, nil); err != nil {
			return err
		}
	}
	return nil
}

// windows splits [start, end) into windows of length window and emits count(k,
// offset, length) starts in window k, paced by the arrival controller. The
// last window may be shorter.
func (s *scheduler) windows(ctx context.Context, start, end time.Time, window time.Duration, count func(k int, offset, length time.Duration) int) error {
	pace := newArrivalController(s.opt, s.rng)
	total := end.Sub(start)

	for k := 0; ; k++ {
		offset := time.Duration(k) * window
		if offset >= total {
			return sleepUntil(ctx, end)
		}
		length := window
		if offset+length > total {
			length = total - offset
		}
		windowStart := start.Add(offset)
		if err := sleepUntil(ctx, windowStart); err != nil {
			return err
		}

		n := count(k, offset, length)
		if n > 0 {
			pace.SetRate(float64(n) / length.Seconds())
			for i := 0; i < n; i++ {
				if err := pace.Wait(ctx); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					// The next start would fall past the entry deadline.
					return sleepUntil(ctx, end)
				}
				if err := s.emit(ctx, nil); err != nil {
					return err
				}
			}
		}
	}
}

// concurrency keeps n iterations in flight until ctx ends. A slot is refilled
// as soon as the worker releases it.
func (s *scheduler) concurrency(ctx context.Context, n int) error {
	slots := make(chan struct{}, n)
	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		release := func() { <-slots }
		if err := s.emit(ctx, release); err != nil {
			release()
			return err
		}
	}
}

// emit hands one start to a worker. A record drawn for a start that could not
// be handed over is kept for the next start, so no record is skipped when an
// entry ends while the workers are busy.
func (s *scheduler) emit(ctx context.Context, done func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.data != nil && s.pending == nil {
		next, err := s.data.Next(ctx)
		if err != nil {
			return err
		}
		s.pending = next
	}

	select {
	case s.jobs <- job{number: s.next, data: s.pending, done: done}:
		s.next++
		s.pending = nil
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scaleCount scales a per-window count to a possibly shorter window.
func scaleCount(perWindow float64, length, window time.Duration) int {
	if length >= window {
		return int(perWindow)
	}
	return int(math.Round(perWindow * float64(length) / float64(window)))
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
