package runner

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/stepfire/internal/feeder"
	"github.com/torosent/stepfire/internal/loadprofile"
)

type collected struct {
	mu   sync.Mutex
	jobs []job
	at   []time.Time
}

func (c *collected) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// runScheduler runs profiles through a scheduler whose jobs are consumed by
// consume (or completed at once when consume is nil).
func runScheduler(t *testing.T, profiles []loadprofile.Profile, data feeder.Feeder, bounded bool, consume func(job)) (*collected, error) {
	t.Helper()
	opt := Options{RandomSeed: 7}
	opt.normalize()

	jobs := make(chan job)
	s := &scheduler{
		opt:    opt,
		plan:   compilePlan(profiles),
		jobs:   jobs,
		data:   data,
		rng:    rand.New(rand.NewSource(7)),
		logger: opt.Logger,
	}

	got := &collected{}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := range jobs {
			got.mu.Lock()
			got.jobs = append(got.jobs, j)
			got.at = append(got.at, time.Now())
			got.mu.Unlock()
			if consume != nil {
				consume(j)
			} else if j.done != nil {
				j.done()
			}
		}
	}()

	err := s.run(context.Background(), bounded)
	close(jobs)
	wg.Wait()
	return got, err
}

func TestSchedulerBurstEmitsCount(t *testing.T) {
	got, err := runScheduler(t, []loadprofile.Profile{loadprofile.Burst(25)}, nil, false, nil)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if got.count() != 25 {
		t.Fatalf("emitted %d, want 25", got.count())
	}
	for i, j := range got.jobs {
		if j.number != int64(i) {
			t.Fatalf("job %d numbered %d", i, j.number)
		}
	}
}

func TestSchedulerFixedRateSpreadsStarts(t *testing.T) {
	start := time.Now()
	got, err := runScheduler(t, []loadprofile.Profile{
		loadprofile.FixedRate(5, 100*time.Millisecond, 300*time.Millisecond),
	}, nil, false, nil)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	elapsed := time.Since(start)

	if n := got.count(); n < 13 || n > 15 {
		t.Fatalf("emitted %d, want about 15", n)
	}
	if elapsed < 280*time.Millisecond {
		t.Fatalf("entry ended after %s, want its full duration", elapsed)
	}
	first, last := got.at[0], got.at[len(got.at)-1]
	if last.Sub(first) < 150*time.Millisecond {
		t.Fatalf("starts spread over %s, want most of the entry", last.Sub(first))
	}
}

func TestSchedulerRampInterpolates(t *testing.T) {
	start := time.Now()
	got, err := runScheduler(t, []loadprofile.Profile{loadprofile.Ramp(0, 100, 2*time.Second)}, nil, false, nil)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}

	// The area under 0→100 rps over 2s is 100 starts, 25 of them in the first second.
	if n := got.count(); n < 95 || n > 100 {
		t.Fatalf("emitted %d, want about 100", n)
	}
	firstSecond := 0
	for _, at := range got.at {
		if at.Sub(start) < time.Second {
			firstSecond++
		}
	}
	if firstSecond < 20 || firstSecond > 30 {
		t.Fatalf("first second emitted %d, want about 25", firstSecond)
	}
}

func TestSchedulerRandomRateWithinBounds(t *testing.T) {
	// One full one-second window plus a half window drawing half the rate.
	got, err := runScheduler(t, []loadprofile.Profile{
		loadprofile.RandomRate(10, 20, 1500*time.Millisecond),
	}, nil, false, nil)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if n := got.count(); n < 15 || n > 30 {
		t.Fatalf("emitted %d, want within [15, 30]", n)
	}
}

func TestSchedulerPauseEmitsNothing(t *testing.T) {
	start := time.Now()
	got, err := runScheduler(t, []loadprofile.Profile{loadprofile.Pause(80 * time.Millisecond)}, nil, false, nil)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if got.count() != 0 {
		t.Fatalf("emitted %d during pause", got.count())
	}
	if time.Since(start) < 70*time.Millisecond {
		t.Fatal("pause ended early")
	}
}

func TestSchedulerConcurrencyRefillsSlots(t *testing.T) {
	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	consume := func(j job) {
		wg.Add(1)
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		go func() {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			j.done()
		}()
	}

	got, err := runScheduler(t, []loadprofile.Profile{
		loadprofile.FixedConcurrency(3, 150*time.Millisecond),
	}, nil, false, consume)
	wg.Wait()
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if peak.Load() > 3 {
		t.Fatalf("peak in flight = %d, want <= 3", peak.Load())
	}
	if got.count() <= 3 {
		t.Fatalf("emitted %d, want slots refilled", got.count())
	}
}

func TestSchedulerDrawsDataInEmissionOrder(t *testing.T) {
	ds := feeder.New(feeder.Static(
		feeder.Record{"id": "a"},
		feeder.Record{"id": "b"},
	), feeder.Loop)

	got, err := runScheduler(t, []loadprofile.Profile{loadprofile.Burst(5)}, ds, false, nil)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	want := []string{"a", "b", "a", "b", "a"}
	for i, j := range got.jobs {
		if j.data["id"] != want[i] {
			t.Fatalf("job %d data = %v, want id %s", i, j.data, want[i])
		}
	}
}

func TestSchedulerKeepsRecordWhenEntryEndsDuringHandoff(t *testing.T) {
	ds := feeder.New(feeder.Static(
		feeder.Record{"id": "a"},
		feeder.Record{"id": "b"},
		feeder.Record{"id": "c"},
	), feeder.Loop)

	// The first start blocks the only consumer past the end of the rate entry,
	// so the second start is still waiting for a worker when the entry ends.
	got, err := runScheduler(t, []loadprofile.Profile{
		loadprofile.FixedRate(10, 100*time.Millisecond, 100*time.Millisecond),
		loadprofile.Burst(1),
	}, ds, false, func(j job) {
		if j.number == 0 {
			time.Sleep(150 * time.Millisecond)
		}
	})
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if got.count() != 2 {
		t.Fatalf("emitted %d, want 2", got.count())
	}
	for i, want := range []string{"a", "b"} {
		if got.jobs[i].data["id"] != want {
			t.Fatalf("job %d data = %v, want id %s", i, got.jobs[i].data, want)
		}
	}
}

func TestSchedulerBoundedStopsWhenExhausted(t *testing.T) {
	ds := feeder.New(feeder.Static(
		feeder.Record{"id": "1"},
		feeder.Record{"id": "2"},
		feeder.Record{"id": "3"},
	), feeder.Loop, feeder.Bounded(true))

	got, err := runScheduler(t, nil, ds, true, nil)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if got.count() != 3 {
		t.Fatalf("emitted %d, want one per record", got.count())
	}
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	opt := Options{}
	opt.normalize()
	jobs := make(chan job)
	s := &scheduler{
		opt:    opt,
		plan:   compilePlan([]loadprofile.Profile{loadprofile.FixedRate(10, time.Second, time.Minute)}),
		jobs:   jobs,
		rng:    rand.New(rand.NewSource(1)),
		logger: opt.Logger,
	}
	go func() {
		for range jobs {
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.run(ctx, false) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v, want nil on cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	close(jobs)
}
