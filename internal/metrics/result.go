package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCacheTTL bounds how stale a cached CurrentResult may be.
const DefaultCacheTTL = time.Second

// ResultOption customizes a ScenarioResult.
type ResultOption func(*ScenarioResult)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) ResultOption {
	return func(r *ScenarioResult) {
		if now != nil {
			r.now = now
		}
	}
}

// WithCacheTTL sets the CurrentResult cache lifetime. Zero disables caching.
func WithCacheTTL(ttl time.Duration) ResultOption {
	return func(r *ScenarioResult) {
		if ttl >= 0 {
			r.cacheTTL = ttl
		}
	}
}

// WithRunID tags produced stats with the run identifier.
func WithRunID(id string) ResultOption {
	return func(r *ScenarioResult) {
		r.runID = id
	}
}

type stepNode struct {
	name      string
	collector *Collector
	skipped   int64
	children  map[string]*stepNode
	order     []string
}

func newStepNode(name string) *stepNode {
	return &stepNode{name: name, collector: NewCollector(), children: make(map[string]*stepNode)}
}

func (n *stepNode) child(name string) *stepNode {
	c, ok := n.children[name]
	if !ok {
		c = newStepNode(name)
		n.children[name] = c
		n.order = append(n.order, name)
	}
	return c
}

func (n *stepNode) record(outcomes []StepOutcome) {
	for _, o := range outcomes {
		c := n.child(o.Name)
		if o.Status == StatusSkipped {
			c.skipped++
		} else {
			c.collector.Record(o.Status, o.Duration, o.Err)
		}
		if len(o.Steps) > 0 {
			c.record(o.Steps)
		}
	}
}

func (n *stepNode) stats(elapsed time.Duration) []StepStats {
	if len(n.order) == 0 {
		return nil
	}
	out := make([]StepStats, 0, len(n.order))
	for _, name := range n.order {
		c := n.children[name]
		ok, failed := c.collector.Stats(elapsed)
		out = append(out, StepStats{
			Name:    name,
			Ok:      ok,
			Failed:  failed,
			Skipped: c.skipped,
			Errors:  c.collector.Errors(),
			Steps:   c.stats(elapsed),
		})
	}
	return out
}

// ScenarioResult is the mutable aggregate of one run. All methods are safe for
// concurrent use; the lock is scoped to this result and held only for the
// duration of a single call.
type ScenarioResult struct {
	mu               sync.Mutex
	name             string
	runID            string
	now              func() time.Time
	cacheTTL         time.Duration
	collector        *Collector
	steps            *stepNode
	phases           map[Phase]PhaseTiming
	lastCompletion   time.Time
	status           RunStatus
	assertionFailure error

	warmupOk     atomic.Int64
	warmupFailed atomic.Int64

	cached   *ScenarioStats
	cachedAt time.Time
}

// NewScenarioResult prepares collectors for the scenario and each declared step.
func NewScenarioResult(name string, steps []string, opts ...ResultOption) *ScenarioResult {
	r := &ScenarioResult{
		name:      name,
		now:       time.Now,
		cacheTTL:  DefaultCacheTTL,
		collector: NewCollector(),
		steps:     newStepNode(""),
		phases:    make(map[Phase]PhaseTiming),
		status:    RunStatusPending,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, s := range steps {
		r.steps.child(s)
	}
	return r
}

// MarkPhaseStart stamps the phase start.
func (r *ScenarioResult) MarkPhaseStart(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases[p] = PhaseTiming{Start: r.now()}
	r.cached = nil
}

// MarkPhaseEnd stamps the phase end. The measurement phase ends at the
// completion of its last recorded iteration.
func (r *ScenarioResult) MarkPhaseEnd(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timing := r.phases[p]
	end := r.now()
	if timing.Start.IsZero() {
		timing.Start = end
	}
	if p == PhaseMeasurement && !r.lastCompletion.IsZero() {
		end = r.lastCompletion
	}
	if end.Before(timing.Start) {
		end = timing.Start
	}
	timing.End = end
	r.phases[p] = timing
	r.cached = nil
}

// RecordIteration adds one measured iteration and all of its step outcomes.
func (r *ScenarioResult) RecordIteration(o IterationOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.collector.Record(o.Status, o.Duration, o.FirstFailure)
	r.steps.record(o.Steps)
	if o.EndedAt.After(r.lastCompletion) {
		r.lastCompletion = o.EndedAt
	}
}

// RecordWarmup counts a warmup iteration for liveness only.
func (r *ScenarioResult) RecordWarmup(status Status) {
	if status == StatusOk {
		r.warmupOk.Add(1)
		return
	}
	r.warmupFailed.Add(1)
}

// SetStatus updates the run status.
func (r *ScenarioResult) SetStatus(s RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
	r.cached = nil
}

// SetAssertionFailure records the assertion error that ended or failed the run.
// The first recorded failure wins.
func (r *ScenarioResult) SetAssertionFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.assertionFailure == nil {
		r.assertionFailure = err
		r.cached = nil
	}
}

// AssertionFailure returns the recorded assertion error, if any.
func (r *ScenarioResult) AssertionFailure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assertionFailure
}

// CurrentResult returns an immutable copy of the aggregate. Unless force is set,
// a copy computed within the cache TTL may be returned.
func (r *ScenarioResult) CurrentResult(force bool) ScenarioStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !force && r.cached != nil && now.Sub(r.cachedAt) < r.cacheTTL {
		return *r.cached
	}

	stats := r.compute(now)
	r.cached = &stats
	r.cachedAt = now
	return stats
}

func (r *ScenarioResult) compute(now time.Time) ScenarioStats {
	elapsed := r.measurementElapsed(now)
	ok, failed := r.collector.Stats(elapsed)

	phases := make(map[Phase]PhaseTiming, len(r.phases))
	for p, t := range r.phases {
		phases[p] = t
	}

	stats := ScenarioStats{
		ScenarioName: r.name,
		RunID:        r.runID,
		Status:       r.status,
		Ok:           ok,
		Failed:       failed,
		Steps:        r.steps.stats(elapsed),
		Phases:       phases,
		Duration:     elapsed,
		DurationMs:   millis(elapsed),
		Errors:       r.collector.Errors(),
		Warmup: WarmupCounts{
			Ok:     r.warmupOk.Load(),
			Failed: r.warmupFailed.Load(),
		},
		CreatedAt: now,
	}
	if r.assertionFailure != nil {
		stats.AssertionFailure = r.assertionFailure.Error()
	}
	return stats
}

func (r *ScenarioResult) measurementElapsed(now time.Time) time.Duration {
	timing, ok := r.phases[PhaseMeasurement]
	if !ok || timing.Start.IsZero() {
		return 0
	}
	end := timing.End
	if end.IsZero() {
		end = now
	}
	if end.Before(timing.Start) {
		return 0
	}
	return end.Sub(timing.Start)
}
