package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// maxErrorKinds bounds the per-collector error breakdown; further kinds share otherErrorKind.
const (
	maxErrorKinds  = 64
	otherErrorKind = "other"
)

// Stats is an immutable aggregate of one outcome class.
type Stats struct {
	RequestCount   int64         `json:"request_count"`
	RequestsPerSec float64       `json:"requests_per_sec"`
	Min            time.Duration `json:"-"`
	Mean           time.Duration `json:"-"`
	Max            time.Duration `json:"-"`
	StdDev         time.Duration `json:"-"`
	Median         time.Duration `json:"-"`
	P75            time.Duration `json:"-"`
	P95            time.Duration `json:"-"`
	P99            time.Duration `json:"-"`

	// JSON-friendly millisecond fields.
	MinMs    float64 `json:"min_ms"`
	MeanMs   float64 `json:"mean_ms"`
	MaxMs    float64 `json:"max_ms"`
	StdDevMs float64 `json:"stddev_ms"`
	MedianMs float64 `json:"median_ms"`
	P75Ms    float64 `json:"p75_ms"`
	P95Ms    float64 `json:"p95_ms"`
	P99Ms    float64 `json:"p99_ms"`
}

// ErrorKinder lets step errors choose the label they are counted under.
type ErrorKinder interface {
	ErrorKind() string
}

// latencyRecorder streams one outcome class into a bounded histogram.
// Not safe for concurrent use; Collector serializes access.
type latencyRecorder struct {
	hist  *hdrhistogram.Histogram
	count int64
	min   time.Duration
	max   time.Duration
	mean  float64 // running mean in nanoseconds (Welford)
	m2    float64
}

func newLatencyRecorder() latencyRecorder {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	return latencyRecorder{hist: hdrhistogram.New(1, 60_000_000, 3)}
}

func (r *latencyRecorder) record(latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	us := latency.Microseconds()
	if us < r.hist.LowestTrackableValue() {
		us = r.hist.LowestTrackableValue()
	}
	if us > r.hist.HighestTrackableValue() {
		us = r.hist.HighestTrackableValue()
	}
	_ = r.hist.RecordValue(us)

	r.count++
	if r.count == 1 || latency < r.min {
		r.min = latency
	}
	if latency > r.max {
		r.max = latency
	}
	x := float64(latency)
	delta := x - r.mean
	r.mean += delta / float64(r.count)
	r.m2 += delta * (x - r.mean)
}

func (r *latencyRecorder) stats(elapsed time.Duration) Stats {
	if r.count == 0 {
		return Stats{}
	}
	s := Stats{
		RequestCount: r.count,
		Min:          r.min,
		Max:          r.max,
		Mean:         r.clamp(time.Duration(r.mean)),
	}
	if r.count > 1 {
		s.StdDev = time.Duration(math.Sqrt(r.m2 / float64(r.count)))
	}
	// Quantiles are non-decreasing in q and clamping is monotone, so the order
	// min <= median <= p75 <= p95 <= p99 <= max survives histogram rounding.
	s.Median = r.quantile(50)
	s.P75 = r.quantile(75)
	s.P95 = r.quantile(95)
	s.P99 = r.quantile(99)

	if elapsed > 0 {
		s.RequestsPerSec = float64(r.count) / elapsed.Seconds()
	}
	s.fillMillis()
	return s
}

func (r *latencyRecorder) quantile(q float64) time.Duration {
	return r.clamp(time.Duration(r.hist.ValueAtQuantile(q)) * time.Microsecond)
}

func (r *latencyRecorder) clamp(d time.Duration) time.Duration {
	if d < r.min {
		return r.min
	}
	if d > r.max {
		return r.max
	}
	return d
}

func (s *Stats) fillMillis() {
	s.MinMs = millis(s.Min)
	s.MeanMs = millis(s.Mean)
	s.MaxMs = millis(s.Max)
	s.StdDevMs = millis(s.StdDev)
	s.MedianMs = millis(s.Median)
	s.P75Ms = millis(s.P75)
	s.P95Ms = millis(s.P95)
	s.P99Ms = millis(s.P99)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Collector records Ok and Failed outcomes in a thread-safe manner.
type Collector struct {
	mu     sync.Mutex
	ok     latencyRecorder
	failed latencyRecorder
	errors map[string]int64
}

func NewCollector() *Collector {
	return &Collector{
		ok:     newLatencyRecorder(),
		failed: newLatencyRecorder(),
		errors: make(map[string]int64),
	}
}

// Record adds one outcome. Skipped outcomes carry no latency and are ignored.
func (c *Collector) Record(status Status, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch status {
	case StatusOk:
		c.ok.record(latency)
	case StatusFailed:
		c.failed.record(latency)
		if err != nil {
			c.countError(err)
		}
	}
}

func (c *Collector) countError(err error) {
	kind := ErrorKindOf(err)
	if _, seen := c.errors[kind]; !seen && len(c.errors) >= maxErrorKinds {
		kind = otherErrorKind
	}
	c.errors[kind]++
}

// Stats computes the Ok and Failed aggregates; elapsed drives the rate.
func (c *Collector) Stats(elapsed time.Duration) (ok, failed Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ok.stats(elapsed), c.failed.stats(elapsed)
}

// Errors returns a copy of the failure breakdown by error kind.
func (c *Collector) Errors() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.errors) == 0 {
		return nil
	}
	out := make(map[string]int64, len(c.errors))
	for k, v := range c.errors {
		out[k] = v
	}
	return out
}
