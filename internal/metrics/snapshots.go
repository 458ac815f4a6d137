package metrics

import (
	"sync"
	"time"
)

// Snapshot is a timestamped copy of a run's statistics.
type Snapshot struct {
	Timestamp time.Time     `json:"timestamp"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMs float64       `json:"elapsed_ms"`
	Stats     ScenarioStats `json:"stats"`
}

// NewSnapshot wraps stats taken at their CreatedAt time.
func NewSnapshot(stats ScenarioStats) Snapshot {
	return Snapshot{
		Timestamp: stats.CreatedAt,
		Elapsed:   stats.Duration,
		ElapsedMs: millis(stats.Duration),
		Stats:     stats,
	}
}

// EvenlySpreadSnapshots keeps a bounded timeline: the first and the latest
// snapshot plus at most capacity-2 in between, one per equal slice of the time
// between them. Snapshots must be added in time order.
type EvenlySpreadSnapshots struct {
	mu       sync.Mutex
	capacity int
	first    *Snapshot
	middle   []Snapshot
	last     *Snapshot
}

// NewEvenlySpreadSnapshots creates a sampler holding at most capacity snapshots (minimum 2).
func NewEvenlySpreadSnapshots(capacity int) *EvenlySpreadSnapshots {
	if capacity < 2 {
		capacity = 2
	}
	return &EvenlySpreadSnapshots{
		capacity: capacity,
		middle:   make([]Snapshot, 0, capacity),
	}
}

// AddSnapshot appends s as the latest snapshot and thins the retained set.
func (e *EvenlySpreadSnapshots) AddSnapshot(s Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.first == nil {
		e.first = &s
		return
	}
	if e.last != nil {
		e.middle = append(e.middle, *e.last)
	}
	e.last = &s
	e.thin()
}

// thin partitions [first, last] into capacity-1 buckets and keeps the first
// middle snapshot seen in each. Bucket 0 already holds the first snapshot.
func (e *EvenlySpreadSnapshots) thin() {
	span := e.last.Timestamp.Sub(e.first.Timestamp)
	buckets := e.capacity - 1
	if span <= 0 || buckets < 2 {
		e.middle = e.middle[:0]
		return
	}

	width := float64(span) / float64(buckets)
	used := make([]bool, buckets)
	used[0] = true

	kept := e.middle[:0]
	for _, m := range e.middle {
		idx := int(float64(m.Timestamp.Sub(e.first.Timestamp)) / width)
		if idx < 0 {
			idx = 0
		}
		if idx >= buckets {
			idx = buckets - 1
		}
		if used[idx] {
			continue
		}
		used[idx] = true
		kept = append(kept, m)
	}
	e.middle = kept
}

// GetSnapshots returns the retained snapshots in time order.
func (e *EvenlySpreadSnapshots) GetSnapshots() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.first == nil {
		return nil
	}
	out := make([]Snapshot, 0, len(e.middle)+2)
	out = append(out, *e.first)
	out = append(out, e.middle...)
	if e.last != nil {
		out = append(out, *e.last)
	}
	return out
}

// Len is the number of retained snapshots.
func (e *EvenlySpreadSnapshots) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.first == nil:
		return 0
	case e.last == nil:
		return 1
	default:
		return len(e.middle) + 2
	}
}
