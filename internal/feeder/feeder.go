// Package feeder resolves the input data of a scenario and serves one record per iteration.
//
// A [Source] is resolved once per run, either from a static list or from a
// one-time provider such as a CSV, JSON or YAML file. A [Dataset] then hands out
// records according to a [Behavior]:
//
//	ds := feeder.New(feeder.CSVSource("users.csv"), feeder.LoopThenRandom, feeder.WithSeed(7))
//	if err := ds.Resolve(ctx); err != nil {
//		return err
//	}
//	rec, err := ds.Next(ctx)
package feeder

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// Record represents a single row of data with named fields.
type Record map[string]string

// Feeder provides per-iteration data from a dataset.
// Implementations must be safe for concurrent use.
type Feeder interface {
	// Next returns the next record or ErrExhausted when no further record may be served.
	Next(ctx context.Context) (Record, error)

	// Close releases any resources held by the feeder.
	Close() error

	// Len returns the total number of records in the dataset.
	Len() int
}

var (
	// ErrExhausted is returned when a bounded dataset completed its single pass.
	ErrExhausted = errors.New("feeder exhausted: no more records available")
	// ErrEmpty is returned when a source resolves to no records.
	ErrEmpty = errors.New("feeder source resolved to no records")
)

// Behavior is the policy used to pick the record of the next iteration.
type Behavior int

const (
	// Loop cycles through the records in order.
	Loop Behavior = iota
	// Random picks a uniform random record for every iteration.
	Random
	// LoopThenRepeatLast makes one ordered pass and then repeats the final record.
	LoopThenRepeatLast
	// LoopThenRandom makes one ordered pass and then picks uniformly at random.
	LoopThenRandom
)

func (b Behavior) String() string {
	switch b {
	case Loop:
		return "loop"
	case Random:
		return "random"
	case LoopThenRepeatLast:
		return "loop_then_repeat_last"
	case LoopThenRandom:
		return "loop_then_random"
	default:
		return fmt.Sprintf("behavior(%d)", int(b))
	}
}

// ParseBehavior maps a configuration label to a Behavior. An empty label means Loop.
func ParseBehavior(s string) (Behavior, error) {
	label := strings.ToLower(strings.TrimSpace(s))
	label = strings.ReplaceAll(label, "-", "_")
	switch label {
	case "", "loop":
		return Loop, nil
	case "random":
		return Random, nil
	case "loop_then_repeat_last":
		return LoopThenRepeatLast, nil
	case "loop_then_random":
		return LoopThenRandom, nil
	default:
		return Loop, fmt.Errorf("unsupported data behavior %q", s)
	}
}

// Option customizes a Dataset.
type Option func(*Dataset)

// WithSeed seeds the random selection so runs are reproducible.
func WithSeed(seed int64) Option {
	return func(d *Dataset) {
		d.rng = rand.New(rand.NewSource(seed))
	}
}

// WithRand sets the random source used for random selection.
func WithRand(rng *rand.Rand) Option {
	return func(d *Dataset) {
		if rng != nil {
			d.rng = rng
		}
	}
}

// Bounded makes every behavior serve exactly one pass and then return ErrExhausted.
// It is used when no load profile drives the run and the data decides the iteration count.
func Bounded(bounded bool) Option {
	return func(d *Dataset) {
		d.bounded = bounded
	}
}

// Dataset serves records from a Source. It is safe for concurrent use.
type Dataset struct {
	src      Source
	behavior Behavior
	bounded  bool

	resolveOnce sync.Once
	resolveErr  error

	mu      sync.Mutex
	records []Record
	served  int
	rng     *rand.Rand
}

var _ Feeder = (*Dataset)(nil)

// New creates a dataset over src. Records are not loaded until Resolve.
func New(src Source, behavior Behavior, opts ...Option) *Dataset {
	d := &Dataset{src: src, behavior: behavior}
	for _, opt := range opts {
		opt(d)
	}
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return d
}

// Resolve loads the records. The source is consulted at most once; later calls
// return the first outcome.
func (d *Dataset) Resolve(ctx context.Context) error {
	d.resolveOnce.Do(func() {
		records, err := d.src.resolve(ctx)
		if err != nil {
			d.resolveErr = fmt.Errorf("resolve %s: %w", d.src, err)
			return
		}
		if len(records) == 0 {
			d.resolveErr = fmt.Errorf("resolve %s: %w", d.src, ErrEmpty)
			return
		}
		d.mu.Lock()
		d.records = records
		d.mu.Unlock()
	})
	return d.resolveErr
}

// Next returns the record for the next iteration, resolving the source first if needed.
func (d *Dataset) Next(ctx context.Context) (Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if err := d.Resolve(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.records)
	if d.bounded && d.served >= n {
		return nil, ErrExhausted
	}

	var idx int
	switch d.behavior {
	case Random:
		idx = d.rng.Intn(n)
	case LoopThenRepeatLast:
		idx = d.served
		if idx >= n {
			idx = n - 1
		}
	case LoopThenRandom:
		idx = d.served
		if idx >= n {
			idx = d.rng.Intn(n)
		}
	default:
		idx = d.served % n
	}
	d.served++
	return d.records[idx], nil
}

// Len returns the number of resolved records, or 0 before Resolve.
func (d *Dataset) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// Close releases resources. Datasets hold records in memory only.
func (d *Dataset) Close() error {
	return nil
}
