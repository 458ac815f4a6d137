package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/stepfire/internal/metrics"
)

// StatsSource exposes live statistics, typically a running *runner.Runner.
type StatsSource interface {
	CurrentResult(force bool) metrics.ScenarioStats
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	source   StatsSource
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source StatsSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		source:   source,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, progressLine(p.source.CurrentResult(false)))
		case <-p.done:
			return
		}
	}
}

func progressLine(stats metrics.ScenarioStats) string {
	line := fmt.Sprintf("\r[%s] Iterations: %d | Ok: %d | Failed: %d | RPS: %.1f | P99: %.1fms",
		stats.Status,
		stats.AllRequestCount(),
		stats.Ok.RequestCount,
		stats.Failed.RequestCount,
		stats.Ok.RequestsPerSec+stats.Failed.RequestsPerSec,
		stats.Ok.P99Ms,
	)
	if kind, count, ok := topError(stats); ok {
		line += fmt.Sprintf(" | Top Error: %s (%d)", kind, count)
	}
	return line
}
