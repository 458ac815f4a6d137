package metrics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownStep is returned when a step lookup names no recorded or declared step.
var ErrUnknownStep = errors.New("unknown step")

// Phase is one stage of a run.
type Phase string

const (
	PhaseInit        Phase = "init"
	PhaseWarmup      Phase = "warmup"
	PhaseMeasurement Phase = "measurement"
	PhaseCleanup     Phase = "cleanup"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusFailed    RunStatus = "failed"
)

// PhaseTiming holds the start and end of a phase. End is zero while the phase runs.
type PhaseTiming struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end,omitempty"`
}

// Duration is End-Start, or zero for a phase that has not ended.
func (p PhaseTiming) Duration() time.Duration {
	if p.Start.IsZero() || p.End.IsZero() {
		return 0
	}
	return p.End.Sub(p.Start)
}

// WarmupCounts are the liveness counters kept during warmup.
type WarmupCounts struct {
	Ok     int64 `json:"ok"`
	Failed int64 `json:"failed"`
}

// StepStats is the immutable aggregate of one step and its sub-steps.
type StepStats struct {
	Name    string           `json:"name"`
	Ok      Stats            `json:"ok"`
	Failed  Stats            `json:"failed"`
	Skipped int64            `json:"skipped"`
	Errors  map[string]int64 `json:"errors,omitempty"`
	Steps   []StepStats      `json:"steps,omitempty"`
}

// RequestCount is Ok plus Failed executions of the step.
func (s StepStats) RequestCount() int64 {
	return s.Ok.RequestCount + s.Failed.RequestCount
}

// ScenarioStats is an immutable point-in-time copy of a ScenarioResult.
// Values handed out by ScenarioResult may be shared between callers and must
// not be modified.
type ScenarioStats struct {
	ScenarioName     string                `json:"scenario"`
	RunID            string                `json:"run_id,omitempty"`
	Status           RunStatus             `json:"status"`
	Ok               Stats                 `json:"ok"`
	Failed           Stats                 `json:"failed"`
	Steps            []StepStats           `json:"steps"`
	Phases           map[Phase]PhaseTiming `json:"phases"`
	Duration         time.Duration         `json:"-"`
	DurationMs       float64               `json:"duration_ms"`
	Errors           map[string]int64      `json:"errors,omitempty"`
	Warmup           WarmupCounts          `json:"warmup"`
	AssertionFailure string                `json:"assertion_failure,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
}

// AllRequestCount is Ok plus Failed iterations.
func (s ScenarioStats) AllRequestCount() int64 {
	return s.Ok.RequestCount + s.Failed.RequestCount
}

// Step looks up a step by name; further names descend into sub-steps.
func (s ScenarioStats) Step(path ...string) (StepStats, error) {
	if len(path) == 0 {
		return StepStats{}, fmt.Errorf("%w: empty step path", ErrUnknownStep)
	}
	level := s.Steps
	var found StepStats
	for depth, name := range path {
		ok := false
		for _, st := range level {
			if st.Name == name {
				found, ok = st, true
				break
			}
		}
		if !ok {
			return StepStats{}, fmt.Errorf("%w: %q", ErrUnknownStep, strings.Join(path[:depth+1], "/"))
		}
		level = found.Steps
	}
	return found, nil
}
