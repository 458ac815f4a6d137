package metrics

import "time"

// Status is the outcome class of a step or iteration.
type Status int

const (
	StatusOk Status = iota
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// StepOutcome is the result of one step inside one iteration. Steps holds the
// outcomes of sub-steps the step ran, in execution order.
type StepOutcome struct {
	Name     string
	Status   Status
	Duration time.Duration
	Err      error
	Steps    []StepOutcome
}

// IterationOutcome is the result of one pass through a scenario's steps.
type IterationOutcome struct {
	Number       int64
	Status       Status
	Duration     time.Duration
	StartedAt    time.Time
	EndedAt      time.Time
	Steps        []StepOutcome
	FirstFailure error
}
