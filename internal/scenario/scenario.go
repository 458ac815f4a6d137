// Package scenario declares load test scenarios and executes their iterations.
//
// A [Scenario] is an ordered list of uniquely named steps plus the load profiles
// that drive it. One iteration is a single pass through the steps:
//
//	sc := &scenario.Scenario{
//		Name: "checkout",
//		Steps: []scenario.Step{
//			{Name: "login", Action: login},
//			{Name: "pay", Action: pay},
//		},
//		Load: []loadprofile.Profile{loadprofile.FixedRate(50, time.Second, time.Minute)},
//	}
//
// Steps run strictly in order. The first failing step fails the iteration and
// every later step is skipped. A step may run nested sub-steps through
// [StepContext.Run]; their outcomes are reported under the parent step.
package scenario

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/torosent/stepfire/internal/feeder"
	"github.com/torosent/stepfire/internal/loadprofile"
	"github.com/torosent/stepfire/internal/metrics"
)

// Action is the body of a step. A non-nil error fails the step.
type Action func(ctx *StepContext) error

// Step is a named unit of work inside an iteration.
type Step struct {
	Name   string
	Action Action
}

// Assertion inspects statistics and returns an error to fail the run.
type Assertion func(stats metrics.ScenarioStats) error

// Hook runs once per run, before warmup (Init) or after measurement (Clean).
type Hook func(ctx context.Context, sc *Context) error

// InputData selects the records fed to iterations and the draw policy.
type InputData struct {
	Source   feeder.Source
	Behavior feeder.Behavior
}

// Context is handed to Init and Clean hooks.
type Context struct {
	ScenarioName string
	RunID        string
	Logger       *zap.Logger
}

// Scenario is immutable once a run starts.
type Scenario struct {
	Name  string
	Steps []Step

	// Warmup iterations are counted for liveness only.
	Warmup []loadprofile.Profile
	// Load drives the measured iterations. When empty, the run is bounded by
	// Data and makes one iteration per record.
	Load []loadprofile.Profile

	Data *InputData

	Init  Hook
	Clean Hook

	// WhileRunning is evaluated periodically during measurement; an error stops the run.
	WhileRunning Assertion
	// WhenDone is evaluated once after a measurement that completed normally.
	WhenDone Assertion
}

// StepNames returns the top-level step names in declaration order.
func (s *Scenario) StepNames() []string {
	names := make([]string, len(s.Steps))
	for i, st := range s.Steps {
		names[i] = st.Name
	}
	return names
}

// Bounded reports whether the data set, rather than a load profile, decides
// how many iterations run.
func (s *Scenario) Bounded() bool {
	return len(s.Load) == 0 && s.Data != nil
}

// Validate returns a ValidationError listing every problem with the declaration.
func (s *Scenario) Validate() error {
	if s == nil {
		return ValidationError{issues: []string{"scenario is nil"}}
	}
	var issues []string

	if strings.TrimSpace(s.Name) == "" {
		issues = append(issues, "name is required")
	}
	if len(s.Steps) == 0 {
		issues = append(issues, "at least one step is required")
	}
	seen := make(map[string]int, len(s.Steps))
	for idx, st := range s.Steps {
		name := strings.TrimSpace(st.Name)
		switch {
		case name == "":
			issues = append(issues, fmt.Sprintf("steps[%d]: name is required", idx))
		case strings.Contains(name, "/"):
			issues = append(issues, fmt.Sprintf("steps[%d]: name %q must not contain '/'", idx, name))
		default:
			if prev, dup := seen[name]; dup {
				issues = append(issues, fmt.Sprintf("steps[%d]: duplicate name %q (first at steps[%d])", idx, name, prev))
			} else {
				seen[name] = idx
			}
		}
		if st.Action == nil {
			issues = append(issues, fmt.Sprintf("steps[%d]: action is required", idx))
		}
	}

	issues = append(issues, loadprofile.Issues("warmup", s.Warmup)...)
	issues = append(issues, loadprofile.Issues("load", s.Load)...)

	if len(s.Load) == 0 && s.Data == nil {
		issues = append(issues, "load profile or input data is required")
	}
	if len(s.Load) == 0 && len(s.Warmup) > 0 && s.Data != nil {
		issues = append(issues, "warmup requires a load profile")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
