package scenario

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/stepfire/internal/feeder"
	"github.com/torosent/stepfire/internal/metrics"
	"github.com/torosent/stepfire/internal/variables"
)

// IterationInfo carries what the executor knows about one iteration.
type IterationInfo struct {
	Number int64
	Data   feeder.Record
	Logger *zap.Logger
	// Tracer, when set, opens a span per iteration and per step.
	Tracer trace.Tracer
	// Stopping is closed when the run has been asked to stop.
	Stopping <-chan struct{}
}

// frame is one level of the step tree of an iteration. Sub-step outcomes are
// appended to the frame of the step that ran them.
type frame struct {
	parent  *frame
	path    string
	steps   []metrics.StepOutcome
	failure error
}

func (f *frame) child(name string) *frame {
	path := name
	if f.path != "" {
		path = f.path + "/" + name
	}
	return &frame{parent: f, path: path}
}

// StepContext is the iteration-scoped context handed to step actions.
// It must not be retained after the action returns.
type StepContext struct {
	ScenarioName string
	// Data is the input record of the iteration, or nil without input data.
	Data feeder.Record
	// Vars holds values shared between the steps of this iteration.
	Vars variables.Store
	// Logger is scoped to the scenario, iteration and step.
	Logger *zap.Logger

	ctx       context.Context
	iteration int64
	stopping  <-chan struct{}
	tracer    trace.Tracer
	frame     *frame
}

// Context returns the context of the step. It is cancelled when the run stops
// its in-flight iterations.
func (c *StepContext) Context() context.Context {
	return c.ctx
}

// Iteration is the number of this iteration within its phase, starting at 0.
func (c *StepContext) Iteration() int64 {
	return c.iteration
}

// StepPath is the slash separated path of the running step, e.g. "checkout/pay".
func (c *StepContext) StepPath() string {
	return c.frame.path
}

// Stopping is closed once the run has been asked to stop. Long running actions
// may poll it to finish early.
func (c *StepContext) Stopping() <-chan struct{} {
	return c.stopping
}

// Run executes action as a named sub-step of the current step and returns its
// error. Sub-steps of one step run in order: after a sub-step failed, further
// calls record a skipped sub-step and return ErrSkipped. A failed sub-step
// fails its parent step even if the parent action returns nil.
func (c *StepContext) Run(name string, action Action) error {
	f := c.frame
	if f.failure != nil {
		f.steps = append(f.steps, metrics.StepOutcome{Name: name, Status: metrics.StatusSkipped})
		return ErrSkipped
	}
	out := c.runStep(f.child(name), name, action)
	f.steps = append(f.steps, out)
	if out.Status == metrics.StatusFailed {
		f.failure = out.Err
		return out.Err
	}
	return nil
}

// runStep executes one step in frame f and returns its outcome.
func (c *StepContext) runStep(f *frame, name string, action Action) metrics.StepOutcome {
	ctx := c.ctx
	var span trace.Span
	if c.tracer != nil {
		ctx, span = startStepSpan(ctx, c.tracer, f.path)
	}

	child := &StepContext{
		ScenarioName: c.ScenarioName,
		Data:         c.Data,
		Vars:         c.Vars,
		Logger:       c.Logger.With(zap.String("step", f.path)),
		ctx:          ctx,
		iteration:    c.iteration,
		stopping:     c.stopping,
		tracer:       c.tracer,
		frame:        f,
	}

	start := time.Now()
	err := callAction(child, f.path, action)
	if err == nil && f.failure != nil {
		err = f.failure
	}
	out := metrics.StepOutcome{
		Name:     name,
		Status:   metrics.StatusOk,
		Duration: time.Since(start),
		Steps:    f.steps,
	}
	if err != nil {
		out.Status = metrics.StatusFailed
		out.Err = err
	}
	if span != nil {
		endSpan(span, err, out.Status)
	}
	return out
}

func callAction(sc *StepContext, path string, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(path, r)
		}
	}()
	if action == nil {
		return errNilAction
	}
	return action(sc)
}
