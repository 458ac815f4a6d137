package scenario

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/stepfire/internal/metrics"
	"github.com/torosent/stepfire/internal/tracing"
	"github.com/torosent/stepfire/internal/variables"
)

// RunIteration executes one pass through the steps and returns its outcome.
// Panics in actions are recovered and reported as step failures. Steps after
// the first failure are recorded as skipped and not executed. A step about to
// start after ctx was cancelled fails with the cancellation cause.
func (s *Scenario) RunIteration(ctx context.Context, info IterationInfo) metrics.IterationOutcome {
	logger := info.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.Int64("iteration", info.Number))

	var span trace.Span
	if info.Tracer != nil {
		ctx, span = tracing.StartIterationSpan(ctx, info.Tracer, s.Name, info.Number)
	}

	store := variables.NewStore(info.Data)
	ctx = variables.NewContext(ctx, store)

	root := &frame{}
	sc := &StepContext{
		ScenarioName: s.Name,
		Data:         info.Data,
		Vars:         store,
		Logger:       logger,
		ctx:          ctx,
		iteration:    info.Number,
		stopping:     info.Stopping,
		tracer:       info.Tracer,
		frame:        root,
	}

	startedAt := time.Now()
	for _, step := range s.Steps {
		if root.failure != nil {
			root.steps = append(root.steps, metrics.StepOutcome{Name: step.Name, Status: metrics.StatusSkipped})
			continue
		}
		var out metrics.StepOutcome
		if ctx.Err() != nil {
			out = metrics.StepOutcome{Name: step.Name, Status: metrics.StatusFailed, Err: context.Cause(ctx)}
		} else {
			out = sc.runStep(root.child(step.Name), step.Name, step.Action)
		}
		root.steps = append(root.steps, out)
		if out.Status == metrics.StatusFailed {
			root.failure = out.Err
			logger.Debug("step failed", zap.String("step", step.Name), zap.Error(out.Err))
		}
	}
	endedAt := time.Now()

	outcome := metrics.IterationOutcome{
		Number:       info.Number,
		Status:       metrics.StatusOk,
		Duration:     endedAt.Sub(startedAt),
		StartedAt:    startedAt,
		EndedAt:      endedAt,
		Steps:        root.steps,
		FirstFailure: root.failure,
	}
	if root.failure != nil {
		outcome.Status = metrics.StatusFailed
	}
	if span != nil {
		endSpan(span, root.failure, outcome.Status)
	}
	return outcome
}

func startStepSpan(ctx context.Context, tracer trace.Tracer, path string) (context.Context, trace.Span) {
	return tracing.StartStepSpan(ctx, tracer, path)
}

func endSpan(span trace.Span, err error, status metrics.Status) {
	tracing.EndSpan(span, err, tracing.AttrStatus.String(status.String()))
}
