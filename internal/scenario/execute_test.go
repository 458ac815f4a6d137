package scenario_test

import (
	"context"
	"errors"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/torosent/stepfire/internal/feeder"
	"github.com/torosent/stepfire/internal/metrics"
	"github.com/torosent/stepfire/internal/scenario"
)

func statuses(steps []metrics.StepOutcome) []metrics.Status {
	out := make([]metrics.Status, len(steps))
	for i, s := range steps {
		out[i] = s.Status
	}
	return out
}

func TestRunIterationRunsStepsInOrder(t *testing.T) {
	var order []string
	record := func(name string) scenario.Action {
		return func(sc *scenario.StepContext) error {
			order = append(order, name)
			return nil
		}
	}
	sc := &scenario.Scenario{Name: "s", Steps: []scenario.Step{
		{Name: "a", Action: record("a")},
		{Name: "b", Action: record("b")},
		{Name: "c", Action: record("c")},
	}}

	out := sc.RunIteration(context.Background(), scenario.IterationInfo{Number: 3})

	if out.Status != metrics.StatusOk || out.FirstFailure != nil {
		t.Fatalf("outcome = %+v", out)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v", order)
	}
	if out.Number != 3 || out.EndedAt.Before(out.StartedAt) {
		t.Errorf("unexpected iteration metadata: %+v", out)
	}
}

func TestRunIterationSkipsAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	ran := false
	sc := &scenario.Scenario{Name: "s", Steps: []scenario.Step{
		{Name: "a", Action: noop},
		{Name: "b", Action: func(*scenario.StepContext) error { return boom }},
		{Name: "c", Action: func(*scenario.StepContext) error { ran = true; return nil }},
	}}

	out := sc.RunIteration(context.Background(), scenario.IterationInfo{})

	if ran {
		t.Fatal("step after failure was executed")
	}
	if out.Status != metrics.StatusFailed || !errors.Is(out.FirstFailure, boom) {
		t.Fatalf("outcome = %+v", out)
	}
	got := statuses(out.Steps)
	want := []metrics.Status{metrics.StatusOk, metrics.StatusFailed, metrics.StatusSkipped}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", got, want)
		}
	}
}

func TestRunIterationRecoversPanics(t *testing.T) {
	sc := &scenario.Scenario{Name: "s", Steps: []scenario.Step{
		{Name: "explode", Action: func(*scenario.StepContext) error { panic("kaboom") }},
		{Name: "after", Action: noop},
	}}

	out := sc.RunIteration(context.Background(), scenario.IterationInfo{})

	var perr *scenario.PanicError
	if !errors.As(out.FirstFailure, &perr) {
		t.Fatalf("FirstFailure = %v, want *PanicError", out.FirstFailure)
	}
	if perr.Step != "explode" || perr.Value != "kaboom" || len(perr.Stack) == 0 {
		t.Errorf("panic error = %+v", perr)
	}
	if metrics.ErrorKindOf(perr) != "Step panicked" {
		t.Errorf("kind = %q", metrics.ErrorKindOf(perr))
	}
	if out.Steps[1].Status != metrics.StatusSkipped {
		t.Errorf("step after panic = %v", out.Steps[1].Status)
	}
}

func TestRunIterationSubSteps(t *testing.T) {
	boom := errors.New("declined")
	var afterErr error
	sc := &scenario.Scenario{Name: "s", Steps: []scenario.Step{
		{Name: "checkout", Action: func(sc *scenario.StepContext) error {
			if err := sc.Run("cart", func(inner *scenario.StepContext) error {
				if inner.StepPath() != "checkout/cart" {
					t.Errorf("path = %q", inner.StepPath())
				}
				return inner.Run("price", noop)
			}); err != nil {
				return err
			}
			_ = sc.Run("pay", func(*scenario.StepContext) error { return boom })
			afterErr = sc.Run("receipt", noop)
			// The failed sub-step fails the parent even though the action succeeds.
			return nil
		}},
		{Name: "logout", Action: noop},
	}}

	out := sc.RunIteration(context.Background(), scenario.IterationInfo{})

	if !errors.Is(afterErr, scenario.ErrSkipped) {
		t.Errorf("Run after failure = %v, want ErrSkipped", afterErr)
	}
	checkout := out.Steps[0]
	if checkout.Status != metrics.StatusFailed || !errors.Is(checkout.Err, boom) {
		t.Fatalf("checkout = %+v", checkout)
	}
	if len(checkout.Steps) != 3 {
		t.Fatalf("sub-steps = %+v", checkout.Steps)
	}
	got := statuses(checkout.Steps)
	want := []metrics.Status{metrics.StatusOk, metrics.StatusFailed, metrics.StatusSkipped}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sub-step statuses = %v, want %v", got, want)
		}
	}
	if cart := checkout.Steps[0]; len(cart.Steps) != 1 || cart.Steps[0].Name != "price" {
		t.Errorf("cart children = %+v", cart.Steps)
	}
	if out.Steps[1].Status != metrics.StatusSkipped {
		t.Errorf("logout = %v, want skipped", out.Steps[1].Status)
	}

	// Recording the outcome nests sub-steps under their parent.
	result := metrics.NewScenarioResult("s", sc.StepNames())
	result.RecordIteration(out)
	pay, err := result.CurrentResult(true).Step("checkout", "pay")
	if err != nil || pay.Failed.RequestCount != 1 {
		t.Fatalf("checkout/pay = %+v, %v", pay, err)
	}
}

func TestRunIterationSharesVariablesAndData(t *testing.T) {
	sc := &scenario.Scenario{Name: "s", Steps: []scenario.Step{
		{Name: "login", Action: func(sc *scenario.StepContext) error {
			sc.Vars.Set("token", "t-"+sc.Data["user"])
			return nil
		}},
		{Name: "fetch", Action: func(sc *scenario.StepContext) error {
			if got := sc.Vars.Expand("/users/{{user}}?auth={{token}}"); got != "/users/alice?auth=t-alice" {
				return errors.New("unexpected expansion " + got)
			}
			return nil
		}},
	}}

	out := sc.RunIteration(context.Background(), scenario.IterationInfo{Data: feeder.Record{"user": "alice"}})
	if out.Status != metrics.StatusOk {
		t.Fatalf("outcome = %v", out.FirstFailure)
	}
}

func TestRunIterationCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	stop := errors.New("shutdown")
	sc := &scenario.Scenario{Name: "s", Steps: []scenario.Step{
		{Name: "a", Action: func(*scenario.StepContext) error { cancel(stop); return nil }},
		{Name: "b", Action: noop},
		{Name: "c", Action: noop},
	}}

	out := sc.RunIteration(ctx, scenario.IterationInfo{})

	got := statuses(out.Steps)
	want := []metrics.Status{metrics.StatusOk, metrics.StatusFailed, metrics.StatusSkipped}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", got, want)
		}
	}
	if !errors.Is(out.FirstFailure, stop) {
		t.Errorf("FirstFailure = %v, want cancellation cause", out.FirstFailure)
	}
}

func TestRunIterationStoppingChannel(t *testing.T) {
	stopping := make(chan struct{})
	close(stopping)
	sc := &scenario.Scenario{Name: "s", Steps: []scenario.Step{
		{Name: "poll", Action: func(sc *scenario.StepContext) error {
			select {
			case <-sc.Stopping():
				return nil
			default:
				return errors.New("stopping not signalled")
			}
		}},
	}}
	if out := sc.RunIteration(context.Background(), scenario.IterationInfo{Stopping: stopping}); out.Status != metrics.StatusOk {
		t.Fatalf("outcome = %v", out.FirstFailure)
	}
}

func TestRunIterationSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	sc := &scenario.Scenario{Name: "checkout", Steps: []scenario.Step{
		{Name: "pay", Action: func(sc *scenario.StepContext) error {
			return sc.Run("authorize", noop)
		}},
	}}
	sc.RunIteration(context.Background(), scenario.IterationInfo{Number: 1, Tracer: tp.Tracer("test")})

	spans := exporter.GetSpans()
	names := make(map[string]bool, len(spans))
	for _, s := range spans {
		names[s.Name] = true
	}
	for _, want := range []string{"checkout iteration", "step pay", "step pay/authorize"} {
		if !names[want] {
			t.Errorf("missing span %q in %v", want, names)
		}
	}
}
