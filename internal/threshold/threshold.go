// Package threshold turns assertion strings such as "ok.p95 < 250" or
// "step:login.fail.rate < 0.01" into scenario assertions.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/stepfire/internal/metrics"
	"github.com/torosent/stepfire/internal/scenario"
)

// Outcome classes.
const (
	ClassOk   = "ok"
	ClassFail = "fail"
	ClassAll  = "all"
)

var pattern = regexp.MustCompile(`^(?:step:(\S+?)\.)?(ok|fail|all)\.([a-z0-9]+)\s*(<=|>=|==|<|>)\s*([0-9]*\.?[0-9]+)$`)

// Threshold is one parsed assertion.
type Threshold struct {
	Step     string  // optional step path, e.g. "checkout/pay"; empty means the whole scenario
	Class    string  // ok, fail or all
	Metric   string  // count, rps, min, mean, max, stddev, p50, p75, p95, p99, rate
	Operator string  // <, <=, >, >=, ==
	Value    float64 // latency metrics are in milliseconds
	Raw      string
}

// Result is the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// FailedError lists the thresholds that did not hold.
type FailedError struct {
	Results []Result
}

func (e *FailedError) Error() string {
	checks := make([]string, len(e.Results))
	for i, r := range e.Results {
		checks[i] = fmt.Sprintf("%s (actual %.2f)", r.Threshold.Raw, r.Actual)
	}
	return "thresholds failed: " + strings.Join(checks, "; ")
}

// Evaluator evaluates thresholds against scenario statistics.
type Evaluator struct {
	thresholds []Threshold
}

func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate checks every threshold. It fails only when a threshold names a
// step the statistics do not contain.
func (e *Evaluator) Evaluate(stats metrics.ScenarioStats) ([]Result, error) {
	if len(e.thresholds) == 0 {
		return nil, nil
	}
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		actual, err := valueOf(t, stats)
		if err != nil {
			return nil, fmt.Errorf("threshold %q: %w", t.Raw, err)
		}
		pass := compareValues(actual, t.Operator, t.Value)
		status := "✓"
		if !pass {
			status = "✗"
		}
		results = append(results, Result{
			Threshold: t,
			Actual:    actual,
			Pass:      pass,
			Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
		})
	}
	return results, nil
}

// Assertion adapts thresholds to a scenario assertion that returns a
// *FailedError listing every failed check.
func Assertion(thresholds []Threshold) scenario.Assertion {
	eval := NewEvaluator(thresholds)
	return func(stats metrics.ScenarioStats) error {
		results, err := eval.Evaluate(stats)
		if err != nil {
			return err
		}
		var failed []Result
		for _, r := range results {
			if !r.Pass {
				failed = append(failed, r)
			}
		}
		if len(failed) > 0 {
			return &FailedError{Results: failed}
		}
		return nil
	}
}

// Parse parses a threshold string of the form
//
//	[step:<path>.]<class>.<metric> <op> <value>
//
// for example "all.rps >= 100" or "step:checkout/pay.ok.p99 < 800".
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected [step:<path>.]<class>.<metric> <op> <value>, e.g. 'ok.p95 < 500')", s)
	}
	value, err := strconv.ParseFloat(m[5], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", m[5], err)
	}

	t := Threshold{Step: m[1], Class: m[2], Metric: m[3], Operator: m[4], Value: value, Raw: s}
	switch {
	case !isLatencyMetric(t.Metric) && !isCountMetric(t.Metric):
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: count, rps, rate, min, mean, max, stddev, p50, p75, p95, p99)", t.Metric)
	case t.Class == ClassAll && isLatencyMetric(t.Metric):
		return Threshold{}, fmt.Errorf("latency metric %q needs the ok or fail class", t.Metric)
	}
	return t, nil
}

// ParseMultiple parses every string and reports all malformed entries together.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string
	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}
	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}
	return result, nil
}

func isLatencyMetric(metric string) bool {
	switch metric {
	case "min", "mean", "max", "stddev", "p50", "p75", "p95", "p99":
		return true
	}
	return false
}

func isCountMetric(metric string) bool {
	switch metric {
	case "count", "rps", "rate":
		return true
	}
	return false
}

func valueOf(t Threshold, stats metrics.ScenarioStats) (float64, error) {
	ok, failed := stats.Ok, stats.Failed
	if t.Step != "" {
		step, err := stats.Step(strings.Split(t.Step, "/")...)
		if err != nil {
			return 0, err
		}
		ok, failed = step.Ok, step.Failed
	}

	var s metrics.Stats
	switch t.Class {
	case ClassOk:
		s = ok
	case ClassFail:
		s = failed
	case ClassAll:
		s = metrics.Stats{
			RequestCount:   ok.RequestCount + failed.RequestCount,
			RequestsPerSec: ok.RequestsPerSec + failed.RequestsPerSec,
		}
	}

	switch t.Metric {
	case "count":
		return float64(s.RequestCount), nil
	case "rps":
		return s.RequestsPerSec, nil
	case "rate":
		// Share of all executions that fell in the class; fail.rate is the failure rate.
		total := ok.RequestCount + failed.RequestCount
		if total == 0 {
			return 0, nil
		}
		return float64(s.RequestCount) / float64(total), nil
	case "min":
		return s.MinMs, nil
	case "mean":
		return s.MeanMs, nil
	case "max":
		return s.MaxMs, nil
	case "stddev":
		return s.StdDevMs, nil
	case "p50":
		return s.MedianMs, nil
	case "p75":
		return s.P75Ms, nil
	case "p95":
		return s.P95Ms, nil
	case "p99":
		return s.P99Ms, nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
