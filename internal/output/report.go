package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/torosent/stepfire/internal/metrics"
)

// Report formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Report is the JSON document written for a finished run.
type Report struct {
	Stats     metrics.ScenarioStats `json:"stats"`
	Snapshots []metrics.Snapshot    `json:"snapshots,omitempty"`
}

// WriteReport writes stats in format (text or json).
func WriteReport(w io.Writer, format string, stats metrics.ScenarioStats, snapshots []metrics.Snapshot) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		PrintReport(w, stats)
		return nil
	case FormatJSON:
		return PrintJSONReport(w, stats, snapshots)
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, stats metrics.ScenarioStats) {
	fmt.Fprintf(w, "\n--- Scenario Results: %s ---\n", stats.ScenarioName)
	if stats.RunID != "" {
		fmt.Fprintf(w, "Run ID:            %s\n", stats.RunID)
	}
	fmt.Fprintf(w, "Status:            %s\n", stats.Status)
	fmt.Fprintf(w, "Iterations:        %d\n", stats.AllRequestCount())
	fmt.Fprintf(w, "Successful:        %d\n", stats.Ok.RequestCount)
	fmt.Fprintf(w, "Failed:            %d\n", stats.Failed.RequestCount)
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration)
	fmt.Fprintf(w, "Iterations/sec:    %.2f\n", stats.Ok.RequestsPerSec+stats.Failed.RequestsPerSec)
	if stats.Warmup.Ok+stats.Warmup.Failed > 0 {
		fmt.Fprintf(w, "Warmup:            ok=%d failed=%d\n", stats.Warmup.Ok, stats.Warmup.Failed)
	}

	if stats.Ok.RequestCount > 0 {
		fmt.Fprintln(w, "\nLatency (ok):")
		writeLatency(w, stats.Ok, "  ")
	}
	if stats.Failed.RequestCount > 0 {
		fmt.Fprintln(w, "\nLatency (failed):")
		writeLatency(w, stats.Failed, "  ")
	}

	if len(stats.Steps) > 0 {
		fmt.Fprintln(w, "\nStep Breakdown:")
		writeSteps(w, stats.Steps, stats.AllRequestCount(), "  ")
	}

	if rows := metrics.FlattenErrorBuckets(stats); len(rows) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, row := range rows {
			where := "scenario"
			if row.Step != "" {
				where = row.Step
			}
			fmt.Fprintf(w, "  %s %s: %d\n", where, row.Kind, row.Count)
		}
	}

	if stats.AssertionFailure != "" {
		fmt.Fprintf(w, "\nAssertion failed: %s\n", stats.AssertionFailure)
	}
}

func writeLatency(w io.Writer, s metrics.Stats, indent string) {
	fmt.Fprintf(w, "%sMin:             %s\n", indent, s.Min)
	fmt.Fprintf(w, "%sMax:             %s\n", indent, s.Max)
	fmt.Fprintf(w, "%sMean:            %s\n", indent, s.Mean)
	fmt.Fprintf(w, "%sStdDev:          %s\n", indent, s.StdDev)
	fmt.Fprintf(w, "%sP50:             %s\n", indent, s.Median)
	fmt.Fprintf(w, "%sP75:             %s\n", indent, s.P75)
	fmt.Fprintf(w, "%sP95:             %s\n", indent, s.P95)
	fmt.Fprintf(w, "%sP99:             %s\n", indent, s.P99)
}

func writeSteps(w io.Writer, steps []metrics.StepStats, total int64, indent string) {
	for _, step := range steps {
		share := 0.0
		if total > 0 {
			share = (float64(step.RequestCount()) / float64(total)) * 100
		}
		fmt.Fprintf(
			w,
			"%s- %s: total=%d (%.1f%%), ok=%d, failed=%d, skipped=%d, rps=%.2f, p99=%s\n",
			indent,
			step.Name,
			step.RequestCount(),
			share,
			step.Ok.RequestCount,
			step.Failed.RequestCount,
			step.Skipped,
			step.Ok.RequestsPerSec+step.Failed.RequestsPerSec,
			step.Ok.P99,
		)
		if len(step.Steps) > 0 {
			writeSteps(w, step.Steps, step.RequestCount(), indent+"  ")
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, stats metrics.ScenarioStats, snapshots []metrics.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Report{Stats: stats, Snapshots: snapshots})
}

// topError returns the most frequent scenario-level error kind.
func topError(stats metrics.ScenarioStats) (string, int64, bool) {
	if len(stats.Errors) == 0 {
		return "", 0, false
	}
	kinds := make([]string, 0, len(stats.Errors))
	for kind := range stats.Errors {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if stats.Errors[kinds[i]] != stats.Errors[kinds[j]] {
			return stats.Errors[kinds[i]] > stats.Errors[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})
	return kinds[0], stats.Errors[kinds[0]], true
}
