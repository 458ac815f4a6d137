package metrics

import "sort"

// ErrorBucket is the failure count of one error kind, either for the whole
// scenario (empty Step) or for one step path such as "checkout/pay".
type ErrorBucket struct {
	Step  string
	Kind  string
	Count int64
}

// FlattenErrorBuckets converts the nested error breakdown of stats into sorted rows.
// Rows are sorted by descending count, then by step/kind for stability.
func FlattenErrorBuckets(stats ScenarioStats) []ErrorBucket {
	var rows []ErrorBucket
	for kind, count := range stats.Errors {
		rows = append(rows, ErrorBucket{Kind: kind, Count: count})
	}
	rows = appendStepBuckets(rows, "", stats.Steps)
	if len(rows) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			if rows[i].Step == rows[j].Step {
				return rows[i].Kind < rows[j].Kind
			}
			return rows[i].Step < rows[j].Step
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}

func appendStepBuckets(rows []ErrorBucket, prefix string, steps []StepStats) []ErrorBucket {
	for _, st := range steps {
		path := st.Name
		if prefix != "" {
			path = prefix + "/" + st.Name
		}
		for kind, count := range st.Errors {
			rows = append(rows, ErrorBucket{Step: path, Kind: kind, Count: count})
		}
		rows = appendStepBuckets(rows, path, st.Steps)
	}
	return rows
}
