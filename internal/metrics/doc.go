// Package metrics aggregates the outcomes of scenario iterations.
//
// A [ScenarioResult] is the mutable sink for one run. Iteration outcomes are
// recorded into a scenario level [Collector] and a tree of per-step collectors:
//
//	result := metrics.NewScenarioResult("checkout", []string{"login", "pay"})
//	result.MarkPhaseStart(metrics.PhaseMeasurement)
//	result.RecordIteration(outcome)
//	stats := result.CurrentResult(false)
//
// # Statistics
//
// [ScenarioStats] is an immutable copy taken at a point in time. Each outcome
// class (Ok, Failed) carries a [Stats] value with the request count, rate and
// latency distribution (min, mean, max, stddev, p50, p75, p95, p99). Latencies
// are streamed into an HDR histogram, so memory stays bounded regardless of
// run length. Quantiles and the mean are clamped to the exact min and max.
//
// Failures are broken down by error kind. A step error can choose its label by
// implementing [ErrorKinder]. Cancellation, timeouts and network failures get
// fixed labels; otherwise [FriendlyErrorName] derives one from the error's type. The number of distinct kinds per collector is bounded.
//
// # Snapshots
//
// [EvenlySpreadSnapshots] keeps a bounded timeline of stats for the whole run:
// the first and latest snapshots plus an evenly spread sample in between.
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Warmup iterations only
// touch atomic counters and never contend with measured iterations.
package metrics
