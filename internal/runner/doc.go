// Package runner drives a scenario through its run phases.
//
// A run is init, optional warmup, measurement, when-done assertion, cleanup and
// reporting, in that order:
//
//	r, err := runner.New(sc, runner.Options{MaxConcurrency: 64, Logger: logger})
//	if err != nil {
//		return err
//	}
//	stats, err := r.Run(ctx)
//
// # Scheduling
//
// Each phase compiles its load profiles into a plan that a single scheduler
// goroutine walks entry by entry. Open-loop entries (fixed_rate, ramp,
// random_rate) emit starts per time window, paced by the [ArrivalModel];
// fixed_concurrency keeps a constant number of iterations in flight; burst
// emits back to back; pause emits nothing. Workers from a fixed pool execute
// the starts, so a slow system under test is never hit by more than
// [Options.MaxConcurrency] concurrent iterations.
//
// Input records are drawn by the scheduler at emission time. A scenario with
// input data and no load profile is data bounded: one iteration per record.
//
// # Stopping
//
// [Runner.Stop], cancelling the context passed to Run, or a failing
// while-running assertion end the measurement early. In-flight iterations are
// then governed by [Options.GracefulShutdown]. Cleanup always runs once init
// succeeded.
//
// # Errors
//
// Run reports the most significant failure, in priority order: [InitError],
// a while-running [AssertionError], [StopError], a when-done [AssertionError],
// [CleanupError], then reporter failures. Failed iterations alone never fail a
// run; use assertions for that.
package runner
