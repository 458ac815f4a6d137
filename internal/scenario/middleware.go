package scenario

import (
	"time"

	"go.uber.org/zap"
)

// FailureLogger receives failed step executions.
type FailureLogger interface {
	LogFailure(step string, err error)
}

// RetryPolicy configures retry behavior.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	Delay       time.Duration                              // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(error) bool                           // predicate; if nil, all errors retried
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
}

// WithRetry wraps an action with retry capability. All attempts count as one
// execution of the step; only the last error is reported.
func WithRetry(action Action, policy RetryPolicy) Action {
	if policy.MaxAttempts <= 1 {
		return action // no retries needed
	}
	return func(sc *StepContext) error {
		ctx := sc.Context()
		var lastErr error
		for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			lastErr = action(sc)
			if lastErr == nil {
				return nil
			}

			// Don't delay after the last attempt.
			if attempt == policy.MaxAttempts {
				break
			}
			if policy.ShouldRetry != nil && !policy.ShouldRetry(lastErr) {
				return lastErr
			}
			sc.Logger.Debug("retrying step", zap.Int("attempt", attempt), zap.Error(lastErr))

			delay := policy.Delay
			if policy.DelayFunc != nil {
				delay = policy.DelayFunc(attempt, lastErr)
			}
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				}
			}
		}
		return lastErr
	}
}

// WithLogging wraps an action to report its failures. A nil logger logs at
// warn level through the step logger.
func WithLogging(action Action, logger FailureLogger) Action {
	return func(sc *StepContext) error {
		err := action(sc)
		if err == nil {
			return nil
		}
		if logger != nil {
			logger.LogFailure(sc.StepPath(), err)
		} else {
			sc.Logger.Warn("step failed", zap.Error(err))
		}
		return err
	}
}
