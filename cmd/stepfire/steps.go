package main

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/stepfire/internal/extractor"
	"github.com/torosent/stepfire/internal/httpclient"
	"github.com/torosent/stepfire/internal/scenario"
	"github.com/torosent/stepfire/internal/tracing"
)

const (
	maxLoggedBodyBytes = 1024
	maxBodyReadSize    = 1024 * 1024
	baseRetryDelay     = 100 * time.Millisecond
	maxRetryDelay      = 5 * time.Second
)

// httpStep sends one templated request per execution.
type httpStep struct {
	client     *http.Client
	builder    *httpclient.RequestBuilder
	expect     []int
	extractors []extractor.Extractor
	propagate  bool
}

func (s *httpStep) run(sc *scenario.StepContext) error {
	ctx := sc.Context()
	req, err := s.builder.Build(ctx, sc.Vars)
	if err != nil {
		return err
	}

	// Nests under the step span when tracing is on; no-op otherwise.
	tracer := trace.SpanFromContext(ctx).TracerProvider().Tracer("stepfire/http")
	ctx, span := tracing.StartRequestSpan(ctx, tracer, req.Method, req.URL.String())
	req = req.WithContext(ctx)
	if s.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		tracing.EndSpan(span, err)
		return err
	}
	defer resp.Body.Close()

	// Body read errors are non-fatal; extraction sees an empty body.
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyReadSize))
	if readErr != nil {
		body = nil
	}

	resultErr := s.checkStatus(resp.StatusCode, body)
	if len(s.extractors) > 0 {
		values, exErr := extractor.ExtractAll(body, s.extractors, resultErr != nil, sc.Logger)
		for key, value := range values {
			// Empty results must not shadow record fields of the same name.
			if value != "" {
				sc.Vars.Set(key, value)
			}
		}
		if resultErr == nil {
			resultErr = exErr
		}
	}

	tracing.EndSpan(span, resultErr, attribute.Int("http.response.status_code", resp.StatusCode))
	return resultErr
}

func (s *httpStep) checkStatus(code int, body []byte) error {
	ok := code < 400
	if len(s.expect) > 0 {
		ok = slices.Contains(s.expect, code)
	}
	if ok {
		return nil
	}
	snippet := body
	if len(snippet) > maxLoggedBodyBytes {
		snippet = snippet[:maxLoggedBodyBytes]
	}
	return &httpclient.StatusError{
		StatusCode: code,
		Body:       strings.TrimSpace(string(snippet)),
	}
}

// sleepAction pauses the iteration, e.g. to model think time.
func sleepAction(d time.Duration) scenario.Action {
	return func(sc *scenario.StepContext) error {
		ctx := sc.Context()
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

// zapFailureLogger reports failed steps through the run logger.
type zapFailureLogger struct {
	logger *zap.Logger
}

func (l zapFailureLogger) LogFailure(step string, err error) {
	if err == nil {
		return
	}
	l.logger.Warn("step failed", zap.String("step", step), zap.Error(err))
}

type jitterSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (j *jitterSource) jitter(max time.Duration) time.Duration {
	if j == nil || max <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rnd.Int63n(int64(max)))
}

// newRetryPolicy backs off exponentially from base with up to 50% jitter.
func newRetryPolicy(retries int, base time.Duration, source *jitterSource) scenario.RetryPolicy {
	if base <= 0 {
		base = baseRetryDelay
	}
	return scenario.RetryPolicy{
		MaxAttempts: retries + 1,
		ShouldRetry: httpclient.Retryable,
		DelayFunc: func(attempt int, err error) time.Duration {
			if attempt < 1 {
				attempt = 1
			}
			backoff := time.Duration(1<<uint(attempt-1)) * base
			if backoff > maxRetryDelay {
				backoff = maxRetryDelay
			}
			return backoff + source.jitter(backoff/2)
		},
	}
}
