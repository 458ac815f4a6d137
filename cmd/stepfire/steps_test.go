package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/stepfire/internal/config"
	"github.com/torosent/stepfire/internal/httpclient"
	"github.com/torosent/stepfire/internal/metrics"
	"github.com/torosent/stepfire/internal/runner"
)

func runConfig(t *testing.T, cfg *config.Config) (metrics.ScenarioStats, error) {
	t.Helper()
	if cfg.Scenario.Name == "" {
		cfg.Scenario.Name = "test"
	}
	if len(cfg.Scenario.Load) == 0 {
		cfg.Scenario.Load = []config.ProfileConfig{{Type: "burst", Count: 1}}
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	sc, err := buildScenario(cfg, zap.NewNop(), false)
	if err != nil {
		t.Fatalf("buildScenario() error = %v", err)
	}
	r, err := runner.New(sc, runner.Options{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("runner.New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.Run(ctx)
}

func TestHTTPStepUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, "created")
	}))
	defer srv.Close()

	stats, err := runConfig(t, &config.Config{Scenario: config.ScenarioConfig{
		Steps: []config.StepConfig{{Name: "create", Type: "http", Method: "POST", URL: srv.URL, ExpectStatus: []int{200}}},
		Load:  []config.ProfileConfig{{Type: "burst", Count: 2}},
	}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Failed.RequestCount != 2 {
		t.Fatalf("failed = %d, want 2", stats.Failed.RequestCount)
	}
	if stats.Errors["HTTP 201"] != 2 {
		t.Fatalf("errors = %v", stats.Errors)
	}
}

func TestHTTPStepRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	stats, err := runConfig(t, &config.Config{Scenario: config.ScenarioConfig{
		Steps: []config.StepConfig{{Name: "flaky", Type: "http", URL: srv.URL, Retries: 2, RetryDelay: time.Millisecond}},
	}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Ok.RequestCount != 1 || hits.Load() != 3 {
		t.Fatalf("ok = %d hits = %d", stats.Ok.RequestCount, hits.Load())
	}
	step, err := stats.Step("flaky")
	if err != nil || step.RequestCount() != 1 {
		t.Fatalf("step = %+v, %v", step, err)
	}
}

func TestHTTPStepNoRetryOnClientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	stats, err := runConfig(t, &config.Config{Scenario: config.ScenarioConfig{
		Steps: []config.StepConfig{{Name: "missing", Type: "http", URL: srv.URL, Retries: 3, RetryDelay: time.Millisecond}},
	}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Failed.RequestCount != 1 || hits.Load() != 1 {
		t.Fatalf("failed = %d hits = %d", stats.Failed.RequestCount, hits.Load())
	}
}

func TestSleepStep(t *testing.T) {
	stats, err := runConfig(t, &config.Config{Scenario: config.ScenarioConfig{
		Steps: []config.StepConfig{{Name: "think", Type: "sleep", Duration: 20 * time.Millisecond}},
	}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	step, err := stats.Step("think")
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if step.Ok.RequestCount != 1 || step.Ok.Min < 20*time.Millisecond {
		t.Fatalf("think = %+v", step.Ok)
	}
}

func TestAuthInitFailure(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer tokens.Close()

	stats, err := runConfig(t, &config.Config{Scenario: config.ScenarioConfig{
		Steps: []config.StepConfig{{Name: "ping", Type: "http", URL: "http://127.0.0.1:1"}},
		Auth:  config.AuthConfig{Type: config.AuthTypeClientCredentials, TokenURL: tokens.URL, ClientID: "id"},
	}})
	var ierr *runner.InitError
	if !errors.As(err, &ierr) {
		t.Fatalf("Run() error = %v, want InitError", err)
	}
	if stats.AllRequestCount() != 0 {
		t.Fatalf("iterations ran after init failure: %d", stats.AllRequestCount())
	}
}

func TestCheckStatus(t *testing.T) {
	s := &httpStep{}
	if err := s.checkStatus(302, nil); err != nil {
		t.Fatalf("checkStatus(302) = %v", err)
	}
	err := s.checkStatus(500, []byte("  boom \n"))
	var se *httpclient.StatusError
	if !errors.As(err, &se) || se.StatusCode != 500 || se.Body != "boom" {
		t.Fatalf("checkStatus(500) = %v", err)
	}

	s.expect = []int{404}
	if err := s.checkStatus(404, nil); err != nil {
		t.Fatalf("expected 404 accepted, got %v", err)
	}
	if err := s.checkStatus(200, nil); err == nil {
		t.Fatal("expected 200 rejected when only 404 is expected")
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	source := &jitterSource{rnd: rand.New(rand.NewSource(1))}
	policy := newRetryPolicy(3, 10*time.Millisecond, source)
	if policy.MaxAttempts != 4 {
		t.Fatalf("MaxAttempts = %d", policy.MaxAttempts)
	}
	for attempt, base := range map[int]time.Duration{1: 10 * time.Millisecond, 2: 20 * time.Millisecond, 3: 40 * time.Millisecond} {
		d := policy.DelayFunc(attempt, nil)
		if d < base || d >= base+base/2 {
			t.Errorf("DelayFunc(%d) = %s, want in [%s, %s)", attempt, d, base, base+base/2)
		}
	}
	if d := policy.DelayFunc(20, nil); d < maxRetryDelay || d >= maxRetryDelay+maxRetryDelay/2 {
		t.Errorf("DelayFunc(20) = %s, want capped near %s", d, maxRetryDelay)
	}
}
