package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/stepfire/internal/auth"
	"github.com/torosent/stepfire/internal/config"
	"github.com/torosent/stepfire/internal/feeder"
	"github.com/torosent/stepfire/internal/httpclient"
	"github.com/torosent/stepfire/internal/scenario"
	"github.com/torosent/stepfire/internal/threshold"
)

// buildScenario turns a validated config into a runnable scenario.
func buildScenario(cfg *config.Config, logger *zap.Logger, propagate bool) (*scenario.Scenario, error) {
	sc := cfg.Scenario

	provider, err := newAuthProvider(sc.Auth)
	if err != nil {
		return nil, err
	}
	client := httpclient.NewClient(sc.Timeout)

	seed := cfg.Engine.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	jitter := &jitterSource{rnd: rand.New(rand.NewSource(seed))}

	steps := make([]scenario.Step, 0, len(sc.Steps))
	for _, st := range sc.Steps {
		action, err := newStepAction(st, sc, client, provider, propagate)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", st.Name, err)
		}
		if st.LogFailures {
			action = scenario.WithLogging(action, zapFailureLogger{logger: logger})
		}
		if st.Retries > 0 {
			action = scenario.WithRetry(action, newRetryPolicy(st.Retries, st.RetryDelay, jitter))
		}
		steps = append(steps, scenario.Step{Name: st.Name, Action: action})
	}

	warmup, err := config.Profiles(sc.Warmup)
	if err != nil {
		return nil, fmt.Errorf("warmup: %w", err)
	}
	load, err := config.Profiles(sc.Load)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}

	out := &scenario.Scenario{
		Name:   sc.Name,
		Steps:  steps,
		Warmup: warmup,
		Load:   load,
	}

	if sc.Feeder.Path != "" {
		src, err := feeder.FileSource(sc.Feeder.Path, sc.Feeder.Format())
		if err != nil {
			return nil, fmt.Errorf("feeder: %w", err)
		}
		behavior, err := feeder.ParseBehavior(sc.Feeder.Behavior)
		if err != nil {
			return nil, fmt.Errorf("feeder: %w", err)
		}
		out.Data = &scenario.InputData{Source: src, Behavior: behavior}
	}

	if out.WhileRunning, err = assertion(sc.Assertions.WhileRunning); err != nil {
		return nil, fmt.Errorf("assertions.while_running: %w", err)
	}
	if out.WhenDone, err = assertion(sc.Assertions.WhenDone); err != nil {
		return nil, fmt.Errorf("assertions.when_done: %w", err)
	}

	out.Init = func(ctx context.Context, hc *scenario.Context) error {
		if provider == nil {
			return nil
		}
		// Credential problems fail the run before any load is sent.
		if _, err := provider.Token(ctx); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		hc.Logger.Debug("auth token acquired")
		return nil
	}
	out.Clean = func(context.Context, *scenario.Context) error {
		client.CloseIdleConnections()
		if provider != nil {
			return provider.Close()
		}
		return nil
	}
	return out, nil
}

func newStepAction(st config.StepConfig, sc config.ScenarioConfig, client *http.Client, provider auth.Provider, propagate bool) (scenario.Action, error) {
	switch st.Type {
	case config.StepTypeSleep:
		return sleepAction(st.Duration), nil
	case config.StepTypeHTTP, "":
		headers := make(map[string]string, len(sc.Headers)+len(st.Headers))
		for k, v := range sc.Headers {
			headers[k] = v
		}
		for k, v := range st.Headers {
			headers[k] = v
		}
		builder, err := httpclient.NewRequestBuilder(sc.BaseURL, httpclient.Request{
			Method:   st.Method,
			URL:      st.URL,
			Headers:  headers,
			Body:     st.Body,
			BodyFile: st.BodyFile,
		}, provider)
		if err != nil {
			return nil, err
		}
		step := &httpStep{
			client:     client,
			builder:    builder,
			expect:     st.ExpectStatus,
			extractors: st.Extractors,
			propagate:  propagate,
		}
		return step.run, nil
	default:
		return nil, fmt.Errorf("unsupported step type %q", st.Type)
	}
}

func newAuthProvider(a config.AuthConfig) (auth.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(a.Type)) {
	case "":
		return nil, nil
	case config.AuthTypeStatic:
		return auth.NewStatic(a.Token), nil
	case config.AuthTypeClientCredentials, config.AuthTypePassword:
		grant := auth.GrantClientCredentials
		if strings.EqualFold(a.Type, config.AuthTypePassword) {
			grant = auth.GrantPassword
		}
		provider, err := auth.NewOAuth2(auth.OAuth2Config{
			Grant:         grant,
			TokenURL:      a.TokenURL,
			ClientID:      a.ClientID,
			ClientSecret:  a.ClientSecret,
			Username:      a.Username,
			Password:      a.Password,
			Scopes:        a.Scopes,
			RefreshBefore: a.RefreshBefore,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported auth type %q", a.Type)
	}
}

func assertion(raw []string) (scenario.Assertion, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	thresholds, err := threshold.ParseMultiple(raw)
	if err != nil {
		return nil, err
	}
	return threshold.Assertion(thresholds), nil
}
