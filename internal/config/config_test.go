package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/torosent/stepfire/internal/config"
	"github.com/torosent/stepfire/internal/extractor"
)

func validConfig() config.Config {
	return config.Config{
		Scenario: config.ScenarioConfig{
			Name: "checkout",
			Steps: []config.StepConfig{
				{Name: "home", Type: "http", Method: "GET", URL: "https://example.com/"},
				{Name: "think", Type: "sleep", Duration: 100 * time.Millisecond},
			},
			Load: []config.ProfileConfig{{Type: "fixed_rate", Rate: 5, Interval: time.Second, Duration: 10 * time.Second}},
		},
		Output: config.OutputConfig{Format: "text"},
	}
}

func TestConfigValidateOK(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestConfigValidationErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   []string
	}{
		{
			name:   "no steps",
			mutate: func(c *config.Config) { c.Scenario.Steps = nil },
			want:   []string{"at least one step is required"},
		},
		{
			name: "duplicate and unnamed steps",
			mutate: func(c *config.Config) {
				c.Scenario.Steps = append(c.Scenario.Steps,
					config.StepConfig{Name: "home", URL: "https://example.com/"},
					config.StepConfig{URL: "https://example.com/"})
			},
			want: []string{"steps[2]: duplicate name", "steps[3]: name is required"},
		},
		{
			name: "http step without url",
			mutate: func(c *config.Config) {
				c.Scenario.Steps[0].URL = ""
				c.Scenario.Steps[0].Method = "FETCH"
				c.Scenario.Steps[0].ExpectStatus = []int{42}
			},
			want: []string{"url is required", "unsupported method", "expect_status 42"},
		},
		{
			name:   "sleep without duration",
			mutate: func(c *config.Config) { c.Scenario.Steps[1].Duration = 0 },
			want:   []string{"steps[1]: duration must be > 0"},
		},
		{
			name:   "unknown step type",
			mutate: func(c *config.Config) { c.Scenario.Steps[1].Type = "grpc" },
			want:   []string{"type must be 'http' or 'sleep'"},
		},
		{
			name: "bad extractor",
			mutate: func(c *config.Config) {
				c.Scenario.Steps[0].Extractors = []extractor.Extractor{{Variable: "id"}}
			},
			want: []string{"steps[0].extractors[0]", "json_path or regex is required"},
		},
		{
			name: "negative retries",
			mutate: func(c *config.Config) {
				c.Scenario.Steps[0].Retries = -1
				c.Scenario.Steps[0].RetryDelay = -time.Second
			},
			want: []string{"retries must be >= 0", "retry_delay must be >= 0"},
		},
		{
			name:   "no load and no feeder",
			mutate: func(c *config.Config) { c.Scenario.Load = nil },
			want:   []string{"load profile or feeder is required"},
		},
		{
			name: "warmup without load",
			mutate: func(c *config.Config) {
				c.Scenario.Load = nil
				c.Scenario.Feeder.Path = "users.csv"
				c.Scenario.Warmup = []config.ProfileConfig{{Type: "burst", Count: 3}}
			},
			want: []string{"warmup requires a load profile"},
		},
		{
			name: "invalid profiles",
			mutate: func(c *config.Config) {
				c.Scenario.Load = append(c.Scenario.Load, config.ProfileConfig{Type: "burst"})
				c.Scenario.Warmup = []config.ProfileConfig{{Type: "spike"}}
			},
			want: []string{"load[1]: count must be > 0", "warmup: index 0"},
		},
		{
			name: "feeder settings",
			mutate: func(c *config.Config) {
				c.Scenario.Feeder = config.FeederConfig{Path: "users.txt", Behavior: "shuffle"}
			},
			want: []string{"feeder: type must be", "unsupported data behavior"},
		},
		{
			name: "body conflict",
			mutate: func(c *config.Config) {
				c.Scenario.Steps[0].Body = "{}"
				c.Scenario.Steps[0].BodyFile = "payload.json"
			},
			want: []string{"body and body_file are mutually exclusive"},
		},
		{
			name: "auth settings",
			mutate: func(c *config.Config) {
				c.Scenario.Auth = config.AuthConfig{Type: "oauth2_password"}
			},
			want: []string{"token_url is required", "client_id is required", "username is required"},
		},
		{
			name:   "unknown auth",
			mutate: func(c *config.Config) { c.Scenario.Auth.Type = "kerberos" },
			want:   []string{"auth: unsupported type"},
		},
		{
			name: "engine and output",
			mutate: func(c *config.Config) {
				c.Engine.MaxConcurrency = -1
				c.Engine.ArrivalModel = "bursty"
				c.Output.Format = "html"
			},
			want: []string{"max_concurrency", "arrival model", "format must be 'text' or 'json'"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() error = nil, want error")
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) || len(verr.Issues()) == 0 {
				t.Fatalf("Validate() error = %T, want ValidationError with issues", err)
			}
			for _, want := range tc.want {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Validate() error %q missing %q", err.Error(), want)
				}
			}
		})
	}
}

func TestFeederConfigFormat(t *testing.T) {
	tests := []struct {
		cfg  config.FeederConfig
		want string
	}{
		{config.FeederConfig{Path: "data/users.CSV"}, "csv"},
		{config.FeederConfig{Path: "users.yml"}, "yml"},
		{config.FeederConfig{Path: "users.txt", Type: "JSON"}, "json"},
		{config.FeederConfig{Path: "users"}, ""},
	}
	for _, tt := range tests {
		if got := tt.cfg.Format(); got != tt.want {
			t.Errorf("Format(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestProfilesConversion(t *testing.T) {
	profiles, err := config.Profiles([]config.ProfileConfig{
		{Type: "ramp", StartRate: 1, EndRate: 10, Duration: time.Minute},
		{Type: "fixed-concurrency", Concurrency: 4, Duration: time.Second},
	})
	if err != nil {
		t.Fatalf("Profiles() error = %v", err)
	}
	if len(profiles) != 2 || profiles[0].EndRate != 10 || profiles[1].Concurrency != 4 {
		t.Fatalf("Profiles() = %+v", profiles)
	}
	if _, err := config.Profiles([]config.ProfileConfig{{Type: "spike"}}); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestWarnings(t *testing.T) {
	cfg := validConfig()
	if w := cfg.Warnings(); len(w) != 0 {
		t.Fatalf("Warnings() = %v, want none", w)
	}
	cfg.Scenario.Load = append(cfg.Scenario.Load,
		config.ProfileConfig{Type: "fixed_rate", Rate: 5000, Interval: time.Second, Duration: time.Second},
		config.ProfileConfig{Type: "fixed_concurrency", Concurrency: 1000, Duration: time.Second})
	w := cfg.Warnings()
	if len(w) != 2 {
		t.Fatalf("Warnings() = %v, want 2", w)
	}
	if !strings.HasPrefix(w[0], "load[1]: high rate") || !strings.HasPrefix(w[1], "load[2]: high concurrency") {
		t.Fatalf("Warnings() = %v", w)
	}
}

func TestTracingEnabled(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	var tc config.TracingConfig
	if tc.Enabled() || tc.ShouldPropagate() {
		t.Fatal("tracing should be disabled without an endpoint")
	}
	tc.Endpoint = "localhost:4317"
	if !tc.Enabled() || !tc.ShouldPropagate() {
		t.Fatal("tracing should be enabled with an endpoint")
	}
	off := false
	tc.Propagate = &off
	if tc.ShouldPropagate() {
		t.Fatal("explicit propagate=false should win")
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	if !(config.TracingConfig{}).Enabled() {
		t.Fatal("environment endpoint should enable tracing")
	}
}
