package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/torosent/stepfire/internal/extractor"
	"github.com/torosent/stepfire/internal/feeder"
	"github.com/torosent/stepfire/internal/loadprofile"
)

// Step types understood by the CLI.
const (
	StepTypeHTTP  = "http"
	StepTypeSleep = "sleep"
)

type Config struct {
	ConfigFile    string              `mapstructure:"-"`
	Scenario      ScenarioConfig      `mapstructure:"scenario"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Output        OutputConfig        `mapstructure:"output"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	MetricsServer MetricsServerConfig `mapstructure:"metrics_server"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
}

type ScenarioConfig struct {
	Name       string            `mapstructure:"name"`
	BaseURL    string            `mapstructure:"base_url"`
	Headers    map[string]string `mapstructure:"headers"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Steps      []StepConfig      `mapstructure:"steps"`
	HAR        HARConfig         `mapstructure:"har"`
	Warmup     []ProfileConfig   `mapstructure:"warmup"`
	Load       []ProfileConfig   `mapstructure:"load"`
	Feeder     FeederConfig      `mapstructure:"feeder"`
	Auth       AuthConfig        `mapstructure:"auth"`
	Assertions AssertionConfig   `mapstructure:"assertions"`
}

// StepConfig declares one built-in step. Fields not used by Type are ignored.
type StepConfig struct {
	Name         string                `mapstructure:"name"`
	Type         string                `mapstructure:"type"`
	Method       string                `mapstructure:"method"`
	URL          string                `mapstructure:"url"`
	Headers      map[string]string     `mapstructure:"headers"`
	Body         string                `mapstructure:"body"`
	BodyFile     string                `mapstructure:"body_file"`
	ExpectStatus []int                 `mapstructure:"expect_status"`
	Extractors   []extractor.Extractor `mapstructure:"extractors"`
	Duration     time.Duration         `mapstructure:"duration"`
	Retries      int                   `mapstructure:"retries"`
	RetryDelay   time.Duration         `mapstructure:"retry_delay"`
	LogFailures  bool                  `mapstructure:"log_failures"`
}

// ProfileConfig is the file and flag form of a loadprofile.Profile.
type ProfileConfig struct {
	Type        string        `mapstructure:"type"`
	Count       int           `mapstructure:"count"`
	Rate        int           `mapstructure:"rate"`
	Interval    time.Duration `mapstructure:"interval"`
	StartRate   int           `mapstructure:"start_rate"`
	EndRate     int           `mapstructure:"end_rate"`
	MinRate     int           `mapstructure:"min_rate"`
	MaxRate     int           `mapstructure:"max_rate"`
	Concurrency int           `mapstructure:"concurrency"`
	Duration    time.Duration `mapstructure:"duration"`
}

// Profile converts the entry; only the type is checked here.
func (p ProfileConfig) Profile() (loadprofile.Profile, error) {
	kind, err := loadprofile.ParseKind(p.Type)
	if err != nil {
		return loadprofile.Profile{}, err
	}
	return loadprofile.Profile{
		Kind:        kind,
		Count:       p.Count,
		Rate:        p.Rate,
		Interval:    p.Interval,
		StartRate:   p.StartRate,
		EndRate:     p.EndRate,
		MinRate:     p.MinRate,
		MaxRate:     p.MaxRate,
		Concurrency: p.Concurrency,
		Duration:    p.Duration,
	}, nil
}

// Profiles converts every entry of list.
func Profiles(list []ProfileConfig) ([]loadprofile.Profile, error) {
	out := make([]loadprofile.Profile, 0, len(list))
	for idx, p := range list {
		profile, err := p.Profile()
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		out = append(out, profile)
	}
	return out, nil
}

type FeederConfig struct {
	Path     string `mapstructure:"path"`
	Type     string `mapstructure:"type"` // csv, json or yaml; inferred from the extension when empty
	Behavior string `mapstructure:"behavior"`
}

// Format is Type or, when empty, the file extension.
func (f FeederConfig) Format() string {
	if t := strings.ToLower(strings.TrimSpace(f.Type)); t != "" {
		return t
	}
	path := strings.ToLower(f.Path)
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		return path[idx+1:]
	}
	return ""
}

// HARConfig appends one http step per entry of a recorded HAR file.
type HARConfig struct {
	Path           string   `mapstructure:"path"`
	IncludeHosts   []string `mapstructure:"include_hosts"`
	ExcludeHosts   []string `mapstructure:"exclude_hosts"`
	IncludeMethods []string `mapstructure:"include_methods"`
	IncludeStatic  bool     `mapstructure:"include_static"`
	SkipHeaders    bool     `mapstructure:"skip_headers"`
}

// Auth types.
const (
	AuthTypeStatic            = "static"
	AuthTypeClientCredentials = "oauth2_client_credentials"
	AuthTypePassword          = "oauth2_password"
)

// AuthConfig adds a bearer token to every http step. Empty Type disables it.
type AuthConfig struct {
	Type          string        `mapstructure:"type"`
	Token         string        `mapstructure:"token"`
	TokenURL      string        `mapstructure:"token_url"`
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Scopes        []string      `mapstructure:"scopes"`
	RefreshBefore time.Duration `mapstructure:"refresh_before"`
}

// AssertionConfig holds threshold strings, e.g. "ok.p95 < 500".
type AssertionConfig struct {
	WhileRunning []string `mapstructure:"while_running"`
	WhenDone     []string `mapstructure:"when_done"`
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type EngineConfig struct {
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	AssertionInterval time.Duration `mapstructure:"assertion_interval"`
	SnapshotInterval  time.Duration `mapstructure:"snapshot_interval"`
	SnapshotCapacity  int           `mapstructure:"snapshot_capacity"`
	GracefulShutdown  time.Duration `mapstructure:"graceful_shutdown"`
	ArrivalModel      ArrivalModel  `mapstructure:"arrival_model"`
	Seed              int64         `mapstructure:"seed"`
}

type OutputConfig struct {
	Format           string        `mapstructure:"format"` // text or json
	File             string        `mapstructure:"file"`
	Progress         bool          `mapstructure:"progress"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsServerConfig enables the live metrics server when Addr is set.
type MetricsServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether an OTLP endpoint is configured here or in the environment.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate defaults to Enabled unless set explicitly.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	issues = append(issues, validateSteps(c.Scenario.Steps)...)

	warmup, err := Profiles(c.Scenario.Warmup)
	if err != nil {
		issues = append(issues, fmt.Sprintf("warmup: %v", err))
	} else {
		issues = append(issues, loadprofile.Issues("warmup", warmup)...)
	}
	load, err := Profiles(c.Scenario.Load)
	if err != nil {
		issues = append(issues, fmt.Sprintf("load: %v", err))
	} else {
		issues = append(issues, loadprofile.Issues("load", load)...)
	}

	hasFeeder := strings.TrimSpace(c.Scenario.Feeder.Path) != ""
	if len(c.Scenario.Load) == 0 && !hasFeeder {
		issues = append(issues, "load profile or feeder is required (use --help for usage information)")
	}
	if len(c.Scenario.Load) == 0 && len(c.Scenario.Warmup) > 0 {
		issues = append(issues, "warmup requires a load profile")
	}
	if c.Scenario.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}

	issues = append(issues, validateFeederConfig(c.Scenario.Feeder)...)
	issues = append(issues, validateAuthConfig(c.Scenario.Auth)...)
	issues = append(issues, validateEngineConfig(c.Engine)...)

	switch strings.ToLower(c.Output.Format) {
	case "", "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("output: format must be 'text' or 'json', got %q", c.Output.Format))
	}
	if c.Output.ProgressInterval < 0 {
		issues = append(issues, "output: progress_interval must be >= 0")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings lists settings that are valid but worth confirming with the operator.
func (c Config) Warnings() []string {
	var warnings []string
	for idx, p := range c.Scenario.Load {
		if p.Rate > 1000 || p.EndRate > 1000 || p.MaxRate > 1000 {
			warnings = append(warnings, fmt.Sprintf("load[%d]: high rate configured; ensure you have authorization to test the target system", idx))
		}
		if p.Concurrency > 500 {
			warnings = append(warnings, fmt.Sprintf("load[%d]: high concurrency configured (%d); ensure you have authorization to test the target system", idx, p.Concurrency))
		}
	}
	if c.Tracing.Enabled() && c.Tracing.Insecure {
		warnings = append(warnings, "tracing: exporter TLS is disabled")
	}
	return warnings
}

func validateSteps(steps []StepConfig) []string {
	var issues []string
	if len(steps) == 0 {
		return []string{"at least one step is required"}
	}
	seen := map[string]int{}
	for idx, st := range steps {
		label := fmt.Sprintf("steps[%d]", idx)
		name := strings.TrimSpace(st.Name)
		if name == "" {
			issues = append(issues, label+": name is required")
		} else if prev, ok := seen[name]; ok {
			issues = append(issues, fmt.Sprintf("%s: duplicate name also defined at index %d", label, prev))
		} else {
			seen[name] = idx
		}
		if st.Retries < 0 {
			issues = append(issues, label+": retries must be >= 0")
		}
		if st.RetryDelay < 0 {
			issues = append(issues, label+": retry_delay must be >= 0")
		}

		switch strings.ToLower(strings.TrimSpace(st.Type)) {
		case "", StepTypeHTTP:
			if strings.TrimSpace(st.URL) == "" {
				issues = append(issues, label+": url is required for http steps")
			}
			if st.Body != "" && strings.TrimSpace(st.BodyFile) != "" {
				issues = append(issues, label+": body and body_file are mutually exclusive")
			}
			if st.Method != "" && !validMethod(st.Method) {
				issues = append(issues, fmt.Sprintf("%s: unsupported method %q", label, st.Method))
			}
			for _, code := range st.ExpectStatus {
				if code < 100 || code > 599 {
					issues = append(issues, fmt.Sprintf("%s: expect_status %d is not an HTTP status", label, code))
				}
			}
			for exIdx, ex := range st.Extractors {
				if err := ex.Validate(); err != nil {
					issues = append(issues, fmt.Sprintf("%s.extractors[%d]: %v", label, exIdx, err))
				}
			}
		case StepTypeSleep:
			if st.Duration <= 0 {
				issues = append(issues, label+": duration must be > 0 for sleep steps")
			}
		default:
			issues = append(issues, fmt.Sprintf("%s: type must be 'http' or 'sleep', got %q", label, st.Type))
		}
	}
	return issues
}

func validMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

func validateFeederConfig(f FeederConfig) []string {
	var issues []string
	if strings.TrimSpace(f.Path) == "" {
		return nil // No feeder configured
	}
	switch f.Format() {
	case "csv", "json", "yaml", "yml":
	case "":
		issues = append(issues, "feeder: type is required when it cannot be inferred from the path")
	default:
		issues = append(issues, fmt.Sprintf("feeder: type must be 'csv', 'json' or 'yaml', got %q", f.Format()))
	}
	if _, err := feeder.ParseBehavior(f.Behavior); err != nil {
		issues = append(issues, fmt.Sprintf("feeder: %v", err))
	}
	return issues
}

func validateAuthConfig(a AuthConfig) []string {
	var issues []string
	switch strings.ToLower(strings.TrimSpace(a.Type)) {
	case "":
	case AuthTypeStatic:
		if a.Token == "" {
			issues = append(issues, "auth: token is required for static auth")
		}
	case AuthTypeClientCredentials, AuthTypePassword:
		if strings.TrimSpace(a.TokenURL) == "" {
			issues = append(issues, "auth: token_url is required")
		}
		if a.ClientID == "" {
			issues = append(issues, "auth: client_id is required")
		}
		if strings.EqualFold(a.Type, AuthTypePassword) && a.Username == "" {
			issues = append(issues, "auth: username is required for the password grant")
		}
		if a.RefreshBefore < 0 {
			issues = append(issues, "auth: refresh_before must be >= 0")
		}
	default:
		issues = append(issues, fmt.Sprintf("auth: unsupported type %q", a.Type))
	}
	return issues
}

func validateEngineConfig(e EngineConfig) []string {
	var issues []string
	if e.MaxConcurrency < 0 {
		issues = append(issues, "engine: max_concurrency must be >= 0")
	}
	if e.SnapshotCapacity < 0 {
		issues = append(issues, "engine: snapshot_capacity must be >= 0")
	}
	if e.AssertionInterval < 0 || e.SnapshotInterval < 0 {
		issues = append(issues, "engine: intervals must be >= 0")
	}
	switch e.ArrivalModel {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("engine: arrival model %q is not supported", e.ArrivalModel))
	}
	return issues
}
