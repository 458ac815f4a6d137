package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/torosent/stepfire/internal/har"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and the scenario file to produce a Config.
// Flags override file values.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	// If no arguments provided and no config file, show help/usage
	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfg := defaultConfig()
	cfg.ConfigFile = configPath
	if configPath != "" {
		cfgViper := viper.New()
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		if err := cfgViper.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", configPath, err)
		}
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}
	if err := appendHARSteps(&cfg.Scenario); err != nil {
		return nil, err
	}
	normalize(cfg)
	return cfg, nil
}

// appendHARSteps expands the recorded session, if any, into http steps.
func appendHARSteps(sc *ScenarioConfig) error {
	if strings.TrimSpace(sc.HAR.Path) == "" {
		return nil
	}
	recorded, err := har.ParseFile(sc.HAR.Path)
	if err != nil {
		return err
	}
	steps, err := har.Steps(recorded, har.Options{
		IncludeHosts:   sc.HAR.IncludeHosts,
		ExcludeHosts:   sc.HAR.ExcludeHosts,
		IncludeMethods: sc.HAR.IncludeMethods,
		ExcludeStatic:  !sc.HAR.IncludeStatic,
		IncludeHeaders: !sc.HAR.SkipHeaders,
	})
	if err != nil {
		return fmt.Errorf("har %s: %w", sc.HAR.Path, err)
	}
	if len(steps) == 0 {
		return fmt.Errorf("har %s: no requests left after filtering", sc.HAR.Path)
	}
	for _, st := range steps {
		sc.Steps = append(sc.Steps, StepConfig{
			Name:    st.Name,
			Type:    StepTypeHTTP,
			Method:  st.Method,
			URL:     st.URL,
			Headers: st.Headers,
			Body:    st.Body,
		})
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Scenario: ScenarioConfig{
			Name:    "stepfire",
			Headers: map[string]string{},
			Timeout: 30 * time.Second,
		},
		Engine: EngineConfig{ArrivalModel: ArrivalModelUniform},
		Output: OutputConfig{Format: "text", ProgressInterval: time.Second},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

func normalize(cfg *Config) {
	sc := &cfg.Scenario
	sc.Name = strings.TrimSpace(sc.Name)
	sc.BaseURL = strings.TrimSpace(sc.BaseURL)
	sc.Headers = canonicalHeaders(sc.Headers)
	for i := range sc.Steps {
		st := &sc.Steps[i]
		st.Name = strings.TrimSpace(st.Name)
		st.Type = strings.ToLower(strings.TrimSpace(st.Type))
		if st.Type == "" {
			st.Type = StepTypeHTTP
		}
		if st.Type == StepTypeHTTP && st.Method == "" {
			st.Method = http.MethodGet
		}
		st.Method = strings.ToUpper(st.Method)
		st.URL = strings.TrimSpace(st.URL)
		st.Headers = canonicalHeaders(st.Headers)
	}
	cfg.Engine.ArrivalModel = ArrivalModel(strings.ToLower(string(cfg.Engine.ArrivalModel)))
	cfg.Output.Format = strings.ToLower(cfg.Output.Format)
}

func canonicalHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[http.CanonicalHeaderKey(k)] = v
	}
	return out
}
