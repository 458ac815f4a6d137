package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stepfire",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to scenario file (YAML or JSON)")

	// Scenario flags
	flags.String("name", "", "Scenario name")
	flags.String("target", "", "Target URL; adds a single http step when the scenario has none")
	flags.String("method", http.MethodGet, "HTTP method of the --target step")
	flags.String("base-url", "", "Base URL prepended to relative step URLs")
	flags.StringSlice("header", nil, "Request header for every http step in key=value form")
	flags.Duration("timeout", 30*time.Second, "Per-request timeout")
	flags.String("har", "", "HAR file whose recorded requests become http steps")
	flags.String("auth-token", "", "Static bearer token sent by every http step")

	// Load flags
	flags.StringArray("load", nil, "Load profile, repeatable (e.g. 'fixed_rate:rate=10,interval=1s,duration=30s')")
	flags.StringArray("warmup", nil, "Warmup profile, repeatable (same syntax as --load)")

	// Feeder flags
	flags.String("feeder-path", "", "Path to CSV, JSON or YAML file with per-iteration data")
	flags.String("feeder-type", "", "Type of feeder file: 'csv', 'json' or 'yaml' (default from extension)")
	flags.String("feeder-behavior", "", "Feeder draw policy: loop, random, loop_then_repeat_last, loop_then_random")

	// Engine flags
	flags.Int("max-concurrency", 0, "Maximum concurrent iterations for open-loop profiles (0 = engine default)")
	flags.Duration("graceful-shutdown", 0, "Time in-flight iterations get after an early stop (0 = wait, negative = cancel immediately)")
	flags.String("arrival-model", string(ArrivalModelUniform), "Arrival model inside rate windows (uniform or poisson)")
	flags.Int64("seed", 0, "Random seed for random_rate, poisson arrivals and random feeders (0 = random)")
	flags.Duration("assertion-interval", 0, "How often while-running assertions are checked")
	flags.Duration("snapshot-interval", 0, "How often statistics snapshots are sampled")
	flags.Int("snapshot-capacity", 0, "Maximum snapshots kept for the timeline (0 = engine default)")

	// Assertion flags
	flags.StringArray("threshold", nil, "When-done threshold, repeatable (e.g. 'ok.p95 < 500')")
	flags.StringArray("abort-on", nil, "While-running threshold that stops the run when violated, repeatable")

	// Output flags
	flags.String("output", "text", "Report format: 'text' or 'json'")
	flags.String("output-file", "", "Also write the report to this file")
	flags.Bool("progress", false, "Print a progress line while running")
	flags.Duration("progress-interval", time.Second, "Progress line refresh interval")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "console", "Log format: console or json")
	flags.String("metrics-addr", "", "Serve /metrics, /stats and /snapshots on this address (e.g. :9090)")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP endpoint for iteration and step spans")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1.0, "Trace sampling ratio between 0 and 1")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	sc := &cfg.Scenario
	if fs.Changed("name") {
		val, err := fs.GetString("name")
		if err != nil {
			return err
		}
		sc.Name = strings.TrimSpace(val)
	}
	if fs.Changed("base-url") {
		val, err := fs.GetString("base-url")
		if err != nil {
			return err
		}
		sc.BaseURL = strings.TrimSpace(val)
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		sc.Timeout = val
	}
	if fs.Changed("target") {
		target, err := fs.GetString("target")
		if err != nil {
			return err
		}
		method, err := fs.GetString("method")
		if err != nil {
			return err
		}
		if len(sc.Steps) == 0 {
			sc.Steps = []StepConfig{{
				Name:   "request",
				Type:   StepTypeHTTP,
				Method: strings.ToUpper(method),
				URL:    strings.TrimSpace(target),
			}}
		} else if sc.BaseURL == "" {
			sc.BaseURL = strings.TrimSpace(target)
		}
	}

	if fs.Changed("har") {
		val, err := fs.GetString("har")
		if err != nil {
			return err
		}
		sc.HAR.Path = strings.TrimSpace(val)
	}
	if fs.Changed("auth-token") {
		val, err := fs.GetString("auth-token")
		if err != nil {
			return err
		}
		sc.Auth = AuthConfig{Type: AuthTypeStatic, Token: val}
	}

	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if sc.Headers == nil {
			sc.Headers = map[string]string{}
		}
		for _, entry := range vals {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			sc.Headers[key] = strings.TrimSpace(parts[1])
		}
	}

	if fs.Changed("load") {
		profiles, err := profileFlag(fs, "load")
		if err != nil {
			return err
		}
		sc.Load = profiles
	}
	if fs.Changed("warmup") {
		profiles, err := profileFlag(fs, "warmup")
		if err != nil {
			return err
		}
		sc.Warmup = profiles
	}

	if fs.Changed("feeder-path") {
		val, err := fs.GetString("feeder-path")
		if err != nil {
			return err
		}
		sc.Feeder.Path = strings.TrimSpace(val)
	}
	if fs.Changed("feeder-type") {
		val, err := fs.GetString("feeder-type")
		if err != nil {
			return err
		}
		sc.Feeder.Type = strings.TrimSpace(val)
	}
	if fs.Changed("feeder-behavior") {
		val, err := fs.GetString("feeder-behavior")
		if err != nil {
			return err
		}
		sc.Feeder.Behavior = strings.TrimSpace(val)
	}

	if fs.Changed("threshold") {
		val, err := fs.GetStringArray("threshold")
		if err != nil {
			return err
		}
		sc.Assertions.WhenDone = val
	}
	if fs.Changed("abort-on") {
		val, err := fs.GetStringArray("abort-on")
		if err != nil {
			return err
		}
		sc.Assertions.WhileRunning = val
	}

	if err := applyEngineFlags(&cfg.Engine, fs); err != nil {
		return err
	}
	return applyOutputFlags(cfg, fs)
}

func profileFlag(fs *pflag.FlagSet, name string) ([]ProfileConfig, error) {
	specs, err := fs.GetStringArray(name)
	if err != nil {
		return nil, err
	}
	profiles := make([]ProfileConfig, 0, len(specs))
	for _, spec := range specs {
		p, err := parseProfileSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", name, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func applyEngineFlags(e *EngineConfig, fs *pflag.FlagSet) error {
	if fs.Changed("max-concurrency") {
		val, err := fs.GetInt("max-concurrency")
		if err != nil {
			return err
		}
		e.MaxConcurrency = val
	}
	if fs.Changed("graceful-shutdown") {
		val, err := fs.GetDuration("graceful-shutdown")
		if err != nil {
			return err
		}
		e.GracefulShutdown = val
	}
	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		e.ArrivalModel = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("seed") {
		val, err := fs.GetInt64("seed")
		if err != nil {
			return err
		}
		e.Seed = val
	}
	if fs.Changed("assertion-interval") {
		val, err := fs.GetDuration("assertion-interval")
		if err != nil {
			return err
		}
		e.AssertionInterval = val
	}
	if fs.Changed("snapshot-interval") {
		val, err := fs.GetDuration("snapshot-interval")
		if err != nil {
			return err
		}
		e.SnapshotInterval = val
	}
	if fs.Changed("snapshot-capacity") {
		val, err := fs.GetInt("snapshot-capacity")
		if err != nil {
			return err
		}
		e.SnapshotCapacity = val
	}
	return nil
}

func applyOutputFlags(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("output") {
		val, err := fs.GetString("output")
		if err != nil {
			return err
		}
		cfg.Output.Format = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("output-file") {
		val, err := fs.GetString("output-file")
		if err != nil {
			return err
		}
		cfg.Output.File = strings.TrimSpace(val)
	}
	if fs.Changed("progress") {
		val, err := fs.GetBool("progress")
		if err != nil {
			return err
		}
		cfg.Output.Progress = val
	}
	if fs.Changed("progress-interval") {
		val, err := fs.GetDuration("progress-interval")
		if err != nil {
			return err
		}
		cfg.Output.ProgressInterval = val
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Logging.Level = val
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.Logging.Format = val
	}
	if fs.Changed("metrics-addr") {
		val, err := fs.GetString("metrics-addr")
		if err != nil {
			return err
		}
		cfg.MetricsServer.Addr = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	return nil
}
