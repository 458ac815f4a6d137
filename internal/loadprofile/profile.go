// Package loadprofile describes the shape of generated load.
//
// A [Profile] is a closed set of load shapes selected by [Kind]. Profiles are pure
// data: the runner package owns the scheduling algorithm for each kind.
//
//	load := []loadprofile.Profile{
//		loadprofile.Ramp(0, 100, 30*time.Second),
//		loadprofile.FixedRate(100, time.Second, time.Minute),
//		loadprofile.Pause(5 * time.Second),
//		loadprofile.FixedConcurrency(20, time.Minute),
//	}
package loadprofile

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies a load shape.
type Kind string

const (
	KindBurst            Kind = "burst"
	KindFixedRate        Kind = "fixed_rate"
	KindRamp             Kind = "ramp"
	KindFixedConcurrency Kind = "fixed_concurrency"
	KindRandomRate       Kind = "random_rate"
	KindPause            Kind = "pause"
)

// Profile is one entry of a load sequence. Only the fields relevant to Kind are set.
type Profile struct {
	Kind        Kind
	Count       int           // burst
	Rate        int           // fixed_rate: starts per Interval
	Interval    time.Duration // fixed_rate
	StartRate   int           // ramp: starts per second at the beginning
	EndRate     int           // ramp: starts per second at the end
	MinRate     int           // random_rate
	MaxRate     int           // random_rate
	Concurrency int           // fixed_concurrency
	Duration    time.Duration // every kind except burst
}

// Burst starts count iterations as fast as the executor accepts them.
func Burst(count int) Profile {
	return Profile{Kind: KindBurst, Count: count}
}

// FixedRate starts rate iterations per interval, evenly spaced, for duration.
func FixedRate(rate int, interval, duration time.Duration) Profile {
	return Profile{Kind: KindFixedRate, Rate: rate, Interval: interval, Duration: duration}
}

// Ramp moves the per-second start rate linearly from startRate to endRate over duration.
func Ramp(startRate, endRate int, duration time.Duration) Profile {
	return Profile{Kind: KindRamp, StartRate: startRate, EndRate: endRate, Duration: duration}
}

// FixedConcurrency keeps exactly n iterations in flight for duration.
func FixedConcurrency(n int, duration time.Duration) Profile {
	return Profile{Kind: KindFixedConcurrency, Concurrency: n, Duration: duration}
}

// RandomRate draws a uniform per-second rate in [minRate, maxRate] for every second of duration.
func RandomRate(minRate, maxRate int, duration time.Duration) Profile {
	return Profile{Kind: KindRandomRate, MinRate: minRate, MaxRate: maxRate, Duration: duration}
}

// Pause starts nothing for duration.
func Pause(duration time.Duration) Profile {
	return Profile{Kind: KindPause, Duration: duration}
}

// ParseKind maps a configuration label to a Kind.
func ParseKind(s string) (Kind, error) {
	label := strings.ToLower(strings.TrimSpace(s))
	label = strings.ReplaceAll(label, "-", "_")
	switch Kind(label) {
	case KindBurst, KindFixedRate, KindRamp, KindFixedConcurrency, KindRandomRate, KindPause:
		return Kind(label), nil
	case "":
		return "", fmt.Errorf("profile type is required")
	default:
		return "", fmt.Errorf("unsupported profile type %q", s)
	}
}

// Validate reports the first problem with the profile parameters.
func (p Profile) Validate() error {
	issues := p.issues()
	if len(issues) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %s", p.Kind, strings.Join(issues, "; "))
}

func (p Profile) issues() []string {
	var issues []string
	needDuration := func() {
		if p.Duration <= 0 {
			issues = append(issues, "duration must be > 0")
		}
	}

	switch p.Kind {
	case KindBurst:
		if p.Count <= 0 {
			issues = append(issues, "count must be > 0")
		}
	case KindFixedRate:
		if p.Rate <= 0 {
			issues = append(issues, "rate must be > 0")
		}
		if p.Interval <= 0 {
			issues = append(issues, "interval must be > 0")
		}
		needDuration()
		if p.Interval > 0 && p.Duration > 0 && p.Interval > p.Duration {
			issues = append(issues, "interval must not exceed duration")
		}
	case KindRamp:
		if p.StartRate < 0 || p.EndRate < 0 {
			issues = append(issues, "start_rate and end_rate must be >= 0")
		}
		if p.StartRate == 0 && p.EndRate == 0 {
			issues = append(issues, "start_rate or end_rate must be > 0")
		}
		needDuration()
	case KindFixedConcurrency:
		if p.Concurrency <= 0 {
			issues = append(issues, "concurrency must be > 0")
		}
		needDuration()
	case KindRandomRate:
		if p.MinRate < 0 {
			issues = append(issues, "min_rate must be >= 0")
		}
		if p.MaxRate <= 0 {
			issues = append(issues, "max_rate must be > 0")
		}
		if p.MaxRate < p.MinRate {
			issues = append(issues, "max_rate must be >= min_rate")
		}
		needDuration()
	case KindPause:
		needDuration()
	case "":
		issues = append(issues, "type is required")
	default:
		issues = append(issues, fmt.Sprintf("unsupported type %q", p.Kind))
	}
	return issues
}

// Issues validates every entry of list and returns one message per problem,
// prefixed with label and the entry index (e.g. "load[2]: rate must be > 0").
func Issues(label string, list []Profile) []string {
	var issues []string
	for idx, p := range list {
		for _, issue := range p.issues() {
			issues = append(issues, fmt.Sprintf("%s[%d]: %s", label, idx, issue))
		}
	}
	return issues
}

// ValidateList validates every entry of list and reports each failing entry by index.
func ValidateList(list []Profile) error {
	if issues := Issues("load", list); len(issues) > 0 {
		return fmt.Errorf("invalid load profile: %s", strings.Join(issues, "; "))
	}
	return nil
}

// TotalDuration is the scheduled wall-clock time of list. Bursts contribute nothing.
func TotalDuration(list []Profile) time.Duration {
	var total time.Duration
	for _, p := range list {
		if p.Kind == KindBurst {
			continue
		}
		total += p.Duration
	}
	return total
}

// MaxConcurrency is the largest FixedConcurrency level in list, or 0.
func MaxConcurrency(list []Profile) int {
	max := 0
	for _, p := range list {
		if p.Kind == KindFixedConcurrency && p.Concurrency > max {
			max = p.Concurrency
		}
	}
	return max
}

func (p Profile) String() string {
	switch p.Kind {
	case KindBurst:
		return fmt.Sprintf("burst(count=%d)", p.Count)
	case KindFixedRate:
		return fmt.Sprintf("fixed_rate(rate=%d, interval=%s, during=%s)", p.Rate, p.Interval, p.Duration)
	case KindRamp:
		return fmt.Sprintf("ramp(from=%d, to=%d, during=%s)", p.StartRate, p.EndRate, p.Duration)
	case KindFixedConcurrency:
		return fmt.Sprintf("fixed_concurrency(n=%d, during=%s)", p.Concurrency, p.Duration)
	case KindRandomRate:
		return fmt.Sprintf("random_rate(min=%d, max=%d, during=%s)", p.MinRate, p.MaxRate, p.Duration)
	case KindPause:
		return fmt.Sprintf("pause(during=%s)", p.Duration)
	default:
		return fmt.Sprintf("%s(?)", p.Kind)
	}
}
