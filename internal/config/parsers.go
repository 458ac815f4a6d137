// Package config provides configuration loading and parsing for stepfire.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseProfileSpec parses the compact flag form of a load profile:
//
//	<type>:<key>=<value>[,<key>=<value>...]
//
// for example "fixed_rate:rate=10,interval=1s,duration=30s" or "burst:count=50".
func parseProfileSpec(spec string) (ProfileConfig, error) {
	kind, rest, _ := strings.Cut(strings.TrimSpace(spec), ":")
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return ProfileConfig{}, fmt.Errorf("profile %q: type is required", spec)
	}
	p := ProfileConfig{Type: kind}

	settings, err := parseKeyValues(rest)
	if err != nil {
		return ProfileConfig{}, fmt.Errorf("profile %q: %w", spec, err)
	}
	for key, raw := range settings {
		var err error
		switch normalizeKey(key) {
		case "count":
			p.Count, err = asInt(raw)
		case "rate":
			p.Rate, err = asInt(raw)
		case "interval":
			p.Interval, err = asDuration(raw)
		case "startrate", "from":
			p.StartRate, err = asInt(raw)
		case "endrate", "to":
			p.EndRate, err = asInt(raw)
		case "minrate", "min":
			p.MinRate, err = asInt(raw)
		case "maxrate", "max":
			p.MaxRate, err = asInt(raw)
		case "concurrency", "n":
			p.Concurrency, err = asInt(raw)
		case "duration", "during":
			p.Duration, err = asDuration(raw)
		default:
			err = fmt.Errorf("unknown key")
		}
		if err != nil {
			return ProfileConfig{}, fmt.Errorf("profile %q: %s: %w", spec, key, err)
		}
	}
	return p, nil
}

// parseKeyValues splits "a=1,b=2" into a map. An empty string yields an empty map.
func parseKeyValues(s string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", strings.TrimSpace(part))
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

// normalizeKey folds case and drops '_' and '-' so start_rate, start-rate and
// startRate match.
func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("_", "", "-", "").Replace(key)
}

// asInt converts a flag value to an int.
func asInt(value string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", value)
	}
	return i, nil
}

// asDuration accepts Go duration strings or a bare number of seconds.
func asDuration(value string) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(trimmed); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration %q", value)
}
