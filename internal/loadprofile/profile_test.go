package loadprofile

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr string
	}{
		{name: "burst ok", profile: Burst(10)},
		{name: "burst zero", profile: Burst(0), wantErr: "count must be > 0"},
		{name: "fixed rate ok", profile: FixedRate(10, time.Second, time.Minute)},
		{name: "fixed rate negative", profile: FixedRate(-1, time.Second, time.Minute), wantErr: "rate must be > 0"},
		{name: "fixed rate long interval", profile: FixedRate(1, time.Minute, time.Second), wantErr: "interval must not exceed duration"},
		{name: "ramp ok", profile: Ramp(0, 50, time.Second)},
		{name: "ramp flat zero", profile: Ramp(0, 0, time.Second), wantErr: "start_rate or end_rate must be > 0"},
		{name: "ramp no duration", profile: Ramp(1, 5, 0), wantErr: "duration must be > 0"},
		{name: "concurrency ok", profile: FixedConcurrency(5, time.Second)},
		{name: "concurrency zero", profile: FixedConcurrency(0, time.Second), wantErr: "concurrency must be > 0"},
		{name: "random ok", profile: RandomRate(1, 5, time.Second)},
		{name: "random inverted", profile: RandomRate(5, 1, time.Second), wantErr: "max_rate must be >= min_rate"},
		{name: "pause ok", profile: Pause(time.Second)},
		{name: "pause negative", profile: Pause(-time.Second), wantErr: "duration must be > 0"},
		{name: "unknown", profile: Profile{Kind: "spike"}, wantErr: "unsupported type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestIssuesIndexesEntries(t *testing.T) {
	issues := Issues("load", []Profile{Burst(1), FixedRate(0, time.Second, time.Second)})
	if len(issues) != 1 {
		t.Fatalf("issues = %v", issues)
	}
	if !strings.HasPrefix(issues[0], "load[1]:") {
		t.Fatalf("issue = %q", issues[0])
	}
}

func TestTotalDurationAndMaxConcurrency(t *testing.T) {
	list := []Profile{
		Burst(100),
		FixedRate(10, time.Second, 3*time.Second),
		Pause(time.Second),
		FixedConcurrency(8, 2*time.Second),
		FixedConcurrency(3, time.Second),
	}
	if got := TotalDuration(list); got != 7*time.Second {
		t.Fatalf("TotalDuration() = %s", got)
	}
	if got := MaxConcurrency(list); got != 8 {
		t.Fatalf("MaxConcurrency() = %d", got)
	}
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("Fixed-Concurrency")
	if err != nil || kind != KindFixedConcurrency {
		t.Fatalf("ParseKind() = %q, %v", kind, err)
	}
	if _, err := ParseKind("spike"); err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}

func TestValidateList(t *testing.T) {
	if err := ValidateList([]Profile{Burst(1), Pause(time.Second)}); err != nil {
		t.Fatalf("ValidateList() error = %v", err)
	}
	err := ValidateList([]Profile{Burst(1), Burst(0), Ramp(1, 2, 0)})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"load[1]: count must be > 0", "load[2]: duration must be > 0"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not contain %q", err, want)
		}
	}
}
