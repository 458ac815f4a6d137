package runner

import (
	"time"

	"github.com/torosent/stepfire/internal/loadprofile"
)

// phasePlan places the load profiles of one phase on its timeline.
type phasePlan struct {
	entries        []planEntry
	duration       time.Duration
	maxConcurrency int
}

type planEntry struct {
	profile loadprofile.Profile
	start   time.Duration // offset from the phase start, assuming bursts take no time
}

func (e planEntry) end() time.Duration {
	if e.profile.Kind == loadprofile.KindBurst {
		return e.start
	}
	return e.start + e.profile.Duration
}

func compilePlan(profiles []loadprofile.Profile) *phasePlan {
	plan := &phasePlan{maxConcurrency: loadprofile.MaxConcurrency(profiles)}
	var offset time.Duration
	for _, p := range profiles {
		entry := planEntry{profile: p, start: offset}
		plan.entries = append(plan.entries, entry)
		offset = entry.end()
	}
	plan.duration = offset
	return plan
}

// rateAt returns the target starts per second at elapsed for open-loop entries.
// It reports false outside the plan and for burst or fixed concurrency entries.
func (p *phasePlan) rateAt(elapsed time.Duration) (float64, bool) {
	if p == nil || len(p.entries) == 0 {
		return 0, false
	}
	if elapsed < 0 {
		elapsed = 0
	}
	for _, e := range p.entries {
		if elapsed < e.start || elapsed >= e.end() {
			continue
		}
		prof := e.profile
		switch prof.Kind {
		case loadprofile.KindFixedRate:
			return float64(prof.Rate) / prof.Interval.Seconds(), true
		case loadprofile.KindRamp:
			progress := float64(elapsed-e.start) / float64(prof.Duration)
			if progress < 0 {
				progress = 0
			} else if progress > 1 {
				progress = 1
			}
			from, to := float64(prof.StartRate), float64(prof.EndRate)
			return from + (to-from)*progress, true
		case loadprofile.KindRandomRate:
			return float64(prof.MinRate+prof.MaxRate) / 2, true
		case loadprofile.KindPause:
			return 0, true
		default:
			return 0, false
		}
	}
	return 0, false
}

func (p *phasePlan) totalDuration() time.Duration {
	if p == nil {
		return 0
	}
	return p.duration
}
