// Package countdown computes how close a switch is to its deadline.
//
// Everything here is pure: the clock is always an explicit argument,
// so the scheduler and the status endpoint share one deterministic
// implementation.
package countdown

import (
	"math"
	"time"

	"github.com/finvault/lastwish-gateway/internal/model"
)

type Urgency string

const (
	UrgencySafe     Urgency = "safe"
	UrgencyWarning  Urgency = "warning"
	UrgencyCritical Urgency = "critical"
	UrgencyOverdue  Urgency = "overdue"
)

// severity orders urgency levels for comparisons; higher is worse.
func severity(u Urgency) int {
	switch u {
	case UrgencyOverdue:
		return 3
	case UrgencyCritical:
		return 2
	case UrgencyWarning:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether u is at least as severe as other.
func (u Urgency) AtLeast(other Urgency) bool {
	return severity(u) >= severity(other)
}

type Evaluation struct {
	DaysLeft  int        `json:"days_left"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	IsOverdue bool       `json:"is_overdue"`
	Urgency   Urgency    `json:"urgency"`
	Progress  float64    `json:"progress"` // 0..100, display only
}

const day = 24 * time.Hour

// Evaluate computes the countdown state for a switch that has
// frequencyDays configured. A nil lastCheckIn means the user has never
// checked in: the switch has no deadline yet and is never overdue.
//
// The deadline boundary is inclusive: at now == deadline the switch is
// already overdue. DaysLeft is the ceiling of the remaining time in
// whole days and goes to zero or negative once the deadline passes.
func Evaluate(lastCheckIn *time.Time, frequencyDays int, now time.Time) Evaluation {
	if lastCheckIn == nil {
		return Evaluation{
			DaysLeft: frequencyDays,
			Urgency:  UrgencySafe,
			Progress: 0,
		}
	}

	deadline := lastCheckIn.Add(time.Duration(frequencyDays) * day)
	daysLeft := int(math.Ceil(deadline.Sub(now).Hours() / 24))
	overdue := !now.Before(deadline)

	var urgency Urgency
	switch {
	case overdue:
		urgency = UrgencyOverdue
	case daysLeft <= 3:
		urgency = UrgencyCritical
	case daysLeft <= 7:
		urgency = UrgencyWarning
	default:
		urgency = UrgencySafe
	}

	progress := float64(frequencyDays-daysLeft) / float64(frequencyDays) * 100
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	return Evaluation{
		DaysLeft:  daysLeft,
		Deadline:  &deadline,
		IsOverdue: overdue,
		Urgency:   urgency,
		Progress:  progress,
	}
}

// EvaluateSwitch applies the is_enabled gate before the countdown: a
// disabled switch is inert and reports the safe resting state.
func EvaluateSwitch(s *model.Switch, now time.Time) Evaluation {
	if s == nil || !s.IsEnabled || s.FrequencyDays <= 0 {
		days := 0
		if s != nil {
			days = s.FrequencyDays
		}
		return Evaluation{DaysLeft: days, Urgency: UrgencySafe, Progress: 0}
	}
	return Evaluate(s.LastCheckIn, s.FrequencyDays, now)
}
