package campaign

import (
	"fmt"
	"time"
)

// Status is the single lifecycle tag shown for a campaign.
type Status string

const (
	StatusActive    Status = "active"
	StatusGoalMet   Status = "goal_met"
	StatusExpired   Status = "expired"
	StatusWithdrawn Status = "withdrawn"
	StatusCancelled Status = "cancelled"
)

// Label returns the badge text for the status. A withdrawn campaign was
// funded, so it is labelled as such.
func (s Status) Label() string {
	switch s {
	case StatusCancelled:
		return "Cancelled"
	case StatusWithdrawn:
		return "Funded"
	case StatusGoalMet:
		return "Goal Met"
	case StatusExpired:
		return "Expired"
	default:
		return "Active"
	}
}

// ExpiredLabel is the time-remaining text once the deadline has passed.
const ExpiredLabel = "Expired"

const (
	secondsPerDay  = 86_400
	secondsPerHour = 3_600
)

// View is the derived campaign state. It is rebuilt from a Snapshot on every
// refresh and never updated in place.
type View struct {
	Snapshot

	GoalMet         bool      `json:"goal_met"`
	Expired         bool      `json:"expired"`
	Status          Status    `json:"status"`
	ProgressPercent uint8     `json:"progress_percent"`
	TimeRemaining   string    `json:"time_remaining"`
	ProjectedAt     time.Time `json:"projected_at"`
}

// Project maps a raw snapshot onto its derived view as of now.
//
// A zero goal is trivially met yet reports 0% progress; both values are kept
// as the ledger and the original client computed them.
func Project(s Snapshot, now time.Time) View {
	nowUnix := now.Unix()
	v := View{
		Snapshot:    s,
		GoalMet:     s.TotalRaised.Cmp(s.Goal) >= 0,
		Expired:     nowUnix > s.Deadline,
		ProjectedAt: now,
	}
	v.Status = resolveStatus(s.Cancelled, s.Withdrawn, v.GoalMet, v.Expired)
	v.ProgressPercent = progressPercent(s)
	v.TimeRemaining = timeRemaining(s.Deadline, nowUnix, v.Expired)
	return v
}

func resolveStatus(cancelled, withdrawn, goalMet, expired bool) Status {
	switch {
	case cancelled:
		return StatusCancelled
	case withdrawn:
		return StatusWithdrawn
	case goalMet:
		return StatusGoalMet
	case expired:
		return StatusExpired
	default:
		return StatusActive
	}
}

func progressPercent(s Snapshot) uint8 {
	pct, ok := s.TotalRaised.Percent(s.Goal)
	if !ok {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return uint8(pct)
}

func timeRemaining(deadline, now int64, expired bool) string {
	if expired {
		return ExpiredLabel
	}
	remaining := deadline - now
	days := remaining / secondsPerDay
	hours := (remaining % secondsPerDay) / secondsPerHour
	if days > 0 {
		return fmt.Sprintf("%dd %dh left", days, hours)
	}
	return fmt.Sprintf("%dh left", hours)
}
