// Package forecast derives velocity, confidence and an estimated
// completion date from a goal's progress history. Everything here is a
// pure function over stored snapshots, safe to recompute on every read.
package forecast

import (
	"time"

	"goalline/internal/config"
	"goalline/internal/domain"
)

const (
	StatusAhead            = "ahead"
	StatusOnTrack          = "on_track"
	StatusBehind           = "behind"
	StatusAtRisk           = "at_risk"
	StatusInsufficientData = "insufficient_data"
)

const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

type Result struct {
	GoalID                  string   `json:"goal_id"`
	Status                  string   `json:"status" enum:"ahead,on_track,behind,at_risk,insufficient_data"`
	DailyVelocity           *float64 `json:"daily_velocity,omitempty"`
	WeeklyVelocity          *float64 `json:"weekly_velocity,omitempty"`
	RequiredDailyVelocity   *float64 `json:"required_daily_velocity,omitempty"`
	CurrentPercentage       float64  `json:"current_percentage"`
	ConfidenceLevel         string   `json:"confidence_level" enum:"high,medium,low"`
	SnapshotCount           int      `json:"snapshot_count"`
	DaysRemaining           int      `json:"days_remaining"`
	EstimatedCompletionDate *string  `json:"estimated_completion_date,omitempty" format:"date-time"`
}

// Compute classifies a goal's trajectory from its ordered snapshots.
// Snapshots must be sorted oldest first.
func Compute(goal domain.Goal, snapshots []domain.ProgressSnapshot, rules *config.Rules, now time.Time) Result {
	res := Result{
		GoalID:          goal.ID,
		Status:          StatusInsufficientData,
		ConfidenceLevel: ConfidenceLow,
		SnapshotCount:   len(snapshots),
	}
	end, endErr := time.Parse(time.RFC3339, goal.EndDate)
	if endErr == nil {
		res.DaysRemaining = daysBetween(now, end)
		if end.Before(now) {
			res.DaysRemaining = 0
		}
	}
	if len(snapshots) == 0 {
		return res
	}
	latest := snapshots[len(snapshots)-1]
	res.CurrentPercentage = latest.Percentage
	if len(snapshots) == 1 {
		return res
	}

	earliest := snapshots[0]
	earliestAt, err1 := time.Parse(time.RFC3339, earliest.RecordedAt)
	latestAt, err2 := time.Parse(time.RFC3339, latest.RecordedAt)
	if err1 != nil || err2 != nil {
		return res
	}
	span := daysBetween(earliestAt, latestAt)
	dv := (latest.Value - earliest.Value) / float64(max(1, span))
	wv := dv * 7
	res.DailyVelocity = &dv
	res.WeeklyVelocity = &wv
	res.ConfidenceLevel = confidence(len(snapshots), span, rules)

	if goal.TargetValue == nil || endErr != nil {
		return res
	}
	target := *goal.TargetValue
	remaining := target - latest.Value
	req := remaining / float64(max(1, res.DaysRemaining))
	res.RequiredDailyVelocity = &req

	switch {
	case dv >= req*rules.Forecast.AheadFactor:
		res.Status = StatusAhead
	case dv >= req*rules.Forecast.BehindFactor:
		res.Status = StatusOnTrack
	case res.DaysRemaining > 0:
		res.Status = StatusBehind
	case remaining > 0 || (dv <= 0 && latest.Value < target):
		res.Status = StatusAtRisk
	}

	if dv > 0 && remaining > 0 {
		eta := now.Add(time.Duration(remaining / dv * 24 * float64(time.Hour))).UTC().Format(time.RFC3339)
		res.EstimatedCompletionDate = &eta
	}
	return res
}

func confidence(count, spanDays int, rules *config.Rules) string {
	switch {
	case count >= rules.Forecast.HighSnapshots && spanDays >= rules.Forecast.HighSpanDays:
		return ConfidenceHigh
	case count >= rules.Forecast.MedSnapshots:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func daysBetween(a, b time.Time) int {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}
