package forecast_test

import (
	"fmt"
	"testing"
	"time"

	"goalline/internal/config"
	"goalline/internal/domain"
	"goalline/internal/forecast"
)

var now = time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)

func goalEnding(end string, target float64) domain.Goal {
	return domain.Goal{
		ID:          "g1",
		Name:        "Q1 revenue",
		Type:        "revenue",
		Status:      "active",
		StartDate:   "2026-01-01T00:00:00Z",
		EndDate:     end,
		TargetValue: &target,
	}
}

func snap(day int, value, pct float64) domain.ProgressSnapshot {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day)
	return domain.ProgressSnapshot{
		GoalID:     "g1",
		Value:      value,
		Percentage: pct,
		Source:     "daily_snapshot",
		RecordedAt: at.Format(time.RFC3339),
	}
}

func TestInsufficientData(t *testing.T) {
	rules := config.Default()
	g := goalEnding("2026-01-31T00:00:00Z", 100)

	res := forecast.Compute(g, nil, rules, now)
	if res.Status != forecast.StatusInsufficientData || res.SnapshotCount != 0 {
		t.Fatalf("no snapshots: %+v", res)
	}
	if res.DaysRemaining != 20 {
		t.Fatalf("days remaining = %d, want 20", res.DaysRemaining)
	}

	res = forecast.Compute(g, []domain.ProgressSnapshot{snap(5, 30, 30)}, rules, now)
	if res.Status != forecast.StatusInsufficientData {
		t.Fatalf("one snapshot: %+v", res)
	}
	if res.CurrentPercentage != 30 {
		t.Fatalf("current percentage = %f, want 30", res.CurrentPercentage)
	}
	if res.DailyVelocity != nil {
		t.Fatalf("velocity should be unset with one snapshot")
	}
}

func TestVelocityAndOnTrack(t *testing.T) {
	rules := config.Default()
	g := goalEnding("2026-01-31T00:00:00Z", 100)
	snaps := []domain.ProgressSnapshot{snap(0, 10, 10), snap(10, 40, 40)}

	res := forecast.Compute(g, snaps, rules, now)
	if res.DailyVelocity == nil || *res.DailyVelocity != 3 {
		t.Fatalf("daily velocity = %v, want 3", res.DailyVelocity)
	}
	if res.WeeklyVelocity == nil || *res.WeeklyVelocity != 21 {
		t.Fatalf("weekly velocity = %v, want 21", res.WeeklyVelocity)
	}
	// 60 remaining over 20 days needs exactly 3/day
	if res.RequiredDailyVelocity == nil || *res.RequiredDailyVelocity != 3 {
		t.Fatalf("required velocity = %v, want 3", res.RequiredDailyVelocity)
	}
	if res.Status != forecast.StatusOnTrack {
		t.Fatalf("status = %s, want on_track", res.Status)
	}
	if res.EstimatedCompletionDate == nil || *res.EstimatedCompletionDate != "2026-01-31T00:00:00Z" {
		t.Fatalf("eta = %v, want 2026-01-31T00:00:00Z", res.EstimatedCompletionDate)
	}
}

func TestAheadAndBehind(t *testing.T) {
	rules := config.Default()
	g := goalEnding("2026-01-31T00:00:00Z", 100)

	res := forecast.Compute(g, []domain.ProgressSnapshot{snap(0, 10, 10), snap(10, 70, 70)}, rules, now)
	if res.Status != forecast.StatusAhead {
		t.Fatalf("status = %s, want ahead", res.Status)
	}

	res = forecast.Compute(g, []domain.ProgressSnapshot{snap(0, 10, 10), snap(10, 20, 20)}, rules, now)
	if res.Status != forecast.StatusBehind {
		t.Fatalf("status = %s, want behind", res.Status)
	}
}

func TestAtRiskPastEndDate(t *testing.T) {
	rules := config.Default()
	g := goalEnding("2026-01-10T00:00:00Z", 100)

	res := forecast.Compute(g, []domain.ProgressSnapshot{snap(0, 10, 10), snap(10, 20, 20)}, rules, now)
	if res.DaysRemaining != 0 {
		t.Fatalf("days remaining = %d, want 0", res.DaysRemaining)
	}
	if res.Status != forecast.StatusAtRisk {
		t.Fatalf("status = %s, want at_risk", res.Status)
	}
}

func TestNoEstimateWithoutPositiveVelocity(t *testing.T) {
	rules := config.Default()
	g := goalEnding("2026-01-31T00:00:00Z", 100)

	res := forecast.Compute(g, []domain.ProgressSnapshot{snap(0, 40, 40), snap(10, 30, 30)}, rules, now)
	if res.EstimatedCompletionDate != nil {
		t.Fatalf("eta should be unset for negative velocity, got %s", *res.EstimatedCompletionDate)
	}
	if res.DailyVelocity == nil || *res.DailyVelocity != -1 {
		t.Fatalf("daily velocity = %v, want -1", res.DailyVelocity)
	}
}

func TestConfidenceLevels(t *testing.T) {
	rules := config.Default()
	g := goalEnding("2026-03-31T00:00:00Z", 100)

	var many []domain.ProgressSnapshot
	for day := 0; day <= 16; day += 4 {
		many = append(many, snap(day, float64(day), float64(day)))
	}
	cases := []struct {
		snaps []domain.ProgressSnapshot
		want  string
	}{
		{many, forecast.ConfidenceHigh},
		{[]domain.ProgressSnapshot{snap(0, 1, 1), snap(2, 2, 2), snap(4, 3, 3)}, forecast.ConfidenceMedium},
		{[]domain.ProgressSnapshot{snap(0, 1, 1), snap(4, 3, 3)}, forecast.ConfidenceLow},
	}
	for i, tc := range cases {
		res := forecast.Compute(g, tc.snaps, rules, now)
		if res.ConfidenceLevel != tc.want {
			t.Fatalf("case %d: confidence = %s, want %s", i, res.ConfidenceLevel, tc.want)
		}
	}
}

func TestGoalWithoutTargetStaysUnclassified(t *testing.T) {
	rules := config.Default()
	g := goalEnding("2026-01-31T00:00:00Z", 100)
	g.TargetValue = nil

	res := forecast.Compute(g, []domain.ProgressSnapshot{snap(0, 10, 0), snap(10, 40, 0)}, rules, now)
	if res.Status != forecast.StatusInsufficientData {
		t.Fatalf("status = %s, want insufficient_data", res.Status)
	}
	if res.DailyVelocity == nil {
		t.Fatalf("velocity should still be reported")
	}
}

func ExampleCompute() {
	g := goalEnding("2026-01-31T00:00:00Z", 100)
	res := forecast.Compute(g, []domain.ProgressSnapshot{snap(0, 10, 10), snap(10, 40, 40)}, config.Default(), now)
	fmt.Println(res.Status, *res.DailyVelocity)
	// Output: on_track 3
}
