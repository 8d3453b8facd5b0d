package engine

import (
	"context"
	"fmt"
	"time"

	"goalline/internal/domain"
	"goalline/internal/forecast"
	"goalline/internal/repo"
)

// EvaluateAlerts derives at_risk and overdue notifications for one active
// goal from its forecast and end date. Duplicate alerts are suppressed
// while an earlier one is still undelivered.
func (e Engine) EvaluateAlerts(ctx context.Context, goalID, actorID string) ([]domain.Notification, error) {
	g, err := e.Repo.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if g.Status != "active" {
		return nil, nil
	}
	snapshots, err := e.Repo.ListSnapshots(ctx, repo.SnapshotFilters{GoalID: goalID})
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	fc := forecast.Compute(g, snapshots, e.Rules, now)

	var wanted []struct {
		typ string
		msg string
	}
	if end, err := time.Parse(time.RFC3339, g.EndDate); err == nil && now.After(end) {
		if g.TargetValue != nil && g.CurrentProgress < *g.TargetValue {
			wanted = append(wanted, struct{ typ, msg string }{
				"overdue", fmt.Sprintf("Goal %q passed its end date at %.1f%% of target", g.Name, g.ProgressPercentage()),
			})
		}
	}
	if fc.Status == forecast.StatusAtRisk || fc.Status == forecast.StatusBehind {
		wanted = append(wanted, struct{ typ, msg string }{
			"at_risk", fmt.Sprintf("Goal %q is %s of its required pace", g.Name, fc.Status),
		})
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var created []domain.Notification
	for _, w := range wanted {
		dup, err := e.Repo.HasUnsentNotification(ctx, tx, g.ID, w.typ)
		if err != nil {
			return nil, err
		}
		if dup {
			continue
		}
		n, err := e.notify(ctx, tx, g, w.typ, w.msg)
		if err != nil {
			return nil, err
		}
		created = append(created, n)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

// SweepAlerts evaluates every active goal.
func (e Engine) SweepAlerts(ctx context.Context, actorID string) (int, error) {
	goals, err := e.Repo.ListGoals(ctx, repo.GoalFilters{Status: "active"})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, g := range goals {
		created, err := e.EvaluateAlerts(ctx, g.ID, actorID)
		if err != nil {
			return total, err
		}
		total += len(created)
	}
	return total, nil
}
