package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"goalline/internal/config"
	"goalline/internal/db"
	"goalline/internal/domain"
	"goalline/internal/engine"
	"goalline/internal/migrate"
	"goalline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func createGoal(t *testing.T, env testEnv, opts engine.GoalCreateOptions) domain.Goal {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "Q1 revenue"
	}
	if opts.Type == "" {
		opts.Type = "revenue"
	}
	if opts.StartDate == "" {
		opts.StartDate = "2026-01-01T00:00:00Z"
	}
	if opts.EndDate == "" {
		opts.EndDate = "2026-03-31T00:00:00Z"
	}
	if opts.ActorID == "" {
		opts.ActorID = "tester"
	}
	g, err := env.Engine.CreateGoal(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	return g
}

func target(v float64) *float64 { return &v }

func TestCreateGoalDefaults(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{TargetValue: target(1000)})
	if g.Status != "draft" {
		t.Fatalf("new goal status = %s, want draft", g.Status)
	}
	if g.OwnerType != "individual" || g.Timeframe != "custom" || g.CalculationSource != "manual" {
		t.Fatalf("defaults not applied: %+v", g)
	}
	if g.CurrentProgress != 0 {
		t.Fatalf("progress = %f, want 0", g.CurrentProgress)
	}
	stored, err := env.Engine.Repo.GetGoal(env.Ctx, g.ID)
	if err != nil {
		t.Fatalf("get goal back: %v", err)
	}
	if stored.Description != "" {
		t.Fatalf("description = %q, want empty", stored.Description)
	}

	_, err = env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{
		Type: "revenue", StartDate: "2026-01-01T00:00:00Z", EndDate: "2026-03-31T00:00:00Z", ActorID: "tester",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "name" {
		t.Fatalf("expected name validation error, got %v", err)
	}

	_, err = env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{
		Name: "backwards", Type: "deals", ActorID: "tester",
		StartDate: "2026-03-31T00:00:00Z", EndDate: "2026-01-01T00:00:00Z",
	})
	if !errors.As(err, &ve) || ve.Field != "end_date" {
		t.Fatalf("expected end_date validation error, got %v", err)
	}
}

func TestManualAdjustJustificationLength(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{TargetValue: target(100)})

	// one char short of the minimum
	_, err := env.Engine.ManualAdjust(env.Ctx, g.ID, 10, "123456789", "tester")
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "justification" {
		t.Fatalf("expected justification error, got %v", err)
	}

	got, err := env.Engine.ManualAdjust(env.Ctx, g.ID, 10, "1234567890", "tester")
	if err != nil {
		t.Fatalf("adjust with minimum justification: %v", err)
	}
	if got.CurrentProgress != 10 {
		t.Fatalf("progress = %f, want 10", got.CurrentProgress)
	}
}

func TestManualAdjustClampsToTarget(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{TargetValue: target(100)})

	got, err := env.Engine.ManualAdjust(env.Ctx, g.ID, 250, "overshooting the target", "tester")
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if got.CurrentProgress != 100 {
		t.Fatalf("progress = %f, want clamped to 100", got.CurrentProgress)
	}

	_, err = env.Engine.ManualAdjust(env.Ctx, g.ID, -5, "negative progress value", "tester")
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "new_progress" {
		t.Fatalf("expected new_progress error, got %v", err)
	}
}

func TestManualAdjustSideEffects(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{TargetValue: target(200)})

	if _, err := env.Engine.ManualAdjust(env.Ctx, g.ID, 50, "first deals closed", "tester"); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{GoalID: g.ID, EventType: "progress_update"})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("progress_update entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.OldValue == nil || *e.OldValue != "0.00" || e.NewValue == nil || *e.NewValue != "50.00" {
		t.Fatalf("old/new = %v/%v", e.OldValue, e.NewValue)
	}
	if !strings.Contains(e.ChangeDetails, "first deals closed") {
		t.Fatalf("change details missing justification: %s", e.ChangeDetails)
	}

	snaps, err := env.Engine.Repo.ListSnapshots(env.Ctx, repo.SnapshotFilters{GoalID: g.ID})
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Source != "manual_adjustment" {
		t.Fatalf("snapshots = %+v, want one manual_adjustment", snaps)
	}
	if snaps[0].Percentage != 25 {
		t.Fatalf("snapshot percentage = %f, want 25", snaps[0].Percentage)
	}
}

func TestManualAdjustOverrideReason(t *testing.T) {
	env := newTestEnv(t)
	auto := createGoal(t, env, engine.GoalCreateOptions{
		Name: "pipeline", CalculationSource: "auto_calculated", TargetValue: target(100),
	})
	manual := createGoal(t, env, engine.GoalCreateOptions{Name: "calls", TargetValue: target(100)})

	g, err := env.Engine.ManualAdjust(env.Ctx, auto.ID, 40, "pipeline import was wrong", "tester")
	if err != nil {
		t.Fatalf("adjust auto goal: %v", err)
	}
	if g.ManualOverrideReason == nil || *g.ManualOverrideReason != "pipeline import was wrong" {
		t.Fatalf("override reason = %v", g.ManualOverrideReason)
	}

	g, err = env.Engine.ManualAdjust(env.Ctx, manual.ID, 40, "counted this morning", "tester")
	if err != nil {
		t.Fatalf("adjust manual goal: %v", err)
	}
	if g.ManualOverrideReason != nil {
		t.Fatalf("manual goal should not record an override reason, got %q", *g.ManualOverrideReason)
	}
}

func TestManualAdjustClosedGoalFlagged(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{TargetValue: target(100)})
	if _, err := env.Engine.ChangeStatus(env.Ctx, g.ID, "cancelled", "tester"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, err := env.Engine.ManualAdjust(env.Ctx, g.ID, 30, "late correction after close", "tester")
	if err != nil {
		t.Fatalf("adjust cancelled goal: %v", err)
	}
	if got.CurrentProgress != 30 {
		t.Fatalf("progress = %f, want 30", got.CurrentProgress)
	}
	entries, _ := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{GoalID: g.ID, EventType: "progress_update"})
	if len(entries) != 1 || !strings.Contains(entries[0].ChangeDetails, `"closed":true`) {
		t.Fatalf("expected closed flag in audit details, got %+v", entries)
	}
}

func TestRecalculateSuccess(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{
		CalculationSource: "auto_calculated", TargetValue: target(100),
	})
	env.Engine.Signal = func(context.Context, domain.Goal) (float64, error) { return 42, nil }

	got, err := env.Engine.Recalculate(env.Ctx, g.ID, "tester")
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if got.CurrentProgress != 42 {
		t.Fatalf("progress = %f, want 42", got.CurrentProgress)
	}
	if got.CalculationFailed {
		t.Fatalf("calculation_failed should be clear")
	}
	if got.LastCalculatedAt == nil {
		t.Fatalf("last_calculated_at not set")
	}
	// 0% -> 42% is a significant change
	snaps, _ := env.Engine.Repo.ListSnapshots(env.Ctx, repo.SnapshotFilters{GoalID: g.ID})
	if len(snaps) != 1 || snaps[0].Source != "significant_change" {
		t.Fatalf("snapshots = %+v, want one significant_change", snaps)
	}
}

func TestRecalculateFailureIsDurable(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{
		CalculationSource: "auto_calculated", TargetValue: target(100),
	})
	env.Engine.Signal = func(context.Context, domain.Goal) (float64, error) { return 30, nil }
	if _, err := env.Engine.Recalculate(env.Ctx, g.ID, "tester"); err != nil {
		t.Fatalf("first recalculate: %v", err)
	}

	env.Engine.Signal = func(context.Context, domain.Goal) (float64, error) {
		return 0, fmt.Errorf("crm upstream timed out")
	}
	got, err := env.Engine.Recalculate(env.Ctx, g.ID, "tester")
	var ce engine.CalculationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CalculationError, got %v", err)
	}
	if !got.CalculationFailed {
		t.Fatalf("calculation_failed not set")
	}
	if got.CurrentProgress != 30 {
		t.Fatalf("stale progress lost: %f", got.CurrentProgress)
	}
	entries, _ := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{GoalID: g.ID, EventType: "calculation_event"})
	failures := 0
	for _, e := range entries {
		if strings.Contains(e.ChangeDetails, "crm upstream timed out") {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("failure audit entries = %d, want 1", failures)
	}
}

func TestRecalculateManualGoalRejected(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{TargetValue: target(100)})
	env.Engine.Signal = func(context.Context, domain.Goal) (float64, error) { return 1, nil }
	_, err := env.Engine.Recalculate(env.Ctx, g.ID, "tester")
	var ie engine.InvalidOperationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InvalidOperationError, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{TargetValue: target(100)})

	// draft cannot jump straight to completed
	_, err := env.Engine.ChangeStatus(env.Ctx, g.ID, "completed", "tester")
	var ie engine.InvalidOperationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InvalidOperationError, got %v", err)
	}

	if _, err := env.Engine.ChangeStatus(env.Ctx, g.ID, "active", "tester"); err != nil {
		t.Fatalf("to active: %v", err)
	}
	if _, err := env.Engine.ManualAdjust(env.Ctx, g.ID, 60, "mid-quarter check-in", "tester"); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	got, err := env.Engine.ChangeStatus(env.Ctx, g.ID, "completed", "tester")
	if err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if got.CurrentProgress != 100 {
		t.Fatalf("completion should top progress to target, got %f", got.CurrentProgress)
	}
	if got.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}

	// completed is terminal
	if _, err := env.Engine.ChangeStatus(env.Ctx, g.ID, "active", "tester"); !errors.As(err, &ie) {
		t.Fatalf("expected InvalidOperationError, got %v", err)
	}
}

func TestMilestoneNotifications(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{TargetValue: target(100)})

	if _, err := env.Engine.ManualAdjust(env.Ctx, g.ID, 55, "crossed the halfway mark", "tester"); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	items, err := env.Engine.Repo.ListNotifications(env.Ctx, g.ID, false, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	milestones := 0
	for _, n := range items {
		if n.Type == "milestone" {
			milestones++
		}
	}
	// crossed 25 and 50 in one move
	if milestones != 2 {
		t.Fatalf("milestone notifications = %d, want 2", milestones)
	}
}

func TestHierarchyCycles(t *testing.T) {
	env := newTestEnv(t)
	a := createGoal(t, env, engine.GoalCreateOptions{Name: "company", OwnerType: "company"})
	b := createGoal(t, env, engine.GoalCreateOptions{Name: "team", OwnerType: "team"})

	if _, err := env.Engine.Attach(env.Ctx, b.ID, a.ID, 1, "tester"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	_, err := env.Engine.Attach(env.Ctx, a.ID, b.ID, 1, "tester")
	var ce engine.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if _, err := env.Engine.Attach(env.Ctx, a.ID, a.ID, 1, "tester"); !errors.As(err, &ce) {
		t.Fatalf("self-link should be a CycleError, got %v", err)
	}
}

func TestHierarchySingleParentAndRank(t *testing.T) {
	env := newTestEnv(t)
	company := createGoal(t, env, engine.GoalCreateOptions{Name: "company", OwnerType: "company"})
	team := createGoal(t, env, engine.GoalCreateOptions{Name: "team", OwnerType: "team"})
	team2 := createGoal(t, env, engine.GoalCreateOptions{Name: "team2", OwnerType: "team"})
	rep := createGoal(t, env, engine.GoalCreateOptions{Name: "rep", OwnerType: "individual"})

	if _, err := env.Engine.Attach(env.Ctx, team.ID, company.ID, 1, "tester"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	_, err := env.Engine.Attach(env.Ctx, team.ID, team2.ID, 1, "tester")
	var le engine.AlreadyLinkedError
	if !errors.As(err, &le) {
		t.Fatalf("expected AlreadyLinkedError, got %v", err)
	}

	// a team goal cannot sit under an individual goal
	_, err = env.Engine.Attach(env.Ctx, team2.ID, rep.ID, 1, "tester")
	var ie engine.InvalidOperationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InvalidOperationError, got %v", err)
	}

	if err := env.Engine.Detach(env.Ctx, team.ID, "tester"); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if err := env.Engine.Detach(env.Ctx, team.ID, "tester"); !errors.As(err, &ie) {
		t.Fatalf("detach without parent should fail, got %v", err)
	}
}

func TestBulkDeletePartialFailure(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{})

	res, err := env.Engine.BulkDelete(env.Ctx, []string{g.ID, "missing"}, "tester")
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if res.TotalRequested != 2 {
		t.Fatalf("total = %d, want 2", res.TotalRequested)
	}
	if len(res.Succeeded) != 1 || res.Succeeded[0] != g.ID {
		t.Fatalf("succeeded = %v", res.Succeeded)
	}
	if len(res.Failed) != 1 || res.Failed[0].GoalID != "missing" {
		t.Fatalf("failed = %v", res.Failed)
	}
}

func TestAnalytics(t *testing.T) {
	env := newTestEnv(t)
	g1 := createGoal(t, env, engine.GoalCreateOptions{TargetValue: target(100)})
	g2 := createGoal(t, env, engine.GoalCreateOptions{Name: "Q1 deals", Type: "deals", TargetValue: target(100)})
	createGoal(t, env, engine.GoalCreateOptions{Name: "Q1 tasks", Type: "tasks", TargetValue: target(100)})

	if _, err := env.Engine.ChangeStatus(env.Ctx, g1.ID, "active", "tester"); err != nil {
		t.Fatalf("activate g1: %v", err)
	}
	if _, err := env.Engine.ChangeStatus(env.Ctx, g1.ID, "completed", "tester"); err != nil {
		t.Fatalf("complete g1: %v", err)
	}
	if _, err := env.Engine.ChangeStatus(env.Ctx, g2.ID, "active", "tester"); err != nil {
		t.Fatalf("activate g2: %v", err)
	}
	if _, err := env.Engine.ManualAdjust(env.Ctx, g2.ID, 50, "halfway there now", "tester"); err != nil {
		t.Fatalf("adjust g2: %v", err)
	}

	a, err := env.Engine.Analytics(env.Ctx)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if a.TotalGoals != 3 || a.CompletedGoals != 1 || a.ActiveGoals != 1 || a.CancelledGoals != 0 {
		t.Fatalf("counts = %+v", a)
	}
	if a.CompletionRate < 33.3 || a.CompletionRate > 33.4 {
		t.Fatalf("completion rate = %f, want one third", a.CompletionRate)
	}
	// completed 100, adjusted 50, untouched 0
	if a.AverageProgressPct != 50 {
		t.Fatalf("average progress = %f, want 50", a.AverageProgressPct)
	}
	if len(a.ByType) != 3 || a.ByType[0].Type != "deals" || a.ByType[0].Count != 1 {
		t.Fatalf("by type = %+v", a.ByType)
	}
	if len(a.ByStatus) != 3 {
		t.Fatalf("by status = %+v", a.ByStatus)
	}
}

func TestBulkSizeCap(t *testing.T) {
	env := newTestEnv(t)
	ids := make([]string, env.Engine.Rules.Bulk.MaxItems+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("g%d", i)
	}
	_, err := env.Engine.BulkDelete(env.Ctx, ids, "tester")
	var te engine.TooManyItemsError
	if !errors.As(err, &te) {
		t.Fatalf("expected TooManyItemsError, got %v", err)
	}
	if te.Max != env.Engine.Rules.Bulk.MaxItems {
		t.Fatalf("max = %d", te.Max)
	}
}

func TestAuditSurvivesDelete(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{TargetValue: target(100)})
	if _, err := env.Engine.ManualAdjust(env.Ctx, g.ID, 10, "before the delete", "tester"); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if err := env.Engine.DeleteGoal(env.Ctx, g.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{GoalID: g.ID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	// create, progress_update and delete all retained
	if len(entries) < 3 {
		t.Fatalf("audit entries = %d, want at least 3", len(entries))
	}
	last := entries[len(entries)-1]
	if last.EventType != "delete" {
		t.Fatalf("last event = %s, want delete", last.EventType)
	}
}

func TestAuditSharesEngineClock(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{TargetValue: target(100)})
	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{GoalID: g.ID, EventType: "create"})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("create entries = %d, want 1", len(entries))
	}
	if entries[0].TS != g.CreatedAt {
		t.Fatalf("audit ts = %s, goal created_at = %s", entries[0].TS, g.CreatedAt)
	}
	if entries[0].TS != "2026-01-15T00:00:00Z" {
		t.Fatalf("audit ts = %s, want the injected clock", entries[0].TS)
	}
}

func TestAlertsOverdueAndDedupe(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{
		EndDate: "2026-01-10T00:00:00Z", TargetValue: target(100),
	})
	if _, err := env.Engine.ChangeStatus(env.Ctx, g.ID, "active", "tester"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// Now (Jan 15) is past the end date with progress short of target.
	created, err := env.Engine.EvaluateAlerts(env.Ctx, g.ID, "tester")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	found := false
	for _, n := range created {
		if n.Type == "overdue" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an overdue alert, got %+v", created)
	}

	again, err := env.Engine.EvaluateAlerts(env.Ctx, g.ID, "tester")
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("duplicate alerts created: %+v", again)
	}
}

func TestCommentsAuthorOnlyEdit(t *testing.T) {
	env := newTestEnv(t)
	g := createGoal(t, env, engine.GoalCreateOptions{})
	c, err := env.Engine.AddComment(env.Ctx, g.ID, "looking good so far", "alice")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if _, err := env.Engine.EditComment(env.Ctx, c.ID, "revised note", "bob"); err == nil {
		t.Fatalf("expected edit by non-author to fail")
	}
	got, err := env.Engine.EditComment(env.Ctx, c.ID, "revised note", "alice")
	if err != nil {
		t.Fatalf("edit comment: %v", err)
	}
	if got.Body != "revised note" || got.UpdatedAt == nil {
		t.Fatalf("comment not updated: %+v", got)
	}
}
