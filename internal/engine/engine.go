package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"goalline/internal/audit"
	"goalline/internal/config"
	"goalline/internal/domain"
	"goalline/internal/repo"
)

// SignalSource produces a fresh progress value for an auto-calculated goal
// from external CRM data.
type SignalSource func(ctx context.Context, goal domain.Goal) (float64, error)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Rules  *config.Rules
	Signal SignalSource
	Now    func() time.Time
}

func New(db *sql.DB, rules *config.Rules) Engine {
	return Engine{
		DB:    db,
		Repo:  repo.Repo{DB: db},
		Audit: audit.Writer{DB: db},
		Rules: rules,
		Now:   time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// audit returns the writer bound to the engine clock, so a mutation and
// its trail carry the same timestamp source.
func (e Engine) audit() audit.Writer {
	w := e.Audit
	w.Now = e.now
	return w
}

var goalTypes = map[string]bool{
	"revenue": true, "deals": true, "tasks": true, "activities": true, "performance": true,
}

var goalStatuses = map[string]bool{
	"draft": true, "active": true, "completed": true, "cancelled": true,
}

var ownerTypes = map[string]bool{
	"individual": true, "team": true, "company": true,
}

var timeframes = map[string]bool{
	"this_week": true, "this_month": true, "this_quarter": true, "this_year": true, "custom": true,
}

var calculationSources = map[string]bool{
	"manual": true, "auto_calculated": true,
}

// GoalCreateOptions are parameters for creating a goal.
type GoalCreateOptions struct {
	ID                string
	Name              string
	Description       string
	Type              string
	OwnerType         string
	OwnerID           string
	Timeframe         string
	StartDate         string
	EndDate           string
	TargetValue       *float64
	CalculationSource string
	ParentID          string
	Weight            float64
	ActorID           string
}

func (e Engine) CreateGoal(ctx context.Context, opts GoalCreateOptions) (domain.Goal, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Goal{}, ValidationError{Field: "name", Reason: "required"}
	}
	if !goalTypes[opts.Type] {
		return domain.Goal{}, ValidationError{Field: "type", Reason: fmt.Sprintf("invalid value %q", opts.Type)}
	}
	if opts.OwnerType == "" {
		opts.OwnerType = "individual"
	}
	if !ownerTypes[opts.OwnerType] {
		return domain.Goal{}, ValidationError{Field: "owner_type", Reason: fmt.Sprintf("invalid value %q", opts.OwnerType)}
	}
	if opts.Timeframe == "" {
		opts.Timeframe = "custom"
	}
	if !timeframes[opts.Timeframe] {
		return domain.Goal{}, ValidationError{Field: "timeframe", Reason: fmt.Sprintf("invalid value %q", opts.Timeframe)}
	}
	if opts.CalculationSource == "" {
		opts.CalculationSource = "manual"
	}
	if !calculationSources[opts.CalculationSource] {
		return domain.Goal{}, ValidationError{Field: "calculation_source", Reason: fmt.Sprintf("invalid value %q", opts.CalculationSource)}
	}
	if opts.TargetValue != nil && *opts.TargetValue <= 0 {
		return domain.Goal{}, ValidationError{Field: "target_value", Reason: "must be positive"}
	}
	start, err := time.Parse(time.RFC3339, opts.StartDate)
	if err != nil {
		return domain.Goal{}, ValidationError{Field: "start_date", Reason: "must be RFC3339"}
	}
	end, err := time.Parse(time.RFC3339, opts.EndDate)
	if err != nil {
		return domain.Goal{}, ValidationError{Field: "end_date", Reason: "must be RFC3339"}
	}
	if !end.After(start) {
		return domain.Goal{}, ValidationError{Field: "end_date", Reason: "must be after start_date"}
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.now().UTC().Format(time.RFC3339)
	g := domain.Goal{
		ID:                id,
		Name:              strings.TrimSpace(opts.Name),
		Description:       opts.Description,
		Type:              opts.Type,
		Status:            "draft",
		OwnerType:         opts.OwnerType,
		OwnerID:           optionalString(opts.OwnerID),
		Timeframe:         opts.Timeframe,
		StartDate:         start.UTC().Format(time.RFC3339),
		EndDate:           end.UTC().Format(time.RFC3339),
		TargetValue:       opts.TargetValue,
		CalculationSource: opts.CalculationSource,
		CreatedBy:         opts.ActorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Goal{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertGoal(ctx, tx, g); err != nil {
		return domain.Goal{}, fmt.Errorf("insert goal: %w", err)
	}
	if err := e.audit().Append(ctx, tx, audit.Entry{
		GoalID:    g.ID,
		EventType: "create",
		ActorID:   opts.ActorID,
		Summary:   fmt.Sprintf("goal %q created", g.Name),
		Details:   audit.ChangeDetails{"type": g.Type, "owner_type": g.OwnerType, "timeframe": g.Timeframe},
	}); err != nil {
		return domain.Goal{}, err
	}
	if _, err := e.notify(ctx, tx, g, "created", fmt.Sprintf("Goal %q was created", g.Name)); err != nil {
		return domain.Goal{}, err
	}
	if opts.ParentID != "" {
		weight := opts.Weight
		if weight == 0 {
			weight = 1.0
		}
		if err := e.attachTx(ctx, tx, g, opts.ParentID, weight, opts.ActorID); err != nil {
			return domain.Goal{}, err
		}
		g.ParentGoalID = &opts.ParentID
	}
	if err := tx.Commit(); err != nil {
		return domain.Goal{}, err
	}
	return g, nil
}

// GoalUpdateOptions carry the mutable scalar fields. Nil means unchanged.
type GoalUpdateOptions struct {
	Name        *string
	Description *string
	Type        *string
	Timeframe   *string
	StartDate   *string
	EndDate     *string
	TargetValue *float64
	ClearTarget bool
	OwnerType   *string
	OwnerID     *string
	ActorID     string
}

func (e Engine) UpdateGoal(ctx context.Context, goalID string, opts GoalUpdateOptions) (domain.Goal, error) {
	if opts.Type != nil && !goalTypes[*opts.Type] {
		return domain.Goal{}, ValidationError{Field: "type", Reason: fmt.Sprintf("invalid value %q", *opts.Type)}
	}
	if opts.Timeframe != nil && !timeframes[*opts.Timeframe] {
		return domain.Goal{}, ValidationError{Field: "timeframe", Reason: fmt.Sprintf("invalid value %q", *opts.Timeframe)}
	}
	if opts.OwnerType != nil && !ownerTypes[*opts.OwnerType] {
		return domain.Goal{}, ValidationError{Field: "owner_type", Reason: fmt.Sprintf("invalid value %q", *opts.OwnerType)}
	}
	if opts.TargetValue != nil && *opts.TargetValue <= 0 {
		return domain.Goal{}, ValidationError{Field: "target_value", Reason: "must be positive"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Goal{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGoalTx(ctx, tx, goalID)
	if err != nil {
		return domain.Goal{}, err
	}
	changed := audit.ChangeDetails{}
	if opts.Name != nil && *opts.Name != g.Name {
		if strings.TrimSpace(*opts.Name) == "" {
			return domain.Goal{}, ValidationError{Field: "name", Reason: "required"}
		}
		changed["name"] = *opts.Name
		g.Name = strings.TrimSpace(*opts.Name)
	}
	if opts.Description != nil && *opts.Description != g.Description {
		changed["description"] = *opts.Description
		g.Description = *opts.Description
	}
	if opts.Type != nil && *opts.Type != g.Type {
		changed["type"] = *opts.Type
		g.Type = *opts.Type
	}
	if opts.Timeframe != nil && *opts.Timeframe != g.Timeframe {
		changed["timeframe"] = *opts.Timeframe
		g.Timeframe = *opts.Timeframe
	}
	if opts.StartDate != nil {
		t, err := time.Parse(time.RFC3339, *opts.StartDate)
		if err != nil {
			return domain.Goal{}, ValidationError{Field: "start_date", Reason: "must be RFC3339"}
		}
		changed["start_date"] = *opts.StartDate
		g.StartDate = t.UTC().Format(time.RFC3339)
	}
	if opts.EndDate != nil {
		t, err := time.Parse(time.RFC3339, *opts.EndDate)
		if err != nil {
			return domain.Goal{}, ValidationError{Field: "end_date", Reason: "must be RFC3339"}
		}
		changed["end_date"] = *opts.EndDate
		g.EndDate = t.UTC().Format(time.RFC3339)
	}
	if opts.ClearTarget {
		changed["target_value"] = nil
		g.TargetValue = nil
	} else if opts.TargetValue != nil {
		changed["target_value"] = *opts.TargetValue
		g.TargetValue = opts.TargetValue
		if g.CurrentProgress > *opts.TargetValue {
			g.CurrentProgress = *opts.TargetValue
			changed["current_progress"] = g.CurrentProgress
		}
	}

	ownerChanged := false
	var oldOwner string
	if g.OwnerID != nil {
		oldOwner = *g.OwnerID
	}
	if opts.OwnerType != nil && *opts.OwnerType != g.OwnerType {
		changed["owner_type"] = *opts.OwnerType
		g.OwnerType = *opts.OwnerType
		ownerChanged = true
	}
	if opts.OwnerID != nil {
		if g.OwnerID == nil || *opts.OwnerID != *g.OwnerID {
			changed["owner_id"] = *opts.OwnerID
			g.OwnerID = optionalString(*opts.OwnerID)
			ownerChanged = true
		}
	}

	if len(changed) == 0 {
		return g, nil
	}
	g.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateGoal(ctx, tx, g); err != nil {
		return domain.Goal{}, err
	}
	if err := e.audit().Append(ctx, tx, audit.Entry{
		GoalID:    g.ID,
		EventType: "update",
		ActorID:   opts.ActorID,
		Summary:   fmt.Sprintf("goal %q updated", g.Name),
		Details:   changed,
	}); err != nil {
		return domain.Goal{}, err
	}
	if ownerChanged {
		newOwner := ""
		if g.OwnerID != nil {
			newOwner = *g.OwnerID
		}
		if err := e.audit().Append(ctx, tx, audit.Entry{
			GoalID:    g.ID,
			EventType: "ownership_change",
			ActorID:   opts.ActorID,
			Summary:   fmt.Sprintf("goal %q reassigned", g.Name),
			OldValue:  optionalString(oldOwner),
			NewValue:  optionalString(newOwner),
		}); err != nil {
			return domain.Goal{}, err
		}
		if newOwner != "" && newOwner != oldOwner {
			if _, err := e.notify(ctx, tx, g, "assigned", fmt.Sprintf("Goal %q was assigned to you", g.Name)); err != nil {
				return domain.Goal{}, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Goal{}, err
	}
	return g, nil
}

// DeleteGoal removes a goal. Children are detached, not deleted, and each
// detachment leaves its own audit entry.
func (e Engine) DeleteGoal(ctx context.Context, goalID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGoalTx(ctx, tx, goalID)
	if err != nil {
		return err
	}
	children, err := e.Repo.ChildrenOfTx(ctx, tx, goalID)
	if err != nil {
		return err
	}
	for _, l := range children {
		if err := e.Repo.DeleteLink(ctx, tx, l.ChildGoalID); err != nil {
			return err
		}
		if err := e.audit().Append(ctx, tx, audit.Entry{
			GoalID:    l.ChildGoalID,
			EventType: "hierarchy_change",
			ActorID:   actorID,
			Summary:   "parent goal deleted, link removed",
			OldValue:  &goalID,
		}); err != nil {
			return err
		}
	}
	if g.ParentGoalID != nil {
		if err := e.Repo.DeleteLink(ctx, tx, goalID); err != nil && err != repo.ErrNotFound {
			return err
		}
	}
	if err := e.Repo.DeleteGoal(ctx, tx, goalID); err != nil {
		return err
	}
	if err := e.audit().Append(ctx, tx, audit.Entry{
		GoalID:    g.ID,
		EventType: "delete",
		ActorID:   actorID,
		Summary:   fmt.Sprintf("goal %q deleted", g.Name),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ManualAdjust applies a justified manual progress edit.
func (e Engine) ManualAdjust(ctx context.Context, goalID string, newProgress float64, justification, actorID string) (domain.Goal, error) {
	justification = strings.TrimSpace(justification)
	if len(justification) < e.Rules.Progress.MinJustificationLen {
		return domain.Goal{}, ValidationError{
			Field:  "justification",
			Reason: fmt.Sprintf("must be at least %d characters", e.Rules.Progress.MinJustificationLen),
		}
	}
	if newProgress < 0 {
		return domain.Goal{}, ValidationError{Field: "new_progress", Reason: "must not be negative"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Goal{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGoalTx(ctx, tx, goalID)
	if err != nil {
		return domain.Goal{}, err
	}
	before := g.CurrentProgress
	beforePct := g.ProgressPercentage()
	g.CurrentProgress = clamp(newProgress, g.TargetValue)
	if g.CalculationSource == "auto_calculated" {
		g.ManualOverrideReason = &justification
	}
	g.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateGoal(ctx, tx, g); err != nil {
		return domain.Goal{}, err
	}
	afterPct := g.ProgressPercentage()

	details := audit.ChangeDetails{
		"before_percentage": fmt.Sprintf("%.2f", beforePct),
		"after_percentage":  fmt.Sprintf("%.2f", afterPct),
		"justification":     justification,
	}
	if g.Status == "completed" || g.Status == "cancelled" {
		details["closed"] = true
	}
	if err := e.audit().Append(ctx, tx, audit.Entry{
		GoalID:    g.ID,
		EventType: "progress_update",
		ActorID:   actorID,
		Summary:   fmt.Sprintf("progress manually adjusted on %q", g.Name),
		Details:   details,
		OldValue:  formatFloat(before),
		NewValue:  formatFloat(g.CurrentProgress),
	}); err != nil {
		return domain.Goal{}, err
	}
	if err := e.snapshot(ctx, tx, g, "manual_adjustment", actorID); err != nil {
		return domain.Goal{}, err
	}
	if err := e.notifyMilestones(ctx, tx, g, beforePct, afterPct); err != nil {
		return domain.Goal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Goal{}, err
	}
	return g, nil
}

// Recalculate refreshes an auto-calculated goal from the signal source. A
// source failure is recorded durably: the goal keeps its last known
// progress, calculation_failed is set and an audit entry explains why.
func (e Engine) Recalculate(ctx context.Context, goalID, actorID string) (domain.Goal, error) {
	g, err := e.Repo.GetGoal(ctx, goalID)
	if err != nil {
		return domain.Goal{}, err
	}
	if g.CalculationSource != "auto_calculated" {
		return domain.Goal{}, InvalidOperationError{Reason: fmt.Sprintf("goal %s is manual, recalculation does not apply", goalID)}
	}
	if e.Signal == nil {
		return domain.Goal{}, InvalidOperationError{Reason: "no signal source configured"}
	}

	value, sigErr := e.Signal(ctx, g)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Goal{}, err
	}
	defer tx.Rollback()

	g, err = e.Repo.GetGoalTx(ctx, tx, goalID)
	if err != nil {
		return domain.Goal{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)

	if sigErr != nil {
		g.CalculationFailed = true
		g.UpdatedAt = now
		if err := e.Repo.UpdateGoal(ctx, tx, g); err != nil {
			return domain.Goal{}, err
		}
		if err := e.audit().Append(ctx, tx, audit.Entry{
			GoalID:    g.ID,
			EventType: "calculation_event",
			ActorID:   actorID,
			Summary:   fmt.Sprintf("recalculation of %q failed", g.Name),
			Details:   audit.ChangeDetails{"error": sigErr.Error()},
		}); err != nil {
			return domain.Goal{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Goal{}, err
		}
		return g, CalculationError{GoalID: g.ID, Cause: sigErr}
	}

	before := g.CurrentProgress
	beforePct := g.ProgressPercentage()
	g.CurrentProgress = clamp(value, g.TargetValue)
	g.CalculationFailed = false
	g.LastCalculatedAt = &now
	g.ManualOverrideReason = nil
	g.UpdatedAt = now
	if err := e.Repo.UpdateGoal(ctx, tx, g); err != nil {
		return domain.Goal{}, err
	}
	afterPct := g.ProgressPercentage()

	if err := e.audit().Append(ctx, tx, audit.Entry{
		GoalID:    g.ID,
		EventType: "calculation_event",
		ActorID:   actorID,
		Summary:   fmt.Sprintf("progress recalculated on %q", g.Name),
		Details: audit.ChangeDetails{
			"before_percentage": fmt.Sprintf("%.2f", beforePct),
			"after_percentage":  fmt.Sprintf("%.2f", afterPct),
		},
		OldValue: formatFloat(before),
		NewValue: formatFloat(g.CurrentProgress),
	}); err != nil {
		return domain.Goal{}, err
	}
	source := "daily_snapshot"
	if abs(afterPct-beforePct) >= e.Rules.Progress.SignificantChangePct {
		source = "significant_change"
	}
	if err := e.snapshot(ctx, tx, g, source, actorID); err != nil {
		return domain.Goal{}, err
	}
	if err := e.notifyMilestones(ctx, tx, g, beforePct, afterPct); err != nil {
		return domain.Goal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Goal{}, err
	}
	return g, nil
}

// RecalculateAll runs the signal source over every active auto-calculated
// goal. One goal's failure never aborts the batch.
func (e Engine) RecalculateAll(ctx context.Context, actorID string) (BulkResult, error) {
	goals, err := e.Repo.ListAutoCalculated(ctx)
	if err != nil {
		return BulkResult{}, err
	}
	res := BulkResult{TotalRequested: len(goals)}
	for _, g := range goals {
		if _, err := e.Recalculate(ctx, g.ID, actorID); err != nil {
			res.Failed = append(res.Failed, BulkFailure{GoalID: g.ID, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, g.ID)
	}
	return res, nil
}

// Analytics reports the book-wide goal metrics: totals, completion rate
// and per-status/per-type breakdowns.
func (e Engine) Analytics(ctx context.Context) (domain.Analytics, error) {
	total, completed, avgPct, err := e.Repo.GoalTotals(ctx)
	if err != nil {
		return domain.Analytics{}, err
	}
	byStatus, err := e.Repo.CountGoalsByStatus(ctx)
	if err != nil {
		return domain.Analytics{}, err
	}
	byType, err := e.Repo.CountGoalsByType(ctx)
	if err != nil {
		return domain.Analytics{}, err
	}
	a := domain.Analytics{
		TotalGoals:         total,
		CompletedGoals:     completed,
		AverageProgressPct: avgPct,
		ByStatus:           byStatus,
		ByType:             byType,
	}
	for _, c := range byStatus {
		switch c.Status {
		case "active":
			a.ActiveGoals = c.Count
		case "cancelled":
			a.CancelledGoals = c.Count
		}
	}
	if total > 0 {
		a.CompletionRate = float64(completed) / float64(total) * 100
	}
	return a, nil
}

func ensureGoalTransition(oldStatus, newStatus string) error {
	if oldStatus == newStatus {
		return nil
	}
	switch oldStatus {
	case "draft":
		if newStatus == "active" || newStatus == "cancelled" {
			return nil
		}
	case "active":
		if newStatus == "completed" || newStatus == "cancelled" {
			return nil
		}
	}
	return InvalidOperationError{Reason: fmt.Sprintf("invalid goal status transition %s -> %s", oldStatus, newStatus)}
}

func (e Engine) ChangeStatus(ctx context.Context, goalID, newStatus, actorID string) (domain.Goal, error) {
	if !goalStatuses[newStatus] {
		return domain.Goal{}, ValidationError{Field: "status", Reason: fmt.Sprintf("invalid value %q", newStatus)}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Goal{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGoalTx(ctx, tx, goalID)
	if err != nil {
		return domain.Goal{}, err
	}
	if g.Status == newStatus {
		return g, nil
	}
	if err := ensureGoalTransition(g.Status, newStatus); err != nil {
		return domain.Goal{}, err
	}
	oldStatus := g.Status
	beforePct := g.ProgressPercentage()
	now := e.now().UTC().Format(time.RFC3339)
	g.Status = newStatus
	if newStatus == "completed" {
		if g.TargetValue != nil && g.CurrentProgress < *g.TargetValue {
			g.CurrentProgress = *g.TargetValue
		}
		g.CompletedAt = &now
	}
	g.UpdatedAt = now
	if err := e.Repo.UpdateGoal(ctx, tx, g); err != nil {
		return domain.Goal{}, err
	}
	if err := e.audit().Append(ctx, tx, audit.Entry{
		GoalID:    g.ID,
		EventType: "status_change",
		ActorID:   actorID,
		Summary:   fmt.Sprintf("goal %q moved to %s", g.Name, newStatus),
		OldValue:  &oldStatus,
		NewValue:  &newStatus,
	}); err != nil {
		return domain.Goal{}, err
	}
	if err := e.snapshot(ctx, tx, g, "status_change", actorID); err != nil {
		return domain.Goal{}, err
	}
	if newStatus == "completed" {
		if _, err := e.notify(ctx, tx, g, "completed", fmt.Sprintf("Goal %q was completed", g.Name)); err != nil {
			return domain.Goal{}, err
		}
		if err := e.notifyMilestones(ctx, tx, g, beforePct, g.ProgressPercentage()); err != nil {
			return domain.Goal{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Goal{}, err
	}
	return g, nil
}

// RecordSnapshot captures the goal's current progress as a daily snapshot.
// Meant for an external scheduler, so it neither mutates the goal nor
// audits anything.
func (e Engine) RecordSnapshot(ctx context.Context, goalID, actorID string) (domain.ProgressSnapshot, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGoalTx(ctx, tx, goalID)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	s := domain.ProgressSnapshot{
		GoalID:      g.ID,
		Value:       g.CurrentProgress,
		TargetValue: g.TargetValue,
		Percentage:  g.ProgressPercentage(),
		Source:      "daily_snapshot",
		RecordedBy:  actorID,
		RecordedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertSnapshot(ctx, tx, s); err != nil {
		return domain.ProgressSnapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProgressSnapshot{}, err
	}
	return s, nil
}

// AddComment appends a comment and leaves an update audit entry pointing
// at it.
func (e Engine) AddComment(ctx context.Context, goalID, body, actorID string) (domain.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Comment{}, ValidationError{Field: "body", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGoalTx(ctx, tx, goalID)
	if err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{
		ID:        uuid.NewString(),
		GoalID:    g.ID,
		AuthorID:  actorID,
		Body:      body,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	if err := e.audit().Append(ctx, tx, audit.Entry{
		GoalID:    g.ID,
		EventType: "update",
		ActorID:   actorID,
		Summary:   fmt.Sprintf("comment added on %q", g.Name),
		Details:   audit.ChangeDetails{"comment_id": c.ID},
	}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// EditComment replaces a comment body. Only the author may edit.
func (e Engine) EditComment(ctx context.Context, commentID, body, actorID string) (domain.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Comment{}, ValidationError{Field: "body", Reason: "required"}
	}
	c, err := e.Repo.GetComment(ctx, commentID)
	if err != nil {
		return domain.Comment{}, err
	}
	if c.AuthorID != actorID {
		return domain.Comment{}, InvalidOperationError{Reason: "only the author can edit a comment"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateComment(ctx, tx, c.ID, body, now); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	c.Body = body
	c.UpdatedAt = &now
	return c, nil
}

func (e Engine) snapshot(ctx context.Context, tx *sql.Tx, g domain.Goal, source, actorID string) error {
	return e.Repo.InsertSnapshot(ctx, tx, domain.ProgressSnapshot{
		GoalID:      g.ID,
		Value:       g.CurrentProgress,
		TargetValue: g.TargetValue,
		Percentage:  g.ProgressPercentage(),
		Source:      source,
		RecordedBy:  actorID,
		RecordedAt:  e.now().UTC().Format(time.RFC3339),
	})
}

func (e Engine) notify(ctx context.Context, tx *sql.Tx, g domain.Goal, typ, message string) (domain.Notification, error) {
	recipient := g.CreatedBy
	if g.OwnerID != nil {
		recipient = *g.OwnerID
	}
	n := domain.Notification{
		ID:        uuid.NewString(),
		GoalID:    g.ID,
		Type:      typ,
		Recipient: recipient,
		Message:   message,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	return n, e.Repo.InsertNotification(ctx, tx, n)
}

func (e Engine) notifyMilestones(ctx context.Context, tx *sql.Tx, g domain.Goal, beforePct, afterPct float64) error {
	for _, m := range e.Rules.Notifications.Milestones {
		if beforePct < m && afterPct >= m {
			msg := fmt.Sprintf("Goal %q reached %.0f%% of its target", g.Name, m)
			if _, err := e.notify(ctx, tx, g, "milestone", msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func clamp(v float64, target *float64) float64 {
	if v < 0 {
		return 0
	}
	if target != nil && v > *target {
		return *target
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func formatFloat(v float64) *string {
	s := fmt.Sprintf("%.2f", v)
	return &s
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
