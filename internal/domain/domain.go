package domain

type Goal struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Description          string   `json:"description,omitempty"`
	Type                 string   `json:"type" enum:"revenue,deals,tasks,activities,performance"`
	Status               string   `json:"status" enum:"draft,active,completed,cancelled"`
	OwnerType            string   `json:"owner_type" enum:"individual,team,company"`
	OwnerID              *string  `json:"owner_id,omitempty"`
	ParentGoalID         *string  `json:"parent_goal_id,omitempty"`
	Timeframe            string   `json:"timeframe" enum:"this_week,this_month,this_quarter,this_year,custom"`
	StartDate            string   `json:"start_date" format:"date-time"`
	EndDate              string   `json:"end_date" format:"date-time"`
	TargetValue          *float64 `json:"target_value,omitempty"`
	CurrentProgress      float64  `json:"current_progress"`
	CalculationSource    string   `json:"calculation_source" enum:"manual,auto_calculated"`
	CalculationFailed    bool     `json:"calculation_failed,omitempty"`
	LastCalculatedAt     *string  `json:"last_calculated_at,omitempty" format:"date-time"`
	ManualOverrideReason *string  `json:"manual_override_reason,omitempty"`
	CreatedBy            string   `json:"created_by"`
	CreatedAt            string   `json:"created_at" format:"date-time"`
	UpdatedAt            string   `json:"updated_at" format:"date-time"`
	CompletedAt          *string  `json:"completed_at,omitempty" format:"date-time"`
}

// ProgressPercentage returns progress relative to target, or 0 when the
// goal has no positive target.
func (g Goal) ProgressPercentage() float64 {
	if g.TargetValue == nil || *g.TargetValue <= 0 {
		return 0
	}
	return g.CurrentProgress / *g.TargetValue * 100
}

type HierarchyLink struct {
	ParentGoalID       string  `json:"parent_goal_id"`
	ChildGoalID        string  `json:"child_goal_id"`
	ContributionWeight float64 `json:"contribution_weight"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
}

type ProgressSnapshot struct {
	ID          int64    `json:"id"`
	GoalID      string   `json:"goal_id"`
	Value       float64  `json:"value"`
	TargetValue *float64 `json:"target_value,omitempty"`
	Percentage  float64  `json:"percentage"`
	Source      string   `json:"source" enum:"daily_snapshot,manual_adjustment,significant_change,status_change"`
	RecordedBy  string   `json:"recorded_by,omitempty"`
	RecordedAt  string   `json:"recorded_at" format:"date-time"`
}

type AuditEntry struct {
	ID            int64   `json:"id"`
	GoalID        string  `json:"goal_id"`
	EventType     string  `json:"event_type" enum:"create,update,delete,progress_update,status_change,ownership_change,calculation_event,hierarchy_change"`
	ActorID       string  `json:"actor_id"`
	Summary       string  `json:"summary,omitempty"`
	ChangeDetails string  `json:"change_details,omitempty"`
	OldValue      *string `json:"old_value,omitempty"`
	NewValue      *string `json:"new_value,omitempty"`
	TS            string  `json:"ts" format:"date-time"`
}

type Comment struct {
	ID        string  `json:"id"`
	GoalID    string  `json:"goal_id"`
	AuthorID  string  `json:"author_id"`
	Body      string  `json:"body"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt *string `json:"updated_at,omitempty" format:"date-time"`
}

type Notification struct {
	ID        string  `json:"id"`
	GoalID    string  `json:"goal_id"`
	Type      string  `json:"type" enum:"created,assigned,completed,at_risk,overdue,milestone"`
	Recipient string  `json:"recipient,omitempty"`
	Message   string  `json:"message"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	SentAt    *string `json:"sent_at,omitempty" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Analytics summarizes the goal book: totals, completion rate and the
// average progress of goals that carry a target.
type Analytics struct {
	TotalGoals         int           `json:"total_goals"`
	CompletedGoals     int           `json:"completed_goals"`
	ActiveGoals        int           `json:"active_goals"`
	CancelledGoals     int           `json:"cancelled_goals"`
	CompletionRate     float64       `json:"completion_rate"`
	AverageProgressPct float64       `json:"average_progress_pct"`
	ByStatus           []StatusCount `json:"by_status"`
	ByType             []TypeCount   `json:"by_type"`
}
