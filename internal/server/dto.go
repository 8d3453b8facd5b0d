package server

import (
	"goalline/internal/domain"
	"goalline/internal/rollup"
)

// Request payloads

type CreateGoalRequest struct {
	ID                *string  `json:"id,omitempty"`
	Name              string   `json:"name"`
	Description       *string  `json:"description,omitempty"`
	Type              string   `json:"type" enum:"revenue,deals,tasks,activities,performance"`
	OwnerType         *string  `json:"owner_type,omitempty" enum:"individual,team,company"`
	OwnerID           *string  `json:"owner_id,omitempty"`
	Timeframe         *string  `json:"timeframe,omitempty" enum:"this_week,this_month,this_quarter,this_year,custom"`
	StartDate         string   `json:"start_date" format:"date-time"`
	EndDate           string   `json:"end_date" format:"date-time"`
	TargetValue       *float64 `json:"target_value,omitempty"`
	CalculationSource *string  `json:"calculation_source,omitempty" enum:"manual,auto_calculated"`
	ParentGoalID      *string  `json:"parent_goal_id,omitempty"`
	Weight            *float64 `json:"contribution_weight,omitempty"`
}

type UpdateGoalRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Type        *string  `json:"type,omitempty" enum:"revenue,deals,tasks,activities,performance"`
	Timeframe   *string  `json:"timeframe,omitempty" enum:"this_week,this_month,this_quarter,this_year,custom"`
	StartDate   *string  `json:"start_date,omitempty" format:"date-time"`
	EndDate     *string  `json:"end_date,omitempty" format:"date-time"`
	TargetValue *float64 `json:"target_value,omitempty"`
	ClearTarget bool     `json:"clear_target,omitempty"`
	OwnerType   *string  `json:"owner_type,omitempty" enum:"individual,team,company"`
	OwnerID     *string  `json:"owner_id,omitempty"`
}

type ManualAdjustRequest struct {
	NewProgress   float64 `json:"new_progress"`
	Justification string  `json:"justification"`
}

type ChangeStatusRequest struct {
	Status string `json:"status" enum:"draft,active,completed,cancelled"`
}

type LinkParentRequest struct {
	ParentGoalID string   `json:"parent_goal_id"`
	Weight       *float64 `json:"contribution_weight,omitempty"`
}

type BulkDeleteRequest struct {
	GoalIDs      []string `json:"goal_ids"`
	Confirmation bool     `json:"confirmation"`
}

type BulkStatusRequest struct {
	GoalIDs   []string `json:"goal_ids"`
	NewStatus string   `json:"new_status" enum:"draft,active,completed,cancelled"`
}

type CommentRequest struct {
	Body string `json:"body"`
}

// Response payloads. Domain records already carry their wire shape, so
// responses embed them directly.

type paginatedGoals struct {
	Items      []domain.Goal `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type HierarchyResponse struct {
	Goal     domain.Goal      `json:"goal"`
	Rollup   rollup.Aggregate `json:"rollup"`
	Children []domain.Goal    `json:"children"`
}

type StatusSummaryResponse struct {
	Counts []domain.StatusCount `json:"counts"`
	Total  int                  `json:"total"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strOrEmpty(in *string) string {
	if in == nil {
		return ""
	}
	return *in
}

func floatOr(in *float64, def float64) float64 {
	if in == nil {
		return def
	}
	return *in
}
