package goallinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Goalline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Goal represents the API goal model (partial).
type Goal struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	Status          string   `json:"status"`
	OwnerType       string   `json:"owner_type"`
	OwnerID         *string  `json:"owner_id,omitempty"`
	TargetValue     *float64 `json:"target_value,omitempty"`
	CurrentProgress float64  `json:"current_progress"`
	StartDate       string   `json:"start_date"`
	EndDate         string   `json:"end_date"`
}

// Snapshot represents a progress history entry.
type Snapshot struct {
	ID         int64   `json:"id"`
	GoalID     string  `json:"goal_id"`
	Value      float64 `json:"value"`
	Percentage float64 `json:"percentage"`
	Source     string  `json:"source"`
	RecordedAt string  `json:"recorded_at"`
}

// Forecast represents a completion forecast.
type Forecast struct {
	GoalID                  string   `json:"goal_id"`
	Status                  string   `json:"status"`
	DailyVelocity           *float64 `json:"daily_velocity,omitempty"`
	WeeklyVelocity          *float64 `json:"weekly_velocity,omitempty"`
	RequiredDailyVelocity   *float64 `json:"required_daily_velocity,omitempty"`
	CurrentPercentage       float64  `json:"current_percentage"`
	ConfidenceLevel         string   `json:"confidence_level"`
	SnapshotCount           int      `json:"snapshot_count"`
	DaysRemaining           int      `json:"days_remaining"`
	EstimatedCompletionDate *string  `json:"estimated_completion_date,omitempty"`
}

// AuditEntry represents an audit log record.
type AuditEntry struct {
	ID        int64  `json:"id"`
	GoalID    string `json:"goal_id"`
	EventType string `json:"event_type"`
	ActorID   string `json:"actor_id"`
	Summary   string `json:"summary,omitempty"`
	TS        string `json:"ts"`
}

// BulkResult summarizes a bulk operation.
type BulkResult struct {
	TotalRequested int      `json:"total_requested"`
	Succeeded      []string `json:"succeeded"`
	Failed         []struct {
		GoalID string `json:"goal_id"`
		Reason string `json:"reason"`
	} `json:"failed"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedGoals wraps list responses with cursors.
type PaginatedGoals struct {
	Items      []Goal `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// CreateGoal creates a goal.
func (c *Client) CreateGoal(ctx context.Context, name, goalType, startDate, endDate string, target *float64) (Goal, error) {
	body := map[string]any{
		"name":       name,
		"type":       goalType,
		"start_date": startDate,
		"end_date":   endDate,
	}
	if target != nil {
		body["target_value"] = *target
	}
	var resp Goal
	err := c.do(ctx, http.MethodPost, "v0/goals", body, &resp)
	return resp, err
}

// GetGoal fetches a goal by id.
func (c *Client) GetGoal(ctx context.Context, id string) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodGet, "v0/goals/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Goals returns a page of goals.
func (c *Client) Goals(ctx context.Context, limit int, cursor string) (PaginatedGoals, error) {
	endpoint := "v0/goals"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedGoals
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AdjustProgress sets a manual progress value with a justification.
func (c *Client) AdjustProgress(ctx context.Context, id string, newProgress float64, justification string) (Goal, error) {
	body := map[string]any{
		"new_progress":  newProgress,
		"justification": justification,
	}
	var resp Goal
	err := c.do(ctx, http.MethodPost, "v0/goals/"+url.PathEscape(id)+"/adjust", body, &resp)
	return resp, err
}

// Recalculate refreshes an auto-calculated goal from its signal source.
func (c *Client) Recalculate(ctx context.Context, id string) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodPost, "v0/goals/"+url.PathEscape(id)+"/recalculate", nil, &resp)
	return resp, err
}

// ChangeStatus transitions a goal to a new status.
func (c *Client) ChangeStatus(ctx context.Context, id, status string) (Goal, error) {
	body := map[string]any{"status": status}
	var resp Goal
	err := c.do(ctx, http.MethodPost, "v0/goals/"+url.PathEscape(id)+"/status", body, &resp)
	return resp, err
}

// GetForecast returns the completion forecast for a goal.
func (c *Client) GetForecast(ctx context.Context, id string) (Forecast, error) {
	var resp Forecast
	err := c.do(ctx, http.MethodGet, "v0/goals/"+url.PathEscape(id)+"/forecast", nil, &resp)
	return resp, err
}

// History returns the progress history for a goal.
func (c *Client) History(ctx context.Context, id string) ([]Snapshot, error) {
	var resp []Snapshot
	err := c.do(ctx, http.MethodGet, "v0/goals/"+url.PathEscape(id)+"/history", nil, &resp)
	return resp, err
}

// Audit returns the audit trail for a goal.
func (c *Client) Audit(ctx context.Context, id string) ([]AuditEntry, error) {
	var resp []AuditEntry
	err := c.do(ctx, http.MethodGet, "v0/goals/"+url.PathEscape(id)+"/audit", nil, &resp)
	return resp, err
}

// LinkParent attaches a goal under a parent.
func (c *Client) LinkParent(ctx context.Context, id, parentID string, weight *float64) error {
	body := map[string]any{"parent_goal_id": parentID}
	if weight != nil {
		body["contribution_weight"] = *weight
	}
	return c.do(ctx, http.MethodPost, "v0/goals/"+url.PathEscape(id)+"/link-parent", body, nil)
}

// BulkDelete deletes a bounded set of goals.
func (c *Client) BulkDelete(ctx context.Context, goalIDs []string) (BulkResult, error) {
	body := map[string]any{"goal_ids": goalIDs, "confirmation": true}
	var resp BulkResult
	err := c.do(ctx, http.MethodPost, "v0/goals/bulk-delete", body, &resp)
	return resp, err
}

// BulkStatus changes status on a bounded set of goals.
func (c *Client) BulkStatus(ctx context.Context, goalIDs []string, status string) (BulkResult, error) {
	body := map[string]any{"goal_ids": goalIDs, "new_status": status}
	var resp BulkResult
	err := c.do(ctx, http.MethodPost, "v0/goals/bulk-status", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
