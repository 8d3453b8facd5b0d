package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"goalline/internal/config"
	"goalline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const goalColumns = `id,name,description,type,status,owner_type,owner_id,timeframe,start_date,end_date,target_value,current_progress,calculation_source,calculation_failed,last_calculated_at,manual_override_reason,created_by,created_at,updated_at,completed_at`

func scanGoal(scan func(dest ...any) error) (domain.Goal, error) {
	var g domain.Goal
	var ownerID, lastCalc, overrideReason, completedAt, description sql.NullString
	var target sql.NullFloat64
	var failed int
	err := scan(&g.ID, &g.Name, &description, &g.Type, &g.Status, &g.OwnerType, &ownerID, &g.Timeframe,
		&g.StartDate, &g.EndDate, &target, &g.CurrentProgress, &g.CalculationSource, &failed,
		&lastCalc, &overrideReason, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	if description.Valid {
		g.Description = description.String
	}
	if ownerID.Valid {
		g.OwnerID = &ownerID.String
	}
	if target.Valid {
		g.TargetValue = &target.Float64
	}
	g.CalculationFailed = failed != 0
	if lastCalc.Valid {
		g.LastCalculatedAt = &lastCalc.String
	}
	if overrideReason.Valid {
		g.ManualOverrideReason = &overrideReason.String
	}
	if completedAt.Valid {
		g.CompletedAt = &completedAt.String
	}
	return g, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (r Repo) InsertGoal(ctx context.Context, tx *sql.Tx, g domain.Goal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO goals(`+goalColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.Name, g.Description, g.Type, g.Status, g.OwnerType, nullableStringPtr(g.OwnerID),
		g.Timeframe, g.StartDate, g.EndDate, nullableFloatPtr(g.TargetValue), g.CurrentProgress,
		g.CalculationSource, boolInt(g.CalculationFailed), nullableStringPtr(g.LastCalculatedAt),
		nullableStringPtr(g.ManualOverrideReason), g.CreatedBy, g.CreatedAt, g.UpdatedAt, nullableStringPtr(g.CompletedAt))
	return err
}

func (r Repo) UpdateGoal(ctx context.Context, tx *sql.Tx, g domain.Goal) error {
	res, err := tx.ExecContext(ctx, `UPDATE goals SET name=?, description=?, type=?, status=?, owner_type=?, owner_id=?, timeframe=?, start_date=?, end_date=?, target_value=?, current_progress=?, calculation_source=?, calculation_failed=?, last_calculated_at=?, manual_override_reason=?, updated_at=?, completed_at=? WHERE id=?`,
		g.Name, g.Description, g.Type, g.Status, g.OwnerType, nullableStringPtr(g.OwnerID),
		g.Timeframe, g.StartDate, g.EndDate, nullableFloatPtr(g.TargetValue), g.CurrentProgress,
		g.CalculationSource, boolInt(g.CalculationFailed), nullableStringPtr(g.LastCalculatedAt),
		nullableStringPtr(g.ManualOverrideReason), g.UpdatedAt, nullableStringPtr(g.CompletedAt), g.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetGoal(ctx context.Context, id string) (domain.Goal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id=?`, id)
	g, err := scanGoal(row.Scan)
	if err != nil {
		return g, err
	}
	parent, err := r.ParentOf(ctx, id)
	if err != nil && err != ErrNotFound {
		return g, err
	}
	if err == nil {
		g.ParentGoalID = &parent.ParentGoalID
	}
	return g, nil
}

func (r Repo) GetGoalTx(ctx context.Context, tx *sql.Tx, id string) (domain.Goal, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id=?`, id)
	g, err := scanGoal(row.Scan)
	if err != nil {
		return g, err
	}
	parent, err := r.ParentOfTx(ctx, tx, id)
	if err != nil && err != ErrNotFound {
		return g, err
	}
	if err == nil {
		g.ParentGoalID = &parent.ParentGoalID
	}
	return g, nil
}

func (r Repo) DeleteGoal(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM goals WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type GoalFilters struct {
	Status            string
	Type              string
	OwnerType         string
	OwnerID           string
	Timeframe         string
	CalculationSource string
	ParentID          string
	Limit             int
	CursorCreatedAt   string
	CursorID          string
}

func (r Repo) ListGoals(ctx context.Context, f GoalFilters) ([]domain.Goal, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "g.status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "g.type=?")
		args = append(args, f.Type)
	}
	if f.OwnerType != "" {
		clauses = append(clauses, "g.owner_type=?")
		args = append(args, f.OwnerType)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "g.owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Timeframe != "" {
		clauses = append(clauses, "g.timeframe=?")
		args = append(args, f.Timeframe)
	}
	if f.CalculationSource != "" {
		clauses = append(clauses, "g.calculation_source=?")
		args = append(args, f.CalculationSource)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "l.parent_goal_id=?")
		args = append(args, f.ParentID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(g.created_at < ? OR (g.created_at = ? AND g.id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT g.id,g.name,g.description,g.type,g.status,g.owner_type,g.owner_id,g.timeframe,g.start_date,g.end_date,g.target_value,g.current_progress,g.calculation_source,g.calculation_failed,g.last_calculated_at,g.manual_override_reason,g.created_by,g.created_at,g.updated_at,g.completed_at,l.parent_goal_id
FROM goals g LEFT JOIN goal_links l ON l.child_goal_id = g.id ` + where + ` ORDER BY g.created_at DESC, g.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		var g domain.Goal
		var ownerID, lastCalc, overrideReason, completedAt, description, parentID sql.NullString
		var target sql.NullFloat64
		var failed int
		if err := rows.Scan(&g.ID, &g.Name, &description, &g.Type, &g.Status, &g.OwnerType, &ownerID, &g.Timeframe,
			&g.StartDate, &g.EndDate, &target, &g.CurrentProgress, &g.CalculationSource, &failed,
			&lastCalc, &overrideReason, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt, &completedAt, &parentID); err != nil {
			return nil, err
		}
		if description.Valid {
			g.Description = description.String
		}
		if ownerID.Valid {
			g.OwnerID = &ownerID.String
		}
		if target.Valid {
			g.TargetValue = &target.Float64
		}
		g.CalculationFailed = failed != 0
		if lastCalc.Valid {
			g.LastCalculatedAt = &lastCalc.String
		}
		if overrideReason.Valid {
			g.ManualOverrideReason = &overrideReason.String
		}
		if completedAt.Valid {
			g.CompletedAt = &completedAt.String
		}
		if parentID.Valid {
			g.ParentGoalID = &parentID.String
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// ListAutoCalculated returns active auto-calculated goals for batch
// recalculation.
func (r Repo) ListAutoCalculated(ctx context.Context) ([]domain.Goal, error) {
	return r.ListGoals(ctx, GoalFilters{Status: "active", CalculationSource: "auto_calculated"})
}

func (r Repo) CountGoalsByStatus(ctx context.Context) ([]domain.StatusCount, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM goals GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusCount
	for rows.Next() {
		var c domain.StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) CountGoalsByType(ctx context.Context) ([]domain.TypeCount, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT type, COUNT(*) FROM goals GROUP BY type ORDER BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TypeCount
	for rows.Next() {
		var c domain.TypeCount
		if err := rows.Scan(&c.Type, &c.Count); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// GoalTotals computes the book-wide aggregates in one pass. The average
// covers goals with a positive target, each capped at 100.
func (r Repo) GoalTotals(ctx context.Context) (total, completed int, avgProgressPct float64, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT COUNT(*),
	COALESCE(SUM(CASE WHEN status='completed' THEN 1 ELSE 0 END), 0),
	COALESCE(AVG(CASE WHEN target_value > 0 THEN
		CASE WHEN current_progress >= target_value THEN 100.0
		ELSE current_progress * 100.0 / target_value END
	END), 0)
FROM goals`).Scan(&total, &completed, &avgProgressPct)
	return total, completed, avgProgressPct, err
}

func scanLink(scan func(dest ...any) error) (domain.HierarchyLink, error) {
	var l domain.HierarchyLink
	err := scan(&l.ChildGoalID, &l.ParentGoalID, &l.ContributionWeight, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) InsertLink(ctx context.Context, tx *sql.Tx, l domain.HierarchyLink) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO goal_links(child_goal_id,parent_goal_id,contribution_weight,created_at) VALUES (?,?,?,?)`,
		l.ChildGoalID, l.ParentGoalID, l.ContributionWeight, l.CreatedAt)
	return err
}

func (r Repo) DeleteLink(ctx context.Context, tx *sql.Tx, childID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM goal_links WHERE child_goal_id=?`, childID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ParentOf(ctx context.Context, childID string) (domain.HierarchyLink, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT child_goal_id,parent_goal_id,contribution_weight,created_at FROM goal_links WHERE child_goal_id=?`, childID)
	return scanLink(row.Scan)
}

func (r Repo) ParentOfTx(ctx context.Context, tx *sql.Tx, childID string) (domain.HierarchyLink, error) {
	row := tx.QueryRowContext(ctx, `SELECT child_goal_id,parent_goal_id,contribution_weight,created_at FROM goal_links WHERE child_goal_id=?`, childID)
	return scanLink(row.Scan)
}

func (r Repo) ChildrenOf(ctx context.Context, parentID string) ([]domain.HierarchyLink, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT child_goal_id,parent_goal_id,contribution_weight,created_at FROM goal_links WHERE parent_goal_id=? ORDER BY created_at, child_goal_id`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HierarchyLink
	for rows.Next() {
		l, err := scanLink(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) ChildrenOfTx(ctx context.Context, tx *sql.Tx, parentID string) ([]domain.HierarchyLink, error) {
	rows, err := tx.QueryContext(ctx, `SELECT child_goal_id,parent_goal_id,contribution_weight,created_at FROM goal_links WHERE parent_goal_id=? ORDER BY created_at, child_goal_id`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HierarchyLink
	for rows.Next() {
		l, err := scanLink(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// AllLinks loads the whole hierarchy for tree building.
func (r Repo) AllLinks(ctx context.Context) ([]domain.HierarchyLink, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT child_goal_id,parent_goal_id,contribution_weight,created_at FROM goal_links`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HierarchyLink
	for rows.Next() {
		l, err := scanLink(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) UpsertRuleConfig(ctx context.Context, name string, rules *config.Rules) error {
	if err := rules.Validate(); err != nil {
		return err
	}
	payload, err := rules.ToYAML()
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO rule_configs(name,yaml,updated_at) VALUES (?,?,?)
ON CONFLICT(name) DO UPDATE SET yaml=excluded.yaml, updated_at=excluded.updated_at`, name, payload, now)
	return err
}

func (r Repo) GetRuleConfig(ctx context.Context, name string) (*config.Rules, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT yaml FROM rule_configs WHERE name=?`, name).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rules, err := config.FromYAML([]byte(payload))
	if err != nil {
		return nil, err
	}
	return rules, rules.Validate()
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
