package repo

import (
	"context"
	"database/sql"
	"strings"

	"goalline/internal/domain"
)

func (r Repo) InsertSnapshot(ctx context.Context, tx *sql.Tx, s domain.ProgressSnapshot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO goal_progress_history(goal_id,value,target_value,percentage,source,recorded_by,recorded_at) VALUES (?,?,?,?,?,?,?)`,
		s.GoalID, s.Value, nullableFloatPtr(s.TargetValue), s.Percentage, s.Source, s.RecordedBy, s.RecordedAt)
	return err
}

type SnapshotFilters struct {
	GoalID string
	Source string
	Since  string
	Until  string
	Limit  int
}

// ListSnapshots returns snapshots ordered oldest first, as the forecast
// computation expects.
func (r Repo) ListSnapshots(ctx context.Context, f SnapshotFilters) ([]domain.ProgressSnapshot, error) {
	clauses := []string{"goal_id=?"}
	args := []any{f.GoalID}
	if f.Source != "" {
		clauses = append(clauses, "source=?")
		args = append(args, f.Source)
	}
	if f.Since != "" {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "recorded_at <= ?")
		args = append(args, f.Until)
	}
	query := `SELECT id,goal_id,value,target_value,percentage,source,recorded_by,recorded_at FROM goal_progress_history WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY recorded_at, id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProgressSnapshot
	for rows.Next() {
		var s domain.ProgressSnapshot
		var target sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.GoalID, &s.Value, &target, &s.Percentage, &s.Source, &s.RecordedBy, &s.RecordedAt); err != nil {
			return nil, err
		}
		if target.Valid {
			s.TargetValue = &target.Float64
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) LatestSnapshotTx(ctx context.Context, tx *sql.Tx, goalID string) (domain.ProgressSnapshot, error) {
	var s domain.ProgressSnapshot
	var target sql.NullFloat64
	err := tx.QueryRowContext(ctx, `SELECT id,goal_id,value,target_value,percentage,source,recorded_by,recorded_at FROM goal_progress_history WHERE goal_id=? ORDER BY recorded_at DESC, id DESC LIMIT 1`, goalID).
		Scan(&s.ID, &s.GoalID, &s.Value, &target, &s.Percentage, &s.Source, &s.RecordedBy, &s.RecordedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if target.Valid {
		s.TargetValue = &target.Float64
	}
	return s, err
}

type AuditFilters struct {
	GoalID    string
	EventType string
	ActorID   string
	Limit     int
	AfterID   int64
}

func (r Repo) ListAuditEntries(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	var clauses []string
	var args []any
	if f.GoalID != "" {
		clauses = append(clauses, "goal_id=?")
		args = append(args, f.GoalID)
	}
	if f.EventType != "" {
		clauses = append(clauses, "event_type=?")
		args = append(args, f.EventType)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id > ?")
		args = append(args, f.AfterID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,goal_id,event_type,actor_id,summary,change_details,old_value,new_value,ts FROM goal_audit_log ` + where + ` ORDER BY id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var oldValue, newValue sql.NullString
		if err := rows.Scan(&e.ID, &e.GoalID, &e.EventType, &e.ActorID, &e.Summary, &e.ChangeDetails, &oldValue, &newValue, &e.TS); err != nil {
			return nil, err
		}
		if oldValue.Valid {
			e.OldValue = &oldValue.String
		}
		if newValue.Valid {
			e.NewValue = &newValue.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) CountAuditEntries(ctx context.Context, goalID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM goal_audit_log WHERE goal_id=?`, goalID).Scan(&n)
	return n, err
}
