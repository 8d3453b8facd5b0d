package repo

import (
	"context"
	"database/sql"

	"goalline/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO goal_notifications(id,goal_id,type,recipient,message,created_at,sent_at) VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.GoalID, n.Type, n.Recipient, n.Message, n.CreatedAt, nullableStringPtr(n.SentAt))
	return err
}

// HasUnsentNotification reports whether an undelivered notification of the
// given type already exists for the goal. Alert sweeps use it to avoid
// piling up duplicates.
func (r Repo) HasUnsentNotification(ctx context.Context, tx *sql.Tx, goalID, typ string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM goal_notifications WHERE goal_id=? AND type=? AND sent_at IS NULL`, goalID, typ).Scan(&n)
	return n > 0, err
}

func (r Repo) ListNotifications(ctx context.Context, goalID string, unsentOnly bool, limit int) ([]domain.Notification, error) {
	var clauses []string
	var args []any
	if goalID != "" {
		clauses = append(clauses, "goal_id=?")
		args = append(args, goalID)
	}
	if unsentOnly {
		clauses = append(clauses, "sent_at IS NULL")
	}
	query := `SELECT id,goal_id,type,recipient,message,created_at,sent_at FROM goal_notifications`
	if len(clauses) > 0 {
		query += " WHERE " + clauses[0]
		for _, c := range clauses[1:] {
			query += " AND " + c
		}
	}
	query += ` ORDER BY created_at, id`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var sentAt sql.NullString
		if err := rows.Scan(&n.ID, &n.GoalID, &n.Type, &n.Recipient, &n.Message, &n.CreatedAt, &sentAt); err != nil {
			return nil, err
		}
		if sentAt.Valid {
			n.SentAt = &sentAt.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationSent(ctx context.Context, id, sentAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE goal_notifications SET sent_at=? WHERE id=? AND sent_at IS NULL`, sentAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
