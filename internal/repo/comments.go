package repo

import (
	"context"
	"database/sql"

	"goalline/internal/domain"
)

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO goal_comments(id,goal_id,author_id,body,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.GoalID, c.AuthorID, c.Body, c.CreatedAt, nullableStringPtr(c.UpdatedAt))
	return err
}

func (r Repo) UpdateComment(ctx context.Context, tx *sql.Tx, id, body, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE goal_comments SET body=?, updated_at=? WHERE id=?`, body, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	var c domain.Comment
	var updatedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,goal_id,author_id,body,created_at,updated_at FROM goal_comments WHERE id=?`, id).
		Scan(&c.ID, &c.GoalID, &c.AuthorID, &c.Body, &c.CreatedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if updatedAt.Valid {
		c.UpdatedAt = &updatedAt.String
	}
	return c, err
}

func (r Repo) ListComments(ctx context.Context, goalID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,goal_id,author_id,body,created_at,updated_at FROM goal_comments WHERE goal_id=? ORDER BY created_at, id`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var updatedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.GoalID, &c.AuthorID, &c.Body, &c.CreatedAt, &updatedAt); err != nil {
			return nil, err
		}
		if updatedAt.Valid {
			c.UpdatedAt = &updatedAt.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
