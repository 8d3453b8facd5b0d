package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends entries to the goal audit log. Entries are written inside
// the caller's transaction so a mutation and its trail commit together.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type ChangeDetails map[string]any

type Entry struct {
	GoalID    string
	EventType string
	ActorID   string
	Summary   string
	Details   ChangeDetails
	OldValue  *string
	NewValue  *string
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if e.Details == nil {
		e.Details = ChangeDetails{}
	}
	data, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal change details: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO goal_audit_log(goal_id,event_type,actor_id,summary,change_details,old_value,new_value,ts) VALUES (?,?,?,?,?,?,?,?)`,
		e.GoalID, e.EventType, e.ActorID, e.Summary, string(data), e.OldValue, e.NewValue, ts)
	return err
}
