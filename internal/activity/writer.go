package activity

import (
	"context"
	"database/sql"
	"time"
)

// Writer appends audit records. Rows are never updated or deleted; the
// autoincrement id doubles as the ordering key.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, actType, projectID, taskID, actorID, description string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO activity(ts,type,project_id,task_id,actor_id,description) VALUES (?,?,?,?,?,?)`,
		ts, actType, projectID, nullable(taskID), actorID, description)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
