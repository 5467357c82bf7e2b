// Package journal persists pending reminder jobs in SQLite so they can be
// replayed into the scheduler after a restart. It is opt-in; the default
// deployment keeps everything in memory.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"remindd/internal/scheduler"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS reminders (
  id TEXT PRIMARY KEY,
  due_time TEXT NOT NULL,
  webhook_url TEXT NOT NULL,
  payload BLOB NOT NULL,
  cron_expr TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(due_time);
`
	_, err := db.Exec(schema)
	return err
}

type SQLite struct{ db *sql.DB }

func New(db *sql.DB) *SQLite { return &SQLite{db: db} }

func (j *SQLite) Record(ctx context.Context, rec scheduler.JobRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
INSERT INTO reminders (id, due_time, webhook_url, payload, cron_expr, created_at, updated_at)
VALUES (?,?,?,?,?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET due_time=excluded.due_time, updated_at=CURRENT_TIMESTAMP`,
		rec.ID, rec.Due.Format(time.RFC3339Nano), rec.WebhookURL, payload, rec.CronExpr)
	return err
}

func (j *SQLite) Remove(ctx context.Context, id string) error {
	_, err := j.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return err
}

// Pending returns every journaled job for replay at boot.
func (j *SQLite) Pending(ctx context.Context) ([]scheduler.JobRecord, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT id, due_time, webhook_url, payload, cron_expr FROM reminders ORDER BY due_time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []scheduler.JobRecord
	for rows.Next() {
		var rec scheduler.JobRecord
		var due string
		var payload []byte
		if err := rows.Scan(&rec.ID, &due, &rec.WebhookURL, &payload, &rec.CronExpr); err != nil {
			return nil, err
		}
		rec.Due, err = time.Parse(time.RFC3339Nano, due)
		if err != nil {
			return nil, fmt.Errorf("reminder %s: bad due_time: %w", rec.ID, err)
		}
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			return nil, fmt.Errorf("reminder %s: bad payload: %w", rec.ID, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
