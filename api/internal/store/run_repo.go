package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"draw-coach/api/internal/tutor"
)

var ErrNotFound = sql.ErrNoRows

// RunRepo archives finished tutorials. Live sessions never read from it;
// it exists for history views and housekeeping only.
type RunRepo struct{ DB *sql.DB }

func NewRunRepo(db *sql.DB) *RunRepo { return &RunRepo{DB: db} }

// RunRow is a finished tutorial as read back from the archive.
type RunRow struct {
	ID         int64
	CreatedAt  time.Time
	SessionID  string
	ChatID     int64
	Engine     string
	Model      string
	TotalSteps int
	Steps      []tutor.DrawingStep
	DurationMS int64
}

// Insert archives one finished run. Re-inserting the same session id
// overwrites the previous record.
func (r *RunRepo) Insert(ctx context.Context, chatID int64, sum tutor.RunSummary) error {
	js, _ := json.Marshal(sum.Steps)
	const q = `
insert into tutorial_runs (
  session_id, chat_id, engine, model, total_steps, steps_json, duration_ms
) values ($1,$2,$3,$4,$5,$6,$7)
on conflict (session_id) do update
set chat_id = excluded.chat_id,
    engine = excluded.engine,
    model = excluded.model,
    total_steps = excluded.total_steps,
    steps_json = excluded.steps_json,
    duration_ms = excluded.duration_ms`
	_, err := r.DB.ExecContext(ctx, q,
		sum.SessionID, chatID, sum.Engine, sum.Model, sum.TotalSteps, js,
		sum.FinishedAt.Sub(sum.StartedAt).Milliseconds(),
	)
	return err
}

// Recent returns the newest archived runs, step images included.
func (r *RunRepo) Recent(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
select id, created_at, session_id,
       coalesce(chat_id,0) as chat_id,
       engine, model, total_steps, steps_json, duration_ms
from tutorial_runs
order by created_at desc
limit $1`
	rows, err := r.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var (
			row RunRow
			js  []byte
		)
		if err := rows.Scan(&row.ID, &row.CreatedAt, &row.SessionID,
			&row.ChatID, &row.Engine, &row.Model, &row.TotalSteps, &js, &row.DurationMS); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(js, &row.Steps); err != nil {
			// broken JSON in an archive row: skip rather than fail the list
			continue
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// RecentByChat returns the newest archived runs for one chat.
func (r *RunRepo) RecentByChat(ctx context.Context, chatID int64, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 5
	}
	const q = `
select id, created_at, session_id,
       coalesce(chat_id,0) as chat_id,
       engine, model, total_steps, steps_json, duration_ms
from tutorial_runs
where chat_id = $1
order by created_at desc
limit $2`
	rows, err := r.DB.QueryContext(ctx, q, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var (
			row RunRow
			js  []byte
		)
		if err := rows.Scan(&row.ID, &row.CreatedAt, &row.SessionID,
			&row.ChatID, &row.Engine, &row.Model, &row.TotalSteps, &js, &row.DurationMS); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(js, &row.Steps); err != nil {
			continue
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// PurgeOlderThan removes old archive rows so the table stays small.
func (r *RunRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	const q = `delete from tutorial_runs where created_at < $1`
	res, err := r.DB.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}
