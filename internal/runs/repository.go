package runs

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	UpdateStage(ctx context.Context, id, stage string) error
	AddBatch(ctx context.Context, id string, segmentsSucceeded int, ok bool) error
	FinishRun(ctx context.Context, id string, outcome Outcome) error
	PruneRuns(ctx context.Context, keep int) (int64, error)
}

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

// sqliteTime is what datetime('now') produces.
const sqliteTime = "2006-01-02 15:04:05"

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeFormat, s); err == nil {
		return t
	}
	t, _ := time.Parse(sqliteTime, s)
	return t
}

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = run.CreatedAt
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.Stage == "" {
		run.Stage = "init"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, status, stage, shape, preset, batch_size, segments_attempted, batches_attempted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Status, run.Stage, run.Shape, run.Preset, run.BatchSize,
		run.SegmentsAttempted, run.BatchesAttempted,
		formatTime(run.CreatedAt), formatTime(run.UpdatedAt))
	return err
}

const selectRun = `
	SELECT id, status, stage, shape, preset, batch_size,
	       segments_attempted, segments_succeeded, batches_attempted, batches_succeeded,
	       output_bytes, duration_ms, error, created_at, updated_at
	FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var errMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&run.ID, &run.Status, &run.Stage, &run.Shape, &run.Preset, &run.BatchSize,
		&run.SegmentsAttempted, &run.SegmentsSucceeded, &run.BatchesAttempted, &run.BatchesSucceeded,
		&run.OutputBytes, &run.DurationMs, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	run.Error = errMsg.String
	run.CreatedAt = parseTime(createdAt)
	run.UpdatedAt = parseTime(updatedAt)
	return &run, nil
}

// GetRun returns nil, nil when id is unknown.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, selectRun+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateStage(ctx context.Context, id, stage string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET stage = ?, updated_at = ? WHERE id = ?
	`, stage, formatTime(time.Now()), id)
	return err
}

// AddBatch records one finished batch.
func (r *SQLiteRepository) AddBatch(ctx context.Context, id string, segmentsSucceeded int, ok bool) error {
	succeeded := 0
	if ok {
		succeeded = 1
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs
		SET batches_succeeded = batches_succeeded + ?,
		    segments_succeeded = segments_succeeded + ?,
		    updated_at = ?
		WHERE id = ?
	`, succeeded, segmentsSucceeded, formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) FinishRun(ctx context.Context, id string, o Outcome) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, stage = ?,
		    segments_attempted = ?, segments_succeeded = ?,
		    batches_attempted = ?, batches_succeeded = ?,
		    output_bytes = ?, duration_ms = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, o.Status, finalStage(o.Status),
		o.SegmentsAttempted, o.SegmentsSucceeded,
		o.BatchesAttempted, o.BatchesSucceeded,
		o.OutputBytes, o.DurationMs, nullString(o.Error), formatTime(time.Now()), id)
	return err
}

// PruneRuns deletes all but the newest keep runs.
func (r *SQLiteRepository) PruneRuns(ctx context.Context, keep int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY created_at DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func finalStage(status string) string {
	if status == StatusSucceeded {
		return "done"
	}
	return "failed"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
