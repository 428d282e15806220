package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run is one persisted generation run.
type Run struct {
	RunID          string     `json:"runId"`
	BookTitle      string     `json:"bookTitle"`
	Voice          string     `json:"voice,omitempty"`
	Status         string     `json:"status"`
	TotalFiles     int        `json:"totalFiles"`
	CompletedFiles int        `json:"completedFiles"`
	Progress       float64    `json:"progress"`
	Message        string     `json:"message,omitempty"`
	ErrorMessage   string     `json:"error,omitempty"`
	ArchiveName    string     `json:"archiveName,omitempty"`
	ArchivePath    string     `json:"archivePath,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

const runColumns = "run_id, book_title, voice, status, total_files, completed_files, progress, message, error_message, archive_name, archive_path, started_at, updated_at, finished_at"

// Upsert inserts run or updates the existing record with the same RunID.
// The original started_at is kept on update.
func (s *Store) Upsert(ctx context.Context, run Run) error {
	if run.RunID == "" {
		return errors.New("run id is empty")
	}
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.UpdatedAt = now

	_, err := s.exec(ctx,
		`INSERT INTO runs (`+runColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(run_id) DO UPDATE SET
             book_title = excluded.book_title,
             voice = excluded.voice,
             status = excluded.status,
             total_files = excluded.total_files,
             completed_files = excluded.completed_files,
             progress = excluded.progress,
             message = excluded.message,
             error_message = excluded.error_message,
             archive_name = excluded.archive_name,
             archive_path = excluded.archive_path,
             updated_at = excluded.updated_at,
             finished_at = excluded.finished_at`,
		run.RunID,
		run.BookTitle,
		nullableString(run.Voice),
		run.Status,
		run.TotalFiles,
		run.CompletedFiles,
		run.Progress,
		nullableString(run.Message),
		nullableString(run.ErrorMessage),
		nullableString(run.ArchiveName),
		nullableString(run.ArchivePath),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// Get returns the run with id, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List returns the most recently started runs first. A non-positive limit
// returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Clear removes every run and returns how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM runs`)
	if err != nil {
		return 0, fmt.Errorf("clear runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run          Run
		voice        sql.NullString
		message      sql.NullString
		errorMessage sql.NullString
		archiveName  sql.NullString
		archivePath  sql.NullString
		startedRaw   string
		updatedRaw   string
		finishedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&run.RunID,
		&run.BookTitle,
		&voice,
		&run.Status,
		&run.TotalFiles,
		&run.CompletedFiles,
		&run.Progress,
		&message,
		&errorMessage,
		&archiveName,
		&archivePath,
		&startedRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	run.Voice = voice.String
	run.Message = message.String
	run.ErrorMessage = errorMessage.String
	run.ArchiveName = archiveName.String
	run.ArchivePath = archivePath.String
	if t, err := time.Parse(time.RFC3339Nano, startedRaw); err == nil {
		run.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		run.UpdatedAt = t
	}
	if finishedRaw.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedRaw.String); err == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}
