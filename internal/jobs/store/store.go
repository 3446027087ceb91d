// Package store persists jobs and their results in PostgreSQL.
//
// It requires the phrase_jobs table created by postgres.Schema.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/phrase"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/postgres"
)

// Store reads and writes the phrase_jobs table.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New returns a Store using db.
func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "job-store"),
	}
}

// Create inserts a PENDING job and returns its ID.
func (s *Store) Create(ctx context.Context, req *jobs.SubmitRequest) (int64, error) {
	var id int64
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`INSERT INTO phrase_jobs (input_path, top_k, delimiter, status)
		VALUES ($1, $2, $3, 'PENDING')
		RETURNING id`, req.InputPath, req.TopK, req.Delimiter).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("inserting job: %w", err)
	}
	return id, nil
}

// Get loads one job. A missing job is ErrJobNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*jobs.Job, error) {
	var (
		job        jobs.Job
		status     string
		result     []byte
		errText    sql.NullString
		errStage   sql.NullString
		finishedAt sql.NullTime
	)
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, input_path, top_k, delimiter, status, attempts, result, error, error_stage, created_at, finished_at
		FROM phrase_jobs WHERE id=$1`, id,
	).Scan(&job.ID, &job.InputPath, &job.TopK, &job.Delimiter, &status, &job.Attempts,
		&result, &errText, &errStage, &job.CreatedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, apperrors.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying job %d: %w", id, err)
	}
	job.Status = jobs.Status(status)
	job.Error = errText.String
	job.ErrorStage = errStage.String
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("unmarshaling result of job %d: %w", id, err)
		}
	}
	return &job, nil
}

// MarkRunning moves a job to RUNNING and counts the attempt. It reports false
// when the job is already terminal, which happens when a finished job's
// message is redelivered.
func (s *Store) MarkRunning(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE phrase_jobs SET status='RUNNING', attempts=attempts+1
		WHERE id=$1 AND status IN ('PENDING', 'RUNNING')`, id)
	if err != nil {
		return false, fmt.Errorf("marking job %d running: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking job %d running: %w", id, err)
	}
	return n == 1, nil
}

// Complete stores the result and marks the job DONE.
func (s *Store) Complete(ctx context.Context, id int64, result []phrase.Count) error {
	if result == nil {
		result = []phrase.Count{}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		`UPDATE phrase_jobs SET status='DONE', result=$2, error=NULL, error_stage=NULL, finished_at=$3
		WHERE id=$1`, id, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("completing job %d: %w", id, err)
	}
	s.logger.Info("job completed", "job_id", id, "phrases", len(result))
	return nil
}

// Fail marks the job FAILED with the error and, for pipeline errors, the
// stage it failed in.
func (s *Store) Fail(ctx context.Context, id int64, cause error) error {
	stage := sql.NullString{String: string(apperrors.StageOf(cause))}
	stage.Valid = stage.String != ""
	_, err := s.db.DB.ExecContext(ctx,
		`UPDATE phrase_jobs SET status='FAILED', error=$2, error_stage=$3, finished_at=$4
		WHERE id=$1`, id, cause.Error(), stage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failing job %d: %w", id, err)
	}
	s.logger.Warn("job failed", "job_id", id, "stage", stage.String, "error", cause)
	return nil
}

// ListByStatus returns up to limit jobs in status, oldest first. It is used
// to find jobs left PENDING after a failed publish.
func (s *Store) ListByStatus(ctx context.Context, status jobs.Status, limit int) ([]int64, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id FROM phrase_jobs WHERE status=$1 ORDER BY created_at LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing %s jobs: %w", status, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
