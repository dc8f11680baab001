// Package audit supplements spec.md with a durable job history, a feature
// the distilled spec never calls for but that every original Honeydew
// deployment needs for post-hoc debugging: a record of what was submitted,
// to which pool, and how it ended.
//
// Grounded on worker/internal/repository/postgres/job_repo.go and
// api/internal/repository/postgres/job_repo.go's pgxpool + parameterized
// UPDATE...WHERE job_id = $n + RowsAffected-as-not-found-check shape.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shovelend/pond/internal/domain"
)

// Store records a pool's job lifecycle for later inspection.
type Store interface {
	RecordSubmitted(ctx context.Context, pool domain.PoolID, job *domain.Job) error
	RecordCompleted(ctx context.Context, pool domain.PoolID, job *domain.Job, outcome string) error
	Get(ctx context.Context, jobID uuid.UUID) (*Record, error)
}

// Record is a job's audited history, as read back for the HTTP poll route
// (SPEC_FULL.md's "GET /pools/:pool/jobs/:id (poll result — audit-backed)").
type Record struct {
	JobID       uuid.UUID       `json:"job_id"`
	Pool        string          `json:"pool"`
	Method      string          `json:"method"`
	Status      string          `json:"status"`
	ResultValue json.RawMessage `json:"result_value,omitempty"`
	ResultError string          `json:"result_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// PostgresStore is the pgxpool-backed Store implementation. Its table is
// expected to already exist:
//
//	CREATE TABLE pond_jobs (
//	  job_id       uuid PRIMARY KEY,
//	  pool         text NOT NULL,
//	  method       text NOT NULL,
//	  status       text NOT NULL,
//	  result_value jsonb,
//	  result_error text,
//	  created_at   timestamptz NOT NULL,
//	  completed_at timestamptz
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an already-connected pgxpool.Pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// RecordSubmitted inserts a row for a freshly enqueued job. A retried
// submission with the same job ID is a no-op.
func (s *PostgresStore) RecordSubmitted(ctx context.Context, pool domain.PoolID, job *domain.Job) error {
	const query = `
		INSERT INTO pond_jobs (job_id, pool, method, status, created_at)
		VALUES ($1, $2, $3, 'submitted', $4)
		ON CONFLICT (job_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, job.ID, pool.String(), job.Task.Method, job.CreatedAt); err != nil {
		return fmt.Errorf("audit: record submitted: %w", err)
	}
	return nil
}

// RecordCompleted stores a job's terminal outcome ("ok" or "crashed").
func (s *PostgresStore) RecordCompleted(ctx context.Context, pool domain.PoolID, job *domain.Job, outcome string) error {
	var resultValue []byte
	var resultErr string
	if job.Result != nil {
		if job.Result.Value != nil {
			var err error
			resultValue, err = json.Marshal(job.Result.Value)
			if err != nil {
				return fmt.Errorf("audit: marshal result value: %w", err)
			}
		}
		resultErr = job.Result.Err
	}

	const query = `
		UPDATE pond_jobs
		SET status = $1, result_value = $2, result_error = $3, completed_at = $4
		WHERE job_id = $5`
	tag, err := s.pool.Exec(ctx, query, outcome, resultValue, resultErr, time.Now().UTC(), job.ID)
	if err != nil {
		return fmt.Errorf("audit: record completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("audit: job not found: %s", job.ID)
	}
	return nil
}

// Get retrieves a job's audited history by ID, for the HTTP poll route.
func (s *PostgresStore) Get(ctx context.Context, jobID uuid.UUID) (*Record, error) {
	const query = `
		SELECT job_id, pool, method, status, result_value, result_error, created_at, completed_at
		FROM pond_jobs
		WHERE job_id = $1`

	var rec Record
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&rec.JobID, &rec.Pool, &rec.Method, &rec.Status,
		&rec.ResultValue, &rec.ResultError, &rec.CreatedAt, &rec.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("audit: get: %w", err)
	}
	return &rec, nil
}
