package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"qmaster-service/internal/domain"
)

const jobColumns = `id, owner_id, subject, source_kind, state, result_pool_id, error_message, params,
	created_at, started_at, finished_at`

// JobRepository stores upload jobs in upload_jobs.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job domain.UploadJob) error {
	params, err := encodeJSON("params", job.Params)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO upload_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.OwnerID, job.Subject, string(job.SourceKind), string(job.State),
		job.ResultPoolID, job.ErrorMessage, params, job.CreatedAt, job.StartedAt, job.FinishedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrJobStateConflict
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, jobID string) (domain.UploadJob, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM upload_jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UploadJob{}, domain.ErrJobNotFound
	}
	return job, err
}

// Transition locks the row, checks the current state and writes the new one in one transaction.
func (r *JobRepository) Transition(ctx context.Context, jobID string, t domain.JobTransition) (domain.UploadJob, error) {
	var updated domain.UploadJob
	err := r.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		job, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM upload_jobs WHERE id = $1 FOR UPDATE`, jobID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if job.State != t.From || !t.From.CanTransition(t.To) {
			return domain.ErrJobStateConflict
		}
		updated = t.Apply(job)
		_, err = tx.Exec(ctx, `UPDATE upload_jobs
			SET state = $2, result_pool_id = $3, error_message = $4, started_at = $5, finished_at = $6
			WHERE id = $1`,
			jobID, string(updated.State), updated.ResultPoolID, updated.ErrorMessage, updated.StartedAt, updated.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.UploadJob{}, err
	}
	return updated, nil
}

func (r *JobRepository) ListStale(ctx context.Context, state domain.JobState, cutoff time.Time) ([]domain.UploadJob, error) {
	entered := "created_at"
	if state == domain.JobProcessing {
		entered = "COALESCE(started_at, created_at)"
	}
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM upload_jobs
		WHERE state = $1 AND `+entered+` < $2
		ORDER BY created_at`, string(state), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.UploadJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (domain.UploadJob, error) {
	var (
		job        domain.UploadJob
		sourceKind string
		state      string
		params     []byte
		startedAt  *time.Time
		finishedAt *time.Time
	)
	err := row.Scan(&job.ID, &job.OwnerID, &job.Subject, &sourceKind, &state, &job.ResultPoolID,
		&job.ErrorMessage, &params, &job.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UploadJob{}, err
		}
		return domain.UploadJob{}, fmt.Errorf("scan job: %w", err)
	}
	if err := decodeJSON("params", params, &job.Params); err != nil {
		return domain.UploadJob{}, err
	}
	job.SourceKind = domain.SourceKind(sourceKind)
	job.State = domain.JobState(state)
	job.StartedAt = startedAt
	job.FinishedAt = finishedAt
	return job, nil
}
