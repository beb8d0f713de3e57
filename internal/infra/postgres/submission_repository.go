package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"qmaster-service/internal/domain"
)

// AssignmentRepository keeps the latest draw per (session, participant).
type AssignmentRepository struct {
	pool *pgxpool.Pool
}

func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

func (r *AssignmentRepository) Put(ctx context.Context, a domain.Assignment) error {
	mcq, err := encodeJSON("mcq_ids", nonNil(a.MCQIDs))
	if err != nil {
		return err
	}
	descriptive, err := encodeJSON("descriptive_ids", nonNil(a.DescriptiveIDs))
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO assignments (session_token, participant_id, mcq_ids, descriptive_ids, assigned_at, draws)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_token, participant_id) DO UPDATE
		SET mcq_ids = EXCLUDED.mcq_ids, descriptive_ids = EXCLUDED.descriptive_ids,
			assigned_at = EXCLUDED.assigned_at, draws = EXCLUDED.draws`,
		a.SessionToken, a.ParticipantID, mcq, descriptive, a.AssignedAt, a.Draws)
	if err != nil {
		return fmt.Errorf("upsert assignment: %w", err)
	}
	return nil
}

func (r *AssignmentRepository) Get(ctx context.Context, token, participantID string) (domain.Assignment, error) {
	var (
		a                domain.Assignment
		mcq, descriptive []byte
	)
	err := r.pool.QueryRow(ctx, `SELECT session_token, participant_id, mcq_ids, descriptive_ids, assigned_at, draws
		FROM assignments WHERE session_token = $1 AND participant_id = $2`, token, participantID).
		Scan(&a.SessionToken, &a.ParticipantID, &mcq, &descriptive, &a.AssignedAt, &a.Draws)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Assignment{}, domain.ErrAssignmentNotFound
	}
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("load assignment: %w", err)
	}
	if err := decodeJSON("mcq_ids", mcq, &a.MCQIDs); err != nil {
		return domain.Assignment{}, err
	}
	if err := decodeJSON("descriptive_ids", descriptive, &a.DescriptiveIDs); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}

const submissionColumns = `session_token, participant_id, assignment, answers, results, score, total_marks, submitted_at`

// SubmissionRepository stores final submissions. The primary key on (session_token,
// participant_id) makes CreateIfAbsent authoritative across instances.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

func (r *SubmissionRepository) CreateIfAbsent(ctx context.Context, sub domain.Submission) error {
	assignment, err := encodeJSON("assignment", sub.Assignment)
	if err != nil {
		return err
	}
	answers, err := encodeJSON("answers", sub.Answers)
	if err != nil {
		return err
	}
	results, err := encodeJSON("results", sub.Results)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_token, participant_id) DO NOTHING`,
		sub.SessionToken, sub.ParticipantID, assignment, answers, results, sub.Score, sub.TotalMarks, sub.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadySubmitted
	}
	return nil
}

func (r *SubmissionRepository) Exists(ctx context.Context, token, participantID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM submissions WHERE session_token = $1 AND participant_id = $2)`,
		token, participantID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check submission: %w", err)
	}
	return exists, nil
}

func (r *SubmissionRepository) Get(ctx context.Context, token, participantID string) (domain.Submission, error) {
	sub, err := scanSubmission(r.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions
		WHERE session_token = $1 AND participant_id = $2`, token, participantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	return sub, err
}

// ListBySession returns submissions in the order they were accepted.
func (r *SubmissionRepository) ListBySession(ctx context.Context, token string) ([]domain.Submission, error) {
	return r.list(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE session_token = $1 ORDER BY seq`, token)
}

func (r *SubmissionRepository) ListByParticipant(ctx context.Context, participantID string) ([]domain.Submission, error) {
	return r.list(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE participant_id = $1 ORDER BY seq`, participantID)
}

func (r *SubmissionRepository) list(ctx context.Context, query string, arg string) ([]domain.Submission, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	out := []domain.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanSubmission(row pgx.Row) (domain.Submission, error) {
	var (
		sub                          domain.Submission
		assignment, answers, results []byte
	)
	err := row.Scan(&sub.SessionToken, &sub.ParticipantID, &assignment, &answers, &results,
		&sub.Score, &sub.TotalMarks, &sub.SubmittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Submission{}, err
		}
		return domain.Submission{}, fmt.Errorf("scan submission: %w", err)
	}
	if err := decodeJSON("assignment", assignment, &sub.Assignment); err != nil {
		return domain.Submission{}, err
	}
	if err := decodeJSON("answers", answers, &sub.Answers); err != nil {
		return domain.Submission{}, err
	}
	if err := decodeJSON("results", results, &sub.Results); err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}
