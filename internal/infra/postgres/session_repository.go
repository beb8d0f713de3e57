package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"qmaster-service/internal/domain"
)

const sessionColumns = `token, pool_id, subject, desired_mcq, desired_descriptive, created_by, created_at`

// SessionRepository stores test sessions keyed by token.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, s domain.TestSession) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO test_sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.Token, s.PoolID, s.Subject, s.DesiredMCQ, s.DesiredDescriptive, s.CreatedBy, s.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrSessionExists
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, token string) (domain.TestSession, error) {
	var s domain.TestSession
	err := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM test_sessions WHERE token = $1`, token).
		Scan(&s.Token, &s.PoolID, &s.Subject, &s.DesiredMCQ, &s.DesiredDescriptive, &s.CreatedBy, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TestSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.TestSession{}, fmt.Errorf("load session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) ListByCreator(ctx context.Context, createdBy string) ([]domain.TestSession, error) {
	return r.list(ctx, `created_by = $1`, createdBy)
}

func (r *SessionRepository) ListByPool(ctx context.Context, poolID string) ([]domain.TestSession, error) {
	return r.list(ctx, `pool_id = $1`, poolID)
}

func (r *SessionRepository) list(ctx context.Context, where string, arg string) ([]domain.TestSession, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM test_sessions WHERE `+where+`
		ORDER BY created_at DESC, token`, arg)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []domain.TestSession{}
	for rows.Next() {
		var s domain.TestSession
		if err := rows.Scan(&s.Token, &s.PoolID, &s.Subject, &s.DesiredMCQ, &s.DesiredDescriptive, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
