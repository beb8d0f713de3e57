// Package postgres implements the repositories on PostgreSQL through pgx.
package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"

	"qmaster-service/internal/app"
)

const uniqueViolation = "23505"

// NewStore wires every repository to one connection pool.
func NewStore(pool *pgxpool.Pool) app.Store {
	return app.Store{
		Jobs:        NewJobRepository(pool),
		Pools:       NewPoolRepository(pool),
		Sessions:    NewSessionRepository(pool),
		Assignments: NewAssignmentRepository(pool),
		Submissions: NewSubmissionRepository(pool),
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func encodeJSON(field string, v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", field, err)
	}
	return raw, nil
}

func decodeJSON(field string, raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", field, err)
	}
	return nil
}

// nonNil keeps JSONB columns as [] rather than null.
func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
