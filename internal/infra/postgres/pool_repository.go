package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"qmaster-service/internal/domain"
)

const itemColumns = `id, pool_id, kind, text, options, correct_answer, context, difficulty, subject, marks, invalidated`

// PoolRepository stores pools in question_pools and their items, in generation order, in
// question_items.
type PoolRepository struct {
	pool *pgxpool.Pool
}

func NewPoolRepository(pool *pgxpool.Pool) *PoolRepository {
	return &PoolRepository{pool: pool}
}

func (r *PoolRepository) CreatePool(ctx context.Context, p domain.Pool) error {
	return r.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO question_pools (id, job_id, owner_id, subject, created_at)
			VALUES ($1, $2, $3, $4, $5)`, p.ID, p.JobID, p.OwnerID, p.Subject, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert pool: %w", err)
		}

		batch := &pgx.Batch{}
		for i, item := range p.Items {
			options, err := encodeJSON("options", nonNil(item.Options))
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO question_items (`+itemColumns+`, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				item.ID, p.ID, string(item.Kind), item.Text, options, item.CorrectAnswer,
				item.Context, item.Difficulty, item.Subject, item.Marks, item.Invalidated, i,
			)
		}
		results := tx.SendBatch(ctx, batch)
		for range p.Items {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert pool items: %w", err)
			}
		}
		return results.Close()
	})
}

func (r *PoolRepository) DeletePool(ctx context.Context, poolID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM question_pools WHERE id = $1`, poolID); err != nil {
		return fmt.Errorf("delete pool: %w", err)
	}
	return nil
}

func (r *PoolRepository) GetPool(ctx context.Context, poolID string) (domain.Pool, error) {
	var p domain.Pool
	err := r.pool.QueryRow(ctx, `SELECT id, job_id, owner_id, subject, created_at FROM question_pools WHERE id = $1`, poolID).
		Scan(&p.ID, &p.JobID, &p.OwnerID, &p.Subject, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Pool{}, domain.ErrPoolNotFound
	}
	if err != nil {
		return domain.Pool{}, fmt.Errorf("load pool: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM question_items WHERE pool_id = $1 ORDER BY position`, poolID)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("load pool items: %w", err)
	}
	defer rows.Close()
	p.Items, err = scanItems(rows)
	if err != nil {
		return domain.Pool{}, err
	}
	return p, nil
}

// ItemsByID returns items in the order of ids.
func (r *PoolRepository) ItemsByID(ctx context.Context, ids []string) ([]domain.QuestionItem, error) {
	if len(ids) == 0 {
		return []domain.QuestionItem{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM question_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.QuestionItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	out := make([]domain.QuestionItem, 0, len(ids))
	for _, id := range ids {
		item, ok := byID[id]
		if !ok {
			return nil, domain.ErrItemNotFound
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *PoolRepository) InvalidateItem(ctx context.Context, poolID, itemID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE question_items SET invalidated = TRUE WHERE pool_id = $1 AND id = $2`, poolID, itemID)
	if err != nil {
		return fmt.Errorf("invalidate item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func scanItems(rows pgx.Rows) ([]domain.QuestionItem, error) {
	items := []domain.QuestionItem{}
	for rows.Next() {
		var (
			item    domain.QuestionItem
			kind    string
			options []byte
		)
		if err := rows.Scan(&item.ID, &item.PoolID, &kind, &item.Text, &options, &item.CorrectAnswer,
			&item.Context, &item.Difficulty, &item.Subject, &item.Marks, &item.Invalidated); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.Kind = domain.QuestionKind(kind)
		if err := decodeJSON("options", options, &item.Options); err != nil {
			return nil, err
		}
		if len(item.Options) == 0 {
			item.Options = nil
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
