package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"qmaster-service/internal/domain"
)

// QuestionPool answers questions about generated pools: how many valid items they hold,
// which items a participant draws, and what the owner sees.
type QuestionPool struct {
	pools  PoolRepository
	logger *zap.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionPool(pools PoolRepository, logger *zap.Logger) *QuestionPool {
	return NewQuestionPoolWithSeed(pools, logger, time.Now().UnixNano())
}

// NewQuestionPoolWithSeed is for tests that need reproducible draws.
func NewQuestionPoolWithSeed(pools PoolRepository, logger *zap.Logger, seed int64) *QuestionPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuestionPool{pools: pools, logger: logger, rnd: rand.New(rand.NewSource(seed))}
}

// ValidCounts returns the number of valid items per kind in the pool.
func (p *QuestionPool) ValidCounts(ctx context.Context, poolID string) (domain.Counts, error) {
	_, counts, err := p.load(ctx, poolID)
	return counts, err
}

func (p *QuestionPool) load(ctx context.Context, poolID string) (domain.Pool, domain.Counts, error) {
	pool, err := p.pools.GetPool(ctx, poolID)
	if err != nil {
		return domain.Pool{}, domain.Counts{}, err
	}
	return pool, countValid(pool.Items), nil
}

func countValid(items []domain.QuestionItem) domain.Counts {
	var c domain.Counts
	for _, item := range items {
		if !item.Valid() {
			continue
		}
		switch item.Kind {
		case domain.KindMCQ:
			c.MCQ++
		case domain.KindDescriptive:
			c.Descriptive++
		}
	}
	return c
}

// Sample draws n distinct valid item ids of kind, uniformly without replacement, skipping ids
// in excluding. It never returns fewer than n ids: a short pool yields a ShortfallError.
func (p *QuestionPool) Sample(ctx context.Context, poolID string, kind domain.QuestionKind, n int, excluding map[string]struct{}) ([]string, error) {
	if !domain.ValidKind(kind) {
		return nil, domain.NewValidationError("kind", fmt.Sprintf("unknown question kind %q", kind))
	}
	if n < 0 {
		return nil, domain.NewValidationError("count", "must not be negative")
	}
	pool, err := p.pools.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	candidates := make([]string, 0, len(pool.Items))
	for _, item := range pool.Items {
		if item.Kind != kind || !item.Valid() {
			continue
		}
		if _, skip := excluding[item.ID]; skip {
			continue
		}
		candidates = append(candidates, item.ID)
	}
	if n > len(candidates) {
		return nil, &domain.ShortfallError{Kind: kind, Desired: n, Available: len(candidates)}
	}

	// Partial Fisher-Yates: the first n slots end up as a uniform draw.
	p.mu.Lock()
	for i := 0; i < n; i++ {
		j := i + p.rnd.Intn(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	p.mu.Unlock()

	out := make([]string, n)
	copy(out, candidates[:n])
	return out, nil
}

// Fetch returns full items, answers included, in the order of ids.
func (p *QuestionPool) Fetch(ctx context.Context, ids []string) ([]domain.QuestionItem, error) {
	if len(ids) == 0 {
		return []domain.QuestionItem{}, nil
	}
	return p.pools.ItemsByID(ctx, ids)
}

// View returns the owner's view of a pool: valid items only, grouped by kind.
func (p *QuestionPool) View(ctx context.Context, poolID, requesterID string) (domain.PoolView, error) {
	pool, counts, err := p.load(ctx, poolID)
	if err != nil {
		return domain.PoolView{}, err
	}
	if pool.OwnerID != requesterID {
		return domain.PoolView{}, domain.ErrPoolAccessDenied
	}
	view := domain.PoolView{
		PoolID:      pool.ID,
		Subject:     pool.Subject,
		MCQ:         []domain.QuestionItem{},
		Descriptive: []domain.QuestionItem{},
		Counts:      counts,
	}
	for _, item := range pool.Items {
		if !item.Valid() {
			continue
		}
		switch item.Kind {
		case domain.KindMCQ:
			view.MCQ = append(view.MCQ, item)
		case domain.KindDescriptive:
			view.Descriptive = append(view.Descriptive, item)
		}
	}
	return view, nil
}

// Invalidate marks one item as unusable for future draws. Existing assignments keep it.
func (p *QuestionPool) Invalidate(ctx context.Context, poolID, itemID, requesterID string) error {
	pool, err := p.pools.GetPool(ctx, poolID)
	if err != nil {
		return err
	}
	if pool.OwnerID != requesterID {
		return domain.ErrPoolAccessDenied
	}
	if err := p.pools.InvalidateItem(ctx, poolID, itemID); err != nil {
		return err
	}
	p.logger.Info("question invalidated", zap.String("pool_id", poolID), zap.String("item_id", itemID))
	return nil
}
