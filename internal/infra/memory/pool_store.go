package memory

import (
	"context"
	"sync"

	"qmaster-service/internal/domain"
)

type itemRef struct {
	poolID string
	index  int
}

// PoolStore is an in-memory implementation of app.PoolRepository.
type PoolStore struct {
	mu    sync.RWMutex
	pools map[string]domain.Pool
	items map[string]itemRef
}

func NewPoolStore() *PoolStore {
	return &PoolStore{
		pools: make(map[string]domain.Pool),
		items: make(map[string]itemRef),
	}
}

func (s *PoolStore) CreatePool(_ context.Context, pool domain.Pool) error {
	pool = clonePool(pool)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[pool.ID] = pool
	for i, item := range pool.Items {
		s.items[item.ID] = itemRef{poolID: pool.ID, index: i}
	}
	return nil
}

func (s *PoolStore) DeletePool(_ context.Context, poolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[poolID]
	if !ok {
		return nil
	}
	for _, item := range pool.Items {
		delete(s.items, item.ID)
	}
	delete(s.pools, poolID)
	return nil
}

func (s *PoolStore) GetPool(_ context.Context, poolID string) (domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool, ok := s.pools[poolID]
	if !ok {
		return domain.Pool{}, domain.ErrPoolNotFound
	}
	return clonePool(pool), nil
}

func (s *PoolStore) ItemsByID(_ context.Context, ids []string) ([]domain.QuestionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.QuestionItem, 0, len(ids))
	for _, id := range ids {
		ref, ok := s.items[id]
		if !ok {
			return nil, domain.ErrItemNotFound
		}
		out = append(out, cloneItem(s.pools[ref.poolID].Items[ref.index]))
	}
	return out, nil
}

func (s *PoolStore) InvalidateItem(_ context.Context, poolID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.items[itemID]
	if !ok || ref.poolID != poolID {
		return domain.ErrItemNotFound
	}
	s.pools[poolID].Items[ref.index].Invalidated = true
	return nil
}

func clonePool(p domain.Pool) domain.Pool {
	items := make([]domain.QuestionItem, len(p.Items))
	for i, item := range p.Items {
		items[i] = cloneItem(item)
	}
	p.Items = items
	return p
}

func cloneItem(item domain.QuestionItem) domain.QuestionItem {
	if item.Options != nil {
		item.Options = append([]string(nil), item.Options...)
	}
	return item
}
