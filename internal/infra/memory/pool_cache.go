package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"qmaster-service/internal/app"
	"qmaster-service/internal/domain"
)

// PoolCache caches pools in front of another app.PoolRepository. Pools only change through
// InvalidateItem and DeletePool, which evict the cached copy and bump the pool's generation; a
// fill that began under an older generation is not cached.
type PoolCache struct {
	next  app.PoolRepository
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedPool
	gens  map[string]uint64
}

type cachedPool struct {
	pool      domain.Pool
	expiresAt time.Time
}

func NewPoolCache(next app.PoolRepository, ttl time.Duration) *PoolCache {
	return &PoolCache{
		next:  next,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedPool),
		gens:  make(map[string]uint64),
	}
}

func (c *PoolCache) CreatePool(ctx context.Context, pool domain.Pool) error {
	return c.next.CreatePool(ctx, pool)
}

func (c *PoolCache) DeletePool(ctx context.Context, poolID string) error {
	c.evict(poolID)
	return c.next.DeletePool(ctx, poolID)
}

func (c *PoolCache) GetPool(ctx context.Context, poolID string) (domain.Pool, error) {
	if pool, ok := c.lookup(poolID); ok {
		return pool, nil
	}

	result, err, _ := c.sf.Do(poolID, func() (interface{}, error) {
		if pool, ok := c.lookup(poolID); ok {
			return pool, nil
		}
		c.mu.RLock()
		gen := c.gens[poolID]
		c.mu.RUnlock()

		pool, err := c.next.GetPool(ctx, poolID)
		if err != nil {
			return domain.Pool{}, err
		}
		expiresAt := c.clock().Add(c.ttlWithJitter())
		c.mu.Lock()
		if c.gens[poolID] == gen {
			c.cache[poolID] = cachedPool{pool: clonePool(pool), expiresAt: expiresAt}
		}
		c.mu.Unlock()
		return pool, nil
	})
	if err != nil {
		return domain.Pool{}, err
	}
	return clonePool(result.(domain.Pool)), nil
}

// ItemsByID is served from the backing repository; items are looked up across pools.
func (c *PoolCache) ItemsByID(ctx context.Context, ids []string) ([]domain.QuestionItem, error) {
	return c.next.ItemsByID(ctx, ids)
}

func (c *PoolCache) InvalidateItem(ctx context.Context, poolID, itemID string) error {
	err := c.next.InvalidateItem(ctx, poolID, itemID)
	c.evict(poolID)
	return err
}

func (c *PoolCache) lookup(poolID string) (domain.Pool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[poolID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Pool{}, false
	}
	return clonePool(entry.pool), true
}

func (c *PoolCache) evict(poolID string) {
	c.mu.Lock()
	delete(c.cache, poolID)
	c.gens[poolID]++
	c.mu.Unlock()
	// Later readers must not join a fill that may have read the old pool.
	c.sf.Forget(poolID)
}

func (c *PoolCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
