package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"qmaster-service/internal/app"
	"qmaster-service/internal/domain"
)

// PoolCache caches whole pools in Redis as JSON and falls back to the authoritative repository on
// a miss. The cache is best effort: Redis errors are logged and the backing store answers.
// Keys: pool:{poolID} -> JSON-encoded domain.Pool
//
//	pool:{poolID}:version -> counter bumped on every eviction
//
// A fill only writes if the version it read before loading is still current, so a load that
// raced an invalidation on any instance never repopulates the cache with the old pool.
type PoolCache struct {
	client *redis.Client
	next   app.PoolRepository
	ttl    time.Duration
	logger *zap.Logger
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

// versionTTL keeps version counters well past the lifetime of any cached pool.
const versionTTL = 24 * time.Hour

var errStaleFill = errors.New("pool changed while loading")

func NewPoolCache(client *redis.Client, next app.PoolRepository, ttl time.Duration, logger *zap.Logger) *PoolCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolCache{
		client: client,
		next:   next,
		ttl:    ttl,
		logger: logger,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *PoolCache) CreatePool(ctx context.Context, pool domain.Pool) error {
	return c.next.CreatePool(ctx, pool)
}

func (c *PoolCache) DeletePool(ctx context.Context, poolID string) error {
	c.evict(ctx, poolID)
	return c.next.DeletePool(ctx, poolID)
}

func (c *PoolCache) GetPool(ctx context.Context, poolID string) (domain.Pool, error) {
	if pool, ok := c.lookup(ctx, poolID); ok {
		return pool, nil
	}

	result, err, _ := c.sf.Do(poolID, func() (interface{}, error) {
		// Re-check in case another caller filled it.
		if pool, ok := c.lookup(ctx, poolID); ok {
			return pool, nil
		}
		version, cacheable := c.version(ctx, poolID)
		pool, err := c.next.GetPool(ctx, poolID)
		if err != nil {
			return domain.Pool{}, err
		}
		if cacheable {
			c.store(ctx, pool, version)
		}
		return pool, nil
	})
	if err != nil {
		return domain.Pool{}, err
	}
	return result.(domain.Pool), nil
}

func (c *PoolCache) ItemsByID(ctx context.Context, ids []string) ([]domain.QuestionItem, error) {
	return c.next.ItemsByID(ctx, ids)
}

// InvalidateItem writes through and drops the cached pool so the next read sees the change.
func (c *PoolCache) InvalidateItem(ctx context.Context, poolID, itemID string) error {
	err := c.next.InvalidateItem(ctx, poolID, itemID)
	c.evict(ctx, poolID)
	return err
}

func (c *PoolCache) lookup(ctx context.Context, poolID string) (domain.Pool, bool) {
	raw, err := c.client.Get(ctx, poolKey(poolID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("pool cache read failed", zap.String("pool_id", poolID), zap.Error(err))
		}
		return domain.Pool{}, false
	}
	var pool domain.Pool
	if err := json.Unmarshal(raw, &pool); err != nil {
		c.logger.Warn("drop corrupt cached pool", zap.String("pool_id", poolID), zap.Error(err))
		c.evict(ctx, poolID)
		return domain.Pool{}, false
	}
	return pool, true
}

func (c *PoolCache) version(ctx context.Context, poolID string) (int64, bool) {
	v, err := c.client.Get(ctx, versionKey(poolID)).Int64()
	switch {
	case err == nil:
		return v, true
	case errors.Is(err, redis.Nil):
		return 0, true
	default:
		c.logger.Warn("pool cache version read failed", zap.String("pool_id", poolID), zap.Error(err))
		return 0, false
	}
}

// store writes pool unless its version moved past version since the load began.
func (c *PoolCache) store(ctx context.Context, pool domain.Pool, version int64) {
	raw, err := json.Marshal(pool)
	if err != nil {
		c.logger.Warn("encode pool for cache", zap.String("pool_id", pool.ID), zap.Error(err))
		return
	}
	ttl := c.ttlWithJitter()
	vkey := versionKey(pool.ID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, poolKey(pool.ID), raw, ttl)
			return nil
		})
		return err
	}, vkey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("skip caching stale pool", zap.String("pool_id", pool.ID))
	default:
		c.logger.Warn("pool cache write failed", zap.String("pool_id", pool.ID), zap.Error(err))
	}
}

func (c *PoolCache) evict(ctx context.Context, poolID string) {
	vkey := versionKey(poolID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, vkey)
		pipe.Expire(ctx, vkey, versionTTL)
		pipe.Del(ctx, poolKey(poolID))
		return nil
	})
	if err != nil {
		c.logger.Warn("pool cache evict failed", zap.String("pool_id", poolID), zap.Error(err))
	}
	c.sf.Forget(poolID)
}

func poolKey(poolID string) string {
	return "pool:" + poolID
}

func versionKey(poolID string) string {
	return "pool:" + poolID + ":version"
}

// ttlWithJitter adds up to 10% to the ttl so pools cached together do not expire together.
func (c *PoolCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

var _ app.PoolRepository = (*PoolCache)(nil)
