package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qmaster-service/internal/domain"
)

func TestPoolCacheCaches(t *testing.T) {
	backing := &countingPools{PoolStore: NewPoolStore()}
	if err := backing.CreatePool(context.Background(), samplePool()); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	cache := NewPoolCache(backing, time.Minute)

	if _, err := cache.GetPool(context.Background(), "pool-1"); err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if _, err := cache.GetPool(context.Background(), "pool-1"); err != nil {
		t.Fatalf("get pool 2: %v", err)
	}
	if got := backing.gets.Load(); got != 1 {
		t.Fatalf("expected one backing read, got %d", got)
	}
}

func TestPoolCacheEvictsOnInvalidate(t *testing.T) {
	backing := &countingPools{PoolStore: NewPoolStore()}
	_ = backing.CreatePool(context.Background(), samplePool())
	cache := NewPoolCache(backing, time.Minute)

	if _, err := cache.GetPool(context.Background(), "pool-1"); err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if err := cache.InvalidateItem(context.Background(), "pool-1", "m1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	pool, err := cache.GetPool(context.Background(), "pool-1")
	if err != nil {
		t.Fatalf("get pool after invalidate: %v", err)
	}
	if !pool.Items[0].Invalidated {
		t.Fatalf("expected invalidated item after eviction")
	}
}

func TestPoolCacheExpires(t *testing.T) {
	backing := &countingPools{PoolStore: NewPoolStore()}
	_ = backing.CreatePool(context.Background(), samplePool())
	cache := NewPoolCache(backing, time.Second)
	now := time.Now()
	cache.clock = func() time.Time { return now }

	_, _ = cache.GetPool(context.Background(), "pool-1")
	now = now.Add(2 * time.Second)
	_, _ = cache.GetPool(context.Background(), "pool-1")
	if got := backing.gets.Load(); got != 2 {
		t.Fatalf("expected reload after expiry, got %d reads", got)
	}
}

func TestPoolCacheDropsFillThatRacedInvalidate(t *testing.T) {
	backing := newGatedPools()
	ctx := context.Background()
	_ = backing.CreatePool(ctx, samplePool())
	cache := NewPoolCache(backing, time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cache.GetPool(ctx, "pool-1")
	}()
	<-backing.read
	if err := cache.InvalidateItem(ctx, "pool-1", "m1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	close(backing.release)
	<-done

	pool, err := cache.GetPool(ctx, "pool-1")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if !pool.Items[0].Invalidated {
		t.Fatalf("stale fill was cached after invalidation")
	}
}

func TestPoolStoreReturnsCopies(t *testing.T) {
	store := NewPoolStore()
	_ = store.CreatePool(context.Background(), samplePool())

	pool, _ := store.GetPool(context.Background(), "pool-1")
	pool.Items[0].Options[0] = "mutated"

	items, err := store.ItemsByID(context.Background(), []string{"d1", "m1"})
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if items[0].ID != "d1" || items[1].ID != "m1" {
		t.Fatalf("expected input order, got %s %s", items[0].ID, items[1].ID)
	}
	if items[1].Options[0] != "4" {
		t.Fatalf("store shares option storage with callers")
	}
	if _, err := store.ItemsByID(context.Background(), []string{"missing"}); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected item not found, got %v", err)
	}
}

func TestJobStoreTransitionIsCompareAndSet(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	_ = store.Create(ctx, domain.UploadJob{ID: "job-1", State: domain.JobPending, CreatedAt: time.Now()})

	if _, err := store.Transition(ctx, "job-1", domain.JobTransition{From: domain.JobPending, To: domain.JobProcessing, At: time.Now()}); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, to := range []domain.JobState{domain.JobCompleted, domain.JobFailed, domain.JobCompleted, domain.JobFailed} {
		wg.Add(1)
		go func(to domain.JobState) {
			defer wg.Done()
			_, err := store.Transition(ctx, "job-1", domain.JobTransition{From: domain.JobProcessing, To: to, ResultPoolID: "p", At: time.Now()})
			if err == nil {
				wins.Add(1)
			} else if !errors.Is(err, domain.ErrJobStateConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(to)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one terminal transition, got %d", wins.Load())
	}
	job, _ := store.Get(ctx, "job-1")
	if !job.State.Terminal() || job.FinishedAt == nil {
		t.Fatalf("expected terminal job with finish time, got %+v", job)
	}
}

func TestJobStoreListStale(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	_ = store.Create(ctx, domain.UploadJob{ID: "old", State: domain.JobPending, CreatedAt: old})
	_ = store.Create(ctx, domain.UploadJob{ID: "new", State: domain.JobPending, CreatedAt: time.Now()})

	stale, err := store.ListStale(ctx, domain.JobPending, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "old" {
		t.Fatalf("expected only the old job, got %+v", stale)
	}
}

func TestSubmissionStoreCreateIfAbsent(t *testing.T) {
	store := NewSubmissionStore()
	ctx := context.Background()
	sub := domain.Submission{SessionToken: "tok", ParticipantID: "alice", Score: 5}

	if err := store.CreateIfAbsent(ctx, sub); err != nil {
		t.Fatalf("first create: %v", err)
	}
	sub.Score = 9
	if err := store.CreateIfAbsent(ctx, sub); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected already submitted, got %v", err)
	}
	got, _ := store.Get(ctx, "tok", "alice")
	if got.Score != 5 {
		t.Fatalf("stored score changed to %v", got.Score)
	}
}

type countingPools struct {
	*PoolStore
	gets atomic.Int32
}

func (c *countingPools) GetPool(ctx context.Context, poolID string) (domain.Pool, error) {
	c.gets.Add(1)
	return c.PoolStore.GetPool(ctx, poolID)
}

// gatedPools parks its first GetPool after the read until release is closed.
type gatedPools struct {
	*PoolStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newGatedPools() *gatedPools {
	return &gatedPools{PoolStore: NewPoolStore(), read: make(chan struct{}), release: make(chan struct{})}
}

func (p *gatedPools) GetPool(ctx context.Context, poolID string) (domain.Pool, error) {
	pool, err := p.PoolStore.GetPool(ctx, poolID)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return pool, err
}

func samplePool() domain.Pool {
	return domain.Pool{
		ID:      "pool-1",
		OwnerID: "owner-1",
		Subject: "Maths",
		Items: []domain.QuestionItem{
			{ID: "m1", PoolID: "pool-1", Kind: domain.KindMCQ, Text: "2 + 2?", Options: []string{"4", "5"}, CorrectAnswer: "4", Marks: 2},
			{ID: "d1", PoolID: "pool-1", Kind: domain.KindDescriptive, Text: "Explain addition.", CorrectAnswer: "Combining quantities", Marks: 10},
		},
	}
}
