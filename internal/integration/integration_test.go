package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"qmaster-service/internal/app"
	"qmaster-service/internal/domain"
	pgstore "qmaster-service/internal/infra/postgres"
	pgmigrations "qmaster-service/internal/infra/postgres/migrations"
	infraredis "qmaster-service/internal/infra/redis"
	"qmaster-service/internal/similarity"
)

func TestGradeEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	store, cleanup := newStore(t, ctx)
	defer cleanup()

	pool := samplePool("pool-e2e", "owner-1")
	if err := store.Pools.CreatePool(ctx, pool); err != nil {
		t.Fatalf("create pool: %v", err)
	}

	questions := app.NewQuestionPool(store.Pools, nil)
	locks := app.NewKeyedMutex()
	sessions := app.NewTestSessionManager(questions, store, locks, nil)
	scorer := app.NewAnswerScorer(questions, store, similarity.Lexical{}, locks, nil)
	board := app.NewLeaderboardAggregator(store, nil)

	token, err := sessions.CreateTest(ctx, app.CreateTestRequest{
		PoolID:             pool.ID,
		CreatedBy:          "owner-1",
		DesiredMCQ:         2,
		DesiredDescriptive: 1,
	})
	if err != nil {
		t.Fatalf("create test: %v", err)
	}
	if _, err := sessions.CreateTest(ctx, app.CreateTestRequest{
		PoolID: pool.ID, CreatedBy: "owner-1", DesiredMCQ: 4,
	}); !errors.Is(err, domain.ErrInsufficientResource) {
		t.Fatalf("expected shortfall, got %v", err)
	}

	for _, participant := range []string{"alice", "bob"} {
		joined, err := sessions.Join(ctx, token, participant)
		if err != nil {
			t.Fatalf("join %s: %v", participant, err)
		}
		if len(joined.MCQ) != 2 || len(joined.Descriptive) != 1 {
			t.Fatalf("unexpected assignment for %s: %+v", participant, joined)
		}
	}

	aliceAnswers := domain.Answers{
		MCQ:         []domain.AnswerEntry{{ID: "m0", Answer: "right"}, {ID: "m1", Answer: "right"}, {ID: "m2", Answer: "right"}},
		Descriptive: []domain.AnswerEntry{{ID: "d0", Answer: "reference answer"}},
	}

	// Concurrent submissions for one participant: exactly one is graded.
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  int
		conflicts int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := scorer.Grade(ctx, token, "alice", aliceAnswers)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrAlreadySubmitted):
				conflicts++
			default:
				t.Errorf("grade: %v", err)
			}
		}()
	}
	wg.Wait()
	if accepted != 1 || conflicts != 4 {
		t.Fatalf("expected 1 accepted and 4 conflicts, got %d and %d", accepted, conflicts)
	}

	if _, err := scorer.Grade(ctx, token, "bob", domain.Answers{}); err != nil {
		t.Fatalf("grade bob: %v", err)
	}

	lb, err := board.Rank(ctx, token)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(lb.Entries) != 2 || lb.Entries[0].ParticipantID != "alice" {
		t.Fatalf("expected alice leading, got %+v", lb.Entries)
	}
	if lb.Entries[0].Score != 14 || lb.Entries[0].TotalMarks != 14 {
		t.Fatalf("unexpected alice score %+v", lb.Entries[0])
	}
	if lb.Entries[1].Score != 0 || lb.ClassAverage != 7 {
		t.Fatalf("unexpected board %+v", lb)
	}

	// Invalidation reaches both postgres and the cache.
	if err := questions.Invalidate(ctx, pool.ID, "m0", "owner-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	counts, err := questions.ValidCounts(ctx, pool.ID)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.MCQ != 2 || counts.Descriptive != 1 {
		t.Fatalf("unexpected counts after invalidation %+v", counts)
	}
}

func TestJobTransitionIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	store, cleanup := newStore(t, ctx)
	defer cleanup()

	job := domain.UploadJob{
		ID:         "job-cas",
		OwnerID:    "owner-1",
		Subject:    "Physics",
		SourceKind: domain.SourceText,
		State:      domain.JobPending,
		Params:     domain.DefaultGenerationParams(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.Jobs.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		won       int
		conflicts int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Jobs.Transition(ctx, job.ID, domain.JobTransition{
				From: domain.JobPending, To: domain.JobProcessing, At: time.Now().UTC(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, domain.ErrJobStateConflict):
				conflicts++
			default:
				t.Errorf("transition: %v", err)
			}
		}()
	}
	wg.Wait()
	if won != 1 || conflicts != 3 {
		t.Fatalf("expected a single winner, got %d winners and %d conflicts", won, conflicts)
	}

	done, err := store.Jobs.Transition(ctx, job.ID, domain.JobTransition{
		From: domain.JobProcessing, To: domain.JobCompleted, ResultPoolID: "pool-x", At: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.State != domain.JobCompleted || done.ResultPoolID != "pool-x" || done.FinishedAt == nil {
		t.Fatalf("unexpected completed job %+v", done)
	}
	if _, err := store.Jobs.Transition(ctx, job.ID, domain.JobTransition{
		From: domain.JobCompleted, To: domain.JobFailed, ErrorMessage: "late", At: time.Now().UTC(),
	}); !errors.Is(err, domain.ErrJobStateConflict) {
		t.Fatalf("expected terminal jobs to stay put, got %v", err)
	}
}

// newStore starts postgres and redis, migrates, and returns the postgres store with the
// redis pool cache in front.
func newStore(t *testing.T, ctx context.Context) (app.Store, func()) {
	t.Helper()
	pgURL, pgCleanup := startPostgres(t, ctx)
	redisURL, redisCleanup := startRedis(t, ctx)
	runMigrations(t, ctx, pgURL)

	pg, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	store := pgstore.NewStore(pg)
	store.Pools = infraredis.NewPoolCache(redisClient, store.Pools, 5*time.Minute, nil)
	return store, func() {
		_ = redisClient.Close()
		pg.Close()
		redisCleanup()
		pgCleanup()
	}
}

func samplePool(id, owner string) domain.Pool {
	pool := domain.Pool{ID: id, JobID: "job-" + id, OwnerID: owner, Subject: "Biology", CreatedAt: time.Now().UTC()}
	for i := 0; i < 3; i++ {
		pool.Items = append(pool.Items, domain.QuestionItem{
			ID:            fmt.Sprintf("m%d", i),
			PoolID:        id,
			Kind:          domain.KindMCQ,
			Text:          fmt.Sprintf("Question %d?", i),
			Options:       []string{"right", "wrong", "other"},
			CorrectAnswer: "right",
			Marks:         2,
		})
	}
	pool.Items = append(pool.Items, domain.QuestionItem{
		ID:            "d0",
		PoolID:        id,
		Kind:          domain.KindDescriptive,
		Text:          "Explain osmosis.",
		CorrectAnswer: "reference answer",
		Marks:         10,
	})
	return pool
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "qmaster", "POSTGRES_PASSWORD": "qmasterpass", "POSTGRES_DB": "qmaster"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://qmaster:qmasterpass@%s:%s/qmaster?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func runMigrations(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
