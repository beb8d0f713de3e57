package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"qmaster-service/internal/app"
	"qmaster-service/internal/domain"
	"qmaster-service/internal/infra/memory"
)

const (
	testPoolID = "pool-1"
	testOwner  = "owner-1"
)

// seedPool stores a pool with mcqs (2 marks each), descriptive items (10 marks each) and one
// malformed mcq that must never be drawn.
func seedPool(t *testing.T, store app.Store, mcqs, descriptive int) domain.Pool {
	t.Helper()
	pool := domain.Pool{ID: testPoolID, JobID: "job-1", OwnerID: testOwner, Subject: "Biology", CreatedAt: time.Now()}
	for i := 0; i < mcqs; i++ {
		pool.Items = append(pool.Items, domain.QuestionItem{
			ID:            fmt.Sprintf("m%d", i),
			PoolID:        testPoolID,
			Kind:          domain.KindMCQ,
			Text:          fmt.Sprintf("Question %d?", i),
			Options:       []string{"right", "wrong", "other"},
			CorrectAnswer: "right",
			Marks:         2,
		})
	}
	for i := 0; i < descriptive; i++ {
		pool.Items = append(pool.Items, domain.QuestionItem{
			ID:            fmt.Sprintf("d%d", i),
			PoolID:        testPoolID,
			Kind:          domain.KindDescriptive,
			Text:          fmt.Sprintf("Explain topic %d.", i),
			CorrectAnswer: "reference answer",
			Marks:         10,
		})
	}
	pool.Items = append(pool.Items, domain.QuestionItem{
		ID:            "broken",
		PoolID:        testPoolID,
		Kind:          domain.KindMCQ,
		Text:          "Broken?",
		Options:       []string{"only"},
		CorrectAnswer: "missing",
		Marks:         2,
	})
	if err := store.Pools.CreatePool(context.Background(), pool); err != nil {
		t.Fatalf("seed pool: %v", err)
	}
	return pool
}

type testEngine struct {
	store    app.Store
	pool     *app.QuestionPool
	sessions *app.TestSessionManager
	scorer   *app.AnswerScorer
	board    *app.LeaderboardAggregator
	clock    *fakeClock
}

func newTestEngine(t *testing.T, sim app.Similarity) *testEngine {
	t.Helper()
	store := memory.NewStore()
	seedPool(t, store, 5, 3)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	pool := app.NewQuestionPoolWithSeed(store.Pools, nil, 42)
	locks := app.NewKeyedMutex()
	var n int
	tokens := func() string {
		n++
		return fmt.Sprintf("token-%d", n)
	}
	return &testEngine{
		store:    store,
		pool:     pool,
		sessions: app.NewTestSessionManagerWithClock(pool, store, locks, clock.Now, tokens),
		scorer:   app.NewAnswerScorerWithClock(pool, store, sim, locks, clock.Now),
		board:    app.NewLeaderboardAggregator(store, nil),
		clock:    clock,
	}
}

func (e *testEngine) createTest(t *testing.T, mcq, descriptive int) string {
	t.Helper()
	token, err := e.sessions.CreateTest(context.Background(), app.CreateTestRequest{
		PoolID:             testPoolID,
		CreatedBy:          testOwner,
		DesiredMCQ:         mcq,
		DesiredDescriptive: descriptive,
	})
	if err != nil {
		t.Fatalf("create test: %v", err)
	}
	return token
}

// answerAll answers every mcq correctly and every descriptive item with the same text.
func answerAll(joined domain.JoinResult, descriptive string) domain.Answers {
	var answers domain.Answers
	for _, q := range joined.MCQ {
		answers.MCQ = append(answers.MCQ, domain.AnswerEntry{ID: q.ID, Answer: "right"})
	}
	for _, q := range joined.Descriptive {
		answers.Descriptive = append(answers.Descriptive, domain.AnswerEntry{ID: q.ID, Answer: descriptive})
	}
	return answers
}

func constSimilarity(v float64) app.SimilarityFunc {
	return func(string, string) float64 { return v }
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}
