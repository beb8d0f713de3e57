package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"qmaster-service/internal/app"
	"qmaster-service/internal/domain"
)

func TestCreateTestChecksValidCounts(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1))
	ctx := context.Background()

	cases := []struct {
		name     string
		mcq      int
		desc     int
		wantKind domain.QuestionKind
	}{
		{name: "exactly available", mcq: 5, desc: 3},
		{name: "one mcq too many", mcq: 6, desc: 2, wantKind: domain.KindMCQ},
		{name: "one descriptive too many", mcq: 3, desc: 4, wantKind: domain.KindDescriptive},
		{name: "zero mcq", mcq: 0, desc: 2, wantKind: domain.KindMCQ},
		{name: "negative descriptive", mcq: 1, desc: -1, wantKind: domain.KindDescriptive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, err := e.sessions.CreateTest(ctx, app.CreateTestRequest{
				PoolID: testPoolID, CreatedBy: testOwner, DesiredMCQ: tc.mcq, DesiredDescriptive: tc.desc,
			})
			if tc.wantKind == "" {
				if err != nil || token == "" {
					t.Fatalf("expected success, got %q, %v", token, err)
				}
				return
			}
			var shortfall *domain.ShortfallError
			if !errors.As(err, &shortfall) || !errors.Is(err, domain.ErrInsufficientResource) {
				t.Fatalf("expected shortfall, got %v", err)
			}
			if shortfall.Kind != tc.wantKind {
				t.Fatalf("expected shortfall on %s, got %s", tc.wantKind, shortfall.Kind)
			}
		})
	}
}

func TestCreateTestUnknownPool(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1))
	_, err := e.sessions.CreateTest(context.Background(), app.CreateTestRequest{
		PoolID: "nope", CreatedBy: testOwner, DesiredMCQ: 1, DesiredDescriptive: 1,
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateTestCopiesSubjectFromPool(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1))
	token := e.createTest(t, 2, 1)
	session, err := e.sessions.Get(context.Background(), token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.Subject != "Biology" || session.TotalQuestions() != 3 {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestJoinDrawsRequestedCounts(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1))
	token := e.createTest(t, 3, 2)

	for _, participant := range []string{"alice", "bob"} {
		joined, err := e.sessions.Join(context.Background(), token, participant)
		if err != nil {
			t.Fatalf("join %s: %v", participant, err)
		}
		if len(joined.MCQ) != 3 || len(joined.Descriptive) != 2 {
			t.Fatalf("%s got %d mcq and %d descriptive", participant, len(joined.MCQ), len(joined.Descriptive))
		}
		seen := map[string]bool{}
		for _, q := range append(joined.MCQ, joined.Descriptive...) {
			if seen[q.ID] {
				t.Fatalf("duplicate item %s", q.ID)
			}
			seen[q.ID] = true
			if q.ID == "broken" {
				t.Fatalf("malformed item was drawn")
			}
		}
	}
}

func TestJoinUnknownSession(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1))
	if _, err := e.sessions.Join(context.Background(), "missing", "alice"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestRejoinReplacesAssignment(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1))
	ctx := context.Background()
	token := e.createTest(t, 2, 1)

	if _, err := e.sessions.Join(ctx, token, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	second, err := e.sessions.Join(ctx, token, "alice")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	assignment, err := e.store.Assignments.Get(ctx, token, "alice")
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if assignment.Draws != 2 {
		t.Fatalf("expected 2 draws, got %d", assignment.Draws)
	}
	for i, q := range second.MCQ {
		if assignment.MCQIDs[i] != q.ID {
			t.Fatalf("stored assignment does not match the latest join")
		}
	}
}

func TestGradeScoresAssignment(t *testing.T) {
	e := newTestEngine(t, constSimilarity(0.8))
	ctx := context.Background()
	token := e.createTest(t, 3, 2)

	joined, err := e.sessions.Join(ctx, token, "alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	res, err := e.scorer.Grade(ctx, token, "alice", answerAll(joined, "an answer"))
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if res.Score != 22 || res.TotalMarks != 26 {
		t.Fatalf("expected 22/26, got %v/%v", res.Score, res.TotalMarks)
	}

	sub, err := e.board.Submission(ctx, token, "alice")
	if err != nil {
		t.Fatalf("submission: %v", err)
	}
	if len(sub.Results) != 5 {
		t.Fatalf("expected 5 item results, got %d", len(sub.Results))
	}
	for _, r := range sub.Results {
		if r.Kind == domain.KindDescriptive && (r.Similarity == nil || *r.Similarity != 0.8 || r.Awarded != 8) {
			t.Fatalf("unexpected descriptive result %+v", r)
		}
	}
}

func TestGradeIgnoresUnassignedAndMissingAnswers(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1))
	ctx := context.Background()
	token := e.createTest(t, 2, 1)

	joined, err := e.sessions.Join(ctx, token, "alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	answers := domain.Answers{
		MCQ: []domain.AnswerEntry{
			{ID: joined.MCQ[0].ID, Answer: "  RIGHT "},
			{ID: "not-assigned", Answer: "right"},
		},
	}
	res, err := e.scorer.Grade(ctx, token, "alice", answers)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if res.Score != 2 || res.TotalMarks != 14 {
		t.Fatalf("expected 2/14, got %v/%v", res.Score, res.TotalMarks)
	}
}

func TestGradeClampsSimilarity(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1.7))
	ctx := context.Background()
	token := e.createTest(t, 1, 1)
	joined, _ := e.sessions.Join(ctx, token, "alice")

	res, err := e.scorer.Grade(ctx, token, "alice", answerAll(joined, "text"))
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if res.Score != res.TotalMarks {
		t.Fatalf("expected full marks capped at %v, got %v", res.TotalMarks, res.Score)
	}
}

func TestGradeRequiresJoin(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1))
	token := e.createTest(t, 1, 1)
	_, err := e.scorer.Grade(context.Background(), token, "ghost", domain.Answers{})
	if !errors.Is(err, domain.ErrAssignmentNotFound) {
		t.Fatalf("expected assignment not found, got %v", err)
	}
}

func TestDoubleSubmitIsConflict(t *testing.T) {
	e := newTestEngine(t, constSimilarity(0.5))
	ctx := context.Background()
	token := e.createTest(t, 2, 1)
	joined, _ := e.sessions.Join(ctx, token, "alice")

	first, err := e.scorer.Grade(ctx, token, "alice", answerAll(joined, "x"))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := e.scorer.Grade(ctx, token, "alice", domain.Answers{}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := e.sessions.Join(ctx, token, "alice"); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected join after submit to conflict, got %v", err)
	}
	sub, _ := e.board.Submission(ctx, token, "alice")
	if sub.Score != first.Score {
		t.Fatalf("stored score changed from %v to %v", first.Score, sub.Score)
	}
}

func TestConcurrentSubmitsAcceptExactlyOne(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1))
	ctx := context.Background()
	token := e.createTest(t, 2, 1)
	joined, _ := e.sessions.Join(ctx, token, "alice")
	answers := answerAll(joined, "x")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  int
		conflicts int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.scorer.Grade(ctx, token, "alice", answers)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if accepted != 1 || conflicts != 15 {
		t.Fatalf("expected 1 accepted and 15 conflicts, got %d and %d", accepted, conflicts)
	}
}

func TestGradingIsDeterministic(t *testing.T) {
	var scores []float64
	for i := 0; i < 2; i++ {
		e := newTestEngine(t, constSimilarity(0.37))
		ctx := context.Background()
		token := e.createTest(t, 3, 2)
		joined, _ := e.sessions.Join(ctx, token, "alice")
		res, err := e.scorer.Grade(ctx, token, "alice", answerAll(joined, "same"))
		if err != nil {
			t.Fatalf("grade: %v", err)
		}
		scores = append(scores, res.Score)
	}
	if scores[0] != scores[1] {
		t.Fatalf("expected identical scores, got %v", scores)
	}
}

func TestInvalidatedItemStaysGradedForExistingAssignment(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1))
	ctx := context.Background()
	token := e.createTest(t, 5, 1)
	joined, _ := e.sessions.Join(ctx, token, "alice")

	if err := e.pool.Invalidate(ctx, testPoolID, joined.MCQ[0].ID, testOwner); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	res, err := e.scorer.Grade(ctx, token, "alice", answerAll(joined, "x"))
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if res.TotalMarks != 20 {
		t.Fatalf("expected invalidated item to keep counting for alice, total %v", res.TotalMarks)
	}
	if _, err := e.sessions.Join(ctx, token, "bob"); !errors.Is(err, domain.ErrInsufficientResource) {
		t.Fatalf("expected the shrunken pool to be short for a new join, got %v", err)
	}
}

func TestListByCreator(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1))
	first := e.createTest(t, 1, 1)
	second := e.createTest(t, 2, 1)

	sessions, err := e.sessions.ListByCreator(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 || sessions[0].Token != second || sessions[1].Token != first {
		t.Fatalf("expected newest first, got %+v", sessions)
	}
}
