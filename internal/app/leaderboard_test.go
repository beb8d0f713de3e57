package app_test

import (
	"context"
	"errors"
	"testing"

	"qmaster-service/internal/domain"
)

func TestRankAfterSubmissions(t *testing.T) {
	e := newTestEngine(t, constSimilarity(0.5))
	ctx := context.Background()
	token := e.createTest(t, 2, 1)

	// alice: all mcq right (4) + 5 = 9, bob: same = 9 but later, carol: no mcq = 5
	for _, p := range []string{"alice", "bob", "carol"} {
		joined, err := e.sessions.Join(ctx, token, p)
		if err != nil {
			t.Fatalf("join %s: %v", p, err)
		}
		answers := answerAll(joined, "text")
		if p == "carol" {
			answers.MCQ = nil
		}
		if _, err := e.scorer.Grade(ctx, token, p, answers); err != nil {
			t.Fatalf("grade %s: %v", p, err)
		}
	}

	lb, err := e.board.Rank(ctx, token)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if lb.TotalQuestions != 3 {
		t.Fatalf("expected 3 questions, got %d", lb.TotalQuestions)
	}
	if len(lb.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(lb.Entries))
	}
	if lb.Entries[0].ParticipantID != "alice" || lb.Entries[1].ParticipantID != "bob" || lb.Entries[2].ParticipantID != "carol" {
		t.Fatalf("unexpected order %+v", lb.Entries)
	}
	if lb.Entries[0].Rank != 1 || lb.Entries[1].Rank != 1 || lb.Entries[2].Rank != 2 {
		t.Fatalf("unexpected ranks %+v", lb.Entries)
	}
	if lb.ClassAverage != 7.67 {
		t.Fatalf("class average = %v, want 7.67", lb.ClassAverage)
	}
}

func TestRankEmptySession(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1))
	token := e.createTest(t, 1, 1)
	lb, err := e.board.Rank(context.Background(), token)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(lb.Entries) != 0 || lb.ClassAverage != 0 {
		t.Fatalf("expected empty leaderboard, got %+v", lb)
	}
	if _, err := e.board.Rank(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResultsAreOwnerOnly(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1))
	ctx := context.Background()
	token := e.createTest(t, 1, 1)
	joined, _ := e.sessions.Join(ctx, token, "alice")
	if _, err := e.scorer.Grade(ctx, token, "alice", answerAll(joined, "x")); err != nil {
		t.Fatalf("grade: %v", err)
	}

	if _, err := e.board.Results(ctx, token, "someone-else"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	results, err := e.board.Results(ctx, token, testOwner)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results.Submissions) != 1 || results.Submissions[0].ParticipantID != "alice" {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestHistoryAndQuestionHistory(t *testing.T) {
	e := newTestEngine(t, constSimilarity(1))
	ctx := context.Background()
	first := e.createTest(t, 1, 1)
	second := e.createTest(t, 1, 1)
	for _, token := range []string{first, second} {
		joined, _ := e.sessions.Join(ctx, token, "alice")
		if _, err := e.scorer.Grade(ctx, token, "alice", answerAll(joined, "x")); err != nil {
			t.Fatalf("grade: %v", err)
		}
	}

	history, err := e.board.History(ctx, "alice")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].SessionToken != second {
		t.Fatalf("expected newest submission first, got %+v", history)
	}

	if _, err := e.board.QuestionHistory(ctx, testPoolID, "intruder"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	perItem, err := e.board.QuestionHistory(ctx, testPoolID, testOwner)
	if err != nil {
		t.Fatalf("question history: %v", err)
	}
	answered := 0
	for _, qh := range perItem {
		for _, perf := range qh.Performance {
			answered++
			if qh.Item.Kind == domain.KindMCQ && (perf.Correct == nil || !*perf.Correct) {
				t.Fatalf("expected correct mcq performance, got %+v", perf)
			}
		}
	}
	if answered != 4 {
		t.Fatalf("expected 4 graded answers across items, got %d", answered)
	}
}
