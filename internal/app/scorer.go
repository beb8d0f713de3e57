package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"qmaster-service/internal/domain"
	"qmaster-service/internal/similarity"
)

type itemGrader func(ctx context.Context, item domain.QuestionItem, answer string) (domain.ItemResult, error)

// AnswerScorer grades a participant's single submission against their assignment.
type AnswerScorer struct {
	pool        *QuestionPool
	sessions    SessionRepository
	assignments AssignmentRepository
	submissions SubmissionRepository
	similarity  Similarity
	locks       *KeyedMutex
	graders     map[domain.QuestionKind]itemGrader
	logger      *zap.Logger
	now         func() time.Time
}

func NewAnswerScorer(pool *QuestionPool, store Store, sim Similarity, locks *KeyedMutex, logger *zap.Logger) *AnswerScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AnswerScorer{
		pool:        pool,
		sessions:    store.Sessions,
		assignments: store.Assignments,
		submissions: store.Submissions,
		similarity:  sim,
		locks:       locks,
		logger:      logger,
		now:         time.Now,
	}
	s.graders = map[domain.QuestionKind]itemGrader{
		domain.KindMCQ:         s.gradeMCQ,
		domain.KindDescriptive: s.gradeDescriptive,
	}
	return s
}

// NewAnswerScorerWithClock is test-only for deterministic submission times.
func NewAnswerScorerWithClock(pool *QuestionPool, store Store, sim Similarity, locks *KeyedMutex, now func() time.Time) *AnswerScorer {
	s := NewAnswerScorer(pool, store, sim, locks, nil)
	s.now = now
	return s
}

// Grade scores answers against the participant's assignment and records the submission.
// Only the first accepted submission per participant counts; later ones are conflicts.
func (s *AnswerScorer) Grade(ctx context.Context, token, participantID string, answers domain.Answers) (domain.GradeResult, error) {
	unlock := s.locks.Lock(pairKey(token, participantID))
	defer unlock()

	if _, err := s.sessions.Get(ctx, token); err != nil {
		return domain.GradeResult{}, err
	}
	assignment, err := s.assignments.Get(ctx, token, participantID)
	if err != nil {
		return domain.GradeResult{}, err
	}
	submitted, err := s.submissions.Exists(ctx, token, participantID)
	if err != nil {
		return domain.GradeResult{}, fmt.Errorf("check submission: %w", err)
	}
	if submitted {
		submissions.WithLabelValues("conflict").Inc()
		return domain.GradeResult{}, domain.ErrAlreadySubmitted
	}

	items, err := s.pool.Fetch(ctx, assignment.ItemIDs())
	if err != nil {
		return domain.GradeResult{}, err
	}
	results, score, total, err := s.score(ctx, items, answers)
	if err != nil {
		return domain.GradeResult{}, err
	}

	sub := domain.Submission{
		SessionToken:  token,
		ParticipantID: participantID,
		Assignment:    assignment,
		Answers:       answers,
		Results:       results,
		Score:         score,
		TotalMarks:    total,
		SubmittedAt:   s.now(),
	}
	if err := s.submissions.CreateIfAbsent(ctx, sub); err != nil {
		if errors.Is(err, domain.ErrAlreadySubmitted) {
			submissions.WithLabelValues("conflict").Inc()
			return domain.GradeResult{}, err
		}
		return domain.GradeResult{}, fmt.Errorf("store submission: %w", err)
	}
	submissions.WithLabelValues("accepted").Inc()
	if total > 0 {
		scoreRatio.Observe(score / total)
	}
	s.logger.Info("submission graded",
		zap.String("token", token),
		zap.String("participant_id", participantID),
		zap.Float64("score", score),
		zap.Float64("total_marks", total),
	)
	return domain.GradeResult{Score: score, TotalMarks: total}, nil
}

// score grades items in assignment order. Answers for ids outside the assignment are ignored
// and assigned items without an answer earn nothing.
func (s *AnswerScorer) score(ctx context.Context, items []domain.QuestionItem, answers domain.Answers) ([]domain.ItemResult, float64, float64, error) {
	byKind := map[domain.QuestionKind]map[string]string{
		domain.KindMCQ:         indexAnswers(answers.MCQ),
		domain.KindDescriptive: indexAnswers(answers.Descriptive),
	}
	results := make([]domain.ItemResult, 0, len(items))
	var score, total float64
	for _, item := range items {
		grade, ok := s.graders[item.Kind]
		if !ok {
			return nil, 0, 0, fmt.Errorf("%w: no grader for question kind %q", domain.ErrInternal, item.Kind)
		}
		res, err := grade(ctx, item, byKind[item.Kind][item.ID])
		if err != nil {
			return nil, 0, 0, err
		}
		score += res.Awarded
		total += item.Marks
		res.Awarded = round2(res.Awarded)
		results = append(results, res)
	}
	return results, round2(score), round2(total), nil
}

func indexAnswers(entries []domain.AnswerEntry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if _, seen := out[e.ID]; !seen {
			out[e.ID] = e.Answer
		}
	}
	return out
}

func (s *AnswerScorer) gradeMCQ(_ context.Context, item domain.QuestionItem, answer string) (domain.ItemResult, error) {
	res := domain.ItemResult{ItemID: item.ID, Kind: item.Kind, Answer: answer, Marks: item.Marks}
	if answer != "" && similarity.Normalize(answer) == similarity.Normalize(item.CorrectAnswer) {
		res.Awarded = item.Marks
	}
	return res, nil
}

func (s *AnswerScorer) gradeDescriptive(ctx context.Context, item domain.QuestionItem, answer string) (domain.ItemResult, error) {
	res := domain.ItemResult{ItemID: item.ID, Kind: item.Kind, Answer: answer, Marks: item.Marks}
	sim := 0.0
	if similarity.Normalize(answer) != "" {
		var err error
		sim, err = s.similarity.Similarity(ctx, answer, item.CorrectAnswer)
		if err != nil {
			return domain.ItemResult{}, fmt.Errorf("%w: similarity for item %s: %v", domain.ErrInternal, item.ID, err)
		}
	}
	sim = clamp01(sim)
	rounded := round4(sim)
	res.Similarity = &rounded
	res.Awarded = math.Min(sim*item.Marks, item.Marks)
	return res, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
