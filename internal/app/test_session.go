package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"qmaster-service/internal/domain"
)

const tokenAttempts = 3

// CreateTestRequest asks for a session drawing the given counts from a pool.
type CreateTestRequest struct {
	PoolID             string `json:"poolId" validate:"required"`
	CreatedBy          string `json:"createdBy" validate:"required"`
	DesiredMCQ         int    `json:"desiredMCQs"`
	DesiredDescriptive int    `json:"desiredDescriptive"`
}

// TestSessionManager creates test sessions and hands participants their randomized items.
type TestSessionManager struct {
	pool        *QuestionPool
	sessions    SessionRepository
	assignments AssignmentRepository
	submissions SubmissionRepository
	locks       *KeyedMutex
	validate    *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
	newToken    func() string
}

// NewTestSessionManager shares locks with the AnswerScorer so join and submit for the same
// participant never interleave.
func NewTestSessionManager(pool *QuestionPool, store Store, locks *KeyedMutex, logger *zap.Logger) *TestSessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TestSessionManager{
		pool:        pool,
		sessions:    store.Sessions,
		assignments: store.Assignments,
		submissions: store.Submissions,
		locks:       locks,
		validate:    newValidator(),
		logger:      logger,
		now:         time.Now,
		newToken:    newSessionToken,
	}
}

// NewTestSessionManagerWithClock is test-only for deterministic timestamps and tokens.
func NewTestSessionManagerWithClock(pool *QuestionPool, store Store, locks *KeyedMutex, now func() time.Time, tokens func() string) *TestSessionManager {
	m := NewTestSessionManager(pool, store, locks, nil)
	m.now = now
	if tokens != nil {
		m.newToken = tokens
	}
	return m
}

// newSessionToken returns 32 hex characters carrying 122 random bits.
func newSessionToken() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// CreateTest stores a session once the pool is known to satisfy both desired counts.
func (m *TestSessionManager) CreateTest(ctx context.Context, req CreateTestRequest) (string, error) {
	req.PoolID = strings.TrimSpace(req.PoolID)
	if err := validateStruct(m.validate, req); err != nil {
		return "", err
	}
	pool, counts, err := m.pool.load(ctx, req.PoolID)
	if err != nil {
		return "", err
	}
	desired := []struct {
		kind domain.QuestionKind
		n    int
	}{
		{domain.KindMCQ, req.DesiredMCQ},
		{domain.KindDescriptive, req.DesiredDescriptive},
	}
	for _, d := range desired {
		if d.n < 1 || d.n > counts.Of(d.kind) {
			return "", &domain.ShortfallError{Kind: d.kind, Desired: d.n, Available: counts.Of(d.kind)}
		}
	}

	session := domain.TestSession{
		PoolID:             pool.ID,
		Subject:            pool.Subject,
		DesiredMCQ:         req.DesiredMCQ,
		DesiredDescriptive: req.DesiredDescriptive,
		CreatedBy:          req.CreatedBy,
		CreatedAt:          m.now(),
	}
	for attempt := 0; attempt < tokenAttempts; attempt++ {
		session.Token = m.newToken()
		err = m.sessions.Create(ctx, session)
		if errors.Is(err, domain.ErrSessionExists) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
		m.logger.Info("test session created",
			zap.String("token", session.Token),
			zap.String("pool_id", session.PoolID),
			zap.Int("mcq", session.DesiredMCQ),
			zap.Int("descriptive", session.DesiredDescriptive),
		)
		return session.Token, nil
	}
	return "", fmt.Errorf("%w: could not allocate a unique session token", domain.ErrInternal)
}

// Join draws a fresh assignment for the participant and returns the items without answers.
// Joining again before submitting replaces the previous assignment.
func (m *TestSessionManager) Join(ctx context.Context, token, participantID string) (domain.JoinResult, error) {
	if strings.TrimSpace(participantID) == "" {
		return domain.JoinResult{}, domain.NewValidationError("participantId", "is required")
	}
	unlock := m.locks.Lock(pairKey(token, participantID))
	defer unlock()

	session, err := m.sessions.Get(ctx, token)
	if err != nil {
		return domain.JoinResult{}, err
	}
	submitted, err := m.submissions.Exists(ctx, token, participantID)
	if err != nil {
		return domain.JoinResult{}, fmt.Errorf("check submission: %w", err)
	}
	if submitted {
		return domain.JoinResult{}, domain.ErrAlreadySubmitted
	}

	mcqIDs, err := m.pool.Sample(ctx, session.PoolID, domain.KindMCQ, session.DesiredMCQ, nil)
	if err != nil {
		return domain.JoinResult{}, err
	}
	descIDs, err := m.pool.Sample(ctx, session.PoolID, domain.KindDescriptive, session.DesiredDescriptive, nil)
	if err != nil {
		return domain.JoinResult{}, err
	}

	assignment := domain.Assignment{
		SessionToken:   token,
		ParticipantID:  participantID,
		MCQIDs:         mcqIDs,
		DescriptiveIDs: descIDs,
		AssignedAt:     m.now(),
		Draws:          1,
	}
	prev, err := m.assignments.Get(ctx, token, participantID)
	switch {
	case err == nil:
		assignment.Draws = prev.Draws + 1
		m.logger.Info("participant re-joined before submitting",
			zap.String("token", token),
			zap.String("participant_id", participantID),
			zap.Int("draws", assignment.Draws),
		)
	case !errors.Is(err, domain.ErrAssignmentNotFound):
		return domain.JoinResult{}, fmt.Errorf("load assignment: %w", err)
	}
	if err := m.assignments.Put(ctx, assignment); err != nil {
		return domain.JoinResult{}, fmt.Errorf("store assignment: %w", err)
	}
	joins.WithLabelValues(fmt.Sprint(assignment.Draws > 1)).Inc()

	items, err := m.pool.Fetch(ctx, assignment.ItemIDs())
	if err != nil {
		return domain.JoinResult{}, err
	}
	result := domain.JoinResult{
		Token:       token,
		Subject:     session.Subject,
		MCQ:         make([]domain.PublicQuestion, 0, len(mcqIDs)),
		Descriptive: make([]domain.PublicQuestion, 0, len(descIDs)),
	}
	for _, item := range items {
		if item.Kind == domain.KindMCQ {
			result.MCQ = append(result.MCQ, item.Public())
		} else {
			result.Descriptive = append(result.Descriptive, item.Public())
		}
	}
	return result, nil
}

// Get returns a session by token.
func (m *TestSessionManager) Get(ctx context.Context, token string) (domain.TestSession, error) {
	return m.sessions.Get(ctx, token)
}

// ListByCreator returns the sessions an owner has created, newest first.
func (m *TestSessionManager) ListByCreator(ctx context.Context, createdBy string) ([]domain.TestSession, error) {
	return m.sessions.ListByCreator(ctx, createdBy)
}
