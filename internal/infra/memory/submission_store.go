package memory

import (
	"context"
	"sync"

	"qmaster-service/internal/domain"
)

type pairKey struct {
	token       string
	participant string
}

// AssignmentStore keeps the latest assignment per participant and session.
type AssignmentStore struct {
	mu          sync.RWMutex
	assignments map[pairKey]domain.Assignment
}

func NewAssignmentStore() *AssignmentStore {
	return &AssignmentStore{assignments: make(map[pairKey]domain.Assignment)}
}

func (s *AssignmentStore) Put(_ context.Context, a domain.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[pairKey{a.SessionToken, a.ParticipantID}] = cloneAssignment(a)
	return nil
}

func (s *AssignmentStore) Get(_ context.Context, token, participantID string) (domain.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[pairKey{token, participantID}]
	if !ok {
		return domain.Assignment{}, domain.ErrAssignmentNotFound
	}
	return cloneAssignment(a), nil
}

// SubmissionStore is an in-memory implementation of app.SubmissionRepository.
type SubmissionStore struct {
	mu          sync.RWMutex
	submissions map[pairKey]domain.Submission
	bySession   map[string][]pairKey
}

func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{
		submissions: make(map[pairKey]domain.Submission),
		bySession:   make(map[string][]pairKey),
	}
}

// CreateIfAbsent stores sub unless the pair already submitted.
func (s *SubmissionStore) CreateIfAbsent(_ context.Context, sub domain.Submission) error {
	key := pairKey{sub.SessionToken, sub.ParticipantID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[key]; ok {
		return domain.ErrAlreadySubmitted
	}
	s.submissions[key] = cloneSubmission(sub)
	s.bySession[sub.SessionToken] = append(s.bySession[sub.SessionToken], key)
	return nil
}

func (s *SubmissionStore) Exists(_ context.Context, token, participantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.submissions[pairKey{token, participantID}]
	return ok, nil
}

func (s *SubmissionStore) Get(_ context.Context, token, participantID string) (domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[pairKey{token, participantID}]
	if !ok {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	return cloneSubmission(sub), nil
}

// ListBySession returns submissions in the order they were accepted.
func (s *SubmissionStore) ListBySession(_ context.Context, token string) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.bySession[token]
	out := make([]domain.Submission, 0, len(keys))
	for _, key := range keys {
		out = append(out, cloneSubmission(s.submissions[key]))
	}
	return out, nil
}

func (s *SubmissionStore) ListByParticipant(_ context.Context, participantID string) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Submission{}
	for key, sub := range s.submissions {
		if key.participant == participantID {
			out = append(out, cloneSubmission(sub))
		}
	}
	return out, nil
}

func cloneAssignment(a domain.Assignment) domain.Assignment {
	a.MCQIDs = append([]string(nil), a.MCQIDs...)
	a.DescriptiveIDs = append([]string(nil), a.DescriptiveIDs...)
	return a
}

func cloneSubmission(sub domain.Submission) domain.Submission {
	sub.Assignment = cloneAssignment(sub.Assignment)
	sub.Answers.MCQ = append([]domain.AnswerEntry(nil), sub.Answers.MCQ...)
	sub.Answers.Descriptive = append([]domain.AnswerEntry(nil), sub.Answers.Descriptive...)
	sub.Results = append([]domain.ItemResult(nil), sub.Results...)
	return sub
}
