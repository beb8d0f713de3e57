package memory

import (
	"context"
	"sort"
	"sync"

	"qmaster-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.TestSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]domain.TestSession)}
}

func (s *SessionStore) Create(_ context.Context, session domain.TestSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.Token]; ok {
		return domain.ErrSessionExists
	}
	s.sessions[session.Token] = session
	return nil
}

func (s *SessionStore) Get(_ context.Context, token string) (domain.TestSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[token]
	if !ok {
		return domain.TestSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) ListByCreator(_ context.Context, createdBy string) ([]domain.TestSession, error) {
	return s.filter(func(ts domain.TestSession) bool { return ts.CreatedBy == createdBy }), nil
}

func (s *SessionStore) ListByPool(_ context.Context, poolID string) ([]domain.TestSession, error) {
	return s.filter(func(ts domain.TestSession) bool { return ts.PoolID == poolID }), nil
}

// filter returns matching sessions, newest first.
func (s *SessionStore) filter(keep func(domain.TestSession) bool) []domain.TestSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.TestSession{}
	for _, session := range s.sessions {
		if keep(session) {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Token < out[j].Token
	})
	return out
}
