package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"qmaster-service/internal/domain"
)

// JobStore is an in-memory implementation of app.JobRepository.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.UploadJob
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]domain.UploadJob)}
}

func (s *JobStore) Create(_ context.Context, job domain.UploadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return domain.ErrJobStateConflict
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *JobStore) Get(_ context.Context, jobID string) (domain.UploadJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.UploadJob{}, domain.ErrJobNotFound
	}
	return job, nil
}

// Transition applies t only if the job is currently in t.From and the move is legal.
func (s *JobStore) Transition(_ context.Context, jobID string, t domain.JobTransition) (domain.UploadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.UploadJob{}, domain.ErrJobNotFound
	}
	if job.State != t.From || !t.From.CanTransition(t.To) {
		return domain.UploadJob{}, domain.ErrJobStateConflict
	}
	job = t.Apply(job)
	s.jobs[jobID] = job
	return job, nil
}

func (s *JobStore) ListStale(_ context.Context, state domain.JobState, cutoff time.Time) ([]domain.UploadJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.UploadJob
	for _, job := range s.jobs {
		if job.State != state {
			continue
		}
		entered := job.CreatedAt
		if state == domain.JobProcessing && job.StartedAt != nil {
			entered = *job.StartedAt
		}
		if entered.Before(cutoff) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
