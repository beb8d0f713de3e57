package app

import (
	"context"
	"time"

	"qmaster-service/internal/domain"
)

// JobRepository stores upload jobs. Transition must be an atomic compare-and-set on the job's
// current state and return domain.ErrJobStateConflict when the job is not in t.From.
type JobRepository interface {
	Create(ctx context.Context, job domain.UploadJob) error
	Get(ctx context.Context, jobID string) (domain.UploadJob, error)
	Transition(ctx context.Context, jobID string, t domain.JobTransition) (domain.UploadJob, error)
	// ListStale returns jobs in state that entered it before cutoff: CreatedAt for pending jobs,
	// StartedAt for processing jobs.
	ListStale(ctx context.Context, state domain.JobState, cutoff time.Time) ([]domain.UploadJob, error)
}

// PoolRepository stores generated pools. Pools are immutable apart from item invalidation.
type PoolRepository interface {
	CreatePool(ctx context.Context, pool domain.Pool) error
	DeletePool(ctx context.Context, poolID string) error
	GetPool(ctx context.Context, poolID string) (domain.Pool, error)
	// ItemsByID returns the items for ids in input order, or domain.ErrItemNotFound.
	ItemsByID(ctx context.Context, ids []string) ([]domain.QuestionItem, error)
	InvalidateItem(ctx context.Context, poolID, itemID string) error
}

// SessionRepository stores test sessions. Create fails with domain.ErrSessionExists on token reuse.
type SessionRepository interface {
	Create(ctx context.Context, session domain.TestSession) error
	Get(ctx context.Context, token string) (domain.TestSession, error)
	ListByCreator(ctx context.Context, createdBy string) ([]domain.TestSession, error)
	ListByPool(ctx context.Context, poolID string) ([]domain.TestSession, error)
}

// AssignmentRepository keeps the latest assignment per (token, participant).
type AssignmentRepository interface {
	Put(ctx context.Context, assignment domain.Assignment) error
	Get(ctx context.Context, token, participantID string) (domain.Assignment, error)
}

// SubmissionRepository stores terminal submissions. CreateIfAbsent is the uniqueness guard on
// (token, participant) and returns domain.ErrAlreadySubmitted when a submission already exists.
type SubmissionRepository interface {
	CreateIfAbsent(ctx context.Context, submission domain.Submission) error
	Exists(ctx context.Context, token, participantID string) (bool, error)
	Get(ctx context.Context, token, participantID string) (domain.Submission, error)
	ListBySession(ctx context.Context, token string) ([]domain.Submission, error)
	ListByParticipant(ctx context.Context, participantID string) ([]domain.Submission, error)
}

// Store bundles every repository of one backing store.
type Store struct {
	Jobs        JobRepository
	Pools       PoolRepository
	Sessions    SessionRepository
	Assignments AssignmentRepository
	Submissions SubmissionRepository
}
