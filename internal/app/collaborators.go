package app

import (
	"context"

	"qmaster-service/internal/domain"
)

// GenerationRequest is handed to a Generator once the payload has been turned into text.
type GenerationRequest struct {
	JobID   string
	Subject string
	Text    string
	Params  domain.GenerationParams
}

// Generator turns source text into candidate question items. Returned items need not be valid;
// the pool filters them. IDs, pool ids and subjects are stamped by the JobManager.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) ([]domain.QuestionItem, error)
}

// TextExtractor turns an uploaded payload into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, kind domain.SourceKind, payload []byte) (string, error)
}

// Similarity scores a free-text answer against a reference answer in [0, 1].
type Similarity interface {
	Similarity(ctx context.Context, candidate, reference string) (float64, error)
}

// SimilarityFunc adapts a plain function to Similarity.
type SimilarityFunc func(candidate, reference string) float64

func (f SimilarityFunc) Similarity(_ context.Context, candidate, reference string) (float64, error) {
	return f(candidate, reference), nil
}

// JobNotifier is told about every persisted job transition.
type JobNotifier interface {
	JobChanged(ctx context.Context, job domain.UploadJob)
}

// StatusSubscriber delivers job status changes as they are published.
// The caller must invoke the returned cancel function to avoid leaks. An error means nothing
// will be delivered.
type StatusSubscriber interface {
	Subscribe(ctx context.Context, jobID string) (<-chan domain.JobStatus, func(), error)
}

// Notifiers fans a transition out to several notifiers in order.
type Notifiers []JobNotifier

func (n Notifiers) JobChanged(ctx context.Context, job domain.UploadJob) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.JobChanged(ctx, job)
		}
	}
}
