// Package events publishes job lifecycle events to a message bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"qmaster-service/internal/domain"
)

// DefaultTopic carries job state changes.
const DefaultTopic = "qmaster.jobs"

// JobStateChanged is the event type for every persisted job transition.
const JobStateChanged = "job.state_changed"

// JobEvent is the payload published for a job transition.
type JobEvent struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	JobID        string          `json:"jobId"`
	OwnerID      string          `json:"ownerId"`
	Subject      string          `json:"subject"`
	State        domain.JobState `json:"state"`
	ResultPoolID string          `json:"resultPoolId,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	OccurredAt   time.Time       `json:"occurredAt"`
}

// Publisher implements app.JobNotifier on top of a watermill publisher. Publish failures are
// logged and never reach the job worker.
type Publisher struct {
	publisher message.Publisher
	topic     string
	logger    *zap.Logger
	now       func() time.Time
}

// Config selects the bus backend.
type Config struct {
	// Backend is "gochannel" (in-process) or "kafka".
	Backend string
	Brokers []string
	Topic   string
}

// NewPublisher builds a publisher for cfg. The GoChannel, when used, is returned so in-process
// consumers can subscribe to it.
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, *gochannel.GoChannel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	wmLogger := NewZapLogger(logger)

	switch cfg.Backend {
	case "", "gochannel":
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
		return newPublisher(ch, topic, logger), ch, nil
	case "kafka":
		pub, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:   cfg.Brokers,
			Marshaler: kafka.DefaultMarshaler{},
		}, wmLogger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
		}
		return newPublisher(pub, topic, logger), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

func newPublisher(pub message.Publisher, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{publisher: pub, topic: topic, logger: logger, now: time.Now}
}

// JobChanged implements app.JobNotifier.
func (p *Publisher) JobChanged(ctx context.Context, job domain.UploadJob) {
	event := JobEvent{
		ID:           uuid.NewString(),
		Type:         JobStateChanged,
		JobID:        job.ID,
		OwnerID:      job.OwnerID,
		Subject:      job.Subject,
		State:        job.State,
		ResultPoolID: job.ResultPoolID,
		ErrorMessage: job.ErrorMessage,
		OccurredAt:   p.now().UTC(),
	}
	if err := p.Publish(ctx, event); err != nil {
		p.logger.Error("publish job event", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Publish sends one event to the configured topic.
func (p *Publisher) Publish(ctx context.Context, event JobEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", event.Type)
	msg.Metadata.Set("job_id", event.JobID)
	msg.Metadata.Set("state", string(event.State))
	msg.Metadata.Set("timestamp", event.OccurredAt.Format(time.RFC3339))

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	p.logger.Debug("published job event",
		zap.String("event_id", event.ID),
		zap.String("job_id", event.JobID),
		zap.String("state", string(event.State)),
	)
	return nil
}

// Close releases the underlying publisher.
func (p *Publisher) Close() error {
	return p.publisher.Close()
}
