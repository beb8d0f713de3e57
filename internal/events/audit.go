package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Consume reads job events from topic until ctx ends, calling handle for each decoded event.
// Undecodable messages are acked and skipped.
func Consume(ctx context.Context, sub message.Subscriber, topic string, logger *zap.Logger, handle func(JobEvent)) error {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return consumeMessages(msgs, logger, handle)
}

func consumeMessages(msgs <-chan *message.Message, logger *zap.Logger, handle func(JobEvent)) error {
	for msg := range msgs {
		var event JobEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			logger.Warn("drop malformed job event", zap.String("message_id", msg.UUID), zap.Error(err))
			msg.Ack()
			continue
		}
		handle(event)
		msg.Ack()
	}
	return nil
}

// AuditLog logs the terminal outcome of every job.
func AuditLog(logger *zap.Logger) func(JobEvent) {
	return func(event JobEvent) {
		if !event.State.Terminal() {
			return
		}
		logger.Info("job finished",
			zap.String("job_id", event.JobID),
			zap.String("owner_id", event.OwnerID),
			zap.String("state", string(event.State)),
			zap.String("pool_id", event.ResultPoolID),
			zap.String("error", event.ErrorMessage),
		)
	}
}
