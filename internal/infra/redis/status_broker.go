// Package redis holds the Redis-backed pool cache and the cross-instance job status broker.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"qmaster-service/internal/app"
	"qmaster-service/internal/domain"
)

// StatusBroker relays job status changes through Redis pub/sub so a websocket attached to one
// instance sees transitions made by a worker on another.
// Channel per job: job:{jobID}:status
type StatusBroker struct {
	client *redis.Client
	logger *zap.Logger
}

func NewStatusBroker(client *redis.Client, logger *zap.Logger) *StatusBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusBroker{client: client, logger: logger}
}

// JobChanged implements app.JobNotifier.
func (b *StatusBroker) JobChanged(ctx context.Context, job domain.UploadJob) {
	payload, err := json.Marshal(job.Status())
	if err != nil {
		b.logger.Error("encode job status", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if err := b.client.Publish(ctx, statusChannel(job.ID), payload).Err(); err != nil {
		b.logger.Warn("publish job status", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Subscribe implements app.StatusSubscriber. It returns once Redis has confirmed the
// subscription, so any publish after it is delivered.
func (b *StatusBroker) Subscribe(ctx context.Context, jobID string) (<-chan domain.JobStatus, func(), error) {
	ps := b.client.Subscribe(ctx, statusChannel(jobID))
	if _, err := ps.Receive(ctx); err != nil {
		b.logger.Warn("subscribe job status", zap.String("job_id", jobID), zap.Error(err))
		_ = ps.Close()
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrStatusStreamUnavailable, err)
	}

	out := make(chan domain.JobStatus, 4)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var status domain.JobStatus
				if err := json.Unmarshal([]byte(msg.Payload), &status); err != nil {
					b.logger.Warn("drop malformed job status", zap.String("job_id", jobID), zap.Error(err))
					continue
				}
				select {
				case out <- status:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
			<-finished
		})
	}
	return out, cancel, nil
}

func statusChannel(jobID string) string {
	return "job:" + jobID + ":status"
}

var (
	_ app.JobNotifier      = (*StatusBroker)(nil)
	_ app.StatusSubscriber = (*StatusBroker)(nil)
)
