package app

import (
	"context"
	"sync"

	"qmaster-service/internal/domain"
)

// StatusHub fans job status changes out to in-process subscribers.
type StatusHub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.JobStatus]struct{}
}

func NewStatusHub() *StatusHub {
	return &StatusHub{subscribers: make(map[string]map[chan domain.JobStatus]struct{})}
}

// JobChanged implements JobNotifier.
func (h *StatusHub) JobChanged(_ context.Context, job domain.UploadJob) {
	h.Publish(job.Status())
}

// Publish delivers status to every subscriber of its job. A slow subscriber loses its oldest
// pending update rather than blocking the publisher, so the newest status always lands.
func (h *StatusHub) Publish(status domain.JobStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[status.JobID] {
		select {
		case ch <- status:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- status
		}
	}
}

// Subscribe implements StatusSubscriber.
func (h *StatusHub) Subscribe(_ context.Context, jobID string) (<-chan domain.JobStatus, func(), error) {
	ch := make(chan domain.JobStatus, 4)

	h.mu.Lock()
	subs, ok := h.subscribers[jobID]
	if !ok {
		subs = make(map[chan domain.JobStatus]struct{})
		h.subscribers[jobID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[jobID]
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.subscribers, jobID)
		}
	}
	return ch, cancel, nil
}

// Subscribers reports how many subscribers are attached to jobID.
func (h *StatusHub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[jobID])
}
