package events

import (
	"context"
	"testing"
	"time"

	"qmaster-service/internal/domain"
)

func TestJobChangedReachesSubscriber(t *testing.T) {
	pub, ch, err := NewPublisher(Config{Backend: "gochannel"}, nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// gochannel drops messages published before anyone subscribes, so subscribe first.
	msgs, err := ch.Subscribe(ctx, DefaultTopic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	received := make(chan JobEvent, 4)
	go func() {
		_ = consumeMessages(msgs, pub.logger, func(e JobEvent) { received <- e })
	}()

	pub.JobChanged(ctx, domain.UploadJob{ID: "job-1", OwnerID: "owner-1", State: domain.JobCompleted, ResultPoolID: "pool-1"})

	select {
	case e := <-received:
		if e.JobID != "job-1" || e.State != domain.JobCompleted || e.ResultPoolID != "pool-1" || e.Type != JobStateChanged {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestUnknownBackend(t *testing.T) {
	if _, _, err := NewPublisher(Config{Backend: "carrier-pigeon"}, nil); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
