package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"qmaster-service/internal/domain"
)

const wsWriteWait = 10 * time.Second

type outboundMessage struct {
	Type    string           `json:"type"`
	Payload domain.JobStatus `json:"payload"`
}

// serveJobStatusWS pushes the job's status to its owner until the job reaches a terminal state.
// The first message is always the current snapshot, so a client that connects late still sees
// the outcome. Clients only read; anything they send is discarded.
func (s *Server) serveJobStatusWS(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	updates, cancel, err := s.svc.Jobs.Subscribe(r.Context(), jobID, requesterID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	defer conn.Close()

	// The reader only notices the client going away.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for status := range updates {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(outboundMessage{Type: "status", Payload: status}); err != nil {
			s.logger.Debug("ws write error", zap.String("job_id", jobID), zap.Error(err))
			cancel()
			break
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second))
	_ = conn.Close()
	<-readerDone
}
