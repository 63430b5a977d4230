package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/ytgrab/pkg/jobregistry"
)

// wsWriteTimeout bounds a single websocket write.
const wsWriteTimeout = 10 * time.Second

// SnapshotMessage is the first message on a job stream.
type SnapshotMessage struct {
	Type string          `json:"type"`
	Job  jobregistry.Job `json:"job"`
}

// StreamOptions configures the job event stream.
type StreamOptions struct {
	// OriginPatterns lists hosts allowed to open cross-origin streams.
	OriginPatterns []string
}

// Stream handles GET /ws/jobs/{jobID}. It sends a snapshot, then every
// event of the job, and closes normally after the terminal event.
func (h *JobsHandler) Stream(opts StreamOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")

		sub, err := h.jobs.Subscribe(id)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		defer sub.Close()

		snap, err := h.jobs.Snapshot(id)
		if err != nil {
			respondWithError(w, r, err)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			h.logger.Warn("Websocket accept failed", zap.String("job_id", id), zap.Error(err))
			return
		}
		defer func() { _ = conn.CloseNow() }()

		// Incoming messages are ignored; CloseRead notices client disconnects.
		ctx := conn.CloseRead(r.Context())

		if err := writeMessage(ctx, conn, SnapshotMessage{Type: "snapshot", Job: snap}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				h.logger.Debug("Websocket client left", zap.String("job_id", id))
				return
			case ev, ok := <-sub.Events:
				if !ok {
					_ = conn.Close(websocket.StatusNormalClosure, "job finished")
					return
				}
				if err := writeMessage(ctx, conn, ev); err != nil {
					h.logger.Debug("Websocket write failed", zap.String("job_id", id), zap.Error(err))
					return
				}
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
