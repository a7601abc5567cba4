package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/copernicus-go/copernicus/internal/task"
)

// streamPollInterval is how often handleStream re-checks a task's progress
// and pushes an update. Polling rather than a true push from the worker
// keeps this additive to [taskstore.Store] (SPEC_FULL.md §5) — the worker
// goroutines that mutate [task.Info] are untouched.
const streamPollInterval = 500 * time.Millisecond

// streamWriteTimeout bounds a single WebSocket write, matching the
// connection-manager pattern of bounding sends so one slow client can't
// stall the poll loop indefinitely.
const streamWriteTimeout = 5 * time.Second

// streamHub exists only to give [Server] a named field to construct once;
// the hub itself does no cross-connection bookkeeping since each connection
// independently polls its own task.
type streamHub struct{}

func newStreamHub() *streamHub { return &streamHub{} }

// streamEvent is one progress push over the WebSocket connection.
type streamEvent struct {
	TaskID   string        `json:"task_id"`
	Status   string        `json:"status"`
	Progress task.Progress `json:"progress"`
	Error    *string       `json:"error,omitempty"`
}

// handleStream implements GET /api/v1/tasks/{id}/stream: an additive
// WebSocket push of the same status/progress the polling endpoint exposes,
// so a client need not poll on a fixed interval of its own. It closes once
// the task reaches a terminal status or the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.store.Get(id); !ok {
		writeError(w, notFound("unknown task "+id))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		info, ok := s.store.Get(id)
		if !ok {
			_ = conn.Close(websocket.StatusNormalClosure, "task no longer tracked")
			return
		}

		status := info.Status()
		event := streamEvent{TaskID: id, Status: string(status), Progress: info.Progress()}
		if status == task.StatusFailed {
			if ferr := info.Err(); ferr != nil {
				msg := ferr.Error()
				event.Error = &msg
			}
		}

		if err := s.writeStreamEvent(ctx, conn, event); err != nil {
			return
		}

		if status == task.StatusCompleted || status == task.StatusFailed {
			_ = conn.Close(websocket.StatusNormalClosure, "task finished")
			return
		}

		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "client disconnected")
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) writeStreamEvent(ctx context.Context, conn *websocket.Conn, event streamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal stream event", "task_id", event.TaskID, "err", err)
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
