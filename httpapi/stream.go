package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/chainforge/contractforge/eventbus"
)

// wsUpgrader wraps websocket.Upgrader so the rest of the package never
// imports gorilla/websocket directly outside this file.
type wsUpgrader struct {
	upgrader websocket.Upgrader
}

func newWSUpgrader() wsUpgrader {
	return wsUpgrader{upgrader: websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// The API is consumed by the web console and CLI clients across
		// arbitrary origins; auth is out of scope for this engine (spec.md
		// §8 non-goals), so origin is not restricted here.
		CheckOrigin: func(r *http.Request) bool { return true },
	}}
}

const wsWriteWait = 10 * time.Second

// terminalEventTypes are the event types that end a workflow's stream.
var terminalEventTypes = map[eventbus.Type]bool{
	eventbus.TypeWorkflowCompleted: true,
	eventbus.TypeWorkflowFailed:    true,
	eventbus.TypeWorkflowCancelled: true,
}

// handleWorkflowStream implements GET /ws/workflow/{id}: after upgrading,
// it subscribes to the in-process event bus and forwards every event whose
// workflow_id matches, closing once a terminal event for that workflow is
// observed. One goroutine per connection, mirroring the teacher's
// per-session reader pattern.
func (s *Server) handleWorkflowStream(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "id")
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	conn, err := s.upgrader.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "workflow_id", workflowID, "error", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	var once sync.Once
	closeOnce := func() { once.Do(func() { close(done) }) }

	sub := s.bus.Subscribe("", func(_ context.Context, evt eventbus.Event) {
		if evt.WorkflowID != workflowID {
			return
		}
		data, err := json.Marshal(evt)
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			closeOnce()
			return
		}
		if terminalEventTypes[evt.Type] {
			closeOnce()
		}
	})
	defer s.bus.Unsubscribe(sub)

	// Drain client-initiated control frames (pings, close) until the
	// handler above signals completion or the connection itself errors.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeOnce()
				return
			}
		}
	}()

	<-done
}
