package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/arclight-io/conveyor/internal/streaming"
	"github.com/arclight-io/conveyor/pkg/schema"
)

// handleRunStream streams one run's events to the client via
// Server-Sent Events. The stream ends when the client disconnects or a
// terminal run event arrives.
func (s *Server) handleRunStream(c echo.Context) error {
	runID := c.Param("id")

	// The run must exist before we hold a subscription open for it.
	if _, err := s.deps.Store.GetRun(c.Request().Context(), runID); err != nil {
		return fail(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ch, cancel, err := s.deps.Hub.Subscribe(c.Request().Context(), streaming.EventFilter{RunID: runID})
	if err != nil {
		return fail(c, err)
	}
	defer cancel()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event.EventType, data)
			res.Flush()

			if terminalEvent(event.EventType) {
				return nil
			}
		}
	}
}

func terminalEvent(eventType string) bool {
	switch eventType {
	case schema.EventRunCompleted, schema.EventRunFailed, schema.EventRunCancelled:
		return true
	default:
		return false
	}
}
