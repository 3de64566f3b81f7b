package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// writerState tracks the lifecycle of an sseWriter.
type writerState int

const (
	writerIdle writerState = iota
	writerStreaming
	writerCompleted
)

// sseWriter frames outgoing Responses-API events as
//
//	event: <name>\ndata: <compact-json>\n\n
//
// and flushes after every event so callers observe streaming deltas as
// they're produced. It is safe for use by a single goroutine per request;
// the mutex only guards the state field set on the first WriteEvent call.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

// WriteEvent serializes and flushes a single named SSE event. The first
// call sets the streaming response headers.
func (s *sseWriter) WriteEvent(name string, payload any) error {
	s.mu.Lock()
	if s.state == writerIdle {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.state = writerStreaming
	}
	s.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("write event %s: %w", name, err)
	}
	return s.rc.Flush()
}
