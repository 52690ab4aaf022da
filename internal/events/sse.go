package events

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SSEWriter encodes events as Server-Sent Events:
//
//	event: stage_start
//	data: {"stage":"intent_understanding","content":"..."}
//	<blank line>
//
// The event name is carried both in the SSE event field and in the JSON
// payload so line-oriented consumers can ignore the framing.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter wraps an http.ResponseWriter. The caller is responsible
// for setting Content-Type: text/event-stream before the first write.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	f, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: f}
}

// Write encodes and flushes a single event.
func (s *SSEWriter) Write(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", e.Event, payload); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
