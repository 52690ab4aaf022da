// Package events carries analysis progress from the stage pipeline to a
// streaming consumer. A Stream is a single-producer ordered feed for one
// run; the producer closes it after emitting exactly one terminal event
// (done, error or cancelled).
package events

// Event names, in the order a consumer may see them within a run.
const (
	EventStageStart    = "stage_start"
	EventStageProgress = "stage_progress"
	EventStageComplete = "stage_complete"
	EventMessage       = "message"
	EventError         = "error"
	EventCancelled     = "cancelled"
	EventDone          = "done"
)

// Event is one progress update emitted during an analysis run.
type Event struct {
	Event    string         `json:"event"`
	Stage    string         `json:"stage,omitempty"`
	Content  string         `json:"content,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Progress *int           `json:"progress,omitempty"`
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	switch e.Event {
	case EventDone, EventError, EventCancelled:
		return true
	}
	return false
}

// Stream is the ordered event feed for a single run. The pipeline is the
// only producer; the transport adapter is the only consumer. Events are
// delivered strictly in emission order.
type Stream struct {
	ch chan Event
}

// defaultBuffer absorbs bursts (per-source progress events) without
// blocking the pipeline on a slow consumer.
const defaultBuffer = 64

// NewStream creates a stream for one run.
func NewStream() *Stream {
	return &Stream{ch: make(chan Event, defaultBuffer)}
}

// Emit appends an event to the stream. It blocks if the buffer is full,
// so consumers must drain Events until the channel closes even after a
// transport write fails.
func (s *Stream) Emit(e Event) {
	s.ch <- e
}

// Close ends the stream. Call once, after the terminal event.
func (s *Stream) Close() {
	close(s.ch)
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Progress wraps an integer percentage for Event.Progress.
func Progress(pct int) *int {
	return &pct
}
