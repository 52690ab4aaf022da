package events

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEvent_Terminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event string
		want  bool
	}{
		{EventDone, true},
		{EventError, true},
		{EventCancelled, true},
		{EventStageStart, false},
		{EventStageProgress, false},
		{EventStageComplete, false},
		{EventMessage, false},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			t.Parallel()
			e := Event{Event: tt.event}
			if got := e.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStream_EmitPreservesOrder(t *testing.T) {
	t.Parallel()

	s := NewStream()
	want := []string{EventStageStart, EventStageProgress, EventStageComplete, EventDone}
	for _, name := range want {
		s.Emit(Event{Event: name})
	}
	s.Close()

	var got []string
	for e := range s.Events() {
		got = append(got, e.Event)
	}
	if len(got) != len(want) {
		t.Fatalf("received %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStream_CloseEndsIteration(t *testing.T) {
	t.Parallel()

	s := NewStream()
	s.Close()

	count := 0
	for range s.Events() {
		count++
	}
	if count != 0 {
		t.Errorf("received %d events from closed empty stream, want 0", count)
	}
}

func TestEvent_JSONOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Event{Event: EventDone})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{"stage", "content", "data", "progress"} {
		if strings.Contains(string(data), field) {
			t.Errorf("marshaled %s should omit empty %q field", data, field)
		}
	}
}

func TestSSEWriter_Framing(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sw := NewSSEWriter(rec)

	err := sw.Write(Event{
		Event:    EventStageStart,
		Stage:    "data_collection",
		Progress: Progress(20),
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: stage_start\ndata: ") {
		t.Errorf("body = %q, want event line then data line", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("body = %q, want trailing blank line", body)
	}

	payload := strings.TrimPrefix(strings.TrimSuffix(body, "\n\n"), "event: stage_start\ndata: ")
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		t.Fatalf("data line is not valid JSON: %v", err)
	}
	if e.Stage != "data_collection" {
		t.Errorf("stage = %q, want data_collection", e.Stage)
	}
	if e.Progress == nil || *e.Progress != 20 {
		t.Errorf("progress = %v, want 20", e.Progress)
	}
}

func TestSSEWriter_FlushesPerEvent(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sw := NewSSEWriter(rec)

	if err := sw.Write(Event{Event: EventMessage, Content: "hello"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !rec.Flushed {
		t.Error("expected writer to flush after each event")
	}
}
