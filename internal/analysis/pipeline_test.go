package analysis_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/analysis"
	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/analysis/memstore"
	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/events"
	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/llm"
	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/source"
)

// scriptedProvider returns canned replies in order.
type scriptedProvider struct {
	replies []string
	err     error
	calls   int
}

func (p *scriptedProvider) Generate(context.Context, *llm.Request) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	idx := p.calls - 1
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	return p.replies[idx], nil
}

const validReport = `{
	"root_cause": "The connection pool was exhausted.",
	"evidence": "too many clients in logs",
	"category": "resource_bottleneck",
	"temporary_solution": "restart",
	"permanent_solution": "raise pool size",
	"confidence": 0.7
}`

// stubSource is a source.Source with a fixed payload and an optional
// per-fetch hook.
type stubSource struct {
	name    string
	result  *source.FetchResult
	err     error
	onFetch func()
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(context.Context, source.Query, source.TimeRange) (*source.FetchResult, error) {
	if s.onFetch != nil {
		s.onFetch()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type recordingNotifier struct {
	sessions []*analysis.Session
}

func (n *recordingNotifier) Notify(_ context.Context, s *analysis.Session) error {
	n.sessions = append(n.sessions, s)
	return nil
}

type pipelineFixture struct {
	store    *memstore.Store
	manager  *analysis.Manager
	pipeline *analysis.Pipeline
	notifier *recordingNotifier
}

func newFixture(provider llm.Provider, sources ...source.Source) *pipelineFixture {
	store := memstore.New()
	manager := analysis.NewManager(store, nil)
	aggregator := source.NewAggregator(sources, time.Second, 2, 100, nil)
	analyzer := analysis.NewAnalyzer(provider, nil, analysis.Hooks{})
	notifier := &recordingNotifier{}
	pipeline := analysis.NewPipeline(manager, aggregator, analyzer, notifier, time.Minute, nil, analysis.Hooks{})
	return &pipelineFixture{store: store, manager: manager, pipeline: pipeline, notifier: notifier}
}

// collect drains a closed stream into a slice.
func collect(t *testing.T, stream *events.Stream) []events.Event {
	t.Helper()
	var out []events.Event
	for e := range stream.Events() {
		out = append(out, e)
	}
	return out
}

func eventNames(evs []events.Event) []string {
	names := make([]string, 0, len(evs))
	for _, e := range evs {
		names = append(names, e.Event)
	}
	return names
}

func countTerminal(evs []events.Event) int {
	n := 0
	for _, e := range evs {
		if e.Terminal() {
			n++
		}
	}
	return n
}

func TestPipelineRun_Completes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logs := &stubSource{name: "loki", result: &source.FetchResult{Logs: []source.LogEntry{
		{Timestamp: time.Now().UTC(), Level: "ERROR", Message: "connection timeout"},
	}}}
	fx := newFixture(&scriptedProvider{replies: []string{validReport}}, logs)

	s, err := fx.manager.Create(ctx, "alice", "timeout calling payment-service")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	run, s, err := fx.manager.StartRun(ctx, s.ID)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	stream := events.NewStream()
	fx.pipeline.Run(run, s, stream)
	evs := collect(t, stream)

	if n := countTerminal(evs); n != 1 {
		t.Fatalf("terminal events = %d (%v), want exactly 1", n, eventNames(evs))
	}
	last := evs[len(evs)-1]
	if last.Event != events.EventDone {
		t.Fatalf("last event = %q, want done; sequence %v", last.Event, eventNames(evs))
	}
	if last.Progress == nil || *last.Progress != 100 {
		t.Errorf("done progress = %v, want 100", last.Progress)
	}

	// Stage events arrive in pipeline order.
	var stages []string
	for _, e := range evs {
		if e.Event == events.EventStageStart {
			stages = append(stages, e.Stage)
		}
	}
	want := []string{"intent_understanding", "data_collection", "llm_analysis"}
	if len(stages) != len(want) {
		t.Fatalf("stage starts = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stage starts = %v, want %v", stages, want)
		}
	}

	final, err := fx.manager.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != analysis.StatusCompleted {
		t.Errorf("status = %q, want completed", final.Status)
	}
	if final.CurrentStage != "" {
		t.Errorf("current stage = %q, want empty", final.CurrentStage)
	}
	if final.Result == nil || final.Result.Category != analysis.CategoryResource {
		t.Errorf("result = %+v", final.Result)
	}
	if final.ContextData == nil || len(final.ContextData.Logs) != 1 {
		t.Errorf("context data = %+v", final.ContextData)
	}
	// user alert + intent + collection + analysis messages.
	if len(final.Messages) != 4 {
		t.Errorf("messages = %d, want 4", len(final.Messages))
	}

	if len(fx.notifier.sessions) != 1 {
		t.Errorf("notifier called %d times, want 1", len(fx.notifier.sessions))
	}

	// Slot is free again.
	run2, _, err := fx.manager.StartRun(ctx, s.ID)
	if err != nil {
		t.Fatalf("StartRun after Run: %v", err)
	}
	run2.Finish()
}

func TestPipelineRun_AnalysisFailureEmitsErrorEvent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(&scriptedProvider{replies: []string{"garbage", "more garbage"}},
		&stubSource{name: "loki", result: &source.FetchResult{}})

	s, err := fx.manager.Create(ctx, "alice", "alert")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	run, s, err := fx.manager.StartRun(ctx, s.ID)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	stream := events.NewStream()
	fx.pipeline.Run(run, s, stream)
	evs := collect(t, stream)

	if n := countTerminal(evs); n != 1 {
		t.Fatalf("terminal events = %d (%v), want exactly 1", n, eventNames(evs))
	}
	last := evs[len(evs)-1]
	if last.Event != events.EventError {
		t.Fatalf("last event = %q, want error", last.Event)
	}
	if got := last.Data["kind"]; got != string(analysis.KindLLMOutputInvalid) {
		t.Errorf("error kind = %v, want %q", got, analysis.KindLLMOutputInvalid)
	}

	final, err := fx.manager.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != analysis.StatusError {
		t.Errorf("status = %q, want error", final.Status)
	}
	if final.ContextData == nil {
		t.Error("collected context should persist through an analysis failure")
	}
	if len(fx.notifier.sessions) != 1 {
		t.Errorf("failed runs should still notify, got %d calls", len(fx.notifier.sessions))
	}
}

func TestPipelineRun_TransportFailureKind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(&scriptedProvider{err: errors.New("dial tcp: connection refused")},
		&stubSource{name: "loki", result: &source.FetchResult{}})

	s, _ := fx.manager.Create(ctx, "alice", "alert")
	run, s, err := fx.manager.StartRun(ctx, s.ID)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	stream := events.NewStream()
	fx.pipeline.Run(run, s, stream)
	evs := collect(t, stream)

	last := evs[len(evs)-1]
	if last.Event != events.EventError {
		t.Fatalf("last event = %q, want error", last.Event)
	}
	if got := last.Data["kind"]; got != string(analysis.KindLLMTransport) {
		t.Errorf("error kind = %v, want %q", got, analysis.KindLLMTransport)
	}
}

func TestPipelineRun_CancelDuringCollection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(&scriptedProvider{replies: []string{validReport}})

	s, err := fx.manager.Create(ctx, "alice", "alert")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The source cancels its own run mid-fetch, so the in-flight result
	// is discarded and the pipeline stops after persisting the stage.
	src := &stubSource{
		name:   "loki",
		result: &source.FetchResult{Logs: []source.LogEntry{{Message: "late"}}},
		onFetch: func() {
			fx.manager.Cancel(ctx, s.ID)
		},
	}
	fx.pipeline = rebuildPipeline(fx, src)

	run, started, err := fx.manager.StartRun(ctx, s.ID)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	stream := events.NewStream()
	fx.pipeline.Run(run, started, stream)
	evs := collect(t, stream)

	if n := countTerminal(evs); n != 1 {
		t.Fatalf("terminal events = %d (%v), want exactly 1", n, eventNames(evs))
	}
	last := evs[len(evs)-1]
	if last.Event != events.EventCancelled {
		t.Fatalf("last event = %q, want cancelled; sequence %v", last.Event, eventNames(evs))
	}

	final, err := fx.manager.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != analysis.StatusCancelled {
		t.Errorf("status = %q, want cancelled", final.Status)
	}
	if final.ContextData == nil {
		t.Fatal("partial context should be persisted on cancellation")
	}
	if got := final.ContextData.CollectionStatus["loki"]; got != source.StatusOK {
		t.Errorf("loki status = %q, want %q (the fetch itself settled)", got, source.StatusOK)
	}
	if len(final.ContextData.Logs) != 0 {
		t.Error("payload fetched after cancel must not appear in the persisted context")
	}

	if len(fx.notifier.sessions) != 0 {
		t.Errorf("cancelled runs should not notify, got %d calls", len(fx.notifier.sessions))
	}
}

func TestPipelineRun_CancelBeforeStart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(&scriptedProvider{replies: []string{validReport}},
		&stubSource{name: "loki", result: &source.FetchResult{}})

	s, _ := fx.manager.Create(ctx, "alice", "alert")
	run, started, err := fx.manager.StartRun(ctx, s.ID)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	fx.manager.Cancel(ctx, s.ID)

	stream := events.NewStream()
	fx.pipeline.Run(run, started, stream)
	evs := collect(t, stream)

	if len(evs) != 1 || evs[0].Event != events.EventCancelled {
		t.Fatalf("events = %v, want a lone cancelled event", eventNames(evs))
	}
}

func TestPipelineRun_SourceFetchHookGetsBoundedStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broken := &stubSource{name: "loki", err: errors.New("dial tcp 10.0.0.1:3100: connect: connection refused")}

	store := memstore.New()
	manager := analysis.NewManager(store, nil)
	aggregator := source.NewAggregator([]source.Source{broken}, time.Second, 2, 100, nil)
	analyzer := analysis.NewAnalyzer(&scriptedProvider{replies: []string{validReport}}, nil, analysis.Hooks{})

	var statuses []string
	hooks := analysis.Hooks{OnSourceFetch: func(_, status string) {
		statuses = append(statuses, status)
	}}
	pipeline := analysis.NewPipeline(manager, aggregator, analyzer, nil, time.Minute, nil, hooks)

	s, err := manager.Create(ctx, "alice", "timeout calling payment-service")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	run, s, err := manager.StartRun(ctx, s.ID)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	stream := events.NewStream()
	pipeline.Run(run, s, stream)
	collect(t, stream)

	if len(statuses) != 1 || statuses[0] != "error" {
		t.Errorf("hook statuses = %v, want exactly [error]", statuses)
	}

	// The full reason still lands in the persisted collection status.
	final, _, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := final.ContextData.CollectionStatus["loki"]; !strings.Contains(got, "connection refused") {
		t.Errorf("collection status = %q, want the error reason preserved", got)
	}
}

func TestPipelineContinue_AnalysisOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	provider := &scriptedProvider{replies: []string{validReport}}
	fx := newFixture(provider, &stubSource{name: "loki", result: &source.FetchResult{}})

	s, err := fx.manager.Create(ctx, "alice", "timeout calling payment-service")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Intent = analysis.UnderstandIntent(s.AlertContent)
	s.ContextData = &source.ContextData{CollectionStatus: map[string]string{"loki": source.StatusOK}}
	s.Status = analysis.StatusCompleted
	if err := fx.manager.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	run, started, err := fx.manager.StartRun(ctx, s.ID)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	stream := events.NewStream()
	fx.pipeline.Continue(run, started, stream, "could this be the cache?")
	evs := collect(t, stream)

	for _, e := range evs {
		if e.Event == events.EventStageStart && e.Stage != string(analysis.StageAnalysis) {
			t.Errorf("Continue ran stage %q, want analysis only", e.Stage)
		}
	}
	if last := evs[len(evs)-1]; last.Event != events.EventDone {
		t.Fatalf("last event = %q, want done", last.Event)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}

	final, err := fx.manager.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != analysis.StatusCompleted || final.Result == nil {
		t.Errorf("session = status %q result %v", final.Status, final.Result)
	}
}

func rebuildPipeline(fx *pipelineFixture, sources ...source.Source) *analysis.Pipeline {
	aggregator := source.NewAggregator(sources, time.Second, 2, 100, nil)
	analyzer := analysis.NewAnalyzer(&scriptedProvider{replies: []string{validReport}}, nil, analysis.Hooks{})
	return analysis.NewPipeline(fx.manager, aggregator, analyzer, fx.notifier, time.Minute, nil, analysis.Hooks{})
}
