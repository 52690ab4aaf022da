package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/events"
	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/source"
)

// Notifier delivers out-of-band notifications for finished sessions.
type Notifier interface {
	Notify(ctx context.Context, s *Session) error
}

// Pipeline executes the three analysis stages for a run, emitting
// events on the run's stream and persisting the session after every
// stage so progress survives a crash or cancellation.
type Pipeline struct {
	manager    *Manager
	aggregator *source.Aggregator
	analyzer   *Analyzer
	notifier   Notifier
	logger     log.Logger
	hooks      Hooks
	window     time.Duration
}

// NewPipeline wires a pipeline. notifier may be nil; hooks may be the
// zero value.
func NewPipeline(manager *Manager, aggregator *source.Aggregator, analyzer *Analyzer, notifier Notifier, window time.Duration, logger log.Logger, hooks Hooks) *Pipeline {
	if logger == nil {
		logger = log.Nop()
	}
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Pipeline{
		manager:    manager,
		aggregator: aggregator,
		analyzer:   analyzer,
		notifier:   notifier,
		logger:     logger,
		hooks:      hooks,
		window:     window,
	}
}

// Run executes the full pipeline for a freshly started run. It always
// closes the stream and releases the run slot, and the last event it
// emits is exactly one of done, error or cancelled.
func (p *Pipeline) Run(run *Run, s *Session, stream *events.Stream) {
	defer run.Finish()
	defer stream.Close()

	ctx := run.Context()
	start := time.Now()
	logger := p.logger.With("session_id", s.ID)

	if p.stageIntent(ctx, s, stream, logger) &&
		p.stageCollect(ctx, s, stream, logger) &&
		p.stageAnalyze(ctx, s, stream, logger, nil) {
		p.finishCompleted(ctx, s, stream, logger, start)
		return
	}
	p.finishInterrupted(ctx, s, stream, logger, start)
}

// Continue executes only the analysis stage, reusing the session's
// stored intent and context and feeding the whole conversation to the
// model. userMessage is the follow-up that triggered the run.
func (p *Pipeline) Continue(run *Run, s *Session, stream *events.Stream, userMessage string) {
	defer run.Finish()
	defer stream.Close()

	ctx := run.Context()
	start := time.Now()
	logger := p.logger.With("session_id", s.ID)
	logger.Info(ctx, "continuing analysis", "message_len", len(userMessage))

	if s.Intent == nil {
		s.Intent = UnderstandIntent(s.AlertContent)
	}
	if p.stageAnalyze(ctx, s, stream, logger, s.Messages) {
		p.finishCompleted(ctx, s, stream, logger, start)
		return
	}
	p.finishInterrupted(ctx, s, stream, logger, start)
}

// stageIntent classifies the alert. Returns false when the run should
// stop; the cause is recorded on the session's Status.
func (p *Pipeline) stageIntent(ctx context.Context, s *Session, stream *events.Stream, logger log.Logger) bool {
	if p.cancelled(ctx) {
		return false
	}
	stageStart := time.Now()
	s.CurrentStage = StageIntent
	p.emit(stream, events.Event{Event: events.EventStageStart, Stage: string(StageIntent), Progress: events.Progress(0)})

	s.Intent = UnderstandIntent(s.AlertContent)
	logger.Info(ctx, "intent understood",
		"alert_type", s.Intent.AlertType,
		"keywords", strings.Join(s.Intent.Keywords, ","))

	summary := fmt.Sprintf("Classified alert as %s", s.Intent.AlertType)
	if s.Intent.AffectedSystem != "" {
		summary += fmt.Sprintf(", affected system %s", s.Intent.AffectedSystem)
	}
	if len(s.Intent.Keywords) > 0 {
		summary += fmt.Sprintf(". Key terms: %s", strings.Join(s.Intent.Keywords, ", "))
	}
	s.Messages = append(s.Messages, NewMessage(RoleAssistant, summary, StageIntent))

	if err := p.manager.Save(ctx, s); err != nil {
		logger.Error(ctx, err, "persist intent stage")
	}

	p.emit(stream, events.Event{Event: events.EventMessage, Stage: string(StageIntent), Content: summary})
	p.emit(stream, events.Event{
		Event: events.EventStageComplete, Stage: string(StageIntent),
		Progress: events.Progress(20),
		Data:     map[string]any{"alert_type": s.Intent.AlertType, "keywords": s.Intent.Keywords},
	})
	p.stageDone(StageIntent, stageStart)
	return true
}

// stageCollect fans out to the telemetry sources. Partial failures are
// tolerated; only cancellation stops the run here.
func (p *Pipeline) stageCollect(ctx context.Context, s *Session, stream *events.Stream, logger log.Logger) bool {
	if p.cancelled(ctx) {
		return false
	}
	stageStart := time.Now()
	s.CurrentStage = StageCollection
	p.emit(stream, events.Event{Event: events.EventStageStart, Stage: string(StageCollection), Progress: events.Progress(20)})

	tr := source.Window(p.window)
	query := source.Query{
		Keywords:         s.Intent.Keywords,
		SuggestedMetrics: s.Intent.SuggestedMetrics,
	}
	data := p.aggregator.Collect(ctx, query, tr, func(name, status string) {
		if p.hooks.OnSourceFetch != nil {
			// Metric labels need a bounded value set; the raw status
			// carries the error reason.
			p.hooks.OnSourceFetch(name, source.Outcome(status))
		}
		p.emit(stream, events.Event{
			Event: events.EventStageProgress, Stage: string(StageCollection),
			Data: map[string]any{"source": name, "status": status},
		})
	})
	s.ContextData = data

	summary := fmt.Sprintf("Collected %d log entries and %d metric series from %d sources",
		len(data.Logs), len(data.Metrics), len(data.CollectionStatus))
	s.Messages = append(s.Messages, NewMessage(RoleAssistant, summary, StageCollection))

	// Persist before the cancellation check so partial telemetry
	// survives a cancel that lands during collection.
	if err := p.manager.Save(ctx, s); err != nil {
		logger.Error(ctx, err, "persist collection stage")
	}
	if p.cancelled(ctx) {
		return false
	}

	p.emit(stream, events.Event{Event: events.EventMessage, Stage: string(StageCollection), Content: summary})
	p.emit(stream, events.Event{
		Event: events.EventStageComplete, Stage: string(StageCollection),
		Progress: events.Progress(70),
		Data: map[string]any{
			"log_count":    len(data.Logs),
			"metric_count": len(data.Metrics),
			"statuses":     data.CollectionStatus,
		},
	})
	p.stageDone(StageCollection, stageStart)
	return true
}

// stageAnalyze runs the LLM stage. history overrides the default
// conversation (used by Continue); nil means no extra history.
func (p *Pipeline) stageAnalyze(ctx context.Context, s *Session, stream *events.Stream, logger log.Logger, history []Message) bool {
	if p.cancelled(ctx) {
		return false
	}
	stageStart := time.Now()
	s.CurrentStage = StageAnalysis
	p.emit(stream, events.Event{Event: events.EventStageStart, Stage: string(StageAnalysis), Progress: events.Progress(70)})

	result, err := p.analyzer.Analyze(ctx, s.Intent, s.ContextData, history)
	if err != nil {
		if p.cancelled(ctx) {
			return false
		}
		s.Status = StatusError
		if saveErr := p.manager.Save(context.WithoutCancel(ctx), s); saveErr != nil {
			logger.Error(ctx, saveErr, "persist failed run")
		}
		logger.Error(ctx, err, "analysis stage failed", "kind", string(KindOf(err)))
		p.emit(stream, events.Event{
			Event: events.EventError, Stage: string(StageAnalysis),
			Content: err.Error(),
			Data:    map[string]any{"kind": string(KindOf(err))},
		})
		return false
	}
	if p.cancelled(ctx) {
		return false
	}

	s.Result = result
	report := formatReport(result)
	s.Messages = append(s.Messages, NewMessage(RoleAssistant, report, StageAnalysis))
	if err := p.manager.Save(ctx, s); err != nil {
		logger.Error(ctx, err, "persist analysis stage")
	}

	p.emit(stream, events.Event{Event: events.EventMessage, Stage: string(StageAnalysis), Content: report})
	p.emit(stream, events.Event{
		Event: events.EventStageComplete, Stage: string(StageAnalysis),
		Progress: events.Progress(95),
		Data:     map[string]any{"category": string(result.Category)},
	})
	p.stageDone(StageAnalysis, stageStart)
	return true
}

func (p *Pipeline) finishCompleted(ctx context.Context, s *Session, stream *events.Stream, logger log.Logger, start time.Time) {
	s.Status = StatusCompleted
	s.CurrentStage = ""
	if err := p.manager.Save(ctx, s); err != nil {
		logger.Error(ctx, err, "persist completed session")
	}
	p.emit(stream, events.Event{
		Event:    events.EventDone,
		Progress: events.Progress(100),
		Data:     map[string]any{"session_id": s.ID},
	})
	if p.hooks.OnComplete != nil {
		p.hooks.OnComplete(StatusCompleted, time.Since(start).Seconds())
	}
	logger.Info(ctx, "analysis completed", "duration", time.Since(start).String())
	p.notify(ctx, s, logger)
}

// finishInterrupted emits the terminal event for a run stopped by a
// stage. An error stage has already emitted its own terminal event and
// set StatusError; everything else here is a cancellation.
func (p *Pipeline) finishInterrupted(ctx context.Context, s *Session, stream *events.Stream, logger log.Logger, start time.Time) {
	if s.Status == StatusError {
		if p.hooks.OnComplete != nil {
			p.hooks.OnComplete(StatusError, time.Since(start).Seconds())
		}
		p.notify(ctx, s, logger)
		return
	}

	s.Status = StatusCancelled
	if err := p.manager.Save(context.WithoutCancel(ctx), s); err != nil {
		logger.Error(ctx, err, "persist cancelled session")
	}
	p.emit(stream, events.Event{Event: events.EventCancelled, Data: map[string]any{"session_id": s.ID}})
	if p.hooks.OnComplete != nil {
		p.hooks.OnComplete(StatusCancelled, time.Since(start).Seconds())
	}
	logger.Info(ctx, "analysis cancelled", "stage", string(s.CurrentStage))
}

func (p *Pipeline) cancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}

func (p *Pipeline) emit(stream *events.Stream, e events.Event) {
	if p.hooks.OnEvent != nil {
		p.hooks.OnEvent(e.Event)
	}
	stream.Emit(e)
}

func (p *Pipeline) stageDone(stage Stage, start time.Time) {
	if p.hooks.OnStage != nil {
		p.hooks.OnStage(stage, time.Since(start).Seconds())
	}
}

func (p *Pipeline) notify(ctx context.Context, s *Session, logger log.Logger) {
	if p.notifier == nil {
		return
	}
	nCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.notifier.Notify(nCtx, s); err != nil {
		logger.Warn(nCtx, "notification failed", "error", err.Error())
	}
}

func formatReport(r *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Root cause: %s\n", r.RootCause)
	fmt.Fprintf(&b, "Category: %s\n", r.Category)
	if r.Evidence != "" {
		fmt.Fprintf(&b, "Evidence: %s\n", r.Evidence)
	}
	if r.TemporarySolution != "" {
		fmt.Fprintf(&b, "Temporary solution: %s\n", r.TemporarySolution)
	}
	if r.PermanentSolution != "" {
		fmt.Fprintf(&b, "Permanent solution: %s\n", r.PermanentSolution)
	}
	if r.Confidence != nil {
		fmt.Fprintf(&b, "Confidence: %.2f", *r.Confidence)
	}
	return strings.TrimRight(b.String(), "\n")
}
