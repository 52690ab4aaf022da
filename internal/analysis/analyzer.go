package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/llm"
	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/source"
)

var tracer = otel.Tracer("github.com/GoAlbertPeng/oncall-assistant-agent/internal/analysis")

const (
	analyzerMaxTokens   = 2048
	analyzerTemperature = 0.3

	// Prompt size caps keep large collections inside the token budget.
	promptMaxLogs    = 50
	promptMaxSeries  = 20
	promptMaxHistory = 20
)

const systemPrompt = `You are a senior SRE analyzing a production alert to find its root cause.
Base your analysis strictly on the alert, logs and metrics provided. If the telemetry is thin,
say so in the evidence and lower your confidence.`

// Analyzer turns intent + collected context (+ conversation history)
// into a structured root-cause report via an llm.Provider.
type Analyzer struct {
	provider llm.Provider
	logger   log.Logger
	hooks    Hooks
}

// NewAnalyzer creates an analyzer. hooks may be the zero value.
func NewAnalyzer(provider llm.Provider, logger log.Logger, hooks Hooks) *Analyzer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Analyzer{provider: provider, logger: logger, hooks: hooks}
}

// resultWire mirrors Result for decoding model output. Category is kept
// as a plain string so validation can distinguish "unknown value" from
// "malformed JSON".
type resultWire struct {
	RootCause         string   `json:"root_cause"`
	Evidence          string   `json:"evidence"`
	Category          string   `json:"category"`
	TemporarySolution string   `json:"temporary_solution"`
	PermanentSolution string   `json:"permanent_solution"`
	Confidence        *float64 `json:"confidence"`
}

// Analyze asks the model for a root-cause report. A parse or validation
// failure is retried exactly once with a corrective instruction; a
// second failure is fatal with KindLLMOutputInvalid. Transport failures
// are fatal immediately with KindLLMTransport.
func (a *Analyzer) Analyze(ctx context.Context, intent *IntentResult, data *source.ContextData, history []Message) (*Result, error) {
	prompt := buildPrompt(intent, data, history)

	text, err := a.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	result, parseErr := parseResult(text)
	if parseErr == nil {
		return result, nil
	}

	a.logger.Warn(ctx, "model output failed validation, retrying once", "reason", parseErr.Error())
	if a.hooks.OnLLMRetry != nil {
		a.hooks.OnLLMRetry()
	}

	corrective := prompt + fmt.Sprintf(`

Your previous reply could not be used: %s.
Reply with ONLY a valid JSON object matching the schema above. No prose, no markdown fences.
"category" must be exactly one of: code_issue, config_issue, resource_bottleneck, dependency_failure.`, parseErr)

	text, err = a.generate(ctx, corrective)
	if err != nil {
		return nil, err
	}

	result, parseErr = parseResult(text)
	if parseErr != nil {
		return nil, &RunError{Kind: KindLLMOutputInvalid, Err: parseErr}
	}
	return result, nil
}

func (a *Analyzer) generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.Int("gen_ai.request.max_tokens", analyzerMaxTokens),
	))
	defer span.End()

	start := time.Now()
	text, err := a.provider.Generate(ctx, &llm.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		MaxTokens:   analyzerMaxTokens,
		Temperature: analyzerTemperature,
	})
	if a.hooks.OnLLMCall != nil {
		a.hooks.OnLLMCall(time.Since(start).Seconds(), err != nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm call failed")
		return "", &RunError{Kind: KindLLMTransport, Err: err}
	}
	span.SetAttributes(attribute.Int("oncall.llm.response_chars", len(text)))
	return text, nil
}

// parseResult decodes and validates a model reply, tolerating markdown
// code fences around the JSON.
func parseResult(text string) (*Result, error) {
	cleaned := stripFences(text)

	var wire resultWire
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return nil, fmt.Errorf("not valid JSON: %w", err)
	}
	if wire.RootCause == "" {
		return nil, fmt.Errorf("missing root_cause")
	}
	category := Category(wire.Category)
	if !category.Valid() {
		return nil, fmt.Errorf("unknown category %q", wire.Category)
	}
	if wire.Confidence != nil && (*wire.Confidence < 0 || *wire.Confidence > 1) {
		return nil, fmt.Errorf("confidence %v outside [0,1]", *wire.Confidence)
	}

	return &Result{
		RootCause:         wire.RootCause,
		Evidence:          wire.Evidence,
		Category:          category,
		TemporarySolution: wire.TemporarySolution,
		PermanentSolution: wire.PermanentSolution,
		Confidence:        wire.Confidence,
	}, nil
}

func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if idx := strings.Index(trimmed, "```json"); idx >= 0 {
		trimmed = trimmed[idx+len("```json"):]
	} else if idx := strings.Index(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[idx+len("```"):]
	} else {
		return trimmed
	}
	if end := strings.Index(trimmed, "```"); end >= 0 {
		trimmed = trimmed[:end]
	}
	return strings.TrimSpace(trimmed)
}

func buildPrompt(intent *IntentResult, data *source.ContextData, history []Message) string {
	var b strings.Builder

	b.WriteString("## Alert\n")
	b.WriteString(intent.Summary)
	b.WriteString("\n\nAlert type: " + intent.AlertType + "\n")
	if intent.AffectedSystem != "" {
		b.WriteString("Affected system: " + intent.AffectedSystem + "\n")
	}
	if len(intent.Keywords) > 0 {
		b.WriteString("Keywords: " + strings.Join(intent.Keywords, ", ") + "\n")
	}

	b.WriteString("\n## Logs\n")
	b.WriteString(formatLogs(data))
	b.WriteString("\n\n## Metrics\n")
	b.WriteString(formatMetrics(data))

	if len(history) > 0 {
		b.WriteString("\n\n## Conversation so far\n")
		b.WriteString(formatHistory(history))
	}

	b.WriteString(`

Respond with a JSON object:
{
  "root_cause": "concise root cause (2-3 sentences)",
  "evidence": "specific log lines or metric values backing the conclusion",
  "category": "one of: code_issue, config_issue, resource_bottleneck, dependency_failure",
  "temporary_solution": "concrete mitigation steps",
  "permanent_solution": "long-term fix",
  "confidence": 0.0-1.0
}
Output only the JSON object.`)

	return b.String()
}

func formatLogs(data *source.ContextData) string {
	if data == nil || len(data.Logs) == 0 {
		return "No log data was collected."
	}
	logs := data.Logs
	if len(logs) > promptMaxLogs {
		// Keep the newest entries; logs are sorted ascending.
		logs = logs[len(logs)-promptMaxLogs:]
	}
	lines := make([]string, 0, len(logs))
	for _, entry := range logs {
		lines = append(lines, fmt.Sprintf("[%s] [%s] %s",
			entry.Timestamp.Format(time.RFC3339), entry.Level, entry.Message))
	}
	return strings.Join(lines, "\n")
}

func formatMetrics(data *source.ContextData) string {
	if data == nil || len(data.Metrics) == 0 {
		return "No metric data was collected."
	}
	series := data.Metrics
	if len(series) > promptMaxSeries {
		series = series[:promptMaxSeries]
	}
	var lines []string
	for _, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		recent := s.Points
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		minVal, maxVal, sum := recent[0].Value, recent[0].Value, 0.0
		vals := make([]string, 0, len(recent))
		for _, pt := range recent {
			if pt.Value < minVal {
				minVal = pt.Value
			}
			if pt.Value > maxVal {
				maxVal = pt.Value
			}
			sum += pt.Value
			vals = append(vals, fmt.Sprintf("%.2f", pt.Value))
		}
		lines = append(lines, fmt.Sprintf("%s %v\n  recent: [%s] avg=%.2f max=%.2f min=%.2f",
			s.Name, s.Labels, strings.Join(vals, ", "),
			sum/float64(len(recent)), maxVal, minVal))
	}
	if len(lines) == 0 {
		return "No metric data was collected."
	}
	return strings.Join(lines, "\n")
}

func formatHistory(history []Message) string {
	if len(history) > promptMaxHistory {
		history = history[len(history)-promptMaxHistory:]
	}
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	return strings.Join(lines, "\n")
}
