package analysis

import (
	"time"

	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/source"
)

// Status tracks where a session is in its lifecycle. Transitions are
// monotonic within a run; Reanalyze moves a terminal session back to
// StatusRunning.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no run is active for this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Stage identifies one phase of the pipeline. Empty means not running.
type Stage string

const (
	StageIntent     Stage = "intent_understanding"
	StageCollection Stage = "data_collection"
	StageAnalysis   Stage = "llm_analysis"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one conversation log entry. The log is append-only;
// entries are never mutated or deleted individually.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Stage     Stage          `json:"stage,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewMessage builds a timestamped message.
func NewMessage(role Role, content string, stage Stage) Message {
	return Message{
		Role:      role,
		Content:   content,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
	}
}

// IntentResult is the intent stage's reading of the alert text.
type IntentResult struct {
	Summary          string   `json:"summary"`
	AlertType        string   `json:"alert_type"`
	AffectedSystem   string   `json:"affected_system,omitempty"`
	Keywords         []string `json:"keywords"`
	SuggestedMetrics []string `json:"suggested_metrics"`
}

// Category classifies a root cause.
type Category string

const (
	CategoryCode       Category = "code_issue"
	CategoryConfig     Category = "config_issue"
	CategoryResource   Category = "resource_bottleneck"
	CategoryDependency Category = "dependency_failure"
)

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryCode, CategoryConfig, CategoryResource, CategoryDependency:
		return true
	}
	return false
}

// Result is the structured root-cause report produced by the analyzer.
// Confidence is nil when the model omitted it.
type Result struct {
	RootCause         string   `json:"root_cause"`
	Evidence          string   `json:"evidence"`
	Category          Category `json:"category"`
	TemporarySolution string   `json:"temporary_solution"`
	PermanentSolution string   `json:"permanent_solution"`
	Confidence        *float64 `json:"confidence,omitempty"`
}

// Session is one alert-analysis conversation and its accumulated state.
// Fields update incrementally while a run is active, so readers may see
// a partial snapshot.
type Session struct {
	ID           string              `json:"id"`
	Owner        string              `json:"owner"`
	AlertContent string              `json:"alert_content"`
	Status       Status              `json:"status"`
	CurrentStage Stage               `json:"current_stage,omitempty"`
	Intent       *IntentResult       `json:"intent,omitempty"`
	ContextData  *source.ContextData `json:"context_data,omitempty"`
	Result       *Result             `json:"analysis_result,omitempty"`
	Messages     []Message           `json:"messages"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Clone returns a copy safe to hand to readers while a run mutates the
// original. Messages are copied; nested result pointers are shared but
// treated as immutable once written.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return &cp
}
