// Package source provides telemetry fetchers (Loki, Prometheus,
// Elasticsearch) and the Aggregator that fans out across them to build
// the context for an analysis run.
package source

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LogEntry is a single normalized log line from any log source.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
}

// MetricPoint is one sample of a metric series.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricSeries is a named metric with its label set and samples.
// Series from different sources are concatenated, never merged; callers
// correlate by name and labels.
type MetricSeries struct {
	Name   string            `json:"metric_name"`
	Labels map[string]string `json:"labels,omitempty"`
	Points []MetricPoint     `json:"values"`
}

// TimeRange is the collection window, inclusive on both ends.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Window returns a range of the given duration ending now.
func Window(d time.Duration) TimeRange {
	end := time.Now().UTC()
	return TimeRange{Start: end.Add(-d), End: end}
}

// Query describes what to look for: free-text keywords extracted from
// the alert plus metric names suggested by the intent stage.
type Query struct {
	Keywords         []string
	SuggestedMetrics []string
}

// FetchResult is the raw output of one source. A log source fills Logs,
// a metric source fills Metrics.
type FetchResult struct {
	Logs    []LogEntry
	Metrics []MetricSeries
}

// Source is a single telemetry backend. Fetch must honor ctx deadlines;
// the aggregator supplies a per-source timeout.
type Source interface {
	Name() string
	Fetch(ctx context.Context, q Query, tr TimeRange) (*FetchResult, error)
}

// ContextData is the merged collection output for one run. Logs are
// sorted by timestamp ascending and capped; CollectionStatus records the
// outcome for every configured source.
type ContextData struct {
	Logs             []LogEntry        `json:"logs"`
	Metrics          []MetricSeries    `json:"metrics"`
	CollectionStatus map[string]string `json:"collection_status"`
}

// Per-source collection outcomes.
const (
	StatusOK      = "ok"
	StatusTimeout = "timeout"
	StatusSkipped = "skipped"
)

// StatusError formats a failed fetch outcome with its reason.
func StatusError(reason string) string {
	const maxReason = 120
	if len(reason) > maxReason {
		reason = reason[:maxReason]
	}
	return fmt.Sprintf("error(%s)", reason)
}

// Outcome reduces a collection status to one of ok, timeout, skipped or
// error, stripping the free-text reason. Use this for metric labels;
// the full status stays in CollectionStatus and events.
func Outcome(status string) string {
	if strings.HasPrefix(status, "error(") {
		return "error"
	}
	switch status {
	case StatusOK, StatusTimeout, StatusSkipped:
		return status
	}
	return "error"
}
