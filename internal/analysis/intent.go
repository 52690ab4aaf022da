package analysis

import "strings"

// intent.go derives IntentResult from raw alert text with keyword
// heuristics. The LLM is deliberately not consulted here: intent runs
// before any context exists, and the classification only steers which
// telemetry to collect.

var alertTypeHints = []struct {
	alertType string
	hints     []string
}{
	{"performance", []string{"cpu", "memory", "disk", "load", "latency", "slow"}},
	{"error", []string{"error", "exception", "fail", "panic", "crash"}},
	{"availability", []string{"down", "unreachable", "timeout", "unavailable", "5xx"}},
	{"network", []string{"network", "connection", "dns", "packet"}},
}

var metricsByAlertType = map[string][]string{
	"performance":  {"cpu_usage", "memory_usage", "disk_usage"},
	"availability": {"up", "response_time", "error_rate"},
	"network":      {"network_in", "network_out", "connection_count"},
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "was": {}, "at": {}, "on": {},
	"in": {}, "for": {}, "to": {}, "of": {}, "and": {}, "or": {}, "with": {},
	"has": {}, "have": {}, "been": {},
}

const (
	maxKeywords   = 10
	maxSummaryLen = 100
)

// UnderstandIntent classifies the alert and extracts search keywords.
func UnderstandIntent(alertContent string) *IntentResult {
	lower := strings.ToLower(alertContent)

	alertType := "general"
	for _, candidate := range alertTypeHints {
		for _, hint := range candidate.hints {
			if strings.Contains(lower, hint) {
				alertType = candidate.alertType
				break
			}
		}
		if alertType != "general" {
			break
		}
	}

	var affected string
	for _, word := range strings.Fields(alertContent) {
		trimmed := strings.Trim(word, ".,;:")
		if strings.HasSuffix(trimmed, "-service") || strings.HasSuffix(trimmed, "-svc") {
			affected = trimmed
			break
		}
	}

	summary := alertContent
	if runes := []rune(summary); len(runes) > maxSummaryLen {
		summary = string(runes[:maxSummaryLen])
	}

	return &IntentResult{
		Summary:          summary,
		AlertType:        alertType,
		AffectedSystem:   affected,
		Keywords:         extractKeywords(alertContent),
		SuggestedMetrics: metricsByAlertType[alertType],
	}
}

// extractKeywords tokenizes the alert text, dropping stop words and
// single characters, capped at maxKeywords.
func extractKeywords(alertContent string) []string {
	normalized := strings.NewReplacer(",", " ", ".", " ", ";", " ", ":", " ").Replace(alertContent)

	keywords := make([]string, 0, maxKeywords)
	for _, word := range strings.Fields(normalized) {
		if len([]rune(word)) < 2 {
			continue
		}
		if _, stop := stopWords[strings.ToLower(word)]; stop {
			continue
		}
		keywords = append(keywords, word)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}
