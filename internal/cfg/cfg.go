package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	LLMProvider   string
	ClaudeAPIKey  string
	ClaudeModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	DatabaseURL string

	LokiEndpoint          string
	LokiTenantID          string
	PrometheusEndpoint    string
	PrometheusTenantID    string
	ElasticsearchEndpoint string
	ElasticsearchIndex    string

	CollectWindowMinutes int
	SourceTimeoutSeconds int
	CollectWorkers       int
	MaxLogEntries        int

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.LLMProvider, "llm-provider", "claude", "LLM provider for root-cause analysis (claude|openai)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "API key for the OpenAI LLM provider")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "OpenAI-compatible API base URL (empty = api.openai.com)")
	fs.StringVar(&c.OpenAIModel, "openai-model", "gpt-4o", "OpenAI model to use")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")

	fs.StringVar(&c.LokiEndpoint, "loki-endpoint", "", "Loki endpoint for log collection")
	fs.StringVar(&c.LokiTenantID, "loki-tenant-id", "", "Loki tenant ID for multi-tenant setups")
	fs.StringVar(&c.PrometheusEndpoint, "prometheus-endpoint", "", "Prometheus endpoint for metric collection")
	fs.StringVar(&c.PrometheusTenantID, "prometheus-tenant-id", "", "Prometheus tenant ID for multi-tenant setups")
	fs.StringVar(&c.ElasticsearchEndpoint, "elasticsearch-endpoint", "", "Elasticsearch endpoint for log collection")
	fs.StringVar(&c.ElasticsearchIndex, "elasticsearch-index", "logs-*", "Elasticsearch index pattern to search")

	fs.IntVar(&c.CollectWindowMinutes, "collect-window-minutes", 30, "telemetry lookback window in minutes (1..1440)")
	fs.IntVar(&c.SourceTimeoutSeconds, "source-timeout-seconds", 10, "per-source fetch timeout in seconds (1..120)")
	fs.IntVar(&c.CollectWorkers, "collect-workers", 4, "max concurrent source fetches (1..32)")
	fs.IntVar(&c.MaxLogEntries, "max-log-entries", 200, "max merged log entries kept per collection (1..10000)")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	switch c.LLMProvider {
	case "claude":
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required when LLM_PROVIDER=claude"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required when LLM_PROVIDER=claude"))
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when LLM_PROVIDER=openai"))
		}
		if c.OpenAIModel == "" {
			errs = append(errs, errors.New("OPENAI_MODEL is required when LLM_PROVIDER=openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid LLM_PROVIDER %q (must be claude or openai)", c.LLMProvider))
	}

	// At least one telemetry source must be configured for data collection
	if c.LokiEndpoint == "" && c.PrometheusEndpoint == "" && c.ElasticsearchEndpoint == "" {
		errs = append(errs, errors.New("at least one of LOKI_ENDPOINT, PROMETHEUS_ENDPOINT, ELASTICSEARCH_ENDPOINT is required"))
	}
	if c.ElasticsearchEndpoint != "" && c.ElasticsearchIndex == "" {
		errs = append(errs, errors.New("ELASTICSEARCH_INDEX is required when ELASTICSEARCH_ENDPOINT is set"))
	}

	if c.CollectWindowMinutes <= 0 || c.CollectWindowMinutes > 1440 {
		errs = append(errs, fmt.Errorf("invalid COLLECT_WINDOW_MINUTES %d (must be 1..1440)", c.CollectWindowMinutes))
	}
	if c.SourceTimeoutSeconds <= 0 || c.SourceTimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("invalid SOURCE_TIMEOUT_SECONDS %d (must be 1..120)", c.SourceTimeoutSeconds))
	}
	if c.CollectWorkers <= 0 || c.CollectWorkers > 32 {
		errs = append(errs, fmt.Errorf("invalid COLLECT_WORKERS %d (must be 1..32)", c.CollectWorkers))
	}
	if c.MaxLogEntries <= 0 || c.MaxLogEntries > 10000 {
		errs = append(errs, fmt.Errorf("invalid MAX_LOG_ENTRIES %d (must be 1..10000)", c.MaxLogEntries))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
