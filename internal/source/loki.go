package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// Loki fetches log lines from a Grafana Loki endpoint.
type Loki struct {
	name       string
	endpoint   string
	tenantID   string
	limit      int
	httpClient *http.Client
}

const lokiDefaultLimit = 200

// NewLoki creates a Loki source. tenantID is optional (multi-tenant setups).
func NewLoki(name, endpoint, tenantID string) *Loki {
	return &Loki{
		name:     name,
		endpoint: endpoint,
		tenantID: tenantID,
		limit:    lokiDefaultLimit,
		// Per-request deadlines come from the aggregator's context.
		httpClient: &http.Client{},
	}
}

func (l *Loki) Name() string { return l.name }

// logQL builds a query from free-text keywords: match any stream and
// filter lines on the alternation of keywords. Keywords containing
// LogQL-significant characters are dropped rather than escaped.
func logQL(keywords []string) string {
	var safe []string
	for _, kw := range keywords {
		if kw == "" || strings.ContainsAny(kw, `{}"|\`) {
			continue
		}
		safe = append(safe, kw)
	}
	if len(safe) == 0 {
		return `{job=~".+"}`
	}
	return fmt.Sprintf(`{job=~".+"} |~ %q`, strings.Join(safe, "|"))
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

type lokiResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []lokiStream `json:"result"`
	} `json:"data"`
}

// Fetch queries loki/api/v1/query_range and flattens the streams into
// normalized log entries.
func (l *Loki) Fetch(ctx context.Context, q Query, tr TimeRange) (*FetchResult, error) {
	u, err := url.Parse(l.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "loki/api/v1/query_range")

	params := u.Query()
	params.Set("query", logQL(q.Keywords))
	params.Set("start", tr.Start.Format(time.RFC3339Nano))
	params.Set("end", tr.End.Format(time.RFC3339Nano))
	params.Set("limit", strconv.Itoa(l.limit))
	params.Set("direction", "backward")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if l.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", l.tenantID)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("loki query: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loki returned %d: %s", resp.StatusCode, string(body))
	}

	var lokiResp lokiResponse
	if err := json.Unmarshal(body, &lokiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if lokiResp.Status != "success" {
		return nil, fmt.Errorf("loki query failed: %s", string(body))
	}

	out := &FetchResult{}
	for _, stream := range lokiResp.Data.Result {
		origin := stream.Stream["job"]
		if origin == "" {
			origin = stream.Stream["app"]
		}
		for _, entry := range stream.Values {
			if len(entry) < 2 {
				continue
			}
			ns, err := strconv.ParseInt(entry[0], 10, 64)
			if err != nil {
				continue
			}
			out.Logs = append(out.Logs, LogEntry{
				Timestamp: time.Unix(0, ns).UTC(),
				Level:     sniffLevel(entry[1]),
				Message:   entry[1],
				Source:    l.name + ": " + origin,
			})
		}
	}
	return out, nil
}

// sniffLevel guesses a severity from the line text. Loki streams carry
// no structured level field.
func sniffLevel(line string) string {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error"):
		return "ERROR"
	case strings.Contains(lower, "warn"):
		return "WARN"
	case strings.Contains(lower, "debug"):
		return "DEBUG"
	}
	return "INFO"
}
