package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Elasticsearch fetches log documents from an ELK-style cluster.
type Elasticsearch struct {
	name       string
	endpoint   string
	index      string
	size       int
	httpClient *http.Client
}

const esDefaultSize = 100

// NewElasticsearch creates an Elasticsearch source. index may be a
// pattern; "*" searches everything.
func NewElasticsearch(name, endpoint, index string) *Elasticsearch {
	if index == "" {
		index = "*"
	}
	return &Elasticsearch{
		name:       name,
		endpoint:   endpoint,
		index:      index,
		size:       esDefaultSize,
		httpClient: &http.Client{},
	}
}

func (e *Elasticsearch) Name() string { return e.name }

type esHit struct {
	Index  string `json:"_index"`
	Source struct {
		Timestamp string `json:"@timestamp"`
		Level     string `json:"level"`
		Message   string `json:"message"`
		Source    string `json:"source"`
	} `json:"_source"`
}

type esResponse struct {
	Hits struct {
		Hits []esHit `json:"hits"`
	} `json:"hits"`
}

// Fetch runs a bool query: a @timestamp range filter plus a query_string
// match on the message field when keywords are present.
func (e *Elasticsearch) Fetch(ctx context.Context, q Query, tr TimeRange) (*FetchResult, error) {
	must := []map[string]any{
		{"range": map[string]any{"@timestamp": map[string]any{
			"gte": tr.Start.Format(time.RFC3339),
			"lte": tr.End.Format(time.RFC3339),
		}}},
	}
	if len(q.Keywords) > 0 {
		must = append(must, map[string]any{"query_string": map[string]any{
			"query":         strings.Join(q.Keywords, " OR "),
			"default_field": "message",
		}})
	}

	queryBody := map[string]any{
		"query": map[string]any{"bool": map[string]any{"must": must}},
		"sort":  []map[string]any{{"@timestamp": map[string]any{"order": "desc"}}},
		"size":  e.size,
	}
	payload, err := json.Marshal(queryBody)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	u, err := url.Parse(e.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, e.index, "_search")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch query: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elasticsearch returned %d: %s", resp.StatusCode, string(body))
	}

	var esResp esResponse
	if err := json.Unmarshal(body, &esResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &FetchResult{}
	for _, hit := range esResp.Hits.Hits {
		ts, err := time.Parse(time.RFC3339, hit.Source.Timestamp)
		if err != nil {
			continue
		}
		level := hit.Source.Level
		if level == "" {
			level = "INFO"
		}
		origin := hit.Source.Source
		if origin == "" {
			origin = hit.Index
		}
		out.Logs = append(out.Logs, LogEntry{
			Timestamp: ts.UTC(),
			Level:     level,
			Message:   hit.Source.Message,
			Source:    e.name + ": " + origin,
		})
	}
	return out, nil
}
