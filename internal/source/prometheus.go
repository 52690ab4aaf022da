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

// Prometheus fetches metric range data from a Prometheus-compatible
// endpoint (Prometheus, Mimir, Thanos).
type Prometheus struct {
	name       string
	endpoint   string
	tenantID   string
	step       time.Duration
	httpClient *http.Client
}

// NewPrometheus creates a Prometheus source.
func NewPrometheus(name, endpoint, tenantID string) *Prometheus {
	return &Prometheus{
		name:       name,
		endpoint:   endpoint,
		tenantID:   tenantID,
		step:       time.Minute,
		httpClient: &http.Client{},
	}
}

func (p *Prometheus) Name() string { return p.name }

// promQL maps intent keywords and suggested metric names onto a small
// set of PromQL expressions, falling back to "up" when nothing matches.
func promQL(q Query) []string {
	hints := strings.ToLower(strings.Join(q.Keywords, " ") + " " + strings.Join(q.SuggestedMetrics, " "))

	var queries []string
	if strings.Contains(hints, "cpu") {
		queries = append(queries, `rate(node_cpu_seconds_total{mode!="idle"}[5m])`)
	}
	if strings.Contains(hints, "memory") {
		queries = append(queries, `node_memory_MemAvailable_bytes`)
	}
	if strings.Contains(hints, "disk") {
		queries = append(queries, `node_filesystem_avail_bytes`)
	}
	if strings.Contains(hints, "network") || strings.Contains(hints, "connection") {
		queries = append(queries, `rate(node_network_receive_bytes_total[5m])`)
	}
	if strings.Contains(hints, "error_rate") || strings.Contains(hints, "response_time") {
		queries = append(queries, `rate(http_requests_total{code=~"5.."}[5m])`)
	}
	if len(queries) == 0 {
		queries = []string{"up"}
	}
	return queries
}

type promResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string    `json:"metric"`
			Values [][2]json.RawMessage `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// Fetch runs each derived query against /api/v1/query_range and
// concatenates the resulting series. Individual query failures are
// tolerated as long as at least one query succeeds.
func (p *Prometheus) Fetch(ctx context.Context, q Query, tr TimeRange) (*FetchResult, error) {
	out := &FetchResult{}
	var lastErr error
	succeeded := 0

	for _, query := range promQL(q) {
		series, err := p.queryRange(ctx, query, tr)
		if err != nil {
			lastErr = err
			continue
		}
		succeeded++
		out.Metrics = append(out.Metrics, series...)
	}

	if succeeded == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

func (p *Prometheus) queryRange(ctx context.Context, query string, tr TimeRange) ([]MetricSeries, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "api/v1/query_range")

	params := u.Query()
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(tr.Start.Unix(), 10))
	params.Set("end", strconv.FormatInt(tr.End.Unix(), 10))
	params.Set("step", strconv.Itoa(int(p.step.Seconds()))+"s")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if p.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", p.tenantID)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prometheus query: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prometheus returned %d: %s", resp.StatusCode, string(body))
	}

	var promResp promResponse
	if err := json.Unmarshal(body, &promResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if promResp.Status != "success" {
		return nil, fmt.Errorf("prometheus query failed: %s", string(body))
	}

	var out []MetricSeries
	for _, result := range promResp.Data.Result {
		name := result.Metric["__name__"]
		if name == "" {
			name = "unknown"
		}
		labels := make(map[string]string, len(result.Metric))
		for k, v := range result.Metric {
			if k != "__name__" {
				labels[k] = v
			}
		}

		series := MetricSeries{Name: name, Labels: labels}
		for _, pair := range result.Values {
			var ts float64
			var raw string
			if err := json.Unmarshal(pair[0], &ts); err != nil {
				continue
			}
			if err := json.Unmarshal(pair[1], &raw); err != nil {
				continue
			}
			val, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			series.Points = append(series.Points, MetricPoint{
				Timestamp: time.Unix(int64(ts), 0).UTC(),
				Value:     val,
			})
		}
		out = append(out, series)
	}
	return out, nil
}
