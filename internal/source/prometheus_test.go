package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestPromQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{
			name: "no hints falls back to up",
			q:    Query{Keywords: []string{"something", "odd"}},
			want: []string{"up"},
		},
		{
			name: "cpu keyword",
			q:    Query{Keywords: []string{"cpu", "spike"}},
			want: []string{`rate(node_cpu_seconds_total{mode!="idle"}[5m])`},
		},
		{
			name: "suggested metric hints count too",
			q:    Query{SuggestedMetrics: []string{"error_rate"}},
			want: []string{`rate(http_requests_total{code=~"5.."}[5m])`},
		},
		{
			name: "connection maps to network query",
			q:    Query{Keywords: []string{"connection", "refused"}},
			want: []string{`rate(node_network_receive_bytes_total[5m])`},
		},
		{
			name: "multiple hints accumulate",
			q:    Query{Keywords: []string{"memory", "disk"}},
			want: []string{`node_memory_MemAvailable_bytes`, `node_filesystem_avail_bytes`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := promQL(tt.q); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("promQL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrometheus_Fetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query_range" {
			t.Errorf("path = %q, want /api/v1/query_range", r.URL.Path)
		}
		if got := r.URL.Query().Get("step"); got != "60s" {
			t.Errorf("step = %q, want 60s", got)
		}
		if got := r.Header.Get("X-Scope-OrgID"); got != "team-a" {
			t.Errorf("X-Scope-OrgID = %q, want team-a", got)
		}
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"matrix","result":[
			{"metric":{"__name__":"node_memory_MemAvailable_bytes","instance":"host-1"},
			 "values":[[1767225600,"1024"],[1767225660,"2048"]]}
		]}}`)
	}))
	defer srv.Close()

	p := NewPrometheus("prometheus", srv.URL, "team-a")
	result, err := p.Fetch(context.Background(), Query{Keywords: []string{"memory"}}, Window(time.Hour))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(result.Metrics) != 1 {
		t.Fatalf("series = %d, want 1", len(result.Metrics))
	}
	s := result.Metrics[0]
	if s.Name != "node_memory_MemAvailable_bytes" {
		t.Errorf("name = %q", s.Name)
	}
	if _, ok := s.Labels["__name__"]; ok {
		t.Error("__name__ should be stripped from labels")
	}
	if s.Labels["instance"] != "host-1" {
		t.Errorf("labels = %v", s.Labels)
	}
	if len(s.Points) != 2 {
		t.Fatalf("points = %d, want 2", len(s.Points))
	}
	if s.Points[1].Value != 2048 {
		t.Errorf("value = %v, want 2048", s.Points[1].Value)
	}
	if got := s.Points[0].Timestamp; !got.Equal(time.Unix(1767225600, 0)) {
		t.Errorf("timestamp = %v", got)
	}
}

func TestPrometheus_FetchToleratesPartialQueryFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"matrix","result":[
			{"metric":{"__name__":"node_filesystem_avail_bytes"},"values":[[1767225600,"7"]]}
		]}}`)
	}))
	defer srv.Close()

	p := NewPrometheus("prometheus", srv.URL, "")
	result, err := p.Fetch(context.Background(), Query{Keywords: []string{"memory", "disk"}}, Window(time.Hour))
	if err != nil {
		t.Fatalf("Fetch should tolerate one failed query: %v", err)
	}
	if len(result.Metrics) != 1 {
		t.Errorf("series = %d, want 1 from the surviving query", len(result.Metrics))
	}
}

func TestPrometheus_FetchAllQueriesFail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewPrometheus("prometheus", srv.URL, "")
	if _, err := p.Fetch(context.Background(), Query{}, Window(time.Hour)); err == nil {
		t.Fatal("expected error when every query fails")
	}
}

func TestPrometheus_FetchSkipsUnparseableSamples(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"matrix","result":[
			{"metric":{},"values":[[1767225600,"NaN-ish"],[1767225660,"3.5"]]}
		]}}`)
	}))
	defer srv.Close()

	p := NewPrometheus("prometheus", srv.URL, "")
	result, err := p.Fetch(context.Background(), Query{}, Window(time.Hour))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(result.Metrics) != 1 {
		t.Fatalf("series = %d, want 1", len(result.Metrics))
	}
	if result.Metrics[0].Name != "unknown" {
		t.Errorf("name = %q, want unknown for unnamed series", result.Metrics[0].Name)
	}
	if len(result.Metrics[0].Points) != 1 {
		t.Errorf("points = %d, want 1 (bad sample dropped)", len(result.Metrics[0].Points))
	}
}
