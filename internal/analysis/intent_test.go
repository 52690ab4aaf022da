package analysis

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestUnderstandIntent_AlertType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		alert string
		want  string
	}{
		{"performance from cpu", "High CPU usage on host-3", "performance"},
		{"performance from latency", "p99 latency above threshold", "performance"},
		{"error from panic", "goroutine panic in worker", "error"},
		{"availability from timeout", "health check timeout for api", "availability"},
		{"network", "DNS resolution issues in cluster", "network"},
		{"general when nothing matches", "something odd happened", "general"},
		{"first matching category wins", "cpu saturation caused timeout", "performance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := UnderstandIntent(tt.alert)
			if got.AlertType != tt.want {
				t.Errorf("AlertType = %q, want %q", got.AlertType, tt.want)
			}
		})
	}
}

func TestUnderstandIntent_SuggestedMetrics(t *testing.T) {
	t.Parallel()

	got := UnderstandIntent("memory pressure on node")
	want := []string{"cpu_usage", "memory_usage", "disk_usage"}
	if !reflect.DeepEqual(got.SuggestedMetrics, want) {
		t.Errorf("SuggestedMetrics = %v, want %v", got.SuggestedMetrics, want)
	}

	if got := UnderstandIntent("unexpected exception in batch job"); len(got.SuggestedMetrics) != 0 {
		t.Errorf("error alerts suggest no metrics, got %v", got.SuggestedMetrics)
	}
}

func TestUnderstandIntent_AffectedSystem(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		alert string
		want  string
	}{
		{"service suffix", "errors spiking in payment-service since 10:00", "payment-service"},
		{"svc suffix", "checkout-svc is down", "checkout-svc"},
		{"punctuation trimmed", "restart billing-service.", "billing-service"},
		{"none found", "disk full on host-12", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := UnderstandIntent(tt.alert)
			if got.AffectedSystem != tt.want {
				t.Errorf("AffectedSystem = %q, want %q", got.AffectedSystem, tt.want)
			}
		})
	}
}

func TestUnderstandIntent_SummaryTruncation(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("異常あり ", 40)
	got := UnderstandIntent(long)
	if n := utf8.RuneCountInString(got.Summary); n > 100 {
		t.Errorf("summary runes = %d, want <= 100", n)
	}
	if !utf8.ValidString(got.Summary) {
		t.Error("summary is not valid UTF-8")
	}

	short := "disk almost full"
	if got := UnderstandIntent(short); got.Summary != short {
		t.Errorf("Summary = %q, want unmodified %q", got.Summary, short)
	}
}

func TestExtractKeywords(t *testing.T) {
	t.Parallel()

	got := extractKeywords("The payment-service is failing with a connection timeout.")
	want := []string{"payment-service", "failing", "connection", "timeout"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("keywords = %v, want %v", got, want)
	}
}

func TestExtractKeywords_Cap(t *testing.T) {
	t.Parallel()

	var words []string
	for i := 0; i < 30; i++ {
		words = append(words, "word"+strings.Repeat("x", i+1))
	}
	got := extractKeywords(strings.Join(words, " "))
	if len(got) != maxKeywords {
		t.Errorf("keywords = %d, want %d", len(got), maxKeywords)
	}
}

func TestExtractKeywords_DropsShortTokens(t *testing.T) {
	t.Parallel()

	got := extractKeywords("x y db up")
	want := []string{"db", "up"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("keywords = %v, want %v", got, want)
	}
}
