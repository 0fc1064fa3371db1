package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequestAndTokens(t *testing.T) {
	registry := prometheus.NewRegistry()
	pm := New("test", registry)

	pm.RecordRequest("claude-sonnet-4", ModeStreaming, "200", 250*time.Millisecond)
	pm.RecordRequest("claude-sonnet-4", ModeStreaming, "200", 100*time.Millisecond)
	pm.RecordTokens("claude-sonnet-4", 100, 50, 10, 5)
	pm.RecordTokens("claude-sonnet-4", 0, 25, 0, 0)

	if got := testutil.ToFloat64(pm.requestsTotal.WithLabelValues("claude-sonnet-4", ModeStreaming, "200")); got != 2 {
		t.Errorf("requests_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(pm.tokensTotal.WithLabelValues("claude-sonnet-4", "input")); got != 100 {
		t.Errorf("tokens_total{type=input} = %v, want 100", got)
	}
	if got := testutil.ToFloat64(pm.tokensTotal.WithLabelValues("claude-sonnet-4", "output")); got != 75 {
		t.Errorf("tokens_total{type=output} = %v, want 75", got)
	}
}

func TestZeroTokensNotCounted(t *testing.T) {
	pm := New("test", prometheus.NewRegistry())
	pm.RecordTokens("claude-sonnet-4", 0, 0, 0, 0)

	// Zero counters stay unexported so failed requests do not create
	// empty series.
	if n := testutil.CollectAndCount(pm.tokensTotal); n != 0 {
		t.Errorf("tokens_total has %d series, want 0", n)
	}
}

func TestFailureCounters(t *testing.T) {
	pm := New("test", prometheus.NewRegistry())

	pm.RecordClientDisconnect()
	pm.RecordAppendFailure()
	pm.RecordAppendFailure()

	if got := testutil.ToFloat64(pm.clientDisconnects); got != 1 {
		t.Errorf("client_disconnects_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.appendFailures); got != 2 {
		t.Errorf("store_append_failures_total = %v, want 2", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	pm := New("", nil)
	pm.RecordRequest("claude-sonnet-4", ModeBuffered, "200", time.Millisecond)

	srv := httptest.NewServer(pm.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "tokentracker_requests_total") {
		t.Errorf("scrape output missing requests counter:\n%s", body)
	}
}
