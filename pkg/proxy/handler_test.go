package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tokentracker-hq/relay/pkg/upstream"
	"tokentracker-hq/relay/pkg/usage"
	"tokentracker-hq/relay/pkg/usage/storage"
)

// newTestProxy stands up a fake upstream and a proxy in front of it, backed
// by an in-memory store.
func newTestProxy(t *testing.T, upstreamHandler http.Handler) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()

	upstreamSrv := httptest.NewServer(upstreamHandler)
	t.Cleanup(upstreamSrv.Close)

	u, err := url.Parse(upstreamSrv.URL)
	if err != nil {
		t.Fatalf("parsing upstream URL: %v", err)
	}

	client := upstream.New(upstream.Config{Host: u.Host, Scheme: "http"})
	store := storage.NewMemoryStore()

	proxySrv := httptest.NewServer(NewHandler(client, store, nil))
	t.Cleanup(proxySrv.Close)

	return proxySrv, store
}

// singleRecord waits for exactly one record to land in the store. The write
// happens after the response finishes, so on streaming paths the client can
// observe the end of the body slightly before the record exists.
func singleRecord(t *testing.T, store *storage.MemoryStore) *usage.Record {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		records, err := store.Query(context.Background(), usage.QueryFilter{})
		if err != nil {
			t.Fatalf("Query() failed: %v", err)
		}
		if len(records) == 1 {
			return records[0]
		}
		if len(records) > 1 {
			t.Fatalf("got %d records, want exactly 1", len(records))
		}
		if time.Now().After(deadline) {
			t.Fatal("no usage record written within 2s")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandlerBufferedRelay(t *testing.T) {
	upstreamBody := `{"id":"msg_1","model":"claude-sonnet-4","stop_reason":"end_turn","usage":{"input_tokens":11,"output_tokens":22,"cache_creation_input_tokens":3,"cache_read_input_tokens":4},"content":[{"type":"text","text":"hi"}]}`

	proxySrv, store := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("upstream path = %q, want /v1/messages", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Request-Id", "req_abc")
		fmt.Fprint(w, upstreamBody)
	}))

	reqBody := `{"model":"claude-sonnet-4","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`
	resp, err := http.Post(proxySrv.URL+"/v1/messages", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != upstreamBody {
		t.Errorf("body not relayed verbatim:\ngot  %q\nwant %q", body, upstreamBody)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Request-Id"); got != "req_abc" {
		t.Errorf("Request-Id = %q, want req_abc", got)
	}

	rec := singleRecord(t, store)
	if rec.Model != "claude-sonnet-4" {
		t.Errorf("Model = %q, want claude-sonnet-4", rec.Model)
	}
	if rec.Endpoint != "/v1/messages" {
		t.Errorf("Endpoint = %q, want /v1/messages", rec.Endpoint)
	}
	if rec.InputTokens != 11 || rec.OutputTokens != 22 {
		t.Errorf("tokens = (%d, %d), want (11, 22)", rec.InputTokens, rec.OutputTokens)
	}
	if rec.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", rec.StatusCode)
	}
	if rec.RequestID != "msg_1" {
		t.Errorf("RequestID = %q, want msg_1", rec.RequestID)
	}
	if rec.Error != "" {
		t.Errorf("Error = %q, want empty", rec.Error)
	}
}

func TestHandlerStreamingRelay(t *testing.T) {
	proxySrv, store := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range strings.Split(sampleStream, "\r\n") {
			fmt.Fprintf(w, "%s\r\n", line)
			flusher.Flush()
		}
	}))

	reqBody := `{"model":"claude-sonnet-4","stream":true,"messages":[]}`
	resp, err := http.Post(proxySrv.URL+"/v1/messages", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading streamed body: %v", err)
	}
	if !strings.Contains(string(body), `"type":"message_start"`) {
		t.Errorf("streamed body missing events: %q", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	rec := singleRecord(t, store)
	if rec.InputTokens != 25 || rec.OutputTokens != 42 {
		t.Errorf("tokens = (%d, %d), want (25, 42)", rec.InputTokens, rec.OutputTokens)
	}
	if rec.StopReason != "end_turn" {
		t.Errorf("StopReason = %q, want end_turn", rec.StopReason)
	}
	if rec.RequestID != "msg_0123" {
		t.Errorf("RequestID = %q, want msg_0123", rec.RequestID)
	}
}

// A client that walks away mid-stream still gets metered: exactly one
// record, carrying whatever usage arrived before the disconnect.
func TestHandlerClientDisconnectMidStream(t *testing.T) {
	messageStart := "event: message_start\n" +
		`data: {"type":"message_start","message":{"id":"msg_dc","model":"claude-sonnet-4","usage":{"input_tokens":25}}}` + "\n\n"

	upstreamDone := make(chan struct{})
	proxySrv, store := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(upstreamDone)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, messageStart)
		flusher.Flush()

		// Keep pinging until the proxy drops the upstream request.
		for {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
				fmt.Fprint(w, "data: {\"type\":\"ping\"}\n\n")
				flusher.Flush()
			}
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, proxySrv.URL+"/v1/messages",
		strings.NewReader(`{"model":"claude-sonnet-4","stream":true,"messages":[]}`))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}

	// Read past message_start, then hang up.
	partial := make([]byte, len(messageStart))
	if _, err := io.ReadFull(resp.Body, partial); err != nil {
		t.Fatalf("reading stream head: %v", err)
	}
	if !strings.Contains(string(partial), `"type":"message_start"`) {
		t.Fatalf("stream head = %q, want message_start event", partial)
	}
	cancel()
	resp.Body.Close()

	select {
	case <-upstreamDone:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream kept streaming after the client disconnect")
	}

	rec := singleRecord(t, store)
	if rec.Model != "claude-sonnet-4" || rec.InputTokens != 25 {
		t.Errorf("record = (model %q, input %d), want (claude-sonnet-4, 25)", rec.Model, rec.InputTokens)
	}
	if rec.OutputTokens != 0 {
		t.Errorf("OutputTokens = %d, want 0 for a stream cut before message_delta", rec.OutputTokens)
	}
}

func TestHandlerUpstreamUnreachable(t *testing.T) {
	// A port nothing listens on. The proxy must answer 502 itself and still
	// write a record with no status code.
	client := upstream.New(upstream.Config{Host: "127.0.0.1:1", Scheme: "http"})
	store := storage.NewMemoryStore()
	proxySrv := httptest.NewServer(NewHandler(client, store, nil))
	defer proxySrv.Close()

	resp, err := http.Post(proxySrv.URL+"/v1/messages", "application/json",
		strings.NewReader(`{"model":"claude-sonnet-4"}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}

	var parsed struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("502 body is not JSON: %v", err)
	}
	if parsed.Error.Type != "proxy_error" {
		t.Errorf("error type = %q, want proxy_error", parsed.Error.Type)
	}
	if !strings.HasPrefix(parsed.Error.Message, "Proxy error:") {
		t.Errorf("error message = %q, want Proxy error prefix", parsed.Error.Message)
	}

	rec := singleRecord(t, store)
	if rec.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 (no upstream response)", rec.StatusCode)
	}
	if rec.Error == "" {
		t.Error("Error is empty, want connection diagnostic")
	}
	if rec.Model != "claude-sonnet-4" {
		t.Errorf("Model = %q, want claude-sonnet-4 from request body", rec.Model)
	}
}

// A non-200 answer to a stream-requesting client takes the buffered path and
// captures the upstream error message.
func TestHandlerErrorStatusOnStreamRequest(t *testing.T) {
	proxySrv, store := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"Too many requests"}}`)
	}))

	resp, err := http.Post(proxySrv.URL+"/v1/messages", "application/json",
		strings.NewReader(`{"model":"claude-sonnet-4","stream":true}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}

	rec := singleRecord(t, store)
	if rec.StatusCode != 429 {
		t.Errorf("StatusCode = %d, want 429", rec.StatusCode)
	}
	if rec.Error != "Too many requests" {
		t.Errorf("Error = %q, want upstream message", rec.Error)
	}
	if rec.TotalTokens() != 0 {
		t.Errorf("TotalTokens() = %d, want 0", rec.TotalTokens())
	}
}

func TestHandlerCallerAndKeyHint(t *testing.T) {
	proxySrv, store := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(CallerHeader); got != "" {
			t.Errorf("caller header leaked upstream: %q", got)
		}
		if got := r.Header.Get(APIKeyHeader); got != "sk-ant-0123456789" {
			t.Errorf("api key forwarded as %q, want full value", got)
		}
		fmt.Fprint(w, `{"id":"msg_2","usage":{"input_tokens":1,"output_tokens":1}}`)
	}))

	req, _ := http.NewRequest(http.MethodPost, proxySrv.URL+"/v1/messages",
		strings.NewReader(`{"model":"claude-haiku-3"}`))
	req.Header.Set(CallerHeader, "ci-pipeline")
	req.Header.Set(APIKeyHeader, "sk-ant-0123456789")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	rec := singleRecord(t, store)
	if rec.Caller != "ci-pipeline" {
		t.Errorf("Caller = %q, want ci-pipeline", rec.Caller)
	}
	if rec.APIKeyHint != "23456789" {
		t.Errorf("APIKeyHint = %q, want last 8 characters", rec.APIKeyHint)
	}
}

func TestHandlerShortKeyNoHint(t *testing.T) {
	proxySrv, store := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))

	req, _ := http.NewRequest(http.MethodPost, proxySrv.URL+"/v1/messages",
		strings.NewReader(`{}`))
	req.Header.Set(APIKeyHeader, "short")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if rec := singleRecord(t, store); rec.APIKeyHint != "" {
		t.Errorf("APIKeyHint = %q, want empty for a short credential", rec.APIKeyHint)
	}
}

func TestHandlerConcurrentRequests(t *testing.T) {
	proxySrv, store := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"msg_n","usage":{"input_tokens":5,"output_tokens":5}}`)
	}))

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			resp, err := http.Post(proxySrv.URL+"/v1/messages", "application/json",
				strings.NewReader(`{"model":"claude-sonnet-4"}`))
			if err != nil {
				t.Errorf("POST failed: %v", err)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for {
		count, err := store.Count(context.Background())
		if err != nil {
			t.Fatalf("Count() failed: %v", err)
		}
		if count == n {
			break
		}
		if count > n {
			t.Fatalf("Count() = %d, want %d (exactly one record per request)", count, n)
		}
		if time.Now().After(deadline) {
			t.Fatalf("Count() = %d after 2s, want %d", count, n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthHandlerGET(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("GET %s leaked past the health handler", HealthPath)
	})
	srv := httptest.NewServer(NewHealthHandler(next))
	defer srv.Close()

	resp, err := http.Get(srv.URL + HealthPath)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var parsed map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("health body is not JSON: %v", err)
	}
	if parsed["status"] != "ok" || parsed["proxy"] != "TokenTracker" {
		t.Errorf("health body = %v", parsed)
	}
}

// Only GET on the health path is answered locally. Every other method must
// reach the upstream and be metered like any other request.
func TestHealthHandlerNonGETProxied(t *testing.T) {
	upstreamBody := `{"id":"msg_h","model":"claude-sonnet-4","stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":7}}`

	var upstreamHits int32
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamHits, 1)
		if r.Method != http.MethodPost {
			t.Errorf("upstream method = %q, want POST", r.Method)
		}
		if r.URL.Path != HealthPath {
			t.Errorf("upstream path = %q, want %s", r.URL.Path, HealthPath)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, upstreamBody)
	}))
	defer upstreamSrv.Close()

	u, err := url.Parse(upstreamSrv.URL)
	if err != nil {
		t.Fatalf("parsing upstream URL: %v", err)
	}

	client := upstream.New(upstream.Config{Host: u.Host, Scheme: "http"})
	store := storage.NewMemoryStore()

	srv := httptest.NewServer(NewHealthHandler(NewHandler(client, store, nil)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+HealthPath, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("POST status = %d, want 200", resp.StatusCode)
	}
	if string(body) != upstreamBody {
		t.Errorf("POST body = %q, want the upstream body verbatim", body)
	}
	if atomic.LoadInt32(&upstreamHits) != 1 {
		t.Errorf("upstream hits = %d, want 1", upstreamHits)
	}

	rec := singleRecord(t, store)
	if rec.Model != "claude-sonnet-4" || rec.OutputTokens != 7 {
		t.Errorf("record = model %q, output %d; want claude-sonnet-4, 7", rec.Model, rec.OutputTokens)
	}
}
