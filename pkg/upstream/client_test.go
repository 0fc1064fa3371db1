package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing URL: %v", err)
	}

	return New(Config{Host: u.Host, Scheme: "http"})
}

func TestForwardPassesRequestThrough(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.RequestURI() != "/v1/messages?beta=true" {
			t.Errorf("request URI = %q, query not preserved", r.URL.RequestURI())
		}
		if got := r.Header.Get("Anthropic-Version"); got != "2023-06-01" {
			t.Errorf("Anthropic-Version = %q, header not forwarded", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"model":"claude-sonnet-4"}` {
			t.Errorf("body = %q", body)
		}
		w.Write([]byte("ok"))
	}))

	header := http.Header{"Anthropic-Version": []string{"2023-06-01"}}
	resp, err := client.Forward(context.Background(), http.MethodPost,
		"/v1/messages?beta=true", header, []byte(`{"model":"claude-sonnet-4"}`))
	if err != nil {
		t.Fatalf("Forward() failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

// Redirects belong to the client, not the proxy.
func TestForwardDoesNotFollowRedirects(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusTemporaryRedirect)
			return
		}
		t.Errorf("redirect was followed to %q", r.URL.Path)
	}))

	resp, err := client.Forward(context.Background(), http.MethodGet, "/old", http.Header{}, nil)
	if err != nil {
		t.Fatalf("Forward() failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307 relayed as-is", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != "/new" {
		t.Errorf("Location = %q, want /new", got)
	}
}

func TestForwardCancelledContext(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Forward(ctx, http.MethodGet, "/v1/models", http.Header{}, nil); err == nil {
		t.Error("Forward() with cancelled context succeeded, want error")
	}
}

func TestDefaults(t *testing.T) {
	c := New(Config{})
	if c.Host() != DefaultHost {
		t.Errorf("Host() = %q, want %q", c.Host(), DefaultHost)
	}
	if c.scheme != "https" {
		t.Errorf("scheme = %q, want https", c.scheme)
	}
}
