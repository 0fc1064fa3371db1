package proxy

import (
	"encoding/json"
	"io"
	"net/http"

	"tokentracker-hq/relay/pkg/usage"
)

const (
	// CallerHeader is the optional caller-identification header. It is
	// captured into the usage record and stripped before forwarding.
	CallerHeader = "X-TokenTracker-Caller"

	// APIKeyHeader is the credential header whose trailing characters are
	// captured as a hint. The full value is forwarded untouched and never
	// stored.
	APIKeyHeader = "x-api-key"

	// apiKeyHintLength is how many trailing credential characters the
	// hint keeps.
	apiKeyHintLength = 8
)

// requestContext carries the per-request state extracted from one inbound
// request. It is created at parse time, never shared across requests, and
// discarded once the usage record is written.
type requestContext struct {
	method     string
	path       string
	header     http.Header
	body       []byte
	stream     bool
	model      string
	caller     string
	apiKeyHint string
}

// newRequestContext reads the request body and extracts the metadata the
// relay needs. Malformed JSON bodies are not an error: the model stays
// "unknown" and streaming stays off.
func newRequestContext(r *http.Request) (*requestContext, error) {
	body, err := readRequestBody(r)
	if err != nil {
		return nil, err
	}

	rc := &requestContext{
		method:     r.Method,
		path:       r.URL.RequestURI(),
		header:     r.Header,
		body:       body,
		model:      usage.UnknownModel,
		caller:     r.Header.Get(CallerHeader),
		apiKeyHint: apiKeyHint(r.Header.Get(APIKeyHeader)),
	}

	if len(body) > 0 {
		var parsed struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil {
			if parsed.Model != "" {
				rc.model = parsed.Model
			}
			rc.stream = parsed.Stream
		}
	}

	return rc, nil
}

// readRequestBody reads the full inbound body. A request without a declared
// content length is treated as having an empty body, matching the upstream
// API's conventions.
func readRequestBody(r *http.Request) ([]byte, error) {
	if r.ContentLength <= 0 {
		return nil, nil
	}
	return io.ReadAll(io.LimitReader(r.Body, r.ContentLength))
}

// apiKeyHint returns the last 8 characters of the credential, or empty if
// the credential is shorter. The hint is coarse identification only; it is
// never reversible to the full key.
func apiKeyHint(key string) string {
	if len(key) < apiKeyHintLength {
		return ""
	}
	return key[len(key)-apiKeyHintLength:]
}
