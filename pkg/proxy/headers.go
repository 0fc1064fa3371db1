package proxy

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are meaningful only on one connection leg and are never
// forwarded in either direction. The caller-tag header is proxy-internal and
// stripped alongside them.
var hopByHopHeaders = map[string]bool{
	"host":                  true,
	"connection":            true,
	"keep-alive":            true,
	"proxy-authenticate":    true,
	"proxy-authorization":   true,
	"te":                    true,
	"trailers":              true,
	"transfer-encoding":     true,
	"upgrade":               true,
	"x-tokentracker-caller": true,
}

// forwardHeaders copies the inbound headers that may be sent upstream,
// dropping hop-by-hop headers and the caller tag. The Host header is set by
// the upstream client, not here.
func forwardHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for key, values := range in {
		if hopByHopHeaders[strings.ToLower(key)] {
			continue
		}
		out[key] = values
	}
	return out
}

// responseHeaders copies the upstream response headers that may be relayed
// to the client. Framing headers are dropped: the proxy re-frames the body
// itself (Content-Length on the direct-copy path, chunked on the streaming
// path).
func responseHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for key, values := range in {
		switch strings.ToLower(key) {
		case "transfer-encoding", "connection", "keep-alive", "content-length":
			continue
		}
		out[key] = values
	}
	return out
}
