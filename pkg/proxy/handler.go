package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tokentracker-hq/relay/pkg/telemetry/metrics"
	"tokentracker-hq/relay/pkg/upstream"
	"tokentracker-hq/relay/pkg/usage"
	"tokentracker-hq/relay/pkg/usage/storage"
)

// appendTimeout bounds how long a worker waits for its usage record write.
// The write happens after the response is finished, so this never delays
// the client.
const appendTimeout = 5 * time.Second

// Handler is the per-request orchestrator. It accepts one inbound request,
// produces exactly one response to the client, and writes exactly one usage
// record, regardless of the upstream outcome.
type Handler struct {
	upstream *upstream.Client
	store    storage.Store
	metrics  *metrics.ProxyMetrics
	logger   *slog.Logger
}

// NewHandler creates the proxy request handler. The metrics collector may
// be nil when metrics are disabled.
func NewHandler(up *upstream.Client, store storage.Store, pm *metrics.ProxyMetrics) *Handler {
	return &Handler{
		upstream: up,
		store:    store,
		metrics:  pm,
		logger:   slog.Default().With("component", "proxy"),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	rc, err := newRequestContext(r)
	if err != nil {
		// The client vanished while sending its body. There is nobody
		// to answer and no upstream contact was attempted.
		h.logger.Warn("failed to read request body", "error", err, "path", r.URL.Path)
		return
	}

	record := &usage.Record{
		Model:      rc.model,
		Endpoint:   rc.path,
		Caller:     rc.caller,
		APIKeyHint: rc.apiKeyHint,
	}

	resp, err := h.upstream.Forward(r.Context(), rc.method, rc.path, forwardHeaders(rc.header), rc.body)
	if err != nil {
		h.logger.Error("failed to reach upstream",
			"host", h.upstream.Host(),
			"path", rc.path,
			"error", err,
		)
		writeProxyError(w, http.StatusBadGateway, fmt.Sprintf("Proxy error: %v", err))
		record.Error = fmt.Sprintf("connection failed: %v", err)
		h.finalize(record, metrics.ModeBuffered, start)
		return
	}
	defer resp.Body.Close()

	// The response path is chosen once, immutably: only a 200 with
	// streaming requested takes the relay. Error statuses returned to a
	// stream-requesting client are still relayed faithfully, with their
	// length known, not forced into chunked framing.
	if rc.stream && resp.StatusCode == http.StatusOK {
		h.handleStreaming(w, rc, resp, record, start)
	} else {
		h.handleBuffered(w, rc, resp, record, start)
	}
}

// handleBuffered relays a complete buffered response byte-for-byte, then
// parses the buffer for usage.
func (h *Handler) handleBuffered(w http.ResponseWriter, rc *requestContext, resp *http.Response, record *usage.Record, start time.Time) {
	record.StatusCode = resp.StatusCode

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// Nothing has been written to the client yet, so a proxy
		// error response is still possible.
		h.logger.Error("failed to read upstream response", "path", rc.path, "error", err)
		writeProxyError(w, http.StatusBadGateway, fmt.Sprintf("Proxy error: %v", err))
		record.Error = fmt.Sprintf("upstream read failed: %v", err)
		h.finalize(record, metrics.ModeBuffered, start)
		return
	}

	header := w.Header()
	for key, values := range responseHeaders(resp.Header) {
		header[key] = values
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		h.logger.Warn("client disconnected before response was written", "path", rc.path)
	}

	extractFromMessageBody(body, resp.StatusCode, record)
	h.finalize(record, metrics.ModeBuffered, start)
}

// handleStreaming relays a streaming response through the chunked relay,
// then finalizes extraction over whatever was accumulated. Every terminal
// transfer state converges here on exactly one record write.
func (h *Handler) handleStreaming(w http.ResponseWriter, rc *requestContext, resp *http.Response, record *usage.Record, start time.Time) {
	record.StatusCode = resp.StatusCode

	relay := newStreamRelay(resp.StatusCode, resp.Header, resp.Body, h.logger)

	var state relayState
	switch v := w.(type) {
	case http.Hijacker:
		conn, bufrw, err := v.Hijack()
		if err != nil {
			// Headers have not been sent; fall back to the
			// server-framed path if flushing is available.
			if flusher, ok := w.(http.Flusher); ok {
				state = relay.runFlushed(w, flusher)
				break
			}
			writeProxyError(w, http.StatusBadGateway, fmt.Sprintf("Proxy error: %v", err))
			record.Error = fmt.Sprintf("hijack failed: %v", err)
			h.finalize(record, metrics.ModeStreaming, start)
			return
		}
		defer conn.Close()
		state = relay.run(bufrw.Writer)
	default:
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeProxyError(w, http.StatusBadGateway, "Proxy error: streaming unsupported by connection")
			record.Error = "streaming unsupported by connection"
			h.finalize(record, metrics.ModeStreaming, start)
			return
		}
		state = relay.runFlushed(w, flusher)
	}

	relay.extractor.Finalize()
	relay.extractor.apply(record)

	if state == stateClientGone && h.metrics != nil {
		h.metrics.RecordClientDisconnect()
	}

	h.logger.Debug("stream relay finished",
		"state", state.String(),
		"path", rc.path,
		"bytes_relayed", relay.extractor.Accumulated(),
	)

	h.finalize(record, metrics.ModeStreaming, start)
}

// finalize appends the usage record and updates metrics. This runs on every
// exit path of every request that obtained, or failed to obtain, an
// upstream response; a storage failure is surfaced to the operator but
// never to the client.
func (h *Handler) finalize(record *usage.Record, mode string, start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	if err := h.store.Append(ctx, record); err != nil {
		h.logger.Error("failed to persist usage record",
			"model", record.Model,
			"endpoint", record.Endpoint,
			"error", err,
		)
		if h.metrics != nil {
			h.metrics.RecordAppendFailure()
		}
	} else {
		h.logger.Info("usage logged",
			"model", record.Model,
			"input_tokens", record.InputTokens,
			"output_tokens", record.OutputTokens,
			"cache_creation_tokens", record.CacheCreationInputTokens,
			"cache_read_tokens", record.CacheReadInputTokens,
			"status", record.StatusCode,
		)
	}

	if h.metrics != nil {
		h.metrics.RecordRequest(record.Model, mode, strconv.Itoa(record.StatusCode), time.Since(start))
		h.metrics.RecordTokens(record.Model,
			record.InputTokens, record.OutputTokens,
			record.CacheCreationInputTokens, record.CacheReadInputTokens)
	}
}
