package proxy

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"tokentracker-hq/relay/pkg/usage"
)

// dataPrefix marks an event payload line in a text event-stream body.
const dataPrefix = "data: "

// doneSentinel terminates some event streams; it carries no payload.
const doneSentinel = "[DONE]"

// eventUsage is the usage object embedded in stream events.
type eventUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// streamEvent is the subset of event fields the extractor reads. Event
// shapes are discriminated by Type; everything else is ignored.
type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		ID    string     `json:"id"`
		Model string     `json:"model"`
		Usage eventUsage `json:"usage"`
	} `json:"message"`
	Usage *eventUsage `json:"usage"`
	Delta *struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
}

// Extractor accumulates the raw bytes of a streaming response and recovers
// usage totals from them. It is owned by exactly one relay invocation and
// discarded when the response finishes or aborts.
//
// Extraction is total: malformed lines, partial trailing events, and unknown
// event types are skipped without error, and unseen fields keep their zero
// values. The same finalization runs whether the stream completed, was
// truncated by a client disconnect, or was truncated by an upstream failure.
type Extractor struct {
	buf bytes.Buffer

	// Model is the model from message_start, if seen.
	Model string

	// RequestID is the upstream message id from message_start, if seen.
	RequestID string

	// StopReason is the stop reason from message_delta, if seen.
	StopReason string

	// Token counters, last-seen-wins per field.
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
}

// Feed appends raw response bytes to the accumulator. Chunks may split
// events and even UTF-8 sequences arbitrarily; boundaries are resolved at
// finalization.
func (e *Extractor) Feed(p []byte) {
	e.buf.Write(p)
}

// Accumulated returns the number of bytes fed so far.
func (e *Extractor) Accumulated() int {
	return e.buf.Len()
}

// Finalize parses everything accumulated so far and fills in the extracted
// fields. It never fails: undecodable bytes are replaced and unparseable
// lines skipped.
func (e *Extractor) Finalize() {
	text := strings.ToValidUTF8(e.buf.String(), "�")

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		data := strings.TrimSpace(line[len(dataPrefix):])
		if data == doneSentinel {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message == nil {
				continue
			}
			if event.Message.Model != "" {
				e.Model = event.Message.Model
			}
			e.RequestID = event.Message.ID
			e.InputTokens = event.Message.Usage.InputTokens
			e.CacheCreationInputTokens = event.Message.Usage.CacheCreationInputTokens
			e.CacheReadInputTokens = event.Message.Usage.CacheReadInputTokens

		case "message_delta":
			if event.Usage != nil {
				e.OutputTokens = event.Usage.OutputTokens
			}
			if event.Delta != nil {
				e.StopReason = event.Delta.StopReason
			}
		}
	}
}

// apply copies the extracted fields into a usage record. Fields the stream
// never produced keep the record's existing values.
func (e *Extractor) apply(rec *usage.Record) {
	if e.Model != "" {
		rec.Model = e.Model
	}
	rec.RequestID = e.RequestID
	rec.StopReason = e.StopReason
	rec.InputTokens = e.InputTokens
	rec.OutputTokens = e.OutputTokens
	rec.CacheCreationInputTokens = e.CacheCreationInputTokens
	rec.CacheReadInputTokens = e.CacheReadInputTokens
}

// maxErrorExcerpt bounds how much of an unrecognized error body is copied
// into a record's error field.
const maxErrorExcerpt = 200

// extractFromMessageBody parses a buffered (non-streaming) response body and
// fills the record's usage fields. On a 200 the body is one message object
// carrying id, model, stop_reason, and usage; on any other status the error
// message is captured instead. Parsing never fails the relay: a body that
// is not JSON just records a short diagnostic.
func extractFromMessageBody(body []byte, status int, rec *usage.Record) {
	var parsed struct {
		ID         string     `json:"id"`
		Model      string     `json:"model"`
		StopReason string     `json:"stop_reason"`
		Usage      eventUsage `json:"usage"`
		Error      *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		rec.Error = "non-JSON response (status " + strconv.Itoa(status) + ")"
		return
	}

	if status != 200 {
		if parsed.Error != nil && parsed.Error.Message != "" {
			rec.Error = parsed.Error.Message
		} else {
			excerpt := body
			if len(excerpt) > maxErrorExcerpt {
				excerpt = excerpt[:maxErrorExcerpt]
			}
			rec.Error = string(excerpt)
		}
		return
	}

	rec.RequestID = parsed.ID
	rec.StopReason = parsed.StopReason
	if parsed.Model != "" {
		rec.Model = parsed.Model
	}
	rec.InputTokens = parsed.Usage.InputTokens
	rec.OutputTokens = parsed.Usage.OutputTokens
	rec.CacheCreationInputTokens = parsed.Usage.CacheCreationInputTokens
	rec.CacheReadInputTokens = parsed.Usage.CacheReadInputTokens
}
