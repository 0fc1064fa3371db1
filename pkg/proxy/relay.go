package proxy

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// relayState is the streaming relay's explicit state. A relay starts in
// stateForwarding, reaches exactly one of the three terminal transfer
// states, and always ends in stateLogged once its usage record is written.
type relayState int

const (
	stateForwarding relayState = iota
	stateCompleted
	stateClientGone
	stateUpstreamError
	stateLogged
)

// String returns the state name for logs.
func (s relayState) String() string {
	switch s {
	case stateForwarding:
		return "forwarding"
	case stateCompleted:
		return "completed"
	case stateClientGone:
		return "client_disconnected"
	case stateUpstreamError:
		return "upstream_error"
	case stateLogged:
		return "logged"
	default:
		return "unknown"
	}
}

// relayReadSize is the bounded upstream read size per loop iteration.
const relayReadSize = 4096

// streamRelay forwards one streaming upstream response to the client while
// feeding every byte to the usage extractor. It owns the extractor for the
// duration of the response.
type streamRelay struct {
	status    int
	header    http.Header
	src       io.Reader
	extractor *Extractor
	logger    *slog.Logger
	readSize  int
}

func newStreamRelay(status int, header http.Header, src io.Reader, logger *slog.Logger) *streamRelay {
	return &streamRelay{
		status:    status,
		header:    responseHeaders(header),
		src:       src,
		extractor: &Extractor{},
		logger:    logger,
		readSize:  relayReadSize,
	}
}

// run drives the forwarding loop over a hijacked client connection and
// returns the terminal transfer state. The proxy re-frames the body with
// its own chunked encoding regardless of how the upstream framed it.
//
// A failed client write stops forwarding but is not an error of the relay:
// whatever was accumulated before the disconnect still feeds extraction.
func (sr *streamRelay) run(w *bufio.Writer) relayState {
	if err := sr.writeHead(w); err != nil {
		return stateClientGone
	}

	state := stateForwarding
	buf := make([]byte, sr.readSize)

	for state == stateForwarding {
		n, err := sr.src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			sr.extractor.Feed(chunk)
			if werr := writeChunk(w, chunk); werr != nil {
				sr.logger.Warn("client disconnected during streaming",
					"bytes_relayed", sr.extractor.Accumulated())
				state = stateClientGone
			}
		}
		if err != nil && state == stateForwarding {
			if err == io.EOF {
				state = stateCompleted
			} else {
				sr.logger.Error("upstream read failed mid-stream", "error", err)
				state = stateUpstreamError
			}
		}
	}

	// Terminal zero-length chunk, best effort on every exit path.
	_ = writeChunk(w, nil)

	return state
}

// writeHead writes the status line and filtered headers, switching the
// transfer framing to chunked. The connection is closed after the stream,
// so keep-alive is refused explicitly.
func (sr *streamRelay) writeHead(w *bufio.Writer) error {
	statusText := http.StatusText(sr.status)
	if statusText == "" {
		statusText = "Status"
	}
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", sr.status, statusText); err != nil {
		return err
	}
	if err := sr.header.Write(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "Transfer-Encoding: chunked\r\nConnection: close\r\n\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// writeChunk writes one chunk in chunked transfer encoding: hex length,
// CRLF, payload, CRLF. A zero-length chunk terminates the body.
func writeChunk(w *bufio.Writer, p []byte) error {
	if _, err := fmt.Fprintf(w, "%x\r\n", len(p)); err != nil {
		return err
	}
	if _, err := w.Write(p); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// runFlushed is the fallback for connections that cannot be hijacked
// (HTTP/2). The server applies its own framing; the relay still forwards
// bounded reads as they arrive and feeds the extractor.
func (sr *streamRelay) runFlushed(w http.ResponseWriter, flusher http.Flusher) relayState {
	h := w.Header()
	for key, values := range sr.header {
		h[key] = values
	}
	w.WriteHeader(sr.status)
	flusher.Flush()

	state := stateForwarding
	buf := make([]byte, sr.readSize)

	for state == stateForwarding {
		n, err := sr.src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			sr.extractor.Feed(chunk)
			if _, werr := w.Write(chunk); werr != nil {
				sr.logger.Warn("client disconnected during streaming",
					"bytes_relayed", sr.extractor.Accumulated())
				state = stateClientGone
			} else {
				flusher.Flush()
			}
		}
		if err != nil && state == stateForwarding {
			if err == io.EOF {
				state = stateCompleted
			} else {
				sr.logger.Error("upstream read failed mid-stream", "error", err)
				state = stateUpstreamError
			}
		}
	}

	return state
}
