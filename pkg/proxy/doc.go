// Package proxy implements the transparent forwarding path: the per-request
// handler, the streaming relay, and the usage extractor.
//
// The handler relays every request byte-for-byte to the upstream and the
// response byte-for-byte back to the caller. As a side effect that never
// alters the relayed bytes, it extracts token usage from the response and
// appends exactly one usage record per request, regardless of how the
// request ends: normal completion, upstream failure, or client disconnect.
//
// Responses are handled by one of two paths, chosen once per request:
//
//   - direct copy: the upstream body is buffered, written to the client with
//     a known length, then parsed for usage.
//
//   - streaming relay: a 200 response to a stream-requesting client is
//     forwarded chunk by chunk as it arrives, re-framed with chunked
//     transfer encoding, while the same bytes feed the usage extractor.
package proxy
