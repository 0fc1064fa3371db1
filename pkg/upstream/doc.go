// Package upstream provides the HTTP client used to forward proxied requests
// to the fixed upstream API host.
//
// The client pins a single host, speaks TLS on the standard secure port, and
// enforces one generous overall timeout covering connect through response.
// It performs no retries: a failed forward is reported to the caller, who
// relays the failure to the client.
package upstream
