// Package middleware provides the HTTP middleware chain wrapped around the
// proxy handler: request ID assignment, structured request logging, and
// panic recovery.
//
// The logging wrapper passes http.Hijacker and http.Flusher through to the
// underlying connection; the streaming relay depends on both.
package middleware
