// Package server wires the proxy handler, health endpoint, and middleware
// chain into an HTTP server with bind retries, graceful shutdown, and an
// optional metrics listener.
package server
