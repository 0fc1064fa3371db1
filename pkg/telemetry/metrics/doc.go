// Package metrics provides Prometheus instrumentation for the relay.
//
// Metrics are served on a dedicated listener, never on the proxied port:
// the proxy's inbound namespace belongs to the upstream API except for the
// health endpoint, and must stay that way.
//
// Exposed series (namespace "tokentracker"):
//
//	tokentracker_requests_total{model,mode,status}
//	tokentracker_request_duration_seconds{mode}
//	tokentracker_tokens_total{model,type}
//	tokentracker_client_disconnects_total
//	tokentracker_store_append_failures_total
package metrics
