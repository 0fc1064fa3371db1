package proxy

import (
	"encoding/json"
	"net/http"
)

// HealthPath is the one local path the proxy answers itself, and only for
// GET. Everything else, including other methods on this path, is forwarded
// to the upstream.
const HealthPath = "/_health"

// HealthHandler answers GET liveness probes without contacting the upstream
// and without writing a usage record. Any other method on the health path is
// passed to next so it is relayed and metered like every other request.
type HealthHandler struct {
	next http.Handler
}

// NewHealthHandler creates the health check handler. next receives all
// non-GET requests.
func NewHealthHandler(next http.Handler) *HealthHandler {
	return &HealthHandler{next: next}
}

// ServeHTTP implements http.Handler.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.next.ServeHTTP(w, r)
		return
	}

	response := map[string]string{
		"status": "ok",
		"proxy":  "TokenTracker",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
