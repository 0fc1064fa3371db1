package proxy

import (
	"encoding/json"
	"net/http"
)

// proxyErrorType tags proxy-originated error bodies. It is the only error
// payload a caller ever sees from the proxy itself; all other failures are
// either relayed upstream bodies or a broken connection.
const proxyErrorType = "proxy_error"

// errorBody is the JSON error payload for proxy-originated failures.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// writeProxyError sends a proxy-originated JSON error to the client.
func writeProxyError(w http.ResponseWriter, status int, message string) {
	body, err := json.Marshal(errorBody{
		Error: errorDetail{Type: proxyErrorType, Message: message},
	})
	if err != nil {
		http.Error(w, message, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
