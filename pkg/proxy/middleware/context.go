package middleware

// contextKey is a private type for context values set by this package.
type contextKey string

const (
	// RequestIDKey is the context key for the request correlation ID.
	RequestIDKey contextKey = "request_id"
)
