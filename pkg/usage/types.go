package usage

import "time"

// Provider is the fixed provider tag stored with every record. The relay
// fronts a single upstream, so this never varies at runtime; it exists so the
// table remains meaningful if rows from other trackers are ever merged.
const Provider = "anthropic"

// UnknownModel is the model value recorded when the request body carried no
// usable model field.
const UnknownModel = "unknown"

// Record is one durable row describing the token/metering outcome of one
// proxied request.
type Record struct {
	// ID is the auto-incrementing row identifier, assigned by the store.
	ID int64

	// Timestamp is the UTC time the record was written.
	Timestamp time.Time

	// Provider is the upstream provider tag (always the Provider constant).
	Provider string

	// Model is the model that served the request, or UnknownModel.
	Model string

	// Endpoint is the request path as received from the client.
	Endpoint string

	// InputTokens is the prompt token count reported by the upstream.
	InputTokens int

	// OutputTokens is the completion token count reported by the upstream.
	OutputTokens int

	// CacheCreationInputTokens counts tokens written to the prompt cache.
	CacheCreationInputTokens int

	// CacheReadInputTokens counts tokens served from the prompt cache.
	CacheReadInputTokens int

	// StatusCode is the upstream HTTP status, or 0 if no response was
	// obtained.
	StatusCode int

	// RequestID is the upstream-assigned message identifier, if any.
	RequestID string

	// StopReason is the terminal stop reason reported by the upstream, if
	// any.
	StopReason string

	// Caller is the free-form client-supplied tag from the caller header.
	Caller string

	// Error is a free-form diagnostic, empty on success.
	Error string

	// APIKeyHint is the last 8 characters of the presented credential,
	// empty if the credential was shorter than 8 characters. Never the
	// full credential.
	APIKeyHint string
}

// TotalTokens returns the sum of all four token counters.
func (r *Record) TotalTokens() int {
	return r.InputTokens + r.OutputTokens +
		r.CacheCreationInputTokens + r.CacheReadInputTokens
}

// QueryFilter selects records for reporting. Zero values mean "no
// constraint".
type QueryFilter struct {
	// Since restricts results to records at or after this time.
	Since time.Time

	// Until restricts results to records before this time.
	Until time.Time

	// Model restricts results to an exact model name.
	Model string

	// Caller restricts results to an exact caller tag.
	Caller string

	// Limit caps the number of returned records. 0 means no cap.
	Limit int
}

// ModelSummary aggregates token totals for one model.
type ModelSummary struct {
	Model                    string `json:"model"`
	Requests                 int64  `json:"requests"`
	InputTokens              int64  `json:"input_tokens"`
	OutputTokens             int64  `json:"output_tokens"`
	CacheCreationInputTokens int64  `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64  `json:"cache_read_input_tokens"`
}

// Summarize groups records by model and totals their token counters.
// Results are ordered by descending request count.
func Summarize(records []*Record) []*ModelSummary {
	byModel := make(map[string]*ModelSummary)
	order := make([]string, 0)

	for _, r := range records {
		s, ok := byModel[r.Model]
		if !ok {
			s = &ModelSummary{Model: r.Model}
			byModel[r.Model] = s
			order = append(order, r.Model)
		}
		s.Requests++
		s.InputTokens += int64(r.InputTokens)
		s.OutputTokens += int64(r.OutputTokens)
		s.CacheCreationInputTokens += int64(r.CacheCreationInputTokens)
		s.CacheReadInputTokens += int64(r.CacheReadInputTokens)
	}

	summaries := make([]*ModelSummary, 0, len(byModel))
	for _, model := range order {
		summaries = append(summaries, byModel[model])
	}

	// Insertion sort by request count; the model cardinality is tiny.
	for i := 1; i < len(summaries); i++ {
		for j := i; j > 0 && summaries[j].Requests > summaries[j-1].Requests; j-- {
			summaries[j], summaries[j-1] = summaries[j-1], summaries[j]
		}
	}

	return summaries
}
