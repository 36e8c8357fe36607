package backend

// HealthReport is what a liveness probe learned from a 2xx response
type HealthReport struct {
	StatusCode    int
	ServiceStatus string // "healthy", "degraded", ... when the service reports one
	Version       string
	Documents     *int
	Sessions      *int
}

// SearchRequest represents the request body for the search endpoint
type SearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

// SearchResult represents one item of the search response
type SearchResult struct {
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Score      *float64       `json:"score,omitempty"`
	Title      string         `json:"title,omitempty"`
	DocumentID any            `json:"document_id,omitempty"`
}

// SearchEnvelope is the object form some deployments answer with.
// A nil Results means the key was missing.
type SearchEnvelope struct {
	Results *[]SearchResult `json:"results"`
}

// Field names the various backend revisions use for their counters.
var (
	documentCountKeys = []string{"documents_loaded", "documents", "document_count", "total_documents", "count"}
	sessionCountKeys  = []string{"active_sessions", "sessions"}
)
