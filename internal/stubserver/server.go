package stubserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
)

const (
	Version            = "1.0.0"
	defaultResultCount = 4
)

var validate = validator.New()

// Document is one searchable passage
type Document struct {
	Content  string         `json:"content" validate:"required"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type searchRequest struct {
	Query string `json:"query" validate:"required,max=2000"`
	K     int    `json:"k" validate:"gte=0,lte=50"`
}

type searchResult struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// Config holds the router's dependencies
type Config struct {
	AllowedOrigins []string
	Documents      []Document
	Logger         *slog.Logger
}

type handler struct {
	docs   []Document
	logger *slog.Logger
}

// DefaultDocuments is the corpus served when none is configured
func DefaultDocuments() []Document {
	return []Document{
		{Content: "Paris é a capital da França.", Metadata: map[string]any{"source": "geografia.pdf", "page": 1}},
		{Content: "Lyon é a terceira maior cidade da França.", Metadata: map[string]any{"source": "geografia.pdf", "page": 2}},
		{Content: "Brasília é a capital do Brasil desde 1960.", Metadata: map[string]any{"source": "historia.pdf", "page": 7}},
		{Content: "O rio Amazonas é o maior rio do mundo em volume de água.", Metadata: map[string]any{"source": "geografia.pdf", "page": 12}},
	}
}

// LoadDocuments reads a JSON array of documents
func LoadDocuments(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse documents: %w", err)
	}
	if err := validate.Var(docs, "dive"); err != nil {
		return nil, fmt.Errorf("invalid documents: %w", err)
	}
	return docs, nil
}

// NewRouter serves liveness and search under both the bare and /api/v1 layouts
func NewRouter(cfg Config) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	docs := cfg.Documents
	if docs == nil {
		docs = DefaultDocuments()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	h := &handler{docs: docs, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Post("/search", h.search)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Post("/search/", h.search)
		r.Post("/search", h.search)
	})

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"version":          Version,
		"documents_loaded": len(h.docs),
		"active_sessions":  0,
	})
}

func (h *handler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid JSON payload"})
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": err.Error()})
		return
	}
	if req.K == 0 {
		req.K = defaultResultCount
	}

	results := rank(h.docs, req.Query, req.K)
	h.logger.Info("search served", "query_len", len(req.Query), "k", req.K, "results", len(results))
	writeJSON(w, http.StatusOK, results)
}

// rank scores documents by the share of query terms they contain
func rank(docs []Document, query string, k int) []searchResult {
	terms := tokenize(query)
	out := []searchResult{}
	if len(terms) == 0 {
		return out
	}

	for _, d := range docs {
		words := make(map[string]bool)
		for _, w := range tokenize(d.Content) {
			words[w] = true
		}
		hits := 0
		for _, t := range terms {
			if words[t] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		out = append(out, searchResult{
			Content:  d.Content,
			Metadata: d.Metadata,
			Score:    float64(hits) / float64(len(terms)),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// tokenize lowercases and keeps words of three or more letters
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
