package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"RagChat/internal/backend"
	"RagChat/internal/endpoint"
	"RagChat/internal/interaction"
)

const (
	DefaultResultCount = 4

	// NoResultsTemplate is filled with the submitted text
	NoResultsTemplate = "Não encontrei informações sobre \"%s\"."
	FailureMessage    = "Erro ao processar sua mensagem. Tente novamente."
)

// Outcome describes what a submission produced
type Outcome string

const (
	OutcomeIgnored Outcome = "ignored"
	OutcomeResults Outcome = "results"
	OutcomeEmpty   Outcome = "empty"
	OutcomeFailed  Outcome = "error"
)

// Searcher sends one search request
type Searcher interface {
	Search(ctx context.Context, ep endpoint.Endpoint, query string, k int) ([]backend.SearchResult, error)
}

// Session is the part of the live session a submission may touch
type Session interface {
	// Begin records the user entry and marks the session pending.
	// It returns false when text must be ignored because a submission is already in flight.
	Begin(text string) (endpoint.Endpoint, bool)
	Append(role interaction.Role, content string, attrs map[string]any)
	Finish()
}

// Dispatcher turns user submissions into search requests and log entries
type Dispatcher struct {
	searcher Searcher
	k        int
	logger   *slog.Logger
	requests metric.Int64Counter
}

// New creates a dispatcher asking for k results per query
func New(searcher Searcher, k int, logger *slog.Logger, meter metric.Meter) (*Dispatcher, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if k <= 0 {
		k = DefaultResultCount
	}
	if meter == nil {
		meter = otel.Meter("ragchat/dispatch")
	}

	requests, err := meter.Int64Counter(
		"ragchat.search.requests",
		metric.WithDescription("Search submissions by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	return &Dispatcher{searcher: searcher, k: k, logger: logger, requests: requests}, nil
}

// Submit runs one submission to completion. Failures become a log entry, never an error.
func (d *Dispatcher) Submit(ctx context.Context, text string, s Session) Outcome {
	query := strings.TrimSpace(text)
	if query == "" {
		return OutcomeIgnored
	}

	ep, ok := s.Begin(query)
	if !ok {
		d.logger.Info("submission ignored, another one is pending")
		return OutcomeIgnored
	}
	defer s.Finish()

	results, err := d.searcher.Search(ctx, ep, query, d.k)
	outcome := d.record(ep, query, results, err, s)

	d.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", ep.Name),
		attribute.String("outcome", string(outcome)),
	))
	return outcome
}

func (d *Dispatcher) record(ep endpoint.Endpoint, query string, results []backend.SearchResult, err error, s Session) Outcome {
	if err != nil {
		d.logger.Error("search failed",
			"endpoint", ep.Name,
			"transport", backend.IsTransport(err),
			"server", backend.IsServer(err),
			"error", err)
		s.Append(interaction.RoleAssistant, FailureMessage, nil)
		return OutcomeFailed
	}

	if len(results) == 0 {
		d.logger.Info("search returned no results", "endpoint", ep.Name)
		s.Append(interaction.RoleAssistant, fmt.Sprintf(NoResultsTemplate, query), nil)
		return OutcomeEmpty
	}

	for _, r := range results {
		s.Append(interaction.RoleAssistant, r.Content, Attributes(r))
	}
	d.logger.Info("search returned results", "endpoint", ep.Name, "count", len(results))
	return OutcomeResults
}

// Attributes flattens a result's metadata into scalar entry attributes
func Attributes(r backend.SearchResult) map[string]any {
	attrs := make(map[string]any, len(r.Metadata)+3)
	for k, v := range r.Metadata {
		if s, ok := scalar(v); ok {
			attrs[k] = s
		}
	}
	if r.Score != nil {
		attrs["score"] = *r.Score
	}
	if r.Title != "" {
		attrs["title"] = r.Title
	}
	if r.DocumentID != nil {
		if s, ok := scalar(r.DocumentID); ok {
			attrs["document_id"] = s
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func scalar(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string, bool, float64, float32, int, int64, int32:
		return t, true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t), true
		}
		return string(b), true
	}
}
