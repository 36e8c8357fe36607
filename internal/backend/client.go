package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"RagChat/internal/endpoint"
)

const (
	OpHealth = "health"
	OpSearch = "search"

	DefaultHealthPath = "/health"
	DefaultSearchPath = "/search"

	maxBodyBytes = 1 << 20
)

// Options configures a Client
type Options struct {
	Origin        string // resolves endpoints with a relative base URL
	HealthPath    string
	SearchPath    string
	HealthTimeout time.Duration
	SearchTimeout time.Duration
	Logger        *slog.Logger
	Tracer        trace.Tracer
	Meter         metric.Meter
}

// Client talks to the liveness and search endpoints of a backend
type Client struct {
	origin        string
	healthPath    string
	searchPath    string
	healthTimeout time.Duration
	searchTimeout time.Duration
	httpClient    *http.Client
	logger        *slog.Logger
	tracer        trace.Tracer
	duration      metric.Float64Histogram
}

// NewClient creates a backend client
func NewClient(opts Options) (*Client, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if opts.HealthTimeout <= 0 || opts.SearchTimeout <= 0 {
		return nil, fmt.Errorf("health and search timeouts must be positive")
	}
	if opts.HealthPath == "" {
		opts.HealthPath = DefaultHealthPath
	}
	if opts.SearchPath == "" {
		opts.SearchPath = DefaultSearchPath
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("ragchat/backend")
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("ragchat/backend")
	}

	duration, err := opts.Meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	ceiling := opts.HealthTimeout
	if opts.SearchTimeout > ceiling {
		ceiling = opts.SearchTimeout
	}

	return &Client{
		origin:        strings.TrimSuffix(opts.Origin, "/"),
		healthPath:    opts.HealthPath,
		searchPath:    opts.SearchPath,
		healthTimeout: opts.HealthTimeout,
		searchTimeout: opts.SearchTimeout,
		httpClient:    &http.Client{Timeout: ceiling},
		logger:        opts.Logger,
		tracer:        opts.Tracer,
		duration:      duration,
	}, nil
}

// Health probes the liveness endpoint of ep
func (c *Client) Health(ctx context.Context, ep endpoint.Endpoint) (HealthReport, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "health_probe", trace.WithAttributes(attribute.String("endpoint", ep.Name)))
	defer span.End()

	target, err := c.resolve(ep, c.healthPath)
	if err != nil {
		span.RecordError(err)
		return HealthReport{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return HealthReport{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	status, body, err := c.do(ctx, OpHealth, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return HealthReport{StatusCode: status}, err
	}

	report := parseHealth(body)
	report.StatusCode = status
	return report, nil
}

// Search sends one query and returns the results in source order
func (c *Client) Search(ctx context.Context, ep endpoint.Endpoint, query string, k int) ([]SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.searchTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "search_request", trace.WithAttributes(
		attribute.String("endpoint", ep.Name),
		attribute.Int("k", k),
	))
	defer span.End()

	target, err := c.resolve(ep, c.searchPath)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	jsonData, err := json.Marshal(SearchRequest{Query: query, K: k})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	_, body, err := c.do(ctx, OpSearch, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results, err := parseSearch(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// do sends req and returns the status and body of a 2xx response
func (c *Client) do(ctx context.Context, op string, req *http.Request) (int, []byte, error) {
	start := time.Now()
	target := req.URL.String()

	resp, err := c.httpClient.Do(req)
	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("op", op)))
	if err != nil {
		return 0, nil, &TransportError{Op: op, URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, &TransportError{Op: op, URL: target, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, body, &ServerError{
			Op:         op,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       compact(string(body), 240),
		}
	}

	c.logger.Debug("backend request completed",
		"op", op,
		"url", target,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())
	return resp.StatusCode, body, nil
}

// resolve joins the endpoint base with path, using the origin for relative bases
func (c *Client) resolve(ep endpoint.Endpoint, path string) (string, error) {
	base := strings.TrimSuffix(ep.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL for %s: %w", ep.Name, err)
	}
	if !u.IsAbs() {
		if c.origin == "" {
			return "", fmt.Errorf("endpoint %s has relative base %q and no origin is configured", ep.Name, ep.BaseURL)
		}
		base = c.origin + base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path, nil
}

func parseHealth(body []byte) HealthReport {
	var report HealthReport

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return report
	}

	if s, ok := payload["status"].(string); ok {
		report.ServiceStatus = s
	}
	if v, ok := payload["version"].(string); ok {
		report.Version = v
	}
	report.Documents = firstCount(payload, documentCountKeys)
	report.Sessions = firstCount(payload, sessionCountKeys)
	return report
}

func firstCount(payload map[string]any, keys []string) *int {
	for _, key := range keys {
		if n, ok := payload[key].(float64); ok && n >= 0 {
			v := int(n)
			return &v
		}
	}
	return nil
}

func parseSearch(body []byte) ([]SearchResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty search response body")
	}

	switch trimmed[0] {
	case '[':
		var results []SearchResult
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return results, nil
	case '{':
		var env SearchEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if env.Results == nil {
			return nil, fmt.Errorf("search response has no results: %s", compact(string(trimmed), 80))
		}
		return *env.Results, nil
	default:
		return nil, fmt.Errorf("unexpected search payload: %s", compact(string(trimmed), 80))
	}
}

func compact(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > limit {
		for limit > 0 && !utf8.RuneStart(s[limit]) {
			limit--
		}
		return s[:limit] + "..."
	}
	return s
}
