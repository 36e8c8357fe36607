package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RagChat/internal/backend"
	"RagChat/internal/dispatch"
	"RagChat/internal/endpoint"
	"RagChat/internal/health"
	"RagChat/internal/interaction"
	"RagChat/internal/session"
)

type stubProber struct {
	calls  atomic.Int32
	handle func(ctx context.Context, ep endpoint.Endpoint) (backend.HealthReport, error)
}

func (p *stubProber) Health(ctx context.Context, ep endpoint.Endpoint) (backend.HealthReport, error) {
	p.calls.Add(1)
	return p.handle(ctx, ep)
}

type stubSearcher func(ctx context.Context, ep endpoint.Endpoint, query string, k int) ([]backend.SearchResult, error)

func (f stubSearcher) Search(ctx context.Context, ep endpoint.Endpoint, query string, k int) ([]backend.SearchResult, error) {
	return f(ctx, ep, query, k)
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []interaction.Entry
	fail    bool
}

func (r *memoryRecorder) Record(sessionID, endpointName string, entry interaction.Entry) error {
	if r.fail {
		return errors.New("disk full")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memoryRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func docs(n int) *int { return &n }

func healthy(ctx context.Context, ep endpoint.Endpoint) (backend.HealthReport, error) {
	return backend.HealthReport{StatusCode: 200, Documents: docs(3)}, nil
}

func noResults(ctx context.Context, ep endpoint.Endpoint, q string, k int) ([]backend.SearchResult, error) {
	return nil, nil
}

func newController(t *testing.T, prober *stubProber, searcher stubSearcher, rec session.Recorder) *session.Controller {
	t.Helper()

	registry, err := endpoint.NewRegistry([]endpoint.Endpoint{
		{Name: "render", BaseURL: "https://render.invalid", ColdStart: true},
		{Name: "local", BaseURL: "http://localhost:8000"},
	}, "local")
	require.NoError(t, err)

	c, err := session.New(session.Options{
		Registry: registry,
		Prober:   prober,
		Searcher: searcher,
		Health: health.Config{
			Interval:        time.Hour,
			ColdStartGrace:  time.Hour,
			FirstRetryDelay: time.Hour,
		},
		Recorder: rec,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestController_InitialState(t *testing.T) {
	c := newController(t, &stubProber{handle: healthy}, noResults, nil)

	snap := c.Snapshot()
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "local", snap.Selected.Name)
	assert.Equal(t, health.KindUnknown, snap.Status.Kind)
	assert.Empty(t, snap.Log)
	assert.False(t, snap.Pending)
	assert.Len(t, c.Endpoints(), 2)
}

func TestController_EntriesSinceAndEndpointNames(t *testing.T) {
	c := newController(t, &stubProber{handle: healthy}, noResults, nil)
	assert.Equal(t, []string{"render", "local"}, c.EndpointNames())

	c.SubmitQuery(context.Background(), "first")
	c.SubmitQuery(context.Background(), "second")
	require.Len(t, c.Entries(), 4)

	tail := c.EntriesSince(2)
	require.Len(t, tail, 2)
	assert.Equal(t, "second", tail[0].Content)
	assert.Equal(t, interaction.RoleAssistant, tail[1].Role)
	assert.Empty(t, c.EntriesSince(4))
	assert.Len(t, c.EntriesSince(-1), 4)
}

func TestController_StartReachesConnected(t *testing.T) {
	c := newController(t, &stubProber{handle: healthy}, noResults, nil)

	require.NoError(t, c.Start())

	assert.Eventually(t, func() bool { return c.Status().Kind == health.KindConnected }, time.Second, 5*time.Millisecond)
	require.NotNil(t, c.Status().Counters.Documents)
	assert.Equal(t, 3, *c.Status().Counters.Documents)
}

func TestController_UnknownEndpointChangesNothing(t *testing.T) {
	c := newController(t, &stubProber{handle: healthy}, noResults, nil)
	require.NoError(t, c.Start())
	assert.Eventually(t, func() bool { return c.Status().Connected() }, time.Second, 5*time.Millisecond)

	before := c.Snapshot()
	err := c.SelectEndpoint("unknown-name")

	assert.ErrorIs(t, err, endpoint.ErrNotFound)
	after := c.Snapshot()
	assert.Equal(t, before.Selected, after.Selected)
	assert.Equal(t, before.Status, after.Status)
}

func TestController_SwitchKeepsLogAndReprobes(t *testing.T) {
	block := make(chan struct{})
	prober := &stubProber{handle: func(ctx context.Context, ep endpoint.Endpoint) (backend.HealthReport, error) {
		if ep.Name == "render" {
			select {
			case <-block:
			case <-ctx.Done():
				return backend.HealthReport{}, &backend.TransportError{Op: backend.OpHealth, Err: ctx.Err()}
			}
		}
		return backend.HealthReport{StatusCode: 200}, nil
	}}
	c := newController(t, prober, noResults, nil)
	require.NoError(t, c.Start())
	assert.Eventually(t, func() bool { return c.Status().Connected() }, time.Second, 5*time.Millisecond)

	c.SubmitQuery(context.Background(), "capital of France")
	require.Len(t, c.Entries(), 2)

	require.NoError(t, c.SelectEndpoint("render"))
	assert.Equal(t, "render", c.Selected().Name)
	assert.Equal(t, health.KindProbing, c.Status().Kind)
	assert.Equal(t, "render", c.Status().Endpoint)
	assert.Len(t, c.Entries(), 2, "switching endpoints must not clear the log")

	close(block)
	assert.Eventually(t, func() bool {
		st := c.Status()
		return st.Connected() && st.Endpoint == "render"
	}, time.Second, 5*time.Millisecond)
}

func TestController_StaleStatusFromPreviousEndpointIsDropped(t *testing.T) {
	c := newController(t, &stubProber{handle: healthy}, noResults, nil)
	require.NoError(t, c.SelectEndpoint("local"))

	accepted := c.PublishStatus(endpoint.Endpoint{Name: "render"}, health.Status{Kind: health.KindConnected, Endpoint: "render"})

	assert.False(t, accepted)
	assert.Equal(t, "local", c.Status().Endpoint)
}

func TestController_RetryHealthTwiceRunsOneCycle(t *testing.T) {
	var inflight atomic.Int32
	prober := &stubProber{handle: func(ctx context.Context, ep endpoint.Endpoint) (backend.HealthReport, error) {
		inflight.Add(1)
		defer inflight.Add(-1)
		<-ctx.Done()
		return backend.HealthReport{}, &backend.TransportError{Op: backend.OpHealth, Err: ctx.Err()}
	}}
	c := newController(t, prober, noResults, nil)

	require.NoError(t, c.RetryHealth())
	assert.Eventually(t, func() bool { return prober.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.RetryHealth())
	assert.Eventually(t, func() bool { return prober.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return inflight.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, health.KindProbing, c.Status().Kind)
	assert.Empty(t, c.Entries())
}

func TestController_SubmitScenarios(t *testing.T) {
	results := map[string][]backend.SearchResult{
		"capital of France": {},
		"x":                 {{Content: "Paris", Metadata: map[string]any{"source": "doc1"}}},
	}
	searcher := func(ctx context.Context, ep endpoint.Endpoint, q string, k int) ([]backend.SearchResult, error) {
		return results[q], nil
	}
	rec := &memoryRecorder{}
	c := newController(t, &stubProber{handle: healthy}, searcher, rec)

	assert.Equal(t, dispatch.OutcomeEmpty, c.SubmitQuery(context.Background(), "capital of France"))
	assert.Equal(t, dispatch.OutcomeResults, c.SubmitQuery(context.Background(), "x"))

	entries := c.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, interaction.RoleUser, entries[0].Role)
	assert.Equal(t, "capital of France", entries[0].Content)
	assert.Equal(t, `Não encontrei informações sobre "capital of France".`, entries[1].Content)
	assert.Equal(t, "x", entries[2].Content)
	assert.Equal(t, "Paris", entries[3].Content)
	assert.Equal(t, "doc1", entries[3].Attributes["source"])
	assert.False(t, c.Pending())
	assert.Equal(t, 4, rec.len())
}

func TestController_RecorderFailureDoesNotBlockLog(t *testing.T) {
	c := newController(t, &stubProber{handle: healthy}, noResults, &memoryRecorder{fail: true})

	c.SubmitQuery(context.Background(), "hello")
	assert.Len(t, c.Entries(), 2)
}

func TestController_SubscribeSeesChanges(t *testing.T) {
	c := newController(t, &stubProber{handle: healthy}, noResults, nil)
	events, cancel := c.Subscribe()
	defer cancel()

	c.SubmitQuery(context.Background(), "hello")

	var kinds []session.EventKind
	timeout := time.After(time.Second)
	for len(kinds) < 4 {
		select {
		case ev := <-events:
			kinds = append(kinds, ev.Kind)
		case <-timeout:
			t.Fatalf("timed out, got %v", kinds)
		}
	}
	assert.Equal(t, []session.EventKind{
		session.EventEntry,
		session.EventPending,
		session.EventEntry,
		session.EventPending,
	}, kinds)

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
}

func TestController_CloseIgnoresLateWork(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	searcher := func(ctx context.Context, ep endpoint.Endpoint, q string, k int) ([]backend.SearchResult, error) {
		close(started)
		<-release
		return []backend.SearchResult{{Content: "late"}}, nil
	}
	c := newController(t, &stubProber{handle: healthy}, searcher, nil)
	events, _ := c.Subscribe()

	done := make(chan struct{})
	go func() {
		c.SubmitQuery(context.Background(), "q")
		close(done)
	}()
	<-started

	c.Close()
	close(release)
	<-done

	assert.Len(t, c.Entries(), 1)
	assert.ErrorIs(t, c.SelectEndpoint("render"), session.ErrClosed)
	assert.ErrorIs(t, c.RetryHealth(), session.ErrClosed)
	assert.False(t, c.PublishStatus(c.Selected(), health.Status{Kind: health.KindConnected}))

	for range events {
		// drained until closed
	}
	c.Close()
}
