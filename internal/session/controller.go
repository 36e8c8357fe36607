package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"RagChat/internal/dispatch"
	"RagChat/internal/endpoint"
	"RagChat/internal/health"
	"RagChat/internal/interaction"
)

// ErrClosed is returned by operations on a closed controller
var ErrClosed = errors.New("session closed")

// Options wires a controller to its collaborators
type Options struct {
	Registry    *endpoint.Registry
	Prober      health.Prober
	Searcher    dispatch.Searcher
	Health      health.Config
	ResultCount int
	Recorder    Recorder // optional
	Logger      *slog.Logger
	Meter       metric.Meter
}

// Controller owns the live session. The health monitor and the
// dispatcher only reach it through PublishStatus and the dispatch.Session methods.
type Controller struct {
	id         string
	started    time.Time
	registry   *endpoint.Registry
	monitor    *health.Monitor
	dispatcher *dispatch.Dispatcher
	recorder   Recorder
	logger     *slog.Logger
	log        *interaction.Log
	hub        *hub

	// control serializes selection changes with monitor restarts.
	// Lock order: control, then the monitor's lock, then mu.
	control sync.Mutex

	mu       sync.Mutex
	selected endpoint.Endpoint
	status   health.Status
	pending  bool
	closed   bool
}

// New creates a session on the registry's default endpoint with Unknown status
func New(opts Options) (*Controller, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	id := uuid.NewString()
	logger := opts.Logger.With("session_id", id)
	selected := opts.Registry.Default()

	c := &Controller{
		id:       id,
		started:  time.Now(),
		registry: opts.Registry,
		recorder: opts.Recorder,
		logger:   logger,
		log:      interaction.NewLog(),
		hub:      newHub(),
		selected: selected,
		status:   health.Unknown(selected.Name),
	}

	hc := opts.Health
	if hc.Meter == nil {
		hc.Meter = opts.Meter
	}
	monitor, err := health.NewMonitor(opts.Prober, c, hc, logger.With("component", "health"))
	if err != nil {
		return nil, fmt.Errorf("failed to create health monitor: %w", err)
	}
	c.monitor = monitor

	dispatcher, err := dispatch.New(opts.Searcher, opts.ResultCount, logger.With("component", "dispatch"), opts.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	c.dispatcher = dispatcher

	return c, nil
}

// ID returns the session identifier
func (c *Controller) ID() string {
	return c.id
}

// Start runs the first probe cycle against the selected endpoint
func (c *Controller) Start() error {
	return c.restartMonitor()
}

// RetryHealth restarts the probe cycle for the current endpoint. The log is untouched.
func (c *Controller) RetryHealth() error {
	return c.restartMonitor()
}

func (c *Controller) restartMonitor() error {
	c.control.Lock()
	defer c.control.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	ep := c.selected
	c.mu.Unlock()

	c.monitor.Start(ep)
	return nil
}

// SelectEndpoint switches the session to the named endpoint.
// Unknown names return endpoint.ErrNotFound and change nothing.
func (c *Controller) SelectEndpoint(name string) error {
	ep, err := c.registry.Resolve(name)
	if err != nil {
		c.logger.Warn("endpoint selection ignored", "endpoint", name, "error", err)
		return err
	}

	c.control.Lock()
	defer c.control.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.selected = ep
	c.status = health.Unknown(ep.Name)
	c.hub.broadcast(Event{Kind: EventEndpoint, Endpoint: ep})
	c.hub.broadcast(Event{Kind: EventStatus, Status: c.status})
	c.mu.Unlock()

	c.logger.Info("endpoint selected", "endpoint", ep.Name, "base_url", ep.BaseURL)
	c.monitor.Start(ep)
	return nil
}

// SubmitQuery runs one query against the live session and waits for it to finish
func (c *Controller) SubmitQuery(ctx context.Context, text string) dispatch.Outcome {
	return c.dispatcher.Submit(ctx, text, c)
}

// Close stops probing and releases subscribers. Later updates are ignored.
func (c *Controller) Close() {
	c.control.Lock()
	defer c.control.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.monitor.Stop()
	c.hub.close()
	c.logger.Info("session closed", "entries", c.log.Len())
}

// Subscribe returns a change stream and a function that ends it.
// Events are dropped for a subscriber whose buffer is full.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := c.hub.subscribe()
	return ch, func() { c.hub.unsubscribe(ch) }
}

// PublishStatus implements health.Sink
func (c *Controller) PublishStatus(ep endpoint.Endpoint, status health.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || ep.Name != c.selected.Name {
		return false
	}
	c.status = status
	c.hub.broadcast(Event{Kind: EventStatus, Status: status})
	return true
}

// Begin implements dispatch.Session
func (c *Controller) Begin(text string) (endpoint.Endpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.pending {
		return endpoint.Endpoint{}, false
	}
	if !c.appendLocked(interaction.RoleUser, text, nil) {
		return endpoint.Endpoint{}, false
	}
	c.pending = true
	c.hub.broadcast(Event{Kind: EventPending, Pending: true})
	return c.selected, true
}

// Append implements dispatch.Session
func (c *Controller) Append(role interaction.Role, content string, attrs map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.appendLocked(role, content, attrs)
}

// Finish implements dispatch.Session
func (c *Controller) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.pending {
		return
	}
	c.pending = false
	if !c.closed {
		c.hub.broadcast(Event{Kind: EventPending, Pending: false})
	}
}

func (c *Controller) appendLocked(role interaction.Role, content string, attrs map[string]any) bool {
	entry, err := c.log.Append(role, content, attrs)
	if err != nil {
		c.logger.Error("failed to append entry", "role", role, "error", err)
		return false
	}
	c.logger.Debug("entry appended", "entry_id", entry.ID, "role", entry.Role)

	if c.recorder != nil {
		if err := c.recorder.Record(c.id, c.selected.Name, entry); err != nil {
			c.logger.Warn("failed to archive entry", "entry_id", entry.ID, "error", err)
		}
	}
	c.hub.broadcast(Event{Kind: EventEntry, Entry: entry})
	return true
}

// Snapshot returns a consistent copy of the whole session
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ID:        c.id,
		StartTime: c.started,
		Selected:  c.selected,
		Status:    c.status,
		Log:       c.log.Entries(),
		Pending:   c.pending,
	}
}

func (c *Controller) Status() health.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Selected() endpoint.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Controller) Entries() []interaction.Entry {
	return c.log.Entries()
}

// EntriesSince returns the entries appended after the first n
func (c *Controller) EntriesSince(n int) []interaction.Entry {
	return c.log.Since(n)
}

func (c *Controller) Endpoints() []endpoint.Endpoint {
	return c.registry.List()
}

func (c *Controller) EndpointNames() []string {
	return c.registry.Names()
}
