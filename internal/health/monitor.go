package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"RagChat/internal/backend"
	"RagChat/internal/endpoint"
)

// Prober performs one liveness request
type Prober interface {
	Health(ctx context.Context, ep endpoint.Endpoint) (backend.HealthReport, error)
}

// Sink receives status updates. It returns false when the update was discarded.
type Sink interface {
	PublishStatus(ep endpoint.Endpoint, status Status) bool
}

// Config controls probe scheduling
type Config struct {
	Interval        time.Duration // steady-state gap between probes
	ColdStartGrace  time.Duration // single long wait after a failed first probe on a cold-start target
	FirstRetryDelay time.Duration // wait after a failed first probe on any other target
	Meter           metric.Meter
}

// Monitor keeps the status of the selected endpoint fresh
type Monitor struct {
	prober Prober
	sink   Sink
	cfg    Config
	logger *slog.Logger
	probes metric.Int64Counter
	now    func() time.Time

	mu     sync.Mutex
	cycle  uint64
	cancel context.CancelFunc
}

// NewMonitor creates a monitor; nothing is probed until Start
func NewMonitor(prober Prober, sink Sink, cfg Config, logger *slog.Logger) (*Monitor, error) {
	if prober == nil || sink == nil {
		return nil, fmt.Errorf("prober and sink are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Interval <= 0 || cfg.ColdStartGrace <= 0 || cfg.FirstRetryDelay <= 0 {
		return nil, fmt.Errorf("probe intervals must be positive")
	}
	if cfg.Meter == nil {
		cfg.Meter = otel.Meter("ragchat/health")
	}

	probes, err := cfg.Meter.Int64Counter(
		"ragchat.health.probes",
		metric.WithDescription("Liveness probes by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe counter: %w", err)
	}

	return &Monitor{
		prober: prober,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		probes: probes,
		now:    time.Now,
	}, nil
}

// Start begins a probe cycle for ep, superseding any previous cycle
func (m *Monitor) Start(ep endpoint.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	cycle := m.cycle

	m.sink.PublishStatus(ep, Probing(ep.Name))
	m.logger.Info("health cycle started", "endpoint", ep.Name, "cycle", cycle, "cold_start", ep.ColdStart)

	go m.run(ctx, cycle, ep)
}

// Stop cancels the pending probe and timer. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Monitor) stopLocked() {
	// bumping the cycle invalidates results still in flight
	m.cycle++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Monitor) run(ctx context.Context, cycle uint64, ep endpoint.Endpoint) {
	first := true
	for {
		status := m.probe(ctx, ep)
		if ctx.Err() != nil {
			return
		}

		wait := m.cfg.Interval
		if first && !status.Connected() {
			if ep.ColdStart {
				wait = m.cfg.ColdStartGrace
				status.Detail = fmt.Sprintf("service may be cold-starting, retrying in %s", wait)
			} else {
				wait = m.cfg.FirstRetryDelay
			}
		}
		first = false

		if !m.publish(cycle, ep, status) {
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Monitor) probe(ctx context.Context, ep endpoint.Endpoint) Status {
	report, err := m.prober.Health(ctx, ep)
	status := Classify(ep.Name, report, err, m.now())

	// a superseded probe says nothing about the endpoint
	if ctx.Err() != nil {
		return status
	}

	m.probes.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("endpoint", ep.Name),
		attribute.String("outcome", string(status.Kind)),
	))

	if err != nil {
		m.logger.Warn("health probe failed", "endpoint", ep.Name, "outcome", status.Kind, "error", err)
	} else {
		m.logger.Info("health probe succeeded", "endpoint", ep.Name, "outcome", status.Kind,
			"service_status", report.ServiceStatus)
	}
	return status
}

// publish forwards status unless the cycle has been superseded
func (m *Monitor) publish(cycle uint64, ep endpoint.Endpoint, status Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cycle != m.cycle {
		m.logger.Debug("discarding stale probe result", "endpoint", ep.Name, "cycle", cycle)
		return false
	}
	return m.sink.PublishStatus(ep, status)
}
