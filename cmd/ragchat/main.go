package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"RagChat/internal/archive"
	"RagChat/internal/backend"
	"RagChat/internal/config"
	"RagChat/internal/console"
	"RagChat/internal/health"
	"RagChat/internal/session"
	"RagChat/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var v1Paths, plain bool
	flag.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "Endpoint selected at startup (render|local|<extra>)")
	flag.StringVar(&cfg.Endpoints, "endpoints", cfg.Endpoints, "Extra endpoints, \"name=url[|coldstart];...\"")
	flag.StringVar(&cfg.Origin, "origin", cfg.Origin, "Origin used to resolve relative endpoint URLs")
	flag.StringVar(&cfg.HealthPath, "health-path", cfg.HealthPath, "Liveness path")
	flag.StringVar(&cfg.SearchPath, "search-path", cfg.SearchPath, "Search path")
	flag.BoolVar(&v1Paths, "v1", false, "Use the /api/v1 health and search paths")
	flag.IntVar(&cfg.ResultCount, "k", cfg.ResultCount, "Results requested per query")
	flag.DurationVar(&cfg.ProbeInterval, "probe-interval", cfg.ProbeInterval, "Gap between health probes")
	flag.DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "Health probe timeout")
	flag.DurationVar(&cfg.ColdStartGrace, "cold-start-grace", cfg.ColdStartGrace, "Wait before retrying a cold-start endpoint")
	flag.DurationVar(&cfg.FirstRetryDelay, "first-retry", cfg.FirstRetryDelay, "Wait before retrying any other endpoint")
	flag.DurationVar(&cfg.SearchTimeout, "search-timeout", cfg.SearchTimeout, "Search request timeout")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for logs, traces and metrics")
	flag.StringVar(&cfg.ArchivePath, "archive", cfg.ArchivePath, "SQLite transcript archive (empty disables)")
	flag.BoolVar(&cfg.Telemetry, "telemetry", cfg.Telemetry, "Export traces and metrics to the log directory")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.BoolVar(&plain, "plain", false, "Print assistant entries without markdown rendering")
	flag.Parse()

	if v1Paths {
		cfg.UseV1Paths()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tracer trace.Tracer
	var meter metric.Meter
	if cfg.Telemetry {
		var cleanup func()
		tracer, meter, cleanup, err = telemetry.InitTelemetry(ctx, cfg.LogDir)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer cleanup()
	}

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	client, err := backend.NewClient(backend.Options{
		Origin:        cfg.Origin,
		HealthPath:    cfg.HealthPath,
		SearchPath:    cfg.SearchPath,
		HealthTimeout: cfg.ProbeTimeout,
		SearchTimeout: cfg.SearchTimeout,
		Logger:        logger.With("component", "backend"),
		Tracer:        tracer,
		Meter:         meter,
	})
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}

	var recorder session.Recorder
	if cfg.ArchivePath != "" {
		a, err := archive.Open(cfg.ArchivePath, logger.With("component", "archive"))
		if err != nil {
			return err
		}
		defer a.Close()
		recorder = a
	}

	ctrl, err := session.New(session.Options{
		Registry: registry,
		Prober:   client,
		Searcher: client,
		Health: health.Config{
			Interval:        cfg.ProbeInterval,
			ColdStartGrace:  cfg.ColdStartGrace,
			FirstRetryDelay: cfg.FirstRetryDelay,
		},
		ResultCount: cfg.ResultCount,
		Recorder:    recorder,
		Logger:      logger,
		Meter:       meter,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}
	defer ctrl.Close()

	logger.Info("session started", "session_id", ctrl.ID(), "endpoint", ctrl.Selected().Name)

	ui, err := console.New(ctrl, console.Options{
		Markdown: !plain,
		Logger:   logger.With("component", "console"),
	})
	if err != nil {
		return err
	}

	if err := ctrl.Start(); err != nil {
		return err
	}
	if err := ui.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
