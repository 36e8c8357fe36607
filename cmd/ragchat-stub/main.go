package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"RagChat/internal/stubserver"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOr("RAGCHAT_STUB_ADDR", ":8000"), "Listen address")
	docsPath := flag.String("docs", os.Getenv("RAGCHAT_STUB_DOCS"), "JSON file with documents to serve")
	origins := flag.String("origins", envOr("RAGCHAT_STUB_ORIGINS", "*"), "Comma-separated CORS origins")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "ragchat-stub")

	var docs []stubserver.Document
	if *docsPath != "" {
		var err error
		if docs, err = stubserver.LoadDocuments(*docsPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	srv := &http.Server{
		Addr: *addr,
		Handler: stubserver.NewRouter(stubserver.Config{
			AllowedOrigins: strings.Split(*origins, ","),
			Documents:      docs,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("stub backend listening", "addr", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
