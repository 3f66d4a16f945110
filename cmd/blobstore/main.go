package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"reader/internal/access/adapter/blobstore"
	"reader/internal/access/middleware"
	"reader/internal/platform/config"
	"reader/internal/platform/server"
	"reader/internal/platform/telemetry"
)

func main() {
	cfg := config.LoadBlobStore()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := blobstore.OpenLocal(cfg.Dir)
	if err != nil {
		slog.Error("opening blob store", "dir", cfg.Dir, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	shutdown, err := telemetry.Setup(context.Background(), "blobstore")
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	metrics, err := telemetry.NewReaderMetrics()
	if err != nil {
		slog.Error("metrics initialization failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/", middleware.Chain(
		blobstore.NewHandler(store, cfg.MaxBytes),
		middleware.Metrics(metrics),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery,
		middleware.MaxBodySize(cfg.MaxBytes),
	))

	in := "memory"
	if cfg.Dir != "" {
		in = cfg.Dir
	}
	slog.Info("blob store starting", "addr", cfg.Addr, "storage", in, "max_bytes", cfg.MaxBytes)

	if err := server.New("blobstore", cfg.Addr, mux).Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}

	if err := shutdown(context.Background()); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}
}
