package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"reader/internal/access"
	"reader/internal/access/adapter/blobstore"
	"reader/internal/access/adapter/inmem"
	"reader/internal/access/adapter/jwks"
	"reader/internal/access/adapter/keyserver"
	"reader/internal/access/adapter/postgres"
	"reader/internal/access/httpapi"
	"reader/internal/access/middleware"
	"reader/internal/platform/config"
	"reader/internal/platform/migrate"
	"reader/internal/platform/server"
	"reader/internal/platform/telemetry"
)

const maxBodyBytes = 64 << 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	shutdown, err := telemetry.Setup(context.Background(), "reader")
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	metrics, err := telemetry.NewReaderMetrics()
	if err != nil {
		slog.Error("metrics initialization failed", "error", err)
		os.Exit(1)
	}

	// Database
	if cfg.MigrateOnStart {
		if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
			slog.Error("running migrations", "error", err)
			os.Exit(1)
		}
	}
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("connecting to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Key servers
	if len(cfg.KeyServers) == 0 {
		slog.Warn("no key servers configured; every encrypted load will fail as threshold_unmet")
	}
	names := make([]string, 0, len(cfg.KeyServers))
	for name := range cfg.KeyServers {
		names = append(names, name)
	}
	sort.Strings(names)
	clients := make([]*keyserver.Client, 0, len(names))
	for _, name := range names {
		clients = append(clients, keyserver.NewClient(name, cfg.KeyServers[name], cfg.KeyServerWait))
	}

	// Pipeline
	resolver := access.NewResolver(postgres.NewLedger(db), logger, metrics)
	pipeline := access.NewPipeline(
		blobstore.NewClient(cfg.BlobStoreURL, cfg.BlobTimeout, cfg.MaxBlobBytes),
		resolver,
		keyserver.NewQuorum(clients, logger, metrics),
		logger,
		metrics,
	)

	jwksClient := jwks.NewClient(cfg.JWKSEndpoint, 5*time.Minute, metrics)

	rl := inmem.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, time.Now)
	go rl.RunJanitor(ctx, 5*time.Minute)

	api := httpapi.New(postgres.NewMetadata(db), pipeline, httpapi.Options{
		Retry: access.RetryPolicy{
			MaxRetries: uint64(max(cfg.Retry.Max, 0)),
			Base:       cfg.Retry.Base,
			Cap:        cfg.Retry.Cap,
		},
		Ready: map[string]httpapi.Check{
			"database": db.Ping,
			"jwks":     jwksClient.Refresh,
		},
		Logger: logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/", middleware.Chain(
		api,
		middleware.Metrics(metrics),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery,
		middleware.MaxBodySize(maxBodyBytes),
		middleware.Auth(jwksClient, metrics),
		middleware.RateLimit(rl, metrics),
	))

	slog.Info("reader starting",
		"addr", cfg.Addr,
		"jwks_endpoint", cfg.JWKSEndpoint,
		"blobstore_url", cfg.BlobStoreURL,
		"key_servers", names,
	)

	if err := server.New("reader", cfg.Addr, mux).Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}

	if err := shutdown(context.Background()); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}
}
