package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filippo.io/age"

	"reader/internal/access/adapter/jwks"
	"reader/internal/access/adapter/keyserver"
	"reader/internal/access/adapter/postgres"
	"reader/internal/access/middleware"
	"reader/internal/domain"
	"reader/internal/platform/config"
	"reader/internal/platform/server"
	"reader/internal/platform/telemetry"
)

const maxBodyBytes = 1 << 20

func main() {
	cfg, err := config.LoadKeyServer()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLevel(cfg.LogLevel)})).
		With("key_server", cfg.Name)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	identity, err := age.ParseX25519Identity(cfg.Identity)
	if err != nil {
		slog.Error("parsing KEYSERVER_IDENTITY", "error", err)
		os.Exit(1)
	}

	kinds := make([]domain.CredentialKind, 0, len(cfg.OpenKinds))
	for _, name := range cfg.OpenKinds {
		kind, ok := domain.ParseCredentialKind(name)
		if !ok {
			slog.Error("unknown credential kind in KEYSERVER_OPEN_KINDS", "kind", name)
			os.Exit(1)
		}
		kinds = append(kinds, kind)
	}

	var policy keyserver.Policy = keyserver.KindPolicy{OpenKinds: kinds, FreeContent: cfg.FreeContent}
	if cfg.DatabaseURL != "" {
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("connecting to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		// Free content stays readable without a ledger entry; everything
		// else is checked against the ledger.
		policy = keyserver.AnyPolicy{
			keyserver.KindPolicy{FreeContent: cfg.FreeContent},
			keyserver.LedgerPolicy{Ledger: postgres.NewLedger(db), Owners: postgres.NewMetadata(db)},
		}
	}

	shutdown, err := telemetry.Setup(context.Background(), "keyserver")
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
		keyserver.NewHandler(cfg.Name, identity, policy, logger),
		middleware.Metrics(metrics),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery,
		middleware.MaxBodySize(maxBodyBytes),
		middleware.Auth(jwks.NewClient(cfg.JWKSEndpoint, 5*time.Minute, metrics), metrics),
	))

	slog.Info("key server starting",
		"addr", cfg.Addr,
		"recipient", identity.Recipient().String(),
		"ledger_policy", cfg.DatabaseURL != "",
		"jwks_endpoint", cfg.JWKSEndpoint,
	)

	if err := server.New(cfg.Name, cfg.Addr, mux).Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}

	if err := shutdown(context.Background()); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}
}
