// Package main is the entry point for the Connector Hub server binary.
// It dispatches three subcommands (serve, migrate and version) via a simple
// switch on os.Args. The serve command runs auto-migration on startup so
// freshly deployed containers never need a separate migration step.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/connector-hub/connector-hub/internal/api"
	"github.com/connector-hub/connector-hub/internal/auth"
	"github.com/connector-hub/connector-hub/internal/catalog"
	"github.com/connector-hub/connector-hub/internal/config"
	"github.com/connector-hub/connector-hub/internal/connection"
	"github.com/connector-hub/connector-hub/internal/credentials"
	"github.com/connector-hub/connector-hub/internal/crypto"
	"github.com/connector-hub/connector-hub/internal/db"
	"github.com/connector-hub/connector-hub/internal/db/repositories"
	"github.com/connector-hub/connector-hub/internal/integrations/builtin"
	"github.com/connector-hub/connector-hub/internal/integrations/gitlab"
	"github.com/connector-hub/connector-hub/internal/integrations/hubspot"
	"github.com/connector-hub/connector-hub/internal/integrations/sharepoint"
	"github.com/connector-hub/connector-hub/internal/jobs"
	"github.com/connector-hub/connector-hub/internal/safego"
	"github.com/connector-hub/connector-hub/internal/telemetry"
	"github.com/connector-hub/connector-hub/internal/tokens"
)

const (
	version = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("Connector Hub v%s\n", version)
		return nil
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	telemetry.StartDBStatsCollector(database.DB)

	if err := db.RunMigrations(database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	vault, err := openVault(cfg.Vault)
	if err != nil {
		return fmt.Errorf("failed to initialise vault: %w", err)
	}

	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	registry, err := builtin.NewRegistry(builtin.Options{
		HTTPClient: &http.Client{Timeout: cfg.Integrations.HTTPTimeout},
		GitLab: gitlab.Settings{
			ClientID:     cfg.Integrations.GitLab.ClientID,
			ClientSecret: cfg.Integrations.GitLab.ClientSecret,
			BaseURL:      cfg.Integrations.GitLab.BaseURL,
		},
		SharePoint: sharepoint.Settings{
			ClientID:     cfg.Integrations.SharePoint.ClientID,
			ClientSecret: cfg.Integrations.SharePoint.ClientSecret,
			TenantID:     cfg.Integrations.SharePoint.TenantID,
			TokenURL:     cfg.Integrations.SharePoint.TokenURL,
		},
		HubSpot: hubspot.Settings{
			ClientID:     cfg.Integrations.HubSpot.ClientID,
			ClientSecret: cfg.Integrations.HubSpot.ClientSecret,
			APIURL:       cfg.Integrations.HubSpot.BaseURL,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build provider registry: %w", err)
	}

	codec := credentials.NewCodec(vault, registry)
	credentialRepo := repositories.NewCredentialRepository(database, vault)

	tokenOpts := tokens.Options{
		Buffer:  cfg.Tokens.RefreshBuffer,
		Timeout: cfg.Tokens.RefreshTimeout,
		LockTTL: cfg.Redis.LockTTL,
	}
	if cfg.Redis.Enabled {
		client, err := tokens.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		tokenOpts.Locker = tokens.NewRedisLocker(client)
		slog.Info("distributed refresh lock enabled", "addr", cfg.Redis.Addr)
	}
	tokenManager := tokens.NewManager(credentialRepo, codec, registry, tokenOpts)

	monitor := connection.NewMonitor(connection.NewClassifier(), credentialRepo)
	verifier := connection.NewVerifier(registry, codec, tokenManager, monitor).
		WithProbeTimeout(cfg.Tokens.ProbeTimeout)
	composer := catalog.NewComposer(registry, credentialRepo, codec)

	if cfg.Telemetry.Metrics.Enabled {
		startMetricsServer(cfg.MetricsAddress())
	}

	var verifierJob *jobs.ConnectionVerifier
	if cfg.Jobs.ConnectionVerifier.Enabled {
		verifierJob = jobs.NewConnectionVerifier(credentialRepo, verifier,
			cfg.Jobs.ConnectionVerifier.Interval, cfg.Jobs.ConnectionVerifier.BatchSize)
		safego.Go("connection-verifier", func() { verifierJob.Start(ctx) })
	}

	router := api.NewRouter(api.Dependencies{
		DB:        database,
		Validator: issuer,
		Tools:     composer,
		Providers: registry,
		Store:     credentialRepo,
		Secrets:   codec,
		Tokens:    tokenManager,
		Monitor:   monitor,
		Verifier:  verifier,
		Version:   version,
	})

	server := &http.Server{
		Addr:              cfg.Server.GetAddress(),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	safego.Go("http-server", func() {
		slog.Info("starting server", "addr", server.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	})

	select {
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if verifierJob != nil {
		verifierJob.Stop()
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openVault builds the secret vault from a raw key when one is configured and
// falls back to PBKDF2 derivation from the passphrase otherwise.
func openVault(cfg config.VaultConfig) (*crypto.Vault, error) {
	if cfg.Key != "" {
		key, err := crypto.ParseKey(cfg.Key)
		if err != nil {
			return nil, err
		}
		return crypto.NewVault(key)
	}
	slog.Info("deriving vault key from passphrase", "iterations", cfg.Iterations)
	return crypto.DeriveVault(cfg.Passphrase, []byte(cfg.Salt), cfg.Iterations)
}

// startMetricsServer serves Prometheus metrics on a dedicated port so the
// scrape path is not reachable through the public API listener.
func startMetricsServer(addr string) {
	safego.Go("metrics-server", func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		slog.Info("starting Prometheus metrics server", "addr", addr)
		srv := &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	})
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(context.Background(), cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	slog.Info("migration completed", "version", v, "dirty", dirty)
	return nil
}
