// Package main is the entry point for the query/admin API service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vulndash/vulndash/internal/audit"
	"github.com/vulndash/vulndash/internal/config"
	"github.com/vulndash/vulndash/internal/httpapi"
	"github.com/vulndash/vulndash/internal/inventory"
	"github.com/vulndash/vulndash/internal/logger"
	"github.com/vulndash/vulndash/internal/secrets"
	"github.com/vulndash/vulndash/internal/store"
	"github.com/vulndash/vulndash/internal/telemetry"
)

// Build information (set via ldflags).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(cfg.LogLevel, "json").WithService("api")

	log.Info("starting API service",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"env", cfg.Env,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Info("connected to database and applied schema")

	box, err := secrets.New(cfg.Secrets)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets box: %w", err)
	}

	tracer, err := telemetry.NewProvider(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "error", err)
		}
	}()

	adminAuth := httpapi.NewAdminAuth()
	if cfg.AdminAuth.Enabled {
		adminAuth.Enable([]byte(cfg.AdminAuth.JWTSecret))
	}

	catalogJob := inventory.NewJob(db, inventory.NewNVDCatalogFetcher(cfg.Inventory.NVDAPIKey))
	auditLog := audit.NewLogger(db, log)

	rateLimit := httpapi.DefaultRateLimitConfig()
	if cfg.API.RateLimitRPS > 0 {
		rateLimit.RequestsPerSecond = float64(cfg.API.RateLimitRPS)
	}

	router := httpapi.New(httpapi.Config{
		Store:       db,
		Log:         log,
		AdminAuth:   adminAuth,
		CORSOrigins: cfg.API.CORSOrigins,
		RateLimit:   rateLimit,
		BuildInfo: httpapi.BuildInfo{
			Version: version,
			Commit:  gitCommit,
			BuiltAt: buildTime,
		},
		CatalogSync: catalogJob,
		Secrets:     box,
		Tracer:      tracer,
		Audit:       auditLog,
	})

	server := &http.Server{
		Addr:         cfg.API.Address(),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.API.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				return fmt.Errorf("forced shutdown error: %w", err)
			}
		}

		log.Info("server shutdown complete")
	}

	return nil
}
