// Package main is the entry point for the background worker: raw-entry
// extraction scheduling, source polling, product catalog sync, and alert
// delivery all run here as one process hosting the events.Bus that wires
// the curated store to the alert engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vulndash/vulndash/internal/alert"
	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/config"
	"github.com/vulndash/vulndash/internal/extraction"
	"github.com/vulndash/vulndash/internal/ingest"
	"github.com/vulndash/vulndash/internal/ingest/cisakev"
	"github.com/vulndash/vulndash/internal/ingest/epss"
	"github.com/vulndash/vulndash/internal/ingest/nvd"
	"github.com/vulndash/vulndash/internal/ingest/rss"
	"github.com/vulndash/vulndash/internal/ingest/vendor"
	"github.com/vulndash/vulndash/internal/inventory"
	"github.com/vulndash/vulndash/internal/llm"
	"github.com/vulndash/vulndash/internal/llmcache"
	"github.com/vulndash/vulndash/internal/logger"
	"github.com/vulndash/vulndash/internal/models"
	"github.com/vulndash/vulndash/internal/scheduler"
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

// immediateSendInterval is how often pending immediate alerts are
// flushed; short enough that a CRITICAL finding doesn't sit queued behind
// the daily digest cadence.
const immediateSendInterval = 5 * time.Minute

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

	log := logger.New(cfg.LogLevel, "json").WithService("worker")
	log.Info("starting worker service",
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

	notifyCfg, err := seedNotificationConfig(ctx, db, cfg.Notify, log)
	if err != nil {
		return fmt.Errorf("failed to seed notification config: %w", err)
	}
	if err := seedSMTPConfig(ctx, db, box, cfg.SMTP, log); err != nil {
		return fmt.Errorf("failed to seed smtp config: %w", err)
	}

	gateway, err := llm.NewGateway(cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("failed to build llm gateway: %w", err)
	}

	cache := buildCache(cfg, log)
	cachedGateway := llmcache.NewCachedGenerator(gateway, cache, cfg.Redis.TTL, log)
	engine := extraction.NewEngine(cachedGateway, 0, log, tracer)

	sched := scheduler.New(db, engine, schedulerConfig(cfg.Scheduler), log)
	sched.Start()
	defer sched.Stop()

	alertQueue := alert.NewQueue(db, log)
	alertQueue.Subscribe(db.Events)

	ingesters := []ingest.Ingester{
		nvd.New(db, cfg.Inventory.NVDAPIKey),
		epss.New(db, notifyCfg.EPSSThreshold),
		rss.New(db),
		cisakev.New(db, notifyCfg.EPSSThreshold),
		vendor.New(db),
	}
	poller := ingest.NewPoller(db, ingesters, log)
	poller.Start()
	defer poller.Stop()

	catalogJob := inventory.NewJob(db, inventory.NewNVDCatalogFetcher(cfg.Inventory.NVDAPIKey))
	cronSched := cron.New()
	if _, err := cronSched.AddFunc(cfg.Scheduler.CatalogSyncCron, func() {
		runCatalogSync(ctx, catalogJob, log)
	}); err != nil {
		return fmt.Errorf("failed to schedule catalog sync: %w", err)
	}
	if _, err := cronSched.AddFunc(cfg.Scheduler.CatalogSyncCron, func() {
		sched.RunRetention(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule raw-entry retention: %w", err)
	}

	sender := alert.NewSender(db, box, log)
	if _, err := cronSched.AddFunc(cfg.Scheduler.DigestCron, func() {
		if err := sender.RunDigestCycle(ctx); err != nil {
			log.Error("digest send cycle failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule alert digest: %w", err)
	}
	cronSched.Start()
	defer func() {
		stopCtx := cronSched.Stop()
		<-stopCtx.Done()
	}()

	sendTicker := time.NewTicker(immediateSendInterval)
	defer sendTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sendTicker.C:
				if err := sender.RunSendCycle(ctx); err != nil {
					log.Error("immediate send cycle failed", "error", err)
				}
			}
		}
	}()

	log.Info("worker started",
		"catalog_sync_cron", cfg.Scheduler.CatalogSyncCron,
		"digest_cron", cfg.Scheduler.DigestCron,
		"immediate_send_interval", immediateSendInterval.String(),
	)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown
	log.Info("shutdown signal received", "signal", sig.String())

	return nil
}

func schedulerConfig(cfg config.SchedulerConfig) scheduler.Config {
	sc := scheduler.DefaultConfig()
	if cfg.PollInterval > 0 {
		sc.PollInterval = cfg.PollInterval
	}
	if cfg.BatchSize > 0 {
		sc.BatchSize = cfg.BatchSize
	}
	if cfg.MaxAttempts > 0 {
		sc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.ProcessingTimeout > 0 {
		sc.ProcessingTimeout = cfg.ProcessingTimeout
	}
	return sc
}

func buildCache(cfg *config.Config, log *logger.Logger) llmcache.Cache {
	if !cfg.Redis.Enabled {
		return llmcache.NewMemoryCache(llmcache.MemoryCacheConfig{})
	}
	cache, err := llmcache.NewRedisCacheFromURL(cfg.Redis.URL, "vulndash")
	if err != nil {
		log.Warn("redis cache unavailable, falling back to in-memory cache", "error", err)
		return llmcache.NewMemoryCache(llmcache.MemoryCacheConfig{})
	}
	return cache
}

func runCatalogSync(ctx context.Context, job *inventory.Job, log *logger.Logger) {
	stats, err := job.Run(ctx)
	if err != nil {
		log.Error("catalog sync failed", "error", err)
		return
	}
	log.Info("catalog sync complete",
		"added", stats.Added, "updated", stats.Updated,
		"deprecated", stats.Deprecated, "failed", stats.Failed)
}

// seedNotificationConfig ensures the singleton notification_config row
// exists, populating it from the static env config on first boot so
// the alert engine has something to evaluate events against before an
// admin ever visits /admin/settings. An existing row (admin-edited or
// seeded by a prior boot) is left untouched.
func seedNotificationConfig(ctx context.Context, db *store.DB, cfg config.NotificationConfig, log *logger.Logger) (*models.NotificationConfigRecord, error) {
	existing, err := db.GetNotificationConfig(ctx)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	record := models.NotificationConfigRecord{
		Enabled:             cfg.Enabled,
		Recipients:          cfg.Recipients,
		ImmediateSeverities: cfg.ImmediateSeverities,
		DigestEnabled:       cfg.DigestEnabled,
		DigestHours:         24,
		AlertOnKEV:          true,
		AlertOnHighEPSS:     true,
		EPSSThreshold:       0.5,
	}
	if err := db.PutNotificationConfig(ctx, record); err != nil {
		return nil, err
	}
	log.Info("seeded default notification config")
	return &record, nil
}

// seedSMTPConfig ensures the singleton smtp_config row exists, populating
// it from the static env config on first boot. An existing row is
// left untouched.
func seedSMTPConfig(ctx context.Context, db *store.DB, box *secrets.Box, cfg config.SMTPConfig, log *logger.Logger) error {
	if _, err := db.GetSMTPConfig(ctx); err == nil {
		return nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	passwordEnc, err := box.Seal(cfg.Password)
	if err != nil {
		return fmt.Errorf("seal smtp password: %w", err)
	}

	record := models.SMTPConfigRecord{
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		PasswordEnc: passwordEnc,
		From:        cfg.From,
		UseTLS:      cfg.UseTLS,
	}
	if err := db.PutSMTPConfig(ctx, record); err != nil {
		return err
	}
	log.Info("seeded default smtp config")
	return nil
}
