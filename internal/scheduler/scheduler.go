// Package scheduler implements the raw-entry processing cadence: a periodic
// poll that claims pending RawEntry rows, runs them through the extraction
// engine, and writes the routed outcome, with bounded concurrency and
// exponential-backoff retry.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/vulndash/vulndash/internal/extraction"
	"github.com/vulndash/vulndash/internal/logger"
	"github.com/vulndash/vulndash/internal/models"
)

// Store is the persistence surface the scheduler needs. internal/store's
// Postgres-backed implementation satisfies this; tests substitute a fake.
type Store interface {
	ClaimDueRawEntries(ctx context.Context, limit int) ([]models.RawEntry, error)
	MarkProcessed(ctx context.Context, entry models.RawEntry, result extraction.Result) error
	MarkNeedsReview(ctx context.Context, entry models.RawEntry, result extraction.Result) error
	MarkFailed(ctx context.Context, entry models.RawEntry, errMsg string) error
	MarkSkipped(ctx context.Context, entry models.RawEntry, errMsg string) error
	RequeueFailedEntries(ctx context.Context) (int, error)
	DeleteExpiredRawEntries(ctx context.Context) (int, error)
}

// Engine is the subset of extraction.Engine the scheduler calls.
type Engine interface {
	Extract(ctx context.Context, rawText string) extraction.Result
}

// Config configures the scheduler's cadence and bounds.
type Config struct {
	PollInterval      time.Duration
	BatchSize         int
	MaxAttempts       int
	ProcessingTimeout time.Duration
}

// DefaultConfig returns the production polling cadence.
func DefaultConfig() Config {
	return Config{
		PollInterval:      30 * time.Minute,
		BatchSize:         10,
		MaxAttempts:       3,
		ProcessingTimeout: 2 * time.Minute,
	}
}

// Scheduler runs the raw-entry processing cadence described in the domain
// model's state machine (pending -> in_progress -> {processed, needs_review,
// failed, skipped}).
type Scheduler struct {
	store  Store
	engine Engine
	cfg    Config
	log    *logger.Logger

	activeEntries sync.Map // uuid.UUID -> struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler. Callers must call Start to begin the poll loop.
func New(store Store, engine Engine, cfg Config, log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:  store,
		engine: engine,
		cfg:    cfg,
		log:    log.WithComponent("scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the poll loop in the background.
func (s *Scheduler) Start() {
	s.log.Info("starting raw-entry scheduler", "poll_interval", s.cfg.PollInterval.String())
	s.wg.Add(1)
	go s.pollLoop()
}

// Stop cancels the poll loop and waits for in-flight work to drain.
func (s *Scheduler) Stop() {
	s.log.Info("stopping raw-entry scheduler")
	s.cancel()
	s.wg.Wait()
	s.log.Info("raw-entry scheduler stopped")
}

func (s *Scheduler) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.runBatch()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runBatch()
		}
	}
}

// RunBatch triggers one batch immediately and synchronously, bypassing the
// cadence.
func (s *Scheduler) RunBatch() {
	s.runBatch()
}

func (s *Scheduler) runBatch() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ProcessingTimeout*time.Duration(s.cfg.BatchSize))
	defer cancel()

	entries, err := s.store.ClaimDueRawEntries(ctx, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("failed to claim due raw entries", "error", err)
		return
	}

	if len(entries) == 0 {
		s.log.Debug("no raw entries due for processing")
		return
	}

	s.log.Info("claimed raw entries for processing", "count", len(entries))

	var wg sync.WaitGroup
	for _, e := range entries {
		if _, inFlight := s.activeEntries.LoadOrStore(e.ID, struct{}{}); inFlight {
			continue
		}
		wg.Add(1)
		go func(entry models.RawEntry) {
			defer wg.Done()
			defer s.activeEntries.Delete(entry.ID)
			s.processEntry(entry)
		}(e)
	}
	wg.Wait()
}

func (s *Scheduler) processEntry(entry models.RawEntry) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ProcessingTimeout)
	defer cancel()

	log := s.log.WithRawEntry(entry.ID.String())
	log.InfoContext(ctx, "processing raw entry", "source", entry.Source, "attempt", entry.AttemptCount+1)

	result := s.engine.Extract(ctx, entry.RawContent)

	var err error
	switch {
	case !result.NeedsReview:
		err = s.store.MarkProcessed(ctx, entry, result)
	case result.CVEID == "" && entry.AttemptCount+1 >= s.cfg.MaxAttempts:
		err = s.store.MarkSkipped(ctx, entry, "max attempts exceeded with no CVE identified")
	default:
		err = s.store.MarkNeedsReview(ctx, entry, result)
	}

	if err != nil {
		log.ErrorContext(ctx, "failed to persist extraction outcome", "error", err)
		if markErr := s.store.MarkFailed(ctx, entry, err.Error()); markErr != nil {
			log.ErrorContext(ctx, "failed to mark raw entry failed", "error", markErr)
		}
	}
}

// RunRetention deletes terminal raw entries past the retention window and
// requeues failed entries whose backoff has elapsed. cmd/worker runs it on
// the same cron expression as the catalog sync job.
func (s *Scheduler) RunRetention(ctx context.Context) {
	requeued, err := s.store.RequeueFailedEntries(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to requeue failed entries", "error", err)
	} else if requeued > 0 {
		s.log.InfoContext(ctx, "requeued failed raw entries for retry", "count", requeued)
	}

	deleted, err := s.store.DeleteExpiredRawEntries(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to delete expired raw entries", "error", err)
	} else if deleted > 0 {
		s.log.InfoContext(ctx, "deleted expired raw entries", "count", deleted)
	}
}
