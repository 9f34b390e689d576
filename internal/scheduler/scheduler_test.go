package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulndash/vulndash/internal/extraction"
	"github.com/vulndash/vulndash/internal/logger"
	"github.com/vulndash/vulndash/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	due       []models.RawEntry
	processed []uuid.UUID
	review    []uuid.UUID
	failed    []uuid.UUID
	skipped   []uuid.UUID
}

func (f *fakeStore) ClaimDueRawEntries(ctx context.Context, limit int) ([]models.RawEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	due := f.due
	f.due = nil
	return due, nil
}

func (f *fakeStore) MarkProcessed(ctx context.Context, entry models.RawEntry, result extraction.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, entry.ID)
	return nil
}

func (f *fakeStore) MarkNeedsReview(ctx context.Context, entry models.RawEntry, result extraction.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.review = append(f.review, entry.ID)
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, entry models.RawEntry, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, entry.ID)
	return nil
}

func (f *fakeStore) MarkSkipped(ctx context.Context, entry models.RawEntry, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipped = append(f.skipped, entry.ID)
	return nil
}

func (f *fakeStore) RequeueFailedEntries(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeStore) DeleteExpiredRawEntries(ctx context.Context) (int, error) { return 0, nil }

type fakeEngine struct {
	result extraction.Result
}

func (f *fakeEngine) Extract(ctx context.Context, rawText string) extraction.Result {
	return f.result
}

func testLogger() *logger.Logger {
	return logger.New("error", "text")
}

func TestScheduler_RunBatch_RoutesProcessed(t *testing.T) {
	entry := models.RawEntry{ID: uuid.New(), RawContent: "CVE-2024-1234 details"}
	store := &fakeStore{due: []models.RawEntry{entry}}
	engine := &fakeEngine{result: extraction.Result{CVEID: "CVE-2024-1234", Confidence: 0.9, NeedsReview: false}}

	s := New(store, engine, DefaultConfig(), testLogger())
	s.RunBatch()

	require.Len(t, store.processed, 1)
	assert.Equal(t, entry.ID, store.processed[0])
}

func TestScheduler_RunBatch_RoutesNeedsReview(t *testing.T) {
	entry := models.RawEntry{ID: uuid.New(), RawContent: "ambiguous text"}
	store := &fakeStore{due: []models.RawEntry{entry}}
	engine := &fakeEngine{result: extraction.Result{CVEID: "CVE-2024-1234", Confidence: 0.4, NeedsReview: true}}

	s := New(store, engine, DefaultConfig(), testLogger())
	s.RunBatch()

	require.Len(t, store.review, 1)
}

func TestScheduler_RunBatch_SkipsWhenMaxAttemptsAndNoCVE(t *testing.T) {
	entry := models.RawEntry{ID: uuid.New(), RawContent: "no cve here", AttemptCount: 2}
	store := &fakeStore{due: []models.RawEntry{entry}}
	engine := &fakeEngine{result: extraction.Result{CVEID: "", Confidence: 0.2, NeedsReview: true}}

	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	s := New(store, engine, cfg, testLogger())
	s.RunBatch()

	require.Len(t, store.skipped, 1)
}

func TestScheduler_RunBatch_NoEntriesDue_NoOp(t *testing.T) {
	store := &fakeStore{}
	engine := &fakeEngine{}
	s := New(store, engine, DefaultConfig(), testLogger())
	s.RunBatch()

	assert.Empty(t, store.processed)
	assert.Empty(t, store.review)
}

func TestScheduler_StartStop(t *testing.T) {
	store := &fakeStore{}
	engine := &fakeEngine{}
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond

	s := New(store, engine, cfg, testLogger())
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()
}
