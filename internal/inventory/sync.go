package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vulndash/vulndash/internal/models"
)

// CatalogStore is the subset of store.DB the sync job needs.
type CatalogStore interface {
	UpsertCatalogProduct(ctx context.Context, vendor, product, version, cpeURI string) (id uuid.UUID, inserted bool, err error)
	DeprecateUntouchedCatalogProducts(ctx context.Context, syncStartedAt time.Time) (int, error)
	StartCatalogSyncLog(ctx context.Context, startedAt time.Time) (uuid.UUID, error)
	CompleteCatalogSyncLog(ctx context.Context, id uuid.UUID, added, updated, deprecated, failed int, status models.CatalogSyncStatus, syncErr error) error
}

// CatalogEntry is one page's worth of raw catalog data: a CPE 2.3 URI to
// be parsed and upserted.
type CatalogEntry struct {
	CPEURI string
}

// CatalogPage is one page of a streamed catalog listing.
type CatalogPage struct {
	Entries []CatalogEntry
	HasMore bool
}

// CatalogFetcher streams an external CPE catalog page by page. Offset is
// the fetcher's own pagination cursor (e.g. NVD's startIndex); the sync
// job never interprets it beyond passing back what FetchPage returned.
type CatalogFetcher interface {
	FetchPage(ctx context.Context, offset int) (page CatalogPage, nextOffset int, err error)
}

// Stats summarizes one sync pass: how many products were added, updated,
// deprecated, or failed.
type Stats struct {
	Added      int
	Updated    int
	Deprecated int
	Failed     int
}

const (
	defaultInterRequestDelay = 600 * time.Millisecond
	defaultMaxRetries        = 3
)

// Job runs the weekly external-catalog sync: page through the catalog
// with a minimum inter-request delay, upsert every entry, and deprecate
// anything not touched by a full pass.
type Job struct {
	store             CatalogStore
	fetcher           CatalogFetcher
	interRequestDelay time.Duration
	maxRetries        int
}

// NewJob constructs a Job with default pacing (600ms between page
// requests, 3 retries per page before aborting the cycle).
func NewJob(store CatalogStore, fetcher CatalogFetcher) *Job {
	return &Job{
		store:             store,
		fetcher:           fetcher,
		interRequestDelay: defaultInterRequestDelay,
		maxRetries:        defaultMaxRetries,
	}
}

// Run executes one full sync pass. A per-page failure is retried with
// backoff up to maxRetries; exhausting retries aborts the cycle without
// rolling back whatever was already upserted and without running the
// deprecation pass, since an aborted cycle never completed a full walk of
// the catalog and can't distinguish "fell out of the catalog" from "not
// reached yet."
func (j *Job) Run(ctx context.Context) (Stats, error) {
	startedAt := time.Now()
	logID, logErr := j.store.StartCatalogSyncLog(ctx, startedAt)

	var stats Stats
	offset := 0
	aborted := false
	var abortErr error

	for {
		page, nextOffset, err := j.fetchPageWithRetry(ctx, offset)
		if err != nil {
			aborted = true
			abortErr = err
			stats.Failed++
			break
		}

		for _, entry := range page.Entries {
			cpe, err := ParseCPE(entry.CPEURI)
			if err != nil {
				stats.Failed++
				continue
			}
			_, inserted, err := j.store.UpsertCatalogProduct(ctx, cpe.Vendor, cpe.Product, cpe.Version, entry.CPEURI)
			if err != nil {
				stats.Failed++
				continue
			}
			if inserted {
				stats.Added++
			} else {
				stats.Updated++
			}
		}

		if !page.HasMore {
			break
		}
		offset = nextOffset

		select {
		case <-ctx.Done():
			aborted = true
			abortErr = ctx.Err()
		case <-time.After(j.interRequestDelay):
		}
		if aborted {
			break
		}
	}

	status := models.CatalogSyncStatusCompleted
	if aborted {
		status = models.CatalogSyncStatusFailed
	} else {
		deprecated, err := j.store.DeprecateUntouchedCatalogProducts(ctx, startedAt)
		if err != nil {
			abortErr = err
			status = models.CatalogSyncStatusFailed
		} else {
			stats.Deprecated = deprecated
		}
	}

	if logErr == nil {
		_ = j.store.CompleteCatalogSyncLog(ctx, logID, stats.Added, stats.Updated, stats.Deprecated, stats.Failed, status, abortErr)
	}

	if aborted {
		return stats, fmt.Errorf("catalog sync aborted: %w", abortErr)
	}
	return stats, nil
}

// fetchPageWithRetry retries a single page fetch with linear backoff
// (200ms * attempt) up to maxRetries times before giving up.
func (j *Job) fetchPageWithRetry(ctx context.Context, offset int) (CatalogPage, int, error) {
	var lastErr error
	for attempt := 0; attempt <= j.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return CatalogPage{}, 0, ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}

		page, next, err := j.fetcher.FetchPage(ctx, offset)
		if err == nil {
			return page, next, nil
		}
		lastErr = err
	}
	return CatalogPage{}, 0, errors.Join(fmt.Errorf("page at offset %d failed after %d attempts", offset, j.maxRetries+1), lastErr)
}
