package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/extraction"
	"github.com/vulndash/vulndash/internal/models"
)

// ClaimDueRawEntries atomically transitions up to limit pending raw entries
// to in_progress and returns them. The UPDATE ... RETURNING with FOR UPDATE
// SKIP LOCKED is what makes the pending->in_progress transition safe across
// concurrent worker processes, not just concurrent goroutines in one.
func (db *DB) ClaimDueRawEntries(ctx context.Context, limit int) ([]models.RawEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		UPDATE raw_entries
		SET status = 'in_progress', last_attempt_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM raw_entries
			WHERE status = 'pending'
			ORDER BY fetched_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, source, source_ref, raw_content, status, attempt_count,
		          last_error, vulnerability_id, fetched_at, last_attempt_at,
		          created_at, updated_at, expires_at
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due raw entries: %w", err)
	}
	defer rows.Close()

	var entries []models.RawEntry
	for rows.Next() {
		e, err := scanRawEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkProcessed writes the curated Vulnerability resulting from a
// high-confidence extraction, links the raw entry's vulnerability_id, and
// sets its status to processed, all within one transaction.
func (db *DB) MarkProcessed(ctx context.Context, entry models.RawEntry, result extraction.Result) error {
	return db.WithCVELock(ctx, result.CVEID, func(tx pgx.Tx) error {
		vulnID, err := upsertVulnerability(ctx, tx, entry.ID, result)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE raw_entries
			SET status = 'processed', vulnerability_id = $2, attempt_count = attempt_count + 1,
			    last_error = NULL, updated_at = NOW()
			WHERE id = $1
		`, entry.ID, vulnID)
		return err
	})
}

// MarkNeedsReview inserts a ReviewQueueItem for a low-confidence extraction
// and sets the raw entry's status to needs_review.
func (db *DB) MarkNeedsReview(ctx context.Context, entry models.RawEntry, result extraction.Result) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO review_queue_items
			(id, raw_entry_id, proposed_cve_id, proposed_title, proposed_description,
			 proposed_severity, proposed_cvss_score, proposed_cvss_vector, confidence,
			 status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', NOW(), NOW())
	`, uuid.New(), entry.ID, result.CVEID, result.Title, result.Description,
		string(result.Severity), result.CVSSScore, result.CVSSVector, result.Confidence)
	if err != nil {
		return fmt.Errorf("insert review queue item: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE raw_entries
		SET status = 'needs_review', attempt_count = attempt_count + 1,
		    last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, entry.ID)
	if err != nil {
		return fmt.Errorf("update raw entry: %w", err)
	}

	return tx.Commit(ctx)
}

// MarkFailed records a processing failure: it sets the status to failed and
// counts the attempt. RequeueFailedEntries later returns the entry to
// pending after backoff while attempts remain; otherwise it stays failed
// until the retention sweep expires it.
func (db *DB) MarkFailed(ctx context.Context, entry models.RawEntry, errMsg string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE raw_entries
		SET status = 'failed', attempt_count = attempt_count + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, entry.ID, errMsg)
	return err
}

// MarkSkipped sets a raw entry's terminal status to skipped (fallback
// extraction yielded no CVE, or attempts were exhausted).
func (db *DB) MarkSkipped(ctx context.Context, entry models.RawEntry, errMsg string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE raw_entries
		SET status = 'skipped', attempt_count = attempt_count + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, entry.ID, errMsg)
	return err
}

// RequeueFailedEntries returns failed entries with remaining attempts to
// pending after an exponential backoff (with jitter, applied by the
// interval expression itself rather than in Go, so concurrent worker
// processes agree on eligibility without clock skew).
func (db *DB) RequeueFailedEntries(ctx context.Context) (int, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE raw_entries
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'failed'
		  AND attempt_count < $1
		  AND last_attempt_at < NOW() - (POWER(2, attempt_count) * interval '1 minute' * (0.5 + random()))
	`, maxAttemptsDefault)
	if err != nil {
		return 0, fmt.Errorf("requeue failed entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// maxAttemptsDefault mirrors scheduler.DefaultConfig's MaxAttempts; the
// store doesn't import internal/scheduler to avoid a cycle, so this is
// duplicated as a constant rather than threaded through every call site.
const maxAttemptsDefault = 3

// DeleteExpiredRawEntries deletes terminal raw entries whose retention
// window has elapsed. An entry still referenced by a curated vulnerability
// or a review queue item is kept, so the foreign keys on those tables never
// reject the sweep and a curated record's raw_entry_id keeps resolving.
func (db *DB) DeleteExpiredRawEntries(ctx context.Context) (int, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM raw_entries r
		WHERE r.status IN ('processed', 'failed', 'skipped', 'needs_review')
		  AND r.expires_at < NOW()
		  AND NOT EXISTS (SELECT 1 FROM vulnerabilities v WHERE v.raw_entry_id = r.id)
		  AND NOT EXISTS (SELECT 1 FROM review_queue_items q WHERE q.raw_entry_id = r.id)
	`)
	if err != nil {
		return 0, fmt.Errorf("delete expired raw entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// InsertRawEntry inserts a newly-fetched raw entry in pending status, with
// expires_at set retentionDays out from fetch time.
func (db *DB) InsertRawEntry(ctx context.Context, source, sourceRef, rawContent string, retentionDays int) (uuid.UUID, error) {
	id := uuid.New()
	expiresAt := time.Now().AddDate(0, 0, retentionDays)

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO raw_entries
			(id, source, source_ref, raw_content, status, attempt_count, fetched_at, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, NOW(), NOW(), NOW(), $5)
		ON CONFLICT (source, source_ref) DO NOTHING
	`, id, source, sourceRef, rawContent, expiresAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert raw entry: %w", err)
	}
	return id, nil
}

// GetRawEntry retrieves a single raw entry by id.
func (db *DB) GetRawEntry(ctx context.Context, id uuid.UUID) (*models.RawEntry, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, source, source_ref, raw_content, status, attempt_count,
		       last_error, vulnerability_id, fetched_at, last_attempt_at,
		       created_at, updated_at, expires_at
		FROM raw_entries WHERE id = $1
	`, id)

	e, err := scanRawEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRawEntry(row rowScanner) (models.RawEntry, error) {
	var e models.RawEntry
	err := row.Scan(
		&e.ID, &e.Source, &e.SourceRef, &e.RawContent, &e.Status, &e.AttemptCount,
		&e.LastError, &e.VulnerabilityID, &e.FetchedAt, &e.LastAttemptAt,
		&e.CreatedAt, &e.UpdatedAt, &e.ExpiresAt,
	)
	return e, err
}
