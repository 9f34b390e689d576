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

// reviewApprovalResult packages a reviewer's final field values as an
// extraction.Result so approval can reuse the same curated-store upsert
// path a high-confidence automatic extraction takes. Confidence is pinned
// to 1.0: a human reviewer's word is never second-guessed by a later merge.
func reviewApprovalResult(cveID, title, description string, severity models.Severity, cvssScore *float64, cvssVector, reviewer string) extraction.Result {
	return extraction.Result{
		CVEID:       cveID,
		Title:       title,
		Description: description,
		Severity:    severity,
		CVSSScore:   cvssScore,
		CVSSVector:  cvssVector,
		Confidence:  1.0,
		NeedsReview: false,
		Provider:    "manual_review",
		Model:       reviewer,
	}
}

// ListPendingReviewItems returns review queue items awaiting disposition,
// oldest first so reviewers clear the backlog in arrival order.
func (db *DB) ListPendingReviewItems(ctx context.Context, limit, offset int) ([]models.ReviewQueueItem, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, raw_entry_id, proposed_cve_id, proposed_title, proposed_description,
		       proposed_severity, proposed_cvss_score, proposed_cvss_vector, confidence,
		       status, reviewer, reviewer_notes, reviewed_at, vulnerability_id,
		       created_at, updated_at
		FROM review_queue_items
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list pending review items: %w", err)
	}
	defer rows.Close()

	var items []models.ReviewQueueItem
	for rows.Next() {
		item, err := scanReviewQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetReviewItem retrieves a single review queue item by id.
func (db *DB) GetReviewItem(ctx context.Context, id uuid.UUID) (*models.ReviewQueueItem, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, raw_entry_id, proposed_cve_id, proposed_title, proposed_description,
		       proposed_severity, proposed_cvss_score, proposed_cvss_vector, confidence,
		       status, reviewer, reviewer_notes, reviewed_at, vulnerability_id,
		       created_at, updated_at
		FROM review_queue_items WHERE id = $1
	`, id)

	item, err := scanReviewQueueItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("get review item: %w", err)
	}
	return &item, nil
}

// ApproveReviewItem applies a reviewer's edits (CVE id excluded — see
// DESIGN.md's resolution of that open question), promotes the item into the
// curated store via the same upsert path a high-confidence extraction would
// take, links the resulting vulnerability back onto both the review item and
// its raw entry, and marks the item approved.
func (db *DB) ApproveReviewItem(ctx context.Context, id uuid.UUID, edit models.ReviewEdit, reviewer string) (uuid.UUID, error) {
	item, err := db.GetReviewItem(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	if item.Status != models.ReviewQueueStatusPending {
		return uuid.Nil, apperr.New(apperr.KindConflict, "review item is not pending")
	}

	title := item.ProposedTitle
	if edit.Title != nil {
		title = *edit.Title
	}
	description := item.ProposedDescription
	if edit.Description != nil {
		description = *edit.Description
	}
	severity := item.ProposedSeverity
	if edit.Severity != nil {
		severity = *edit.Severity
	}
	cvssScore := item.ProposedCVSSScore
	if edit.CVSSScore != nil {
		cvssScore = edit.CVSSScore
	}
	cvssVector := ""
	if edit.CVSSVector != nil {
		cvssVector = *edit.CVSSVector
	} else if item.ProposedCVSSVector != nil {
		cvssVector = *item.ProposedCVSSVector
	}

	approvedResult := reviewApprovalResult(item.ProposedCVEID, title, description, severity, cvssScore, cvssVector, reviewer)

	var vulnID uuid.UUID
	err = db.WithCVELock(ctx, item.ProposedCVEID, func(tx pgx.Tx) error {
		var innerErr error
		vulnID, innerErr = upsertVulnerability(ctx, tx, item.RawEntryID, approvedResult)
		if innerErr != nil {
			return innerErr
		}

		now := time.Now()
		_, innerErr = tx.Exec(ctx, `
			UPDATE review_queue_items
			SET status = 'approved', reviewer = $2, reviewed_at = $3,
			    vulnerability_id = $4, updated_at = NOW()
			WHERE id = $1
		`, item.ID, reviewer, now, vulnID)
		if innerErr != nil {
			return fmt.Errorf("update review item: %w", innerErr)
		}

		_, innerErr = tx.Exec(ctx, `
			UPDATE raw_entries SET status = 'processed', vulnerability_id = $2, updated_at = NOW()
			WHERE id = $1
		`, item.RawEntryID, vulnID)
		if innerErr != nil {
			return fmt.Errorf("update raw entry: %w", innerErr)
		}

		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return vulnID, nil
}

// RejectReviewItem marks an item rejected without ever creating a curated
// vulnerability record for it.
func (db *DB) RejectReviewItem(ctx context.Context, id uuid.UUID, reviewer, notes string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE review_queue_items
		SET status = 'rejected', reviewer = $2, reviewer_notes = $3, reviewed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, reviewer, notes)
	if err != nil {
		return fmt.Errorf("reject review item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindConflict, "review item is not pending")
	}
	return nil
}

func scanReviewQueueItem(row rowScanner) (models.ReviewQueueItem, error) {
	var item models.ReviewQueueItem
	err := row.Scan(
		&item.ID, &item.RawEntryID, &item.ProposedCVEID, &item.ProposedTitle, &item.ProposedDescription,
		&item.ProposedSeverity, &item.ProposedCVSSScore, &item.ProposedCVSSVector, &item.Confidence,
		&item.Status, &item.Reviewer, &item.ReviewerNotes, &item.ReviewedAt, &item.VulnerabilityID,
		&item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}
