// Package models holds the VulnDash domain records: the raw feed entries
// ingested from source connectors, the curated vulnerabilities distilled
// from them, the human review queue, the product inventory, the
// admin-editable config records, and outbound email alerts.
package models

import (
	"time"

	"github.com/google/uuid"
)

// RawEntryStatus is the raw entry's position in the ingestion state machine:
// pending -> in_progress -> {processed, needs_review, failed, skipped};
// failed entries with attempts left are requeued to pending.
type RawEntryStatus string

const (
	RawEntryStatusPending     RawEntryStatus = "pending"
	RawEntryStatusInProgress  RawEntryStatus = "in_progress"
	RawEntryStatusProcessed   RawEntryStatus = "processed"
	RawEntryStatusFailed      RawEntryStatus = "failed"
	RawEntryStatusSkipped     RawEntryStatus = "skipped"
	RawEntryStatusNeedsReview RawEntryStatus = "needs_review"
)

// RawEntry is a single unprocessed record pulled from a source ingester,
// awaiting (or having undergone) extraction into a curated Vulnerability.
type RawEntry struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	Source      string         `json:"source" db:"source"` // nvd, cisa_kev, epss, rss, vendor
	SourceRef   string         `json:"sourceRef" db:"source_ref"` // source's own identifier for this entry
	RawContent  string         `json:"rawContent" db:"raw_content"`
	Status      RawEntryStatus `json:"status" db:"status"`
	AttemptCount int           `json:"attemptCount" db:"attempt_count"`
	LastError   *string        `json:"lastError,omitempty" db:"last_error"`

	// VulnerabilityID is set at most once: a raw entry links to exactly one
	// curated Vulnerability, and the link is never overwritten by a later
	// reprocessing attempt.
	VulnerabilityID *uuid.UUID `json:"vulnerabilityId,omitempty" db:"vulnerability_id"`

	FetchedAt     time.Time  `json:"fetchedAt" db:"fetched_at"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty" db:"last_attempt_at"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time  `json:"updatedAt" db:"updated_at"`

	// ExpiresAt is fetched_at plus the configured retention window (7 days
	// by default); the scheduler's retention sweep deletes terminal rows
	// where ExpiresAt has passed, except rows still referenced by a curated
	// vulnerability or a review queue item.
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
}

// IsTerminal reports whether the entry has left the active processing
// states (pending, in_progress) for good.
func (r *RawEntry) IsTerminal() bool {
	switch r.Status {
	case RawEntryStatusProcessed, RawEntryStatusFailed, RawEntryStatusSkipped, RawEntryStatusNeedsReview:
		return true
	default:
		return false
	}
}
