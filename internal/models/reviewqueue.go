package models

import (
	"time"

	"github.com/google/uuid"
)

// ReviewQueueStatus is a review item's approval state.
type ReviewQueueStatus string

const (
	ReviewQueueStatusPending  ReviewQueueStatus = "pending"
	ReviewQueueStatusApproved ReviewQueueStatus = "approved"
	ReviewQueueStatusRejected ReviewQueueStatus = "rejected"
)

// ReviewQueueItem is a low-confidence extraction awaiting human disposition
// before it is allowed into the curated store.
type ReviewQueueItem struct {
	ID         uuid.UUID `json:"id" db:"id"`
	RawEntryID uuid.UUID `json:"rawEntryId" db:"raw_entry_id"`

	// ProposedCVEID, ProposedTitle, etc. mirror the extraction's proposed
	// Vulnerability fields so a reviewer can inspect and edit them without
	// the row having been promoted into the vulnerabilities table yet.
	ProposedCVEID       string   `json:"proposedCveId" db:"proposed_cve_id"`
	ProposedTitle       string   `json:"proposedTitle" db:"proposed_title"`
	ProposedDescription string   `json:"proposedDescription" db:"proposed_description"`
	ProposedSeverity    Severity `json:"proposedSeverity" db:"proposed_severity"`
	ProposedCVSSScore   *float64 `json:"proposedCvssScore,omitempty" db:"proposed_cvss_score"`
	ProposedCVSSVector  *string  `json:"proposedCvssVector,omitempty" db:"proposed_cvss_vector"`
	Confidence          float64  `json:"confidence" db:"confidence"`
	ValidationWarnings  []string `json:"validationWarnings,omitempty" db:"-"`

	Status ReviewQueueStatus `json:"status" db:"status"`

	Reviewer      *string    `json:"reviewer,omitempty" db:"reviewer"`
	ReviewerNotes *string    `json:"reviewerNotes,omitempty" db:"reviewer_notes"`
	ReviewedAt    *time.Time `json:"reviewedAt,omitempty" db:"reviewed_at"`

	// VulnerabilityID is set once the item is approved and promoted.
	VulnerabilityID *uuid.UUID `json:"vulnerabilityId,omitempty" db:"vulnerability_id"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ReviewEdit is the set of fields a reviewer may change before approving an
// item. Changing the CVE id itself is rejected: see DESIGN.md's resolution
// of the "review-queue approval with CVE id edit" open question.
type ReviewEdit struct {
	Title       *string
	Description *string
	Severity    *Severity
	CVSSScore   *float64
	CVSSVector  *string
}
