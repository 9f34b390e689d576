package models

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// CVEIDPattern is the canonical CVE identifier shape: CVE-YYYY-NNNN(NNN).
// It is unanchored so FindString can pull an id out of free text;
// IsValidCVEID checks that a whole string is exactly one id.
var CVEIDPattern = regexp.MustCompile(`\bCVE-\d{4}-\d{4,7}\b`)

// Severity is the normalized severity band assigned to a curated
// vulnerability, derived from CVSS where available and UNKNOWN otherwise.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityNone     Severity = "NONE"
	SeverityUnknown  Severity = "UNKNOWN"
)

// SeverityFromCVSS maps a CVSS base score to its severity band following
// the standard CVSS v3 qualitative scale.
func SeverityFromCVSS(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	case score > 0.0:
		return SeverityLow
	case score == 0.0:
		return SeverityNone
	default:
		return SeverityUnknown
	}
}

// ExtractionMetadata records how a curated Vulnerability was produced:
// which provider/model answered, which fallback attempt it was, and any
// validation warnings the confidence scorer attached along the way.
type ExtractionMetadata struct {
	Provider           string   `json:"provider" db:"extraction_provider"`
	Model              string   `json:"model" db:"extraction_model"`
	AttemptIndex       int      `json:"attemptIndex" db:"extraction_attempt_index"`
	ValidationWarnings []string `json:"validationWarnings,omitempty" db:"-"`
}

// Vulnerability is a curated, confidence-graded CVE record ready for the
// read surface and alerting.
type Vulnerability struct {
	ID          uuid.UUID `json:"id" db:"id"`
	CVEID       string    `json:"cveId" db:"cve_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`

	Severity    Severity `json:"severity" db:"severity"`
	CVSSScore   *float64 `json:"cvssScore,omitempty" db:"cvss_score"`     // [0,10] or null
	CVSSVector  *string  `json:"cvssVector,omitempty" db:"cvss_vector"`

	EPSSScore      *float64 `json:"epssScore,omitempty" db:"epss_score"`           // [0,1] or null
	EPSSPercentile *float64 `json:"epssPercentile,omitempty" db:"epss_percentile"` // [0,1] or null

	// KEV is sticky for the calendar day it is first observed true: a
	// same-day feed re-read that would otherwise report false cannot flip
	// it back within that day (enforced in store.DB.ApplyEnrichment).
	KEV       bool       `json:"kev" db:"kev"`
	KEVAddedAt *time.Time `json:"kevAddedAt,omitempty" db:"kev_added_at"`

	PublishedAt   time.Time  `json:"publishedAt" db:"published_at"`
	RemediatedAt  *time.Time `json:"remediatedAt,omitempty" db:"remediated_at"`

	Confidence float64 `json:"confidence" db:"confidence"` // [0,1]

	ExtractionMetadata ExtractionMetadata `json:"extraction" db:"-"`

	RawEntryID uuid.UUID `json:"rawEntryId" db:"raw_entry_id"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// IsValidCVEID reports whether id matches the canonical CVE-YYYY-NNNN shape.
func IsValidCVEID(id string) bool {
	return id != "" && CVEIDPattern.FindString(id) == id
}
