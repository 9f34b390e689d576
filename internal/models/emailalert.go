package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertType distinguishes an immediately-sent alert from one folded into
// the daily digest.
type AlertType string

const (
	AlertTypeImmediate AlertType = "immediate"
	AlertTypeDigest    AlertType = "digest"
)

// AlertStatus is an EmailAlert's delivery state.
type AlertStatus string

const (
	AlertStatusPending AlertStatus = "pending"
	AlertStatusSent    AlertStatus = "sent"
	AlertStatusFailed  AlertStatus = "failed"
)

// EmailAlert is a queued or delivered notification for one vulnerability.
// The tuple (VulnerabilityID, AlertType, Recipient) is unique: the alert
// engine's dedup check is a lookup against that tuple, not a time window.
type EmailAlert struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	VulnerabilityID uuid.UUID   `json:"vulnerabilityId" db:"vulnerability_id"`
	AlertType       AlertType   `json:"alertType" db:"alert_type"`
	Recipient       string      `json:"recipient" db:"recipient"`
	Status          AlertStatus `json:"status" db:"status"`

	// SentViaDigest is true when an alert that would otherwise have been
	// queued as immediate was instead folded into the next digest run
	// (e.g. immediate send failed and the retry policy downgrades it).
	SentViaDigest bool `json:"sentViaDigest" db:"sent_via_digest"`

	ErrorMessage *string    `json:"errorMessage,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	SentAt       *time.Time `json:"sentAt,omitempty" db:"sent_at"`
}
