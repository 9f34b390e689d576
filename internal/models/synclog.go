package models

import (
	"time"

	"github.com/google/uuid"
)

// CatalogSyncStatus is the terminal state of one catalog sync run.
type CatalogSyncStatus string

const (
	CatalogSyncStatusRunning   CatalogSyncStatus = "running"
	CatalogSyncStatusCompleted CatalogSyncStatus = "completed"
	CatalogSyncStatusFailed    CatalogSyncStatus = "failed"
)

// CatalogSyncLog records one external-catalog sync pass: the admin
// "/admin/jobs" surface lists these so an operator can see whether the
// weekly sync is keeping up without reading worker logs.
type CatalogSyncLog struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	StartedAt   time.Time         `json:"startedAt" db:"started_at"`
	CompletedAt *time.Time        `json:"completedAt,omitempty" db:"completed_at"`
	Added       int               `json:"added" db:"added"`
	Updated     int               `json:"updated" db:"updated"`
	Deprecated  int               `json:"deprecated" db:"deprecated"`
	Failed      int               `json:"failed" db:"failed"`
	Status      CatalogSyncStatus `json:"status" db:"status"`
	Error       *string           `json:"error,omitempty" db:"error"`
}
