package models

import (
	"time"

	"github.com/google/uuid"
)

// ProductSource distinguishes products synced from the external CPE
// catalog from ones an admin entered by hand.
type ProductSource string

const (
	ProductSourceExternalCatalog ProductSource = "external_catalog"
	ProductSourceCustom          ProductSource = "custom"
)

// Product is a single vendor/product/version entry in the monitored
// inventory, identified by its CPE 2.3 URI.
type Product struct {
	ID      uuid.UUID `json:"id" db:"id"`
	Vendor  string    `json:"vendor" db:"vendor"`
	Product string    `json:"product" db:"product"`
	Version string    `json:"version" db:"version"`
	CPEURI  string    `json:"cpeUri" db:"cpe_uri"` // unique

	Source       ProductSource `json:"source" db:"source"`
	IsMonitored  bool          `json:"isMonitored" db:"is_monitored"`
	Deprecated   bool          `json:"deprecated" db:"deprecated"`
	LastSyncedAt *time.Time    `json:"lastSyncedAt,omitempty" db:"last_synced_at"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
