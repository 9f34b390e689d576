package httpapi

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vulndash/vulndash/internal/inventory"
	"github.com/vulndash/vulndash/internal/models"
	"github.com/vulndash/vulndash/internal/store"
)

// Store is the subset of *store.DB the HTTP layer calls, declared as an
// interface rather than the concrete *store.DB, so handlers are testable
// against an in-memory fake without a database.
type Store interface {
	Health(ctx context.Context) error

	ListVulnerabilities(ctx context.Context, filter store.VulnerabilityFilter) ([]models.Vulnerability, error)
	CountVulnerabilities(ctx context.Context, filter store.VulnerabilityFilter) (int, error)
	GetVulnerabilityByCVEID(ctx context.Context, cveID string) (*models.Vulnerability, error)
	GetTrends(ctx context.Context, days int) ([]store.TrendPoint, error)
	GetKPIs(ctx context.Context, highEPSSThreshold float64) (store.KPISnapshot, error)
	ToggleRemediated(ctx context.Context, id uuid.UUID) (*time.Time, error)

	ListSourceConfigs(ctx context.Context) ([]models.SourceConfig, error)
	UpsertSourceConfig(ctx context.Context, cfg models.SourceConfig) error

	SearchProducts(ctx context.Context, query string, limit int) ([]models.Product, error)
	InsertCustomProduct(ctx context.Context, vendor, product, version, cpeURI string) (uuid.UUID, error)
	SetProductMonitored(ctx context.Context, id uuid.UUID, monitored bool) error

	ListLLMProviderRecords(ctx context.Context) ([]models.LLMProviderRecord, error)
	UpsertLLMProviderRecord(ctx context.Context, r models.LLMProviderRecord) error

	ListPendingReviewItems(ctx context.Context, limit, offset int) ([]models.ReviewQueueItem, error)
	GetReviewItem(ctx context.Context, id uuid.UUID) (*models.ReviewQueueItem, error)
	ApproveReviewItem(ctx context.Context, id uuid.UUID, edit models.ReviewEdit, reviewer string) (uuid.UUID, error)
	RejectReviewItem(ctx context.Context, id uuid.UUID, reviewer, notes string) error

	ListCatalogSyncLogs(ctx context.Context, limit int) ([]models.CatalogSyncLog, error)

	GetSMTPConfig(ctx context.Context) (*models.SMTPConfigRecord, error)
	PutSMTPConfig(ctx context.Context, c models.SMTPConfigRecord) error

	GetNotificationConfig(ctx context.Context) (*models.NotificationConfigRecord, error)
	PutNotificationConfig(ctx context.Context, c models.NotificationConfigRecord) error
}

// CatalogSyncRunner is implemented by *inventory.Job; kept separate from
// Store because it isn't a store method, it is the job the "/admin/jobs"
// manual-trigger endpoint runs synchronously in the request's goroutine.
type CatalogSyncRunner interface {
	Run(ctx context.Context) (inventory.Stats, error)
}
