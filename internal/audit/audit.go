// Package audit records who changed what on the admin surface. Every
// mutating /admin/* handler writes one entry; each entry's hash covers its
// own fields plus the previous entry's hash, so altering or deleting a row
// after the fact breaks the chain and VerifyChain can detect it.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vulndash/vulndash/internal/logger"
)

// Store is the persistence surface the audit logger needs; *store.DB
// satisfies it directly.
type Store interface {
	Exec(ctx context.Context, sql string, args ...any) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ActorType classifies who performed an action.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
	ActorTypeAPIKey ActorType = "api_key"
)

// ActionCategory classifies the kind of mutation.
type ActionCategory string

const (
	ActionCategoryCreate  ActionCategory = "create"
	ActionCategoryUpdate  ActionCategory = "update"
	ActionCategoryDelete  ActionCategory = "delete"
	ActionCategoryExecute ActionCategory = "execute"
)

// Status is the outcome of the audited action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Predefined action strings, one per admin mutation.
const (
	ActionSourceUpsert        = "source.upsert"
	ActionLLMProviderUpsert   = "llm_provider.upsert"
	ActionSettingsUpdate      = "settings.update"
	ActionSMTPConfigUpdate    = "smtp_config.update"
	ActionReviewItemApprove   = "review_item.approve"
	ActionReviewItemReject    = "review_item.reject"
	ActionCatalogSyncTrigger  = "catalog_sync.trigger"
	ActionProductMonitorFlag  = "product.set_monitored"
	ActionCustomProductCreate = "product.create_custom"
)

// Change records a single field's old and new value.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Entry is one audited action.
type Entry struct {
	ActorType    ActorType
	ActorID      string
	ActorIP      string
	Action       string
	Category     ActionCategory
	ResourceType string
	ResourceID   string
	Changes      map[string]Change
	Status       Status
	ErrorMessage string
}

// Logger writes audit entries to a hash-chained append-only log.
type Logger struct {
	db  Store
	log *logger.Logger
}

// NewLogger builds an audit Logger.
func NewLogger(db Store, log *logger.Logger) *Logger {
	return &Logger{db: db, log: log.WithComponent("audit")}
}

// Log writes an entry synchronously, chaining it onto the most recent hash.
func (l *Logger) Log(ctx context.Context, entry Entry) error {
	changesJSON, err := json.Marshal(entry.Changes)
	if err != nil {
		changesJSON = []byte("{}")
	}

	prevHash, err := l.lastHash(ctx)
	if err != nil {
		l.log.Warn("read previous audit hash failed, chaining from empty", "error", err)
		prevHash = ""
	}

	id := uuid.New()
	ts := time.Now()
	hash := computeHash(id, ts, entry, changesJSON, prevHash)

	query := `
		INSERT INTO audit_logs (
			id, timestamp, actor_type, actor_id, actor_ip,
			action, action_category, resource_type, resource_id,
			changes, status, error_message, entry_hash, previous_hash
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14
		)
	`
	if err := l.db.Exec(ctx, query,
		id, ts, entry.ActorType, entry.ActorID, entry.ActorIP,
		entry.Action, entry.Category, entry.ResourceType, entry.ResourceID,
		changesJSON, entry.Status, entry.ErrorMessage, hash, prevHash,
	); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// LogAsync writes an entry in the background, logging (not returning) a
// failure. Admin handlers use this so a failed audit write never turns a
// successful mutation into a failed HTTP response.
func (l *Logger) LogAsync(ctx context.Context, entry Entry) {
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Log(bgCtx, entry); err != nil {
			l.log.Error("async audit write failed", "error", err, "action", entry.Action)
		}
	}()
}

func (l *Logger) lastHash(ctx context.Context) (string, error) {
	var hash string
	row := l.db.QueryRow(ctx, `SELECT entry_hash FROM audit_logs ORDER BY timestamp DESC LIMIT 1`)
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return hash, nil
}

func computeHash(id uuid.UUID, ts time.Time, entry Entry, changesJSON []byte, prevHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%s|%s|%s|%s\n",
		id, ts.UTC().Format(time.RFC3339Nano), entry.ActorType, entry.ActorID,
		entry.Action, entry.ResourceType, entry.ResourceID, entry.Status, changesJSON, prevHash)
	return hex.EncodeToString(h.Sum(nil))
}

// Entry row columns, read back by Query.
type LogRow struct {
	ID           uuid.UUID
	Timestamp    time.Time
	ActorType    string
	ActorID      string
	ActorIP      string
	Action       string
	Category     string
	ResourceType string
	ResourceID   string
	Changes      map[string]Change
	Status       string
	ErrorMessage string
	EntryHash    string
	PreviousHash string
}

// QueryFilters narrows a Query call; zero values mean "no filter".
type QueryFilters struct {
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Since        time.Time
	Limit        int
	Offset       int
}

// Query lists audit entries matching the given filters, most recent first.
func (l *Logger) Query(ctx context.Context, f QueryFilters) ([]LogRow, error) {
	query := `
		SELECT id, timestamp, actor_type, actor_id, actor_ip,
		       action, action_category, resource_type, resource_id,
		       changes, status, error_message, entry_hash, previous_hash
		FROM audit_logs
		WHERE ($1 = '' OR actor_id = $1)
		  AND ($2 = '' OR action = $2)
		  AND ($3 = '' OR resource_type = $3)
		  AND ($4 = '' OR resource_id = $4)
		  AND ($5::timestamptz IS NULL OR timestamp >= $5)
		ORDER BY timestamp DESC
		LIMIT $6 OFFSET $7
	`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	var since *time.Time
	if !f.Since.IsZero() {
		since = &f.Since
	}

	rows, err := l.db.Query(ctx, query, f.ActorID, f.Action, f.ResourceType, f.ResourceID, since, limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var results []LogRow
	for rows.Next() {
		var row LogRow
		var changesJSON []byte
		if err := rows.Scan(
			&row.ID, &row.Timestamp, &row.ActorType, &row.ActorID, &row.ActorIP,
			&row.Action, &row.Category, &row.ResourceType, &row.ResourceID,
			&changesJSON, &row.Status, &row.ErrorMessage, &row.EntryHash, &row.PreviousHash,
		); err != nil {
			l.log.Warn("scan audit row failed", "error", err)
			continue
		}
		_ = json.Unmarshal(changesJSON, &row.Changes)
		results = append(results, row)
	}
	return results, nil
}

// VerifyChain walks entries in timestamp order and reports the first entry
// whose previous_hash doesn't match its predecessor's entry_hash.
func VerifyChain(rows []LogRow) (ok bool, brokenAt uuid.UUID) {
	for i := len(rows) - 1; i > 0; i-- {
		older, newer := rows[i], rows[i-1]
		if newer.PreviousHash != older.EntryHash {
			return false, newer.ID
		}
	}
	return true, uuid.Nil
}
