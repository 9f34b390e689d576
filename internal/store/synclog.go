package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vulndash/vulndash/internal/models"
)

// StartCatalogSyncLog inserts a running sync-log row and returns its id,
// to be completed by CompleteCatalogSyncLog once the pass finishes
// (successfully or not).
func (db *DB) StartCatalogSyncLog(ctx context.Context, startedAt time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO catalog_sync_logs (id, started_at, added, updated, deprecated, failed, status)
		VALUES ($1, $2, 0, 0, 0, 0, 'running')
	`, id, startedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start catalog sync log: %w", err)
	}
	return id, nil
}

// CompleteCatalogSyncLog records the terminal counts and status of a sync
// pass started by StartCatalogSyncLog.
func (db *DB) CompleteCatalogSyncLog(ctx context.Context, id uuid.UUID, added, updated, deprecated, failed int, status models.CatalogSyncStatus, syncErr error) error {
	var errMsg *string
	if syncErr != nil {
		msg := syncErr.Error()
		errMsg = &msg
	}
	_, err := db.Pool.Exec(ctx, `
		UPDATE catalog_sync_logs
		SET completed_at = NOW(), added = $2, updated = $3, deprecated = $4, failed = $5, status = $6, error = $7
		WHERE id = $1
	`, id, added, updated, deprecated, failed, status, errMsg)
	if err != nil {
		return fmt.Errorf("complete catalog sync log: %w", err)
	}
	return nil
}

// ListCatalogSyncLogs returns the most recent sync runs, newest first, for
// the admin jobs surface.
func (db *DB) ListCatalogSyncLogs(ctx context.Context, limit int) ([]models.CatalogSyncLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT id, started_at, completed_at, added, updated, deprecated, failed, status, error
		FROM catalog_sync_logs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list catalog sync logs: %w", err)
	}
	defer rows.Close()

	var logs []models.CatalogSyncLog
	for rows.Next() {
		var l models.CatalogSyncLog
		if err := rows.Scan(&l.ID, &l.StartedAt, &l.CompletedAt, &l.Added, &l.Updated,
			&l.Deprecated, &l.Failed, &l.Status, &l.Error); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
