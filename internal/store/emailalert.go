package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/models"
)

// QueueEmailAlert inserts a pending alert, silently no-oping on the
// (vulnerability_id, alert_type, recipient) uniqueness conflict: the alert
// engine's dedup check is just this insert's ON CONFLICT, not a separate
// lookup.
func (db *DB) QueueEmailAlert(ctx context.Context, vulnID uuid.UUID, alertType models.AlertType, recipient string) (uuid.UUID, bool, error) {
	id := uuid.New()
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO email_alerts (id, vulnerability_id, alert_type, recipient, status, sent_via_digest, created_at)
		VALUES ($1, $2, $3, $4, 'pending', false, NOW())
		ON CONFLICT (vulnerability_id, alert_type, recipient) DO NOTHING
	`, id, vulnID, string(alertType), recipient)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("queue email alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

// ListPendingAlerts returns pending alerts of the given type, oldest first.
func (db *DB) ListPendingAlerts(ctx context.Context, alertType models.AlertType, limit int) ([]models.EmailAlert, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, vulnerability_id, alert_type, recipient, status, sent_via_digest, error_message, created_at, sent_at
		FROM email_alerts
		WHERE status = 'pending' AND alert_type = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, string(alertType), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.EmailAlert
	for rows.Next() {
		a, err := scanEmailAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// MarkAlertSent records successful delivery.
func (db *DB) MarkAlertSent(ctx context.Context, id uuid.UUID) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE email_alerts SET status = 'sent', sent_at = NOW(), error_message = NULL WHERE id = $1
	`, id)
	return err
}

// MarkAlertFailed records a delivery failure. downgradeToDigest, when true,
// folds a failed immediate alert into the next digest run rather than
// retrying it as immediate again.
func (db *DB) MarkAlertFailed(ctx context.Context, id uuid.UUID, errMsg string, downgradeToDigest bool) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE email_alerts
		SET status = 'failed', error_message = $2, sent_via_digest = sent_via_digest OR $3
		WHERE id = $1
	`, id, errMsg, downgradeToDigest)
	return err
}

// GetEmailAlert retrieves a single alert by id.
func (db *DB) GetEmailAlert(ctx context.Context, id uuid.UUID) (*models.EmailAlert, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, vulnerability_id, alert_type, recipient, status, sent_via_digest, error_message, created_at, sent_at
		FROM email_alerts WHERE id = $1
	`, id)

	a, err := scanEmailAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("get email alert: %w", err)
	}
	return &a, nil
}

func scanEmailAlert(row rowScanner) (models.EmailAlert, error) {
	var a models.EmailAlert
	err := row.Scan(
		&a.ID, &a.VulnerabilityID, &a.AlertType, &a.Recipient, &a.Status,
		&a.SentViaDigest, &a.ErrorMessage, &a.CreatedAt, &a.SentAt,
	)
	return a, err
}
