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

// ListSourceConfigs returns every ingestion source, enabled or not, for the
// admin source-management surface.
func (db *DB) ListSourceConfigs(ctx context.Context) ([]models.SourceConfig, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, kind, url, enabled, poll_interval, last_polled_at, last_error, created_at, updated_at
		FROM source_configs ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list source configs: %w", err)
	}
	defer rows.Close()

	var configs []models.SourceConfig
	for rows.Next() {
		var c models.SourceConfig
		if err := rows.Scan(&c.ID, &c.Name, &c.Kind, &c.URL, &c.Enabled, &c.PollInterval,
			&c.LastPolledAt, &c.LastError, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// ListEnabledSourceConfigs returns only the sources the ingestion cron
// cadence should poll.
func (db *DB) ListEnabledSourceConfigs(ctx context.Context) ([]models.SourceConfig, error) {
	all, err := db.ListSourceConfigs(ctx)
	if err != nil {
		return nil, err
	}
	var enabled []models.SourceConfig
	for _, c := range all {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	return enabled, nil
}

// UpsertSourceConfig inserts or replaces a named source config.
func (db *DB) UpsertSourceConfig(ctx context.Context, cfg models.SourceConfig) error {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO source_configs (id, name, kind, url, enabled, poll_interval, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE
		SET kind = $3, url = $4, enabled = $5, poll_interval = $6, updated_at = NOW()
	`, cfg.ID, cfg.Name, cfg.Kind, cfg.URL, cfg.Enabled, cfg.PollInterval)
	if err != nil {
		return fmt.Errorf("upsert source config: %w", err)
	}
	return nil
}

// RecordSourcePollResult updates a source's last-polled timestamp and
// clears or sets its last error.
func (db *DB) RecordSourcePollResult(ctx context.Context, name string, pollErr error) error {
	var errMsg *string
	if pollErr != nil {
		msg := pollErr.Error()
		errMsg = &msg
	}
	_, err := db.Pool.Exec(ctx, `
		UPDATE source_configs SET last_polled_at = NOW(), last_error = $2, updated_at = NOW()
		WHERE name = $1
	`, name, errMsg)
	return err
}

// ListLLMProviderRecords returns the admin-configured LLM providers in
// priority order. internal/llm.Gateway does not read these rows; its
// fallback chain comes from config.LLMConfig.Providers.
func (db *DB) ListLLMProviderRecords(ctx context.Context) ([]models.LLMProviderRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, model, api_key_enc, priority, enabled,
		       azure_endpoint, azure_api_version, azure_deployment, created_at, updated_at
		FROM llm_provider_records WHERE enabled = true ORDER BY priority ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list llm provider records: %w", err)
	}
	defer rows.Close()

	var records []models.LLMProviderRecord
	for rows.Next() {
		var r models.LLMProviderRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Model, &r.APIKeyEnc, &r.Priority, &r.Enabled,
			&r.AzureEndpoint, &r.AzureAPIVersion, &r.AzureDeployment, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// UpsertLLMProviderRecord inserts or replaces a named provider record.
// apiKeyEnc is expected to already be encrypted by internal/secrets; the
// store never sees a plaintext key.
func (db *DB) UpsertLLMProviderRecord(ctx context.Context, r models.LLMProviderRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO llm_provider_records
			(id, name, model, api_key_enc, priority, enabled, azure_endpoint, azure_api_version, azure_deployment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE
		SET model = $3, api_key_enc = $4, priority = $5, enabled = $6,
		    azure_endpoint = $7, azure_api_version = $8, azure_deployment = $9, updated_at = NOW()
	`, r.ID, r.Name, r.Model, r.APIKeyEnc, r.Priority, r.Enabled,
		r.AzureEndpoint, r.AzureAPIVersion, r.AzureDeployment)
	if err != nil {
		return fmt.Errorf("upsert llm provider record: %w", err)
	}
	return nil
}

// GetSMTPConfig retrieves the singleton outbound mail config.
func (db *DB) GetSMTPConfig(ctx context.Context) (*models.SMTPConfigRecord, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, host, port, "user", password_enc, "from", use_tls, updated_at
		FROM smtp_config LIMIT 1
	`)
	var c models.SMTPConfigRecord
	err := row.Scan(&c.ID, &c.Host, &c.Port, &c.User, &c.PasswordEnc, &c.From, &c.UseTLS, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("get smtp config: %w", err)
	}
	return &c, nil
}

// PutSMTPConfig replaces the singleton outbound mail config.
func (db *DB) PutSMTPConfig(ctx context.Context, c models.SMTPConfigRecord) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := db.Pool.Exec(ctx, `
		DELETE FROM smtp_config
	`)
	if err != nil {
		return fmt.Errorf("clear smtp config: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO smtp_config (id, host, port, "user", password_enc, "from", use_tls, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, c.ID, c.Host, c.Port, c.User, c.PasswordEnc, c.From, c.UseTLS)
	if err != nil {
		return fmt.Errorf("put smtp config: %w", err)
	}
	return nil
}

// GetNotificationConfig retrieves the singleton alert-routing config.
func (db *DB) GetNotificationConfig(ctx context.Context) (*models.NotificationConfigRecord, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, enabled, recipients, immediate_severities, digest_enabled, digest_hours,
		       alert_on_kev, alert_on_high_epss, epss_threshold, updated_at
		FROM notification_config LIMIT 1
	`)
	var c models.NotificationConfigRecord
	err := row.Scan(&c.ID, &c.Enabled, &c.Recipients, &c.ImmediateSeverities, &c.DigestEnabled, &c.DigestHours,
		&c.AlertOnKEV, &c.AlertOnHighEPSS, &c.EPSSThreshold, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("get notification config: %w", err)
	}
	return &c, nil
}

// PutNotificationConfig replaces the singleton alert-routing config.
func (db *DB) PutNotificationConfig(ctx context.Context, c models.NotificationConfigRecord) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := db.Pool.Exec(ctx, `DELETE FROM notification_config`)
	if err != nil {
		return fmt.Errorf("clear notification config: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO notification_config
			(id, enabled, recipients, immediate_severities, digest_enabled, digest_hours,
			 alert_on_kev, alert_on_high_epss, epss_threshold, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`, c.ID, c.Enabled, c.Recipients, c.ImmediateSeverities, c.DigestEnabled, c.DigestHours,
		c.AlertOnKEV, c.AlertOnHighEPSS, c.EPSSThreshold)
	if err != nil {
		return fmt.Errorf("put notification config: %w", err)
	}
	return nil
}
