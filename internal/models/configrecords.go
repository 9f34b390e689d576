package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceConfig is an admin-editable record describing one ingestion
// source (NVD, CISA KEV, EPSS, an RSS feed, a vendor advisory feed).
type SourceConfig struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Name     string    `json:"name" db:"name"`
	Kind     string    `json:"kind" db:"kind"` // nvd, cisa_kev, epss, rss, vendor
	URL      string    `json:"url" db:"url"`
	Enabled  bool      `json:"enabled" db:"enabled"`

	PollInterval  time.Duration `json:"pollInterval" db:"poll_interval"`
	LastPolledAt  *time.Time    `json:"lastPolledAt,omitempty" db:"last_polled_at"`
	LastError     *string       `json:"lastError,omitempty" db:"last_error"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// LLMProviderRecord is an admin-editable, keyed LLM provider config, stored
// for the admin surface; cmd/worker builds the llm.Gateway fallback chain
// from config.LLMConfig.Providers, not from these rows. APIKey is stored
// encrypted at rest via internal/secrets.
type LLMProviderRecord struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Name     string    `json:"name" db:"name"` // anthropic, openai, azure_openai, local
	Model    string    `json:"model" db:"model"`
	APIKeyEnc []byte   `json:"-" db:"api_key_enc"`
	Priority int       `json:"priority" db:"priority"` // lower attempted first
	Enabled  bool      `json:"enabled" db:"enabled"`

	AzureEndpoint   string `json:"azureEndpoint,omitempty" db:"azure_endpoint"`
	AzureAPIVersion string `json:"azureApiVersion,omitempty" db:"azure_api_version"`
	AzureDeployment string `json:"azureDeployment,omitempty" db:"azure_deployment"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// SMTPConfigRecord is the singleton admin-editable outbound mail config.
// When it is absent, cmd/worker seeds it from the env SMTP config on boot.
type SMTPConfigRecord struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Host         string    `json:"host" db:"host"`
	Port         int       `json:"port" db:"port"`
	User         string    `json:"user" db:"user"`
	PasswordEnc  []byte    `json:"-" db:"password_enc"`
	From         string    `json:"from" db:"from"`
	UseTLS       bool      `json:"useTls" db:"use_tls"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// NotificationConfigRecord is the singleton admin-editable alert-routing
// config: who gets mail, which triggers are enabled, and which severities
// page immediately versus ride the daily digest.
type NotificationConfigRecord struct {
	ID                  uuid.UUID `json:"id" db:"id"`
	Enabled             bool      `json:"enabled" db:"enabled"`
	Recipients          []string  `json:"recipients" db:"recipients"`
	ImmediateSeverities []string  `json:"immediateSeverities" db:"immediate_severities"`
	DigestEnabled       bool      `json:"digestEnabled" db:"digest_enabled"`
	DigestHours         int       `json:"digestHours" db:"digest_hours"`

	// AlertOnKEV and AlertOnHighEPSS gate the two Curated Store lifecycle
	// event types the Alert Engine subscribes to; EPSSThreshold is the
	// score an EPSS-threshold-crossing event must clear to queue an alert.
	AlertOnKEV      bool    `json:"alertOnKev" db:"alert_on_kev"`
	AlertOnHighEPSS bool    `json:"alertOnHighEpss" db:"alert_on_high_epss"`
	EPSSThreshold   float64 `json:"epssThreshold" db:"epss_threshold"`

	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
