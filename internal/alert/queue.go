// Package alert implements the queue/compose/send/digest alerting
// pipeline: a Curated Store lifecycle event is evaluated against
// NotificationConfig and turned into pending EmailAlert rows, which a
// separate background sender later composes into HTML mail and delivers
// over SMTP. The two halves never call each other directly — they meet
// only through the email_alerts table, decoupling event observation from
// delivery so a slow or failing SMTP relay never blocks the store write
// path that raised the event.
package alert

import (
	"context"

	"github.com/google/uuid"

	"github.com/vulndash/vulndash/internal/events"
	"github.com/vulndash/vulndash/internal/logger"
	"github.com/vulndash/vulndash/internal/models"
)

// ConfigStore is the subset of store.DB the queue stage needs to evaluate
// NotificationConfig against an incoming event.
type ConfigStore interface {
	GetNotificationConfig(ctx context.Context) (*models.NotificationConfigRecord, error)
	GetVulnerabilityByCVEID(ctx context.Context, cveID string) (*models.Vulnerability, error)
	QueueEmailAlert(ctx context.Context, vulnID uuid.UUID, alertType models.AlertType, recipient string) (uuid.UUID, bool, error)
}

// Queue subscribes to the events.Bus and turns qualifying lifecycle events
// into pending EmailAlert rows, one per configured recipient.
type Queue struct {
	store ConfigStore
	log   *logger.Logger
}

// NewQueue constructs a Queue. Callers must call Subscribe to start
// receiving events.
func NewQueue(store ConfigStore, log *logger.Logger) *Queue {
	return &Queue{store: store, log: log.WithComponent("alert_queue")}
}

// Subscribe registers the Queue's handler on bus. Handlers run
// synchronously in the publisher's goroutine (see events.Bus), so Handle
// must not block on anything slower than a single insert.
func (q *Queue) Subscribe(bus *events.Bus) {
	bus.Subscribe(q.Handle)
}

// Handle evaluates one lifecycle event against NotificationConfig and
// queues an alert per recipient when it qualifies. Errors are logged, not
// returned: a Handler has no caller to report to, and one bad event must
// never stop the bus from delivering the next one.
func (q *Queue) Handle(e events.Event) {
	ctx := context.Background()

	cfg, err := q.store.GetNotificationConfig(ctx)
	if err != nil {
		q.log.Error("load notification config", "error", err)
		return
	}
	if !cfg.Enabled {
		return
	}

	qualifies := false
	switch e.Type {
	case events.KEVTransition:
		qualifies = cfg.AlertOnKEV
	case events.EPSSThresholdCrossing:
		qualifies = cfg.AlertOnHighEPSS && e.EPSSScore != nil && *e.EPSSScore >= cfg.EPSSThreshold
	}
	if !qualifies {
		return
	}

	vuln, err := q.store.GetVulnerabilityByCVEID(ctx, e.CVEID)
	if err != nil {
		q.log.Error("load vulnerability for alert", "cve_id", e.CVEID, "error", err)
		return
	}

	alertType := models.AlertTypeImmediate
	if !immediateSeverity(cfg.ImmediateSeverities, vuln.Severity) {
		if !cfg.DigestEnabled {
			return
		}
		alertType = models.AlertTypeDigest
	}

	for _, recipient := range cfg.Recipients {
		if _, queued, err := q.store.QueueEmailAlert(ctx, vuln.ID, alertType, recipient); err != nil {
			q.log.Error("queue email alert", "cve_id", e.CVEID, "recipient", recipient, "error", err)
		} else if queued {
			q.log.Info("queued alert", "cve_id", e.CVEID, "recipient", recipient, "type", alertType)
		}
	}
}

func immediateSeverity(configured []string, severity models.Severity) bool {
	for _, s := range configured {
		if models.Severity(s) == severity {
			return true
		}
	}
	return false
}
