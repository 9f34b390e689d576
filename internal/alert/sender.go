package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"github.com/vulndash/vulndash/internal/logger"
	"github.com/vulndash/vulndash/internal/models"
	"github.com/vulndash/vulndash/internal/secrets"
)

// SenderStore is the subset of store.DB the background sender needs: list
// pending alerts of a given type, look up the vulnerability each refers
// to, and record the delivery outcome.
type SenderStore interface {
	ListPendingAlerts(ctx context.Context, alertType models.AlertType, limit int) ([]models.EmailAlert, error)
	MarkAlertSent(ctx context.Context, id uuid.UUID) error
	MarkAlertFailed(ctx context.Context, id uuid.UUID, errMsg string, downgradeToDigest bool) error
	GetNotificationConfig(ctx context.Context) (*models.NotificationConfigRecord, error)
	GetSMTPConfig(ctx context.Context) (*models.SMTPConfigRecord, error)
	GetVulnerabilityByID(ctx context.Context, id uuid.UUID) (*models.Vulnerability, error)
}

const (
	defaultSendBatchSize = 100
	appBaseURL           = "http://localhost:8080"
)

// Sender is the background delivery half of the Alert Engine: it selects
// pending rows, composes an HTML email, sends it over SMTP, and records
// the outcome. It never queues new alerts itself — that is Queue's job —
// so a slow SMTP relay can never block the event path that raised an
// alert.
type Sender struct {
	store SenderStore
	box   *secrets.Box
	log   *logger.Logger
	send  func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSender constructs a Sender against net/smtp.SendMail. box decrypts
// SMTPConfigRecord.PasswordEnc, which is stored encrypted at rest
// (internal/secrets).
func NewSender(store SenderStore, box *secrets.Box, log *logger.Logger) *Sender {
	return &Sender{store: store, box: box, log: log.WithComponent("alert_sender"), send: smtp.SendMail}
}

// RunSendCycle delivers up to one batch of pending immediate alerts. It is
// meant to be invoked on a short, frequent cadence (a few minutes) so a
// CRITICAL finding doesn't sit queued; one failed send never aborts the
// rest of the batch.
func (s *Sender) RunSendCycle(ctx context.Context) error {
	return s.deliverBatch(ctx, models.AlertTypeImmediate, composeImmediate)
}

// RunDigestCycle batches every pending digest alert per recipient into a
// single email, on the scheduler's 24-hour default cadence.
func (s *Sender) RunDigestCycle(ctx context.Context) error {
	smtpCfg, err := s.store.GetSMTPConfig(ctx)
	if err != nil {
		return fmt.Errorf("alert sender: load smtp config: %w", err)
	}

	alerts, err := s.store.ListPendingAlerts(ctx, models.AlertTypeDigest, defaultSendBatchSize)
	if err != nil {
		return fmt.Errorf("alert sender: list pending digest alerts: %w", err)
	}
	if len(alerts) == 0 {
		return nil
	}

	byRecipient := make(map[string][]models.EmailAlert)
	for _, a := range alerts {
		byRecipient[a.Recipient] = append(byRecipient[a.Recipient], a)
	}

	for recipient, batch := range byRecipient {
		vulns := make([]models.Vulnerability, 0, len(batch))
		for _, a := range batch {
			v, err := s.store.GetVulnerabilityByID(ctx, a.VulnerabilityID)
			if err != nil {
				s.log.ErrorContext(ctx, "load vulnerability for digest", "alert_id", a.ID, "error", err)
				continue
			}
			vulns = append(vulns, *v)
		}

		subject, body := composeDigest(vulns)
		sendErr := s.sendMail(smtpCfg, recipient, subject, body)

		for _, a := range batch {
			if sendErr != nil {
				if err := s.store.MarkAlertFailed(ctx, a.ID, sendErr.Error(), false); err != nil {
					s.log.ErrorContext(ctx, "mark digest alert failed", "alert_id", a.ID, "error", err)
				}
				continue
			}
			if err := s.store.MarkAlertSent(ctx, a.ID); err != nil {
				s.log.ErrorContext(ctx, "mark digest alert sent", "alert_id", a.ID, "error", err)
			}
		}
	}
	return nil
}

func (s *Sender) deliverBatch(ctx context.Context, alertType models.AlertType, compose func(models.Vulnerability) (string, string)) error {
	smtpCfg, err := s.store.GetSMTPConfig(ctx)
	if err != nil {
		return fmt.Errorf("alert sender: load smtp config: %w", err)
	}

	alerts, err := s.store.ListPendingAlerts(ctx, alertType, defaultSendBatchSize)
	if err != nil {
		return fmt.Errorf("alert sender: list pending alerts: %w", err)
	}

	for _, a := range alerts {
		vuln, err := s.store.GetVulnerabilityByID(ctx, a.VulnerabilityID)
		if err != nil {
			s.log.ErrorContext(ctx, "load vulnerability for alert", "alert_id", a.ID, "error", err)
			continue
		}

		subject, body := compose(*vuln)
		if err := s.sendMail(smtpCfg, a.Recipient, subject, body); err != nil {
			s.log.ErrorContext(ctx, "send alert email", "alert_id", a.ID, "recipient", a.Recipient, "error", err)
			if markErr := s.store.MarkAlertFailed(ctx, a.ID, err.Error(), false); markErr != nil {
				s.log.ErrorContext(ctx, "mark alert failed", "alert_id", a.ID, "error", markErr)
			}
			continue
		}
		if err := s.store.MarkAlertSent(ctx, a.ID); err != nil {
			s.log.ErrorContext(ctx, "mark alert sent", "alert_id", a.ID, "error", err)
		}
	}
	return nil
}

func (s *Sender) sendMail(cfg *models.SMTPConfigRecord, recipient, subject, body string) error {
	if cfg.Host == "" {
		return fmt.Errorf("smtp not configured")
	}

	msg := fmt.Sprintf("From: %s\r\n", cfg.From)
	msg += fmt.Sprintf("To: %s\r\n", recipient)
	msg += fmt.Sprintf("Subject: %s\r\n", subject)
	msg += "MIME-Version: 1.0\r\n"
	msg += "Content-Type: text/html; charset=\"UTF-8\"\r\n"
	msg += "\r\n"
	msg += body

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	var auth smtp.Auth
	if cfg.User != "" {
		password, err := s.box.Open(cfg.PasswordEnc)
		if err != nil {
			return fmt.Errorf("decrypt smtp password: %w", err)
		}
		auth = smtp.PlainAuth("", cfg.User, password, cfg.Host)
	}

	return s.send(addr, auth, cfg.From, []string{recipient}, []byte(msg))
}

func composeImmediate(v models.Vulnerability) (subject, body string) {
	subject = fmt.Sprintf("[VulnDash] %s alert: %s", alertReason(v), v.CVEID)
	body = fmt.Sprintf(`<html>
<body>
<h2>%s</h2>
<p><strong>CVE:</strong> %s</p>
<p><strong>Severity:</strong> %s</p>
<p><strong>CVSS:</strong> %s</p>
<p><strong>EPSS:</strong> %s</p>
<p>%s</p>
<p><a href="%s/api/vulnerabilities/%s">View details</a></p>
</body>
</html>`, alertReason(v), v.CVEID, v.Severity, formatScore(v.CVSSScore), formatEPSS(v), v.Title, appBaseURL, v.CVEID)
	return subject, body
}

func composeDigest(vulns []models.Vulnerability) (subject, body string) {
	subject = fmt.Sprintf("[VulnDash] Daily digest: %d vulnerabilities", len(vulns))

	var rows strings.Builder
	for _, v := range vulns {
		rows.WriteString(fmt.Sprintf(
			"<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			v.CVEID, v.Severity, formatScore(v.CVSSScore), formatEPSS(v),
		))
	}

	body = fmt.Sprintf(`<html>
<body>
<h2>Daily Vulnerability Digest</h2>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>CVE</th><th>Severity</th><th>CVSS</th><th>EPSS</th></tr>
%s
</table>
</body>
</html>`, rows.String())
	return subject, body
}

func alertReason(v models.Vulnerability) string {
	if v.KEV {
		return "Known Exploited Vulnerability"
	}
	return "High EPSS"
}

func formatScore(score *float64) string {
	if score == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", *score)
}

func formatEPSS(v models.Vulnerability) string {
	if v.EPSSScore == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *v.EPSSScore)
}
