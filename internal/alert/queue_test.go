package alert

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulndash/vulndash/internal/events"
	"github.com/vulndash/vulndash/internal/logger"
	"github.com/vulndash/vulndash/internal/models"
)

func testLogger() *logger.Logger {
	return logger.New("error", "text")
}

type fakeConfigStore struct {
	cfg     models.NotificationConfigRecord
	vuln    models.Vulnerability
	vulnErr error
	queued  []struct {
		vulnID    uuid.UUID
		alertType models.AlertType
		recipient string
	}
}

func (s *fakeConfigStore) GetNotificationConfig(ctx context.Context) (*models.NotificationConfigRecord, error) {
	return &s.cfg, nil
}

func (s *fakeConfigStore) GetVulnerabilityByCVEID(ctx context.Context, cveID string) (*models.Vulnerability, error) {
	if s.vulnErr != nil {
		return nil, s.vulnErr
	}
	return &s.vuln, nil
}

func (s *fakeConfigStore) QueueEmailAlert(ctx context.Context, vulnID uuid.UUID, alertType models.AlertType, recipient string) (uuid.UUID, bool, error) {
	s.queued = append(s.queued, struct {
		vulnID    uuid.UUID
		alertType models.AlertType
		recipient string
	}{vulnID, alertType, recipient})
	return uuid.New(), true, nil
}

func TestQueue_Handle_QueuesImmediateAlertForEachRecipientOnKEVTransition(t *testing.T) {
	vulnID := uuid.New()
	store := &fakeConfigStore{
		cfg: models.NotificationConfigRecord{
			Enabled:             true,
			AlertOnKEV:          true,
			Recipients:          []string{"a@example.com", "b@example.com"},
			ImmediateSeverities: []string{"CRITICAL"},
		},
		vuln: models.Vulnerability{ID: vulnID, CVEID: "CVE-2024-1234", Severity: models.SeverityCritical},
	}
	q := NewQueue(store, testLogger())

	q.Handle(events.Event{Type: events.KEVTransition, CVEID: "CVE-2024-1234"})

	require.Len(t, store.queued, 2)
	assert.Equal(t, models.AlertTypeImmediate, store.queued[0].alertType)
}

func TestQueue_Handle_SkipsWhenAlertOnKEVDisabled(t *testing.T) {
	store := &fakeConfigStore{
		cfg: models.NotificationConfigRecord{Enabled: true, AlertOnKEV: false, Recipients: []string{"a@example.com"}},
	}
	q := NewQueue(store, testLogger())

	q.Handle(events.Event{Type: events.KEVTransition, CVEID: "CVE-2024-1234"})

	assert.Empty(t, store.queued)
}

func TestQueue_Handle_EPSSCrossingRequiresScoreAtOrAboveThreshold(t *testing.T) {
	below := 0.3
	store := &fakeConfigStore{
		cfg: models.NotificationConfigRecord{
			Enabled: true, AlertOnHighEPSS: true, EPSSThreshold: 0.5,
			Recipients: []string{"a@example.com"},
		},
	}
	q := NewQueue(store, testLogger())

	q.Handle(events.Event{Type: events.EPSSThresholdCrossing, CVEID: "CVE-2024-1234", EPSSScore: &below})

	assert.Empty(t, store.queued, "score below threshold must not queue")
}

func TestQueue_Handle_FallsBackToDigestWhenSeverityNotImmediate(t *testing.T) {
	store := &fakeConfigStore{
		cfg: models.NotificationConfigRecord{
			Enabled: true, AlertOnKEV: true, DigestEnabled: true,
			Recipients:          []string{"a@example.com"},
			ImmediateSeverities: []string{"CRITICAL"},
		},
		vuln: models.Vulnerability{ID: uuid.New(), CVEID: "CVE-2024-1234", Severity: models.SeverityLow},
	}
	q := NewQueue(store, testLogger())

	q.Handle(events.Event{Type: events.KEVTransition, CVEID: "CVE-2024-1234"})

	require.Len(t, store.queued, 1)
	assert.Equal(t, models.AlertTypeDigest, store.queued[0].alertType)
}

func TestQueue_Handle_NoQueueWhenNonImmediateAndDigestDisabled(t *testing.T) {
	store := &fakeConfigStore{
		cfg: models.NotificationConfigRecord{
			Enabled: true, AlertOnKEV: true, DigestEnabled: false,
			Recipients:          []string{"a@example.com"},
			ImmediateSeverities: []string{"CRITICAL"},
		},
		vuln: models.Vulnerability{ID: uuid.New(), CVEID: "CVE-2024-1234", Severity: models.SeverityLow},
	}
	q := NewQueue(store, testLogger())

	q.Handle(events.Event{Type: events.KEVTransition, CVEID: "CVE-2024-1234"})

	assert.Empty(t, store.queued)
}

func TestQueue_Handle_DisabledConfigSkipsEntirely(t *testing.T) {
	store := &fakeConfigStore{cfg: models.NotificationConfigRecord{Enabled: false, AlertOnKEV: true}}
	q := NewQueue(store, testLogger())

	q.Handle(events.Event{Type: events.KEVTransition, CVEID: "CVE-2024-1234"})

	assert.Empty(t, store.queued)
}
