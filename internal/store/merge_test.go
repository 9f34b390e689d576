package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vulndash/vulndash/internal/events"
	"github.com/vulndash/vulndash/internal/extraction"
	"github.com/vulndash/vulndash/internal/models"
)

func ptr(f float64) *float64 { return &f }

func TestComputeMerge_NonEmptyFieldsOverwrite(t *testing.T) {
	existing := models.Vulnerability{
		Title:       "old title",
		Description: "old description",
		Severity:    models.SeverityMedium,
		CVSSScore:   ptr(5.0),
		Confidence:  0.5,
	}
	result := extraction.Result{
		Title:       "new title",
		Description: "",
		Severity:    models.SeverityCritical,
		CVSSScore:   ptr(9.8),
		CVSSVector:  "AV:N/AC:L",
		Confidence:  0.9,
		Provider:    "anthropic",
		Model:       "claude-sonnet-4-20250514",
	}

	m := computeMerge(existing, result)

	assert.Equal(t, "new title", m.Title)
	assert.Equal(t, "old description", m.Description, "empty incoming description leaves the stored value")
	assert.Equal(t, models.SeverityCritical, m.Severity)
	assert.Equal(t, 9.8, *m.CVSSScore)
	requireNotNil(t, m.CVSSVector)
	assert.Equal(t, "AV:N/AC:L", *m.CVSSVector)
	assert.Equal(t, 0.9, m.Confidence)
	assert.Equal(t, "anthropic", m.Provider)
}

func requireNotNil(t *testing.T, v any) {
	t.Helper()
	if v == nil {
		t.Fatal("expected non-nil value")
	}
}

func TestComputeMerge_LowerConfidenceDoesNotAdvanceProvenance(t *testing.T) {
	existing := models.Vulnerability{
		Title:      "stable title",
		Confidence: 0.92,
		ExtractionMetadata: models.ExtractionMetadata{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-20250514",
		},
	}
	result := extraction.Result{
		Title:      "new but lower confidence title",
		Confidence: 0.4,
		Provider:   "local",
	}

	m := computeMerge(existing, result)

	assert.Equal(t, "new but lower confidence title", m.Title, "non-confidence fields still overwrite")
	assert.Equal(t, 0.92, m.Confidence, "stored confidence wins when higher")
	assert.Equal(t, "anthropic", m.Provider, "provenance tracks confidence, not the latest write")
}

func TestComputeMerge_EqualConfidenceKeepsStoredProvenance(t *testing.T) {
	existing := models.Vulnerability{Confidence: 0.8, ExtractionMetadata: models.ExtractionMetadata{Provider: "anthropic"}}
	result := extraction.Result{Confidence: 0.8, Provider: "openai"}

	m := computeMerge(existing, result)

	assert.Equal(t, "anthropic", m.Provider, "new extraction's confidence exceeds stored is required, equal does not qualify")
}

func TestComputeMerge_UnknownSeverityDoesNotOverwrite(t *testing.T) {
	existing := models.Vulnerability{Severity: models.SeverityHigh}
	result := extraction.Result{Severity: models.SeverityUnknown}

	m := computeMerge(existing, result)

	assert.Equal(t, models.SeverityHigh, m.Severity)
}

func TestDetectEnrichmentEvents_KEVTransitionFiresOnce(t *testing.T) {
	cveID := "CVE-2024-5555"
	now := time.Unix(1700000000, 0)

	evts := detectEnrichmentEvents(cveID, false, nil, true, nil, 0.5, now)
	requireLen(t, evts, 1)
	assert.Equal(t, events.KEVTransition, evts[0].Type)
	assert.Equal(t, cveID, evts[0].CVEID)

	// Repeating the same transition (kev stays true) emits nothing further.
	evts = detectEnrichmentEvents(cveID, true, nil, true, nil, 0.5, now)
	assert.Empty(t, evts)
}

func requireLen(t *testing.T, evts []events.Event, n int) {
	t.Helper()
	if len(evts) != n {
		t.Fatalf("expected %d events, got %d: %+v", n, len(evts), evts)
	}
}

func TestDetectEnrichmentEvents_EPSSCrossingThreshold(t *testing.T) {
	now := time.Unix(1700000000, 0)
	below := 0.2
	atThreshold := 0.5
	above := 0.9

	evts := detectEnrichmentEvents("CVE-2024-1", false, &below, false, &atThreshold, 0.5, now)
	requireLen(t, evts, 1)
	assert.Equal(t, events.EPSSThresholdCrossing, evts[0].Type)

	// Already at/above threshold before: no further crossing event.
	evts = detectEnrichmentEvents("CVE-2024-1", false, &atThreshold, false, &above, 0.5, now)
	assert.Empty(t, evts)
}

func TestDetectEnrichmentEvents_ZeroThresholdTriggersOnAnyScore(t *testing.T) {
	now := time.Unix(1700000000, 0)
	score := 0.01

	evts := detectEnrichmentEvents("CVE-2024-2", false, nil, false, &score, 0.0, now)
	requireLen(t, evts, 1)
}

func TestDetectEnrichmentEvents_ThresholdOneOnlyCrossesAtPerfectScore(t *testing.T) {
	now := time.Unix(1700000000, 0)
	score := 1.0

	evts := detectEnrichmentEvents("CVE-2024-3", false, nil, false, &score, 1.0, now)
	requireLen(t, evts, 1)

	belowOne := 0.999999
	evts = detectEnrichmentEvents("CVE-2024-3", false, nil, false, &belowOne, 1.0, now)
	assert.Empty(t, evts)
}

func TestDetectEnrichmentEvents_BothFireTogether(t *testing.T) {
	now := time.Unix(1700000000, 0)
	score := 0.95

	evts := detectEnrichmentEvents("CVE-2024-4", false, nil, true, &score, 0.5, now)
	requireLen(t, evts, 2)
}

func TestReviewApprovalResult_PinsFullConfidence(t *testing.T) {
	r := reviewApprovalResult("CVE-2024-9", "title", "description", models.SeverityHigh, ptr(7.5), "AV:N", "alice")

	assert.Equal(t, 1.0, r.Confidence)
	assert.False(t, r.NeedsReview)
	assert.Equal(t, "manual_review", r.Provider)
	assert.Equal(t, "alice", r.Model)
}
