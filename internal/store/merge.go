package store

import (
	"time"

	"github.com/vulndash/vulndash/internal/events"
	"github.com/vulndash/vulndash/internal/extraction"
	"github.com/vulndash/vulndash/internal/models"
)

// mergedFields is the outcome of applying last-write-wins semantics between
// a stored Vulnerability and a new extraction Result. It is a plain data
// computation with no database access, kept separate from mergeVulnerability
// so it can be unit tested without a transaction.
type mergedFields struct {
	Title       string
	Description string
	Severity    models.Severity
	CVSSScore   *float64
	CVSSVector  *string

	Confidence      float64
	Provider        string
	Model           string
	AttemptIndex    int
}

// computeMerge applies the curated store's merge rule: non-empty fields
// from the new extraction overwrite, and confidence/provenance only
// advance if the new extraction's confidence exceeds what's stored.
func computeMerge(existing models.Vulnerability, result extraction.Result) mergedFields {
	m := mergedFields{
		Title:        existing.Title,
		Description:  existing.Description,
		Severity:     existing.Severity,
		CVSSScore:    existing.CVSSScore,
		CVSSVector:   existing.CVSSVector,
		Confidence:   existing.Confidence,
		Provider:     existing.ExtractionMetadata.Provider,
		Model:        existing.ExtractionMetadata.Model,
		AttemptIndex: existing.ExtractionMetadata.AttemptIndex,
	}

	if result.Title != "" {
		m.Title = result.Title
	}
	if result.Description != "" {
		m.Description = result.Description
	}
	if result.Severity != "" && result.Severity != models.SeverityUnknown {
		m.Severity = result.Severity
	}
	if result.CVSSScore != nil {
		m.CVSSScore = result.CVSSScore
	}
	if result.CVSSVector != "" {
		v := result.CVSSVector
		m.CVSSVector = &v
	}

	if result.Confidence > existing.Confidence {
		m.Confidence = result.Confidence
		m.Provider = result.Provider
		m.Model = result.Model
		m.AttemptIndex = result.FallbackAttempt
	}

	return m
}

// detectEnrichmentEvents decides which Curated Store lifecycle events an
// enrichment update should fire, given the vulnerability's state
// immediately before the update and the incoming EPSS/KEV values. It is a
// pure function so the sticky-KEV and threshold-crossing edge cases (spec
// §4.6/§4.8, Scenario E) can be tested without a database.
func detectEnrichmentEvents(cveID string, priorKEV bool, priorEPSS *float64, newKEV bool, newEPSS *float64, epssThreshold float64, occurredAt time.Time) []events.Event {
	var evts []events.Event

	if !priorKEV && newKEV {
		evts = append(evts, events.Event{Type: events.KEVTransition, CVEID: cveID, OccurredAt: occurredAt})
	}

	if newEPSS != nil && *newEPSS >= epssThreshold && (priorEPSS == nil || *priorEPSS < epssThreshold) {
		evts = append(evts, events.Event{Type: events.EPSSThresholdCrossing, CVEID: cveID, EPSSScore: newEPSS, OccurredAt: occurredAt})
	}

	return evts
}
