package extraction

import (
	"strings"

	"github.com/vulndash/vulndash/internal/models"
)

// validated holds a rawExtraction after the hard validation pass: format
// gates, enum normalization, and range checks all run here, before any
// confidence arithmetic. The system trusts regex and enums over an LLM's
// self-reported field values.
type validated struct {
	cveID       string
	title       string
	description string
	vendor      string
	product     string
	severity    models.Severity
	cvssScore   *float64
	cvssVector  string
	warnings    []string
}

// validate runs the hard validation pipeline described in the confidence
// engine's Validation section: CVE regex gate, severity normalization, CVSS
// range check, and blank-string sanitization.
func validate(raw rawExtraction, rawText string) validated {
	v := validated{}

	modelCVE := deref(raw.CVEID)
	switch {
	case models.IsValidCVEID(modelCVE):
		v.cveID = modelCVE
	default:
		if regexCVE := models.CVEIDPattern.FindString(rawText); regexCVE != "" {
			v.cveID = regexCVE
			if modelCVE != "" {
				v.warnings = append(v.warnings, "model-reported cve_id failed format validation; substituted regex match")
			}
		}
	}

	v.title = sanitize(deref(raw.Title))
	v.description = sanitize(deref(raw.Description))
	v.vendor = sanitize(deref(raw.Vendor))
	v.product = sanitize(deref(raw.Product))

	rawSeverity := strings.ToUpper(strings.TrimSpace(deref(raw.Severity)))
	v.severity = normalizeSeverity(rawSeverity)
	if v.severity == models.SeverityUnknown && rawSeverity != "" && rawSeverity != string(models.SeverityUnknown) {
		v.warnings = append(v.warnings, "unrecognized severity value normalized to UNKNOWN")
	}

	if raw.CVSSScore != nil {
		score := *raw.CVSSScore
		if score < 0.0 || score > 10.0 {
			v.warnings = append(v.warnings, "cvss_score out of range [0,10]; discarded")
		} else {
			v.cvssScore = &score
		}
	}
	v.cvssVector = sanitize(deref(raw.CVSSVector))

	return v
}

func normalizeSeverity(s string) models.Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(models.SeverityCritical):
		return models.SeverityCritical
	case string(models.SeverityHigh):
		return models.SeverityHigh
	case string(models.SeverityMedium):
		return models.SeverityMedium
	case string(models.SeverityLow):
		return models.SeverityLow
	case string(models.SeverityNone):
		return models.SeverityNone
	default:
		return models.SeverityUnknown
	}
}

func sanitize(s string) string {
	return strings.TrimSpace(s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
