// Package extraction turns raw feed text into a validated, confidence-scored
// structured record, and decides whether that record is promoted directly to
// the curated store or held for human review.
package extraction

import "github.com/vulndash/vulndash/internal/models"

// Result is the extraction engine's output for one raw text input. It
// mirrors models.Vulnerability's fields plus the routing verdict.
type Result struct {
	CVEID       string
	Title       string
	Description string
	Vendor      string
	Product     string
	Severity    models.Severity
	CVSSScore   *float64
	CVSSVector  string

	Confidence  float64
	NeedsReview bool

	Provider           string
	Model              string
	FallbackAttempt    int
	ValidationWarnings []string
}
