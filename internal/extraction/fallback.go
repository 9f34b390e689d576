package extraction

import "github.com/vulndash/vulndash/internal/models"

// defaultFallbackConfidence is the floor assigned when every provider in the
// gateway's chain fails and extraction degrades to regex-only recovery.
const defaultFallbackConfidence = 0.20

// fallbackExtract runs when the gateway exhausts every provider, when the
// model's output cannot be coerced into JSON, and for empty input. It never
// fails: at worst it returns an all-null result with cve_id empty and
// NeedsReview true.
func fallbackExtract(rawText string) Result {
	cve := models.CVEIDPattern.FindString(rawText)

	return Result{
		CVEID:              cve,
		Severity:           models.SeverityUnknown,
		Confidence:         defaultFallbackConfidence,
		NeedsReview:        true,
		Provider:           "none",
		ValidationWarnings: []string{"all LLM providers failed; regex-only fallback extraction used"},
	}
}
