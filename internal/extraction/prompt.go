package extraction

import (
	"strings"
	"unicode/utf8"
)

const maxRawTextBytes = 64 * 1024

const systemPrompt = `You are a vulnerability intelligence extraction engine. Given raw security advisory text, extract a single structured vulnerability record.

Respond with a strict JSON object containing exactly these fields:
{
  "cve_id": string or null,
  "title": string or null,
  "description": string or null,
  "vendor": string or null,
  "product": string or null,
  "severity": one of "CRITICAL", "HIGH", "MEDIUM", "LOW", "NONE", "UNKNOWN",
  "cvss_score": number between 0.0 and 10.0, or null,
  "cvss_vector": string or null
}

Report null for any field you cannot determine with confidence. Do not guess. Emit no text outside the JSON object.`

// rawExtraction is the shape the model is asked to emit; field presence and
// format are re-derived by validation rather than trusted as-is.
type rawExtraction struct {
	CVEID       *string  `json:"cve_id"`
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Vendor      *string  `json:"vendor"`
	Product     *string  `json:"product"`
	Severity    *string  `json:"severity"`
	CVSSScore   *float64 `json:"cvss_score"`
	CVSSVector  *string  `json:"cvss_vector"`
}

// buildUserPrompt truncates rawText at a word boundary if it exceeds the
// 64 KiB input ceiling, appending an ellipsis marker.
func buildUserPrompt(rawText string) string {
	truncated := truncateAtWordBoundary(rawText, maxRawTextBytes)
	return "Advisory text:\n\n" + truncated
}

func truncateAtWordBoundary(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}

	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if idx := strings.LastIndexAny(s[:cut], " \t\n"); idx > 0 {
		cut = idx
	}
	return s[:cut] + " …"
}
