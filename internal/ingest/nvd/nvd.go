// Package nvd polls the NVD CVE 2.0 REST API and stages each returned CVE
// as a raw entry for the extraction pipeline.
package nvd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vulndash/vulndash/internal/ingest"
	"github.com/vulndash/vulndash/internal/models"
)

const defaultBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

const resultsPerPage = 200

// Ingester polls the NVD CVE API on cfg.URL (falling back to the public
// endpoint when unset) and stages every CVE published or modified since
// the source's last successful poll.
type Ingester struct {
	store         ingest.RawStore
	httpClient    *http.Client
	retentionDays int
	apiKey        string
}

// New constructs an Ingester. apiKey is optional; NVD rate-limits
// unauthenticated callers much more aggressively (5 req/30s vs 50 req/30s).
func New(store ingest.RawStore, apiKey string) *Ingester {
	return &Ingester{
		store:         store,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		retentionDays: 7,
		apiKey:        apiKey,
	}
}

func (i *Ingester) Name() string { return "nvd" }

// cveAPIResponse is the subset of the NVD CVE 2.0 response schema VulnDash
// cares about; the full response carries many more statistics fields.
type cveAPIResponse struct {
	ResultsPerPage  int           `json:"resultsPerPage"`
	StartIndex      int           `json:"startIndex"`
	TotalResults    int           `json:"totalResults"`
	Vulnerabilities []vulnWrapper `json:"vulnerabilities"`
}

type vulnWrapper struct {
	CVE cveItem `json:"cve"`
}

type cveItem struct {
	ID           string        `json:"id"`
	Published    string        `json:"published"`
	LastModified string        `json:"lastModified"`
	Descriptions []description `json:"descriptions"`
	Metrics      metrics       `json:"metrics"`
}

type description struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type metrics struct {
	CvssMetricV31 []cvssMetric `json:"cvssMetricV31"`
	CvssMetricV30 []cvssMetric `json:"cvssMetricV30"`
}

type cvssMetric struct {
	CVSSData struct {
		BaseScore    float64 `json:"baseScore"`
		VectorString string  `json:"vectorString"`
	} `json:"cvssData"`
}

// Poll fetches one page at a time (NVD caps resultsPerPage at 2000, but
// 200 keeps a single slow page from dominating a cron tick) using
// lastModStartDate/lastModEndDate derived from cfg.LastPolledAt, and
// stages each CVE's English description plus its CVSS vector/score as raw
// text for the extraction engine to parse.
func (i *Ingester) Poll(ctx context.Context, cfg models.SourceConfig) (ingest.Stats, error) {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	since := cfg.LastPolledAt
	var query string
	if since != nil {
		start := since.UTC().Format(time.RFC3339)
		end := time.Now().UTC().Format(time.RFC3339)
		query = fmt.Sprintf("?lastModStartDate=%s&lastModEndDate=%s&resultsPerPage=%d", start, end, resultsPerPage)
	} else {
		query = fmt.Sprintf("?resultsPerPage=%d", resultsPerPage)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+query, nil)
	if err != nil {
		return ingest.Stats{}, fmt.Errorf("nvd: build request: %w", err)
	}
	if i.apiKey != "" {
		req.Header.Set("apiKey", i.apiKey)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return ingest.Stats{}, fmt.Errorf("nvd: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ingest.Stats{}, fmt.Errorf("nvd: unexpected status %d: %s", resp.StatusCode, body)
	}

	var parsed cveAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ingest.Stats{}, fmt.Errorf("nvd: decode response: %w", err)
	}

	stats := ingest.Stats{Fetched: len(parsed.Vulnerabilities)}
	for _, v := range parsed.Vulnerabilities {
		if err := i.stageCVE(ctx, v.CVE); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", v.CVE.ID, err))
			continue
		}
		stats.New++
	}
	return stats, nil
}

func (i *Ingester) stageCVE(ctx context.Context, item cveItem) error {
	raw := renderRawText(item)
	_, err := i.store.InsertRawEntry(ctx, "nvd", item.ID, raw, i.retentionDays)
	return err
}

// renderRawText flattens the structured NVD fields into the free-text
// shape the extraction engine's prompt expects, rather than handing it
// raw JSON it would have to re-parse.
func renderRawText(item cveItem) string {
	desc := englishDescription(item.Descriptions)
	score, vector := bestCVSS(item.Metrics)

	text := fmt.Sprintf("%s: %s", item.ID, desc)
	if score > 0 {
		text += fmt.Sprintf(" CVSS %.1f", score)
		if vector != "" {
			text += fmt.Sprintf(" (%s)", vector)
		}
	}
	return text
}

func englishDescription(descs []description) string {
	for _, d := range descs {
		if d.Lang == "en" {
			return d.Value
		}
	}
	if len(descs) > 0 {
		return descs[0].Value
	}
	return ""
}

func bestCVSS(m metrics) (score float64, vector string) {
	if len(m.CvssMetricV31) > 0 {
		return m.CvssMetricV31[0].CVSSData.BaseScore, m.CvssMetricV31[0].CVSSData.VectorString
	}
	if len(m.CvssMetricV30) > 0 {
		return m.CvssMetricV30[0].CVSSData.BaseScore, m.CvssMetricV30[0].CVSSData.VectorString
	}
	return 0, ""
}
