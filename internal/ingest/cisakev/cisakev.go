// Package cisakev polls the CISA Known Exploited Vulnerabilities catalog
// and applies KEV enrichment directly to the curated store, bypassing raw
// staging and extraction entirely — the feed is already structured, so
// there is nothing for an LLM to distill. The fetch/fingerprint shape is
// adapted from claircore's enricher/kev driver: a conditional GET keyed
// on the prior response's ETag, so an unchanged catalog costs one round
// trip instead of a full re-enrichment pass.
package cisakev

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/ingest"
	"github.com/vulndash/vulndash/internal/models"
)

const defaultFeedURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

// root mirrors the catalog's top-level JSON shape.
type root struct {
	Title           string      `json:"title"`
	CatalogVersion  string      `json:"catalogVersion"`
	DateReleased    string      `json:"dateReleased"`
	Count           int         `json:"count"`
	Vulnerabilities []vulnEntry `json:"vulnerabilities"`
}

type vulnEntry struct {
	CVEID string `json:"cveID"`
}

// Ingester applies the sticky KEV=true transition to every CVE currently
// listed in the catalog. It never clears KEV for a CVE that drops off the
// list: removal is treated as CISA bookkeeping, not evidence the
// vulnerability stopped being exploited.
type Ingester struct {
	store        ingest.EnrichmentStore
	httpClient   *http.Client
	epssThreshold float64
	lastETag     string
}

// New constructs an Ingester. epssThreshold is passed through to
// ApplyEnrichment unchanged on every call — KEV polling doesn't touch
// epss_score, so the threshold only matters for the EPSS-crossing check
// ApplyEnrichment runs internally, which a kev=true-only update can never
// trigger.
func New(store ingest.EnrichmentStore, epssThreshold float64) *Ingester {
	return &Ingester{
		store:        store,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		epssThreshold: epssThreshold,
	}
}

func (i *Ingester) Name() string { return "cisa_kev" }

// Poll performs a conditional GET against the catalog and applies a KEV
// transition for every listed CVE id. An unchanged catalog (304) short
// circuits with an empty Stats rather than re-walking the unchanged list.
func (i *Ingester) Poll(ctx context.Context, cfg models.SourceConfig) (ingest.Stats, error) {
	feedURL := cfg.URL
	if feedURL == "" {
		feedURL = defaultFeedURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return ingest.Stats{}, fmt.Errorf("cisakev: build request: %w", err)
	}
	if i.lastETag != "" {
		req.Header.Set("If-None-Match", i.lastETag)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return ingest.Stats{}, fmt.Errorf("cisakev: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return ingest.Stats{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return ingest.Stats{}, fmt.Errorf("cisakev: unexpected status %d", resp.StatusCode)
	}

	var parsed root
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ingest.Stats{}, fmt.Errorf("cisakev: decode catalog: %w", err)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		i.lastETag = etag
	}

	stats := ingest.Stats{Fetched: len(parsed.Vulnerabilities)}
	for _, v := range parsed.Vulnerabilities {
		if v.CVEID == "" {
			continue
		}
		if err := i.store.ApplyEnrichment(ctx, v.CVEID, nil, nil, true, i.epssThreshold); err != nil {
			// A CVE the catalog lists but VulnDash hasn't curated yet is
			// expected, not an error worth surfacing per-entry; any other
			// failure is recorded.
			if !errors.Is(err, apperr.ErrNotFound) {
				stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", v.CVEID, err))
			}
			continue
		}
		stats.New++
	}
	return stats, nil
}
