// Package epss polls FIRST.org's daily EPSS score feed and applies EPSS
// enrichment directly to the curated store. The feed shape (gzip+CSV,
// published under a date-stamped filename, metadata in leading comment
// lines) and the fingerprint-before-reparse approach are adapted from
// claircore's enricher/epss driver.
package epss

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/ingest"
	"github.com/vulndash/vulndash/internal/models"
)

const baseURL = "https://epss.cyentia.com"

// Ingester fetches yesterday's EPSS score feed (today's is not yet
// published when a worker's morning cron tick runs) and applies every
// row's score and percentile to the matching curated vulnerability.
type Ingester struct {
	store         ingest.EnrichmentStore
	client        *http.Client
	epssThreshold float64
	lastETag      string
}

// New constructs an Ingester. epssThreshold is the admin-configured EPSS
// alert trigger (NotificationConfig.epss_threshold), forwarded to
// ApplyEnrichment on every row so it can detect a threshold-crossing
// transition at the point of write.
func New(store ingest.EnrichmentStore, epssThreshold float64) *Ingester {
	return &Ingester{
		store:         store,
		client:        &http.Client{Timeout: 60 * time.Second},
		epssThreshold: epssThreshold,
	}
}

// SetThreshold updates the EPSS alert threshold used by subsequent Poll
// calls, so a running worker picks up an admin edit to NotificationConfig
// without needing to rebuild its ingester set.
func (i *Ingester) SetThreshold(threshold float64) { i.epssThreshold = threshold }

func (i *Ingester) Name() string { return "epss" }

// currentFeedURL returns yesterday's dated feed URL — FIRST.org publishes
// each day's model run the following morning, so "today's" file is not
// guaranteed to exist yet at poll time.
func currentFeedURL(override string) string {
	if override != "" {
		return override
	}
	date := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	return fmt.Sprintf("%s/epss_scores-%s.csv.gz", baseURL, date)
}

// Poll fetches the feed with a conditional GET, skips work entirely on a
// 304, and otherwise parses every (cve, score, percentile) row and
// applies it.
func (i *Ingester) Poll(ctx context.Context, cfg models.SourceConfig) (ingest.Stats, error) {
	feedURL := currentFeedURL(cfg.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return ingest.Stats{}, fmt.Errorf("epss: build request: %w", err)
	}
	if i.lastETag != "" {
		req.Header.Set("If-None-Match", i.lastETag)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return ingest.Stats{}, fmt.Errorf("epss: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return ingest.Stats{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return ingest.Stats{}, fmt.Errorf("epss: unexpected status %d", resp.StatusCode)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		i.lastETag = etag
	}

	items, err := parseFeed(resp.Body)
	if err != nil {
		return ingest.Stats{}, fmt.Errorf("epss: parse feed: %w", err)
	}

	stats := ingest.Stats{Fetched: len(items)}
	for _, item := range items {
		if err := i.store.ApplyEnrichment(ctx, item.CVE, &item.Score, &item.Percentile, false, i.epssThreshold); err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", item.CVE, err))
			}
			continue
		}
		stats.New++
	}
	return stats, nil
}

// epssItem is one decoded EPSS feed row.
type epssItem struct {
	CVE        string
	Score      float64
	Percentile float64
}

// parseFeed decodes a gzip+CSV EPSS feed. Every leading line that starts
// with '#' (the "#model_version:..."/"#score_date:..." metadata comments)
// is skipped; the first other line is the header row (cve,epss,percentile).
func parseFeed(r io.Reader) ([]epssItem, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	buffered := bufio.NewReader(gz)
	for {
		peeked, err := buffered.Peek(1)
		if err != nil {
			return nil, fmt.Errorf("peek feed body: %w", err)
		}
		if peeked[0] != '#' {
			break
		}
		if _, err := buffered.ReadString('\n'); err != nil {
			return nil, fmt.Errorf("skip metadata line: %w", err)
		}
	}

	reader := csv.NewReader(buffered)
	reader.FieldsPerRecord = 3

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header row: %w", err)
	}
	if strings.ToLower(header[0]) != "cve" || strings.ToLower(header[1]) != "epss" {
		return nil, fmt.Errorf("unexpected header: %v", header)
	}

	var items []epssItem
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		score, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			continue
		}
		percentile, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			continue
		}
		items = append(items, epssItem{CVE: record[0], Score: score, Percentile: percentile})
	}
	return items, nil
}
