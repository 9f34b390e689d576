// Package rss polls a vendor or aggregator RSS 2.0 feed and stages each
// item's title and description as a raw entry. No third-party RSS/Atom
// parser appears anywhere in the reference corpus, so this package parses
// the (small, well-known) RSS 2.0 item shape directly with encoding/xml
// rather than reaching outside it.
package rss

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/vulndash/vulndash/internal/ingest"
	"github.com/vulndash/vulndash/internal/models"
)

// feed is the subset of RSS 2.0 VulnDash reads: channel/item/title/
// description/guid/pubDate.
type feed struct {
	Channel struct {
		Items []item `xml:"item"`
	} `xml:"channel"`
}

type item struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	GUID        string `xml:"guid"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
}

// Ingester polls a single RSS feed URL (cfg.URL) and stages each item as
// raw text for the extraction engine, using the item's GUID (falling back
// to its link) as the idempotency key so a feed that republishes the same
// item across polls doesn't restage it.
type Ingester struct {
	store         ingest.RawStore
	httpClient    *http.Client
	retentionDays int
}

func New(store ingest.RawStore) *Ingester {
	return &Ingester{
		store:         store,
		httpClient:    &http.Client{Timeout: 20 * time.Second},
		retentionDays: 7,
	}
}

func (i *Ingester) Name() string { return "rss" }

// Poll fetches cfg.URL and stages every item it finds. InsertRawEntry's
// ON CONFLICT (source, source_ref) DO NOTHING absorbs re-polls of items
// already staged, so Poll does not need its own dedup pass beyond picking
// a stable source_ref per item.
func (i *Ingester) Poll(ctx context.Context, cfg models.SourceConfig) (ingest.Stats, error) {
	if cfg.URL == "" {
		return ingest.Stats{}, fmt.Errorf("rss: source config %q has no feed URL", cfg.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return ingest.Stats{}, fmt.Errorf("rss: build request: %w", err)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return ingest.Stats{}, fmt.Errorf("rss: fetch %s: %w", cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ingest.Stats{}, fmt.Errorf("rss: unexpected status %d from %s", resp.StatusCode, cfg.URL)
	}

	var parsed feed
	if err := xml.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ingest.Stats{}, fmt.Errorf("rss: decode feed %s: %w", cfg.URL, err)
	}

	stats := ingest.Stats{Fetched: len(parsed.Channel.Items)}
	for _, it := range parsed.Channel.Items {
		ref := it.GUID
		if ref == "" {
			ref = it.Link
		}
		if ref == "" {
			continue
		}

		text := it.Title
		if it.Description != "" {
			text = fmt.Sprintf("%s: %s", it.Title, it.Description)
		}

		if _, err := i.store.InsertRawEntry(ctx, "rss", ref, text, i.retentionDays); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", ref, err))
			continue
		}
		stats.New++
	}
	return stats, nil
}
