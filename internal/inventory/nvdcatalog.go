package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultCPEAPIURL  = "https://services.nvd.nist.gov/rest/json/cpes/2.0"
	cpeResultsPerPage = 1000
)

// NVDCatalogFetcher implements CatalogFetcher against the NVD CPE 2.0 REST
// API, the public product dictionary VulnDash's inventory correlation is
// matched against.
type NVDCatalogFetcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewNVDCatalogFetcher constructs a fetcher against the public NVD CPE API.
// apiKey is optional and, when set, lifts NVD's unauthenticated rate limit.
func NewNVDCatalogFetcher(apiKey string) *NVDCatalogFetcher {
	return &NVDCatalogFetcher{
		baseURL:    defaultCPEAPIURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type cpeAPIResponse struct {
	ResultsPerPage int         `json:"resultsPerPage"`
	StartIndex     int         `json:"startIndex"`
	TotalResults   int         `json:"totalResults"`
	Products       []cpeWrapper `json:"products"`
}

type cpeWrapper struct {
	CPE cpeItem `json:"cpe"`
}

type cpeItem struct {
	CPEName string `json:"cpeName"`
}

// FetchPage requests one page of the CPE dictionary starting at offset and
// reports the next offset to resume from along with whether more pages
// remain.
func (f *NVDCatalogFetcher) FetchPage(ctx context.Context, offset int) (CatalogPage, int, error) {
	url := fmt.Sprintf("%s?startIndex=%d&resultsPerPage=%d", f.baseURL, offset, cpeResultsPerPage)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return CatalogPage{}, 0, fmt.Errorf("nvd catalog: build request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("apiKey", f.apiKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return CatalogPage{}, 0, fmt.Errorf("nvd catalog: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return CatalogPage{}, 0, fmt.Errorf("nvd catalog: unexpected status %d: %s", resp.StatusCode, body)
	}

	var parsed cpeAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return CatalogPage{}, 0, fmt.Errorf("nvd catalog: decode response: %w", err)
	}

	entries := make([]CatalogEntry, 0, len(parsed.Products))
	for _, p := range parsed.Products {
		if p.CPE.CPEName == "" {
			continue
		}
		entries = append(entries, CatalogEntry{CPEURI: p.CPE.CPEName})
	}

	nextOffset := parsed.StartIndex + len(parsed.Products)
	hasMore := nextOffset < parsed.TotalResults

	return CatalogPage{Entries: entries, HasMore: hasMore}, nextOffset, nil
}
