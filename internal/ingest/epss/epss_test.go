package epss

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulndash/vulndash/internal/models"
)

type fakeEnrichmentStore struct {
	calls []struct {
		cveID      string
		score      float64
		percentile float64
	}
}

func (f *fakeEnrichmentStore) ApplyEnrichment(ctx context.Context, cveID string, epssScore, epssPercentile *float64, kev bool, epssThreshold float64) error {
	f.calls = append(f.calls, struct {
		cveID      string
		score      float64
		percentile float64
	}{cveID, *epssScore, *epssPercentile})
	return nil
}

func gzipCSV(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestIngester_Poll_ParsesScoresAndAppliesThem(t *testing.T) {
	csv := "#model_version:v2023.03.01,score_date:2024-01-01\ncve,epss,percentile\nCVE-2024-1,0.42,0.91\nCVE-2024-2,0.05,0.10\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(gzipCSV(t, csv))
	}))
	defer server.Close()

	store := &fakeEnrichmentStore{}
	ing := New(store, 0.5)
	stats, err := ing.Poll(context.Background(), models.SourceConfig{URL: server.URL})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 2, stats.New)
	require.Len(t, store.calls, 2)
	assert.Equal(t, "CVE-2024-1", store.calls[0].cveID)
	assert.Equal(t, 0.42, store.calls[0].score)
	assert.Equal(t, 0.91, store.calls[0].percentile)
}

func TestIngester_Poll_NotModifiedShortCircuits(t *testing.T) {
	csv := "#model_version:v2023.03.01,score_date:2024-01-01\ncve,epss,percentile\nCVE-2024-1,0.42,0.91\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"etag1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"etag1"`)
		w.Write(gzipCSV(t, csv))
	}))
	defer server.Close()

	store := &fakeEnrichmentStore{}
	ing := New(store, 0.5)

	_, err := ing.Poll(context.Background(), models.SourceConfig{URL: server.URL})
	require.NoError(t, err)

	stats, err := ing.Poll(context.Background(), models.SourceConfig{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Fetched)
}

func TestParseFeed_RejectsUnexpectedHeader(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("notcve,notepss,notpct\nx,y,z\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	_, err = parseFeed(&buf)
	assert.Error(t, err)
}

func TestCurrentFeedURL_UsesOverrideWhenSet(t *testing.T) {
	assert.Equal(t, "https://example.com/custom.csv.gz", currentFeedURL("https://example.com/custom.csv.gz"))
}
