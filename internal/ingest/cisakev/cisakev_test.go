package cisakev

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/models"
)

type fakeEnrichmentStore struct {
	calls []struct {
		cveID string
		kev   bool
	}
	errFor map[string]error
}

func (f *fakeEnrichmentStore) ApplyEnrichment(ctx context.Context, cveID string, epssScore, epssPercentile *float64, kev bool, epssThreshold float64) error {
	if err, ok := f.errFor[cveID]; ok {
		return err
	}
	f.calls = append(f.calls, struct {
		cveID string
		kev   bool
	}{cveID, kev})
	return nil
}

func TestIngester_Poll_AppliesKEVTrueToEveryListedCVE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count": 2, "vulnerabilities": [{"cveID": "CVE-2024-1"}, {"cveID": "CVE-2024-2"}]}`))
	}))
	defer server.Close()

	store := &fakeEnrichmentStore{}
	ing := New(store, 0.5)
	stats, err := ing.Poll(context.Background(), models.SourceConfig{URL: server.URL})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 2, stats.New)
	require.Len(t, store.calls, 2)
	assert.True(t, store.calls[0].kev)
}

func TestIngester_Poll_NotModifiedShortCircuits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count": 1, "vulnerabilities": [{"cveID": "CVE-2024-1"}]}`))
	}))
	defer server.Close()

	store := &fakeEnrichmentStore{}
	ing := New(store, 0.5)

	stats, err := ing.Poll(context.Background(), models.SourceConfig{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.New)

	stats, err = ing.Poll(context.Background(), models.SourceConfig{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Fetched, "a 304 response yields no new fetch work")
}

func TestIngester_Poll_NotFoundCVEIsNotReportedAsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count": 1, "vulnerabilities": [{"cveID": "CVE-2024-404"}]}`))
	}))
	defer server.Close()

	store := &fakeEnrichmentStore{errFor: map[string]error{"CVE-2024-404": apperr.ErrNotFound}}
	ing := New(store, 0.5)
	stats, err := ing.Poll(context.Background(), models.SourceConfig{URL: server.URL})
	require.NoError(t, err)

	assert.Empty(t, stats.Errors, "a not-yet-curated CVE is expected, not an error")
	assert.Equal(t, 0, stats.New)
}
