package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulndash/vulndash/internal/inventory"
	"github.com/vulndash/vulndash/internal/logger"
)

type fakeCatalogRunner struct {
	stats inventory.Stats
	err   error
}

func (f *fakeCatalogRunner) Run(ctx context.Context) (inventory.Stats, error) {
	return f.stats, f.err
}

func testAdminRouter(t *testing.T, s *fakeStore, catalog CatalogSyncRunner) http.Handler {
	t.Helper()
	return New(Config{
		Store:       s,
		Log:         logger.New("error", "text"),
		AdminAuth:   NewAdminAuth(),
		RateLimit:   RateLimitConfig{Enabled: false},
		CatalogSync: catalog,
		Secrets:     testSecretsBox(t),
	})
}

func TestAdmin_UpsertSource_RejectsInvalidKind(t *testing.T) {
	s := newFakeStore()
	r := testAdminRouter(t, s, nil)

	body := []byte(`{"name": "feed", "kind": "bogus", "url": "https://example.com"}`)
	req := httptest.NewRequest(http.MethodPut, "/admin/sources/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.sources)
}

func TestAdmin_UpsertSource_AcceptsValidBody(t *testing.T) {
	s := newFakeStore()
	r := testAdminRouter(t, s, nil)

	body := []byte(`{"name": "nvd", "kind": "nvd", "url": "https://services.nvd.nist.gov", "enabled": true}`)
	req := httptest.NewRequest(http.MethodPut, "/admin/sources/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, s.sources, 1)
	assert.Equal(t, "nvd", s.sources[0].Name)
}

func TestAdmin_TriggerCatalogSync_NoRunnerConfiguredIsBadRequest(t *testing.T) {
	s := newFakeStore()
	r := testAdminRouter(t, s, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/catalog-sync", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_TriggerCatalogSync_ReturnsStats(t *testing.T) {
	s := newFakeStore()
	runner := &fakeCatalogRunner{stats: inventory.Stats{Added: 3, Updated: 1}}
	r := testAdminRouter(t, s, runner)

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/catalog-sync", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Added":3`)
}

func TestAdmin_DisabledAuthAllowsRequestsThrough(t *testing.T) {
	s := newFakeStore()
	r := testAdminRouter(t, s, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_EnabledAuthRejectsMissingToken(t *testing.T) {
	s := newFakeStore()
	auth := NewAdminAuth()
	auth.Enable([]byte("test-secret"))

	r := New(Config{
		Store:     s,
		Log:       logger.New("error", "text"),
		AdminAuth: auth,
		RateLimit: RateLimitConfig{Enabled: false},
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
