package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/config"
	"github.com/vulndash/vulndash/internal/logger"
	"github.com/vulndash/vulndash/internal/models"
	"github.com/vulndash/vulndash/internal/secrets"
	"github.com/vulndash/vulndash/internal/store"
)

func testSecretsBox(t *testing.T) *secrets.Box {
	t.Helper()
	b, err := secrets.New(config.SecretsConfig{EncryptionKey: "test-encryption-key-for-httpapi"})
	require.NoError(t, err)
	return b
}

// fakeStore implements Store entirely in memory for router/handler tests.
type fakeStore struct {
	vulns       map[string]models.Vulnerability
	listResult  []models.Vulnerability
	countResult int
	trends      []store.TrendPoint
	kpis        store.KPISnapshot
	healthErr   error

	sources  []models.SourceConfig
	products []models.Product
	llms     []models.LLMProviderRecord
	reviews  map[uuid.UUID]models.ReviewQueueItem
	syncLogs []models.CatalogSyncLog
	smtp     models.SMTPConfigRecord
	notifCfg models.NotificationConfigRecord

	remediated map[uuid.UUID]*time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		vulns:      make(map[string]models.Vulnerability),
		reviews:    make(map[uuid.UUID]models.ReviewQueueItem),
		remediated: make(map[uuid.UUID]*time.Time),
	}
}

func (s *fakeStore) Health(ctx context.Context) error { return s.healthErr }

func (s *fakeStore) ListVulnerabilities(ctx context.Context, filter store.VulnerabilityFilter) ([]models.Vulnerability, error) {
	return s.listResult, nil
}
func (s *fakeStore) CountVulnerabilities(ctx context.Context, filter store.VulnerabilityFilter) (int, error) {
	return s.countResult, nil
}
func (s *fakeStore) GetVulnerabilityByCVEID(ctx context.Context, cveID string) (*models.Vulnerability, error) {
	v, ok := s.vulns[cveID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &v, nil
}
func (s *fakeStore) GetTrends(ctx context.Context, days int) ([]store.TrendPoint, error) {
	return s.trends, nil
}
func (s *fakeStore) GetKPIs(ctx context.Context, highEPSSThreshold float64) (store.KPISnapshot, error) {
	return s.kpis, nil
}
func (s *fakeStore) ToggleRemediated(ctx context.Context, id uuid.UUID) (*time.Time, error) {
	if s.remediated[id] == nil {
		now := time.Now()
		s.remediated[id] = &now
	} else {
		s.remediated[id] = nil
	}
	return s.remediated[id], nil
}

func (s *fakeStore) ListSourceConfigs(ctx context.Context) ([]models.SourceConfig, error) {
	return s.sources, nil
}
func (s *fakeStore) UpsertSourceConfig(ctx context.Context, cfg models.SourceConfig) error {
	s.sources = append(s.sources, cfg)
	return nil
}

func (s *fakeStore) SearchProducts(ctx context.Context, query string, limit int) ([]models.Product, error) {
	return s.products, nil
}
func (s *fakeStore) InsertCustomProduct(ctx context.Context, vendor, product, version, cpeURI string) (uuid.UUID, error) {
	return uuid.New(), nil
}
func (s *fakeStore) SetProductMonitored(ctx context.Context, id uuid.UUID, monitored bool) error {
	return nil
}

func (s *fakeStore) ListLLMProviderRecords(ctx context.Context) ([]models.LLMProviderRecord, error) {
	return s.llms, nil
}
func (s *fakeStore) UpsertLLMProviderRecord(ctx context.Context, r models.LLMProviderRecord) error {
	s.llms = append(s.llms, r)
	return nil
}

func (s *fakeStore) ListPendingReviewItems(ctx context.Context, limit, offset int) ([]models.ReviewQueueItem, error) {
	var items []models.ReviewQueueItem
	for _, v := range s.reviews {
		items = append(items, v)
	}
	return items, nil
}
func (s *fakeStore) GetReviewItem(ctx context.Context, id uuid.UUID) (*models.ReviewQueueItem, error) {
	item, ok := s.reviews[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &item, nil
}
func (s *fakeStore) ApproveReviewItem(ctx context.Context, id uuid.UUID, edit models.ReviewEdit, reviewer string) (uuid.UUID, error) {
	return uuid.New(), nil
}
func (s *fakeStore) RejectReviewItem(ctx context.Context, id uuid.UUID, reviewer, notes string) error {
	return nil
}

func (s *fakeStore) ListCatalogSyncLogs(ctx context.Context, limit int) ([]models.CatalogSyncLog, error) {
	return s.syncLogs, nil
}

func (s *fakeStore) GetSMTPConfig(ctx context.Context) (*models.SMTPConfigRecord, error) {
	return &s.smtp, nil
}
func (s *fakeStore) PutSMTPConfig(ctx context.Context, c models.SMTPConfigRecord) error {
	s.smtp = c
	return nil
}

func (s *fakeStore) GetNotificationConfig(ctx context.Context) (*models.NotificationConfigRecord, error) {
	return &s.notifCfg, nil
}
func (s *fakeStore) PutNotificationConfig(ctx context.Context, c models.NotificationConfigRecord) error {
	s.notifCfg = c
	return nil
}

func testRouter(t *testing.T, s *fakeStore) http.Handler {
	t.Helper()
	return New(Config{
		Store:     s,
		Log:       logger.New("error", "text"),
		AdminAuth: NewAdminAuth(),
		RateLimit: RateLimitConfig{Enabled: false},
		Secrets:   testSecretsBox(t),
	})
}

func TestListVulnerabilities_ReturnsTotalAndPage(t *testing.T) {
	s := newFakeStore()
	s.listResult = []models.Vulnerability{{CVEID: "CVE-2024-1111"}}
	s.countResult = 42
	r := testRouter(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/vulnerabilities?limit=10", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp listVulnerabilitiesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 42, resp.Total)
	assert.Len(t, resp.Vulnerabilities, 1)
}

func TestListVulnerabilities_ClampsLimitToMax(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/vulnerabilities?limit=5000", nil)
	filter := parseListFilter(req)
	assert.Equal(t, maxListLimit, filter.Limit)
}

func TestGetVulnerability_NotFoundReturns404(t *testing.T) {
	s := newFakeStore()
	r := testRouter(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/vulnerabilities/CVE-2099-9999", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrends_RejectsDaysOutOfRange(t *testing.T) {
	s := newFakeStore()
	r := testRouter(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/trends?days=400", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemediate_TogglesThenReverts(t *testing.T) {
	s := newFakeStore()
	id := uuid.New()
	s.vulns["CVE-2024-5555"] = models.Vulnerability{ID: id, CVEID: "CVE-2024-5555"}
	r := testRouter(t, s)

	req1 := httptest.NewRequest(http.MethodPost, "/api/vulnerabilities/CVE-2024-5555/remediate", nil)
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)
	require.Equal(t, http.StatusOK, w1.Code)
	require.NotNil(t, s.remediated[id])

	s.vulns["CVE-2024-5555"] = models.Vulnerability{ID: id, CVEID: "CVE-2024-5555", RemediatedAt: s.remediated[id]}

	req2 := httptest.NewRequest(http.MethodPost, "/api/vulnerabilities/CVE-2024-5555/remediate", nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Nil(t, s.remediated[id], "second toggle must revert to unremediated")
}

func TestExport_CSVFormat(t *testing.T) {
	s := newFakeStore()
	s.listResult = []models.Vulnerability{{CVEID: "CVE-2024-1111", Title: "Example"}}
	r := testRouter(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/export", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Body.String(), "CVE-2024-1111")
}

func TestKPIs_ReturnsSnapshot(t *testing.T) {
	s := newFakeStore()
	s.kpis = store.KPISnapshot{Total: 10, KEV: 2, HighEPSS: 3, NewToday: 1, NewThisWeek: 4}
	r := testRouter(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/kpis", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var snap store.KPISnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 10, snap.Total)
}
