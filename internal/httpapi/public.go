package httpapi

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/logger"
	"github.com/vulndash/vulndash/internal/models"
	"github.com/vulndash/vulndash/internal/store"
)

type publicHandlers struct {
	store Store
	log   *logger.Logger
}

const (
	defaultListLimit = 50
	maxListLimit     = 1000
	defaultHighEPSS  = 0.5
)

func parseListFilter(r *http.Request) store.VulnerabilityFilter {
	q := r.URL.Query()

	filter := store.VulnerabilityFilter{
		Vendor:         q.Get("vendor"),
		Product:        q.Get("product"),
		Search:         q.Get("search"),
		HideRemediated: q.Get("hide_remediated") == "true",
		Limit:          defaultListLimit,
	}

	if v, err := strconv.ParseFloat(q.Get("min_cvss"), 64); err == nil {
		filter.MinCVSS = &v
	}
	if v, err := strconv.ParseFloat(q.Get("min_epss"), 64); err == nil {
		filter.MinEPSS = &v
	}
	if q.Get("kev_only") == "true" {
		filter.KEVOnly = true
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset >= 0 {
		filter.Offset = offset
	}

	return filter
}

type listVulnerabilitiesResponse struct {
	Total           int                    `json:"total"`
	Limit           int                    `json:"limit"`
	Offset          int                    `json:"offset"`
	Vulnerabilities []models.Vulnerability `json:"vulnerabilities"`
}

func (h *publicHandlers) listVulnerabilities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := parseListFilter(r)

	vulns, err := h.store.ListVulnerabilities(ctx, filter)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	total, err := h.store.CountVulnerabilities(ctx, filter)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, listVulnerabilitiesResponse{
		Total: total, Limit: filter.Limit, Offset: filter.Offset,
		Vulnerabilities: vulns,
	})
}

func (h *publicHandlers) getVulnerability(w http.ResponseWriter, r *http.Request) {
	cveID := chi.URLParam(r, "cveID")
	v, err := h.store.GetVulnerabilityByCVEID(r.Context(), cveID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type trendsResponse struct {
	Days   int             `json:"days"`
	Points []trendPointDTO `json:"points"`
}

type trendPointDTO struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

func (h *publicHandlers) trends(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil {
		days = v
	}
	if days < 1 || days > 365 {
		writeError(w, h.log, apperr.New(apperr.KindValidation, "days must be between 1 and 365"))
		return
	}

	points, err := h.store.GetTrends(r.Context(), days)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	dto := make([]trendPointDTO, 0, len(points))
	for _, p := range points {
		dto = append(dto, trendPointDTO{Date: p.Day.Format("2006-01-02"), Count: p.Count})
	}
	writeJSON(w, http.StatusOK, trendsResponse{Days: days, Points: dto})
}

func (h *publicHandlers) kpis(w http.ResponseWriter, r *http.Request) {
	threshold := defaultHighEPSS
	if cfg, err := h.store.GetNotificationConfig(r.Context()); err == nil && cfg != nil && cfg.EPSSThreshold > 0 {
		threshold = cfg.EPSSThreshold
	}

	k, err := h.store.GetKPIs(r.Context(), threshold)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, k)
}

func (h *publicHandlers) export(w http.ResponseWriter, r *http.Request) {
	filter := parseListFilter(r)
	filter.Limit = maxListLimit

	vulns, err := h.store.ListVulnerabilities(r.Context(), filter)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "json") {
		writeJSON(w, http.StatusOK, vulns)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="vulnerabilities.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"cve_id", "title", "severity", "cvss_score", "epss_score", "kev", "published_at", "remediated"})
	for _, v := range vulns {
		_ = cw.Write([]string{
			v.CVEID, v.Title, string(v.Severity),
			formatFloatPtr(v.CVSSScore), formatFloatPtr(v.EPSSScore),
			strconv.FormatBool(v.KEV), v.PublishedAt.Format(time.RFC3339),
			strconv.FormatBool(v.RemediatedAt != nil),
		})
	}
	cw.Flush()
}

func (h *publicHandlers) remediate(w http.ResponseWriter, r *http.Request) {
	cveID := chi.URLParam(r, "cveID")

	v, err := h.store.GetVulnerabilityByCVEID(r.Context(), cveID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	remediatedAt, err := h.store.ToggleRemediated(r.Context(), v.ID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	v.RemediatedAt = remediatedAt
	writeJSON(w, http.StatusOK, v)
}

func formatFloatPtr(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
