package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/audit"
	"github.com/vulndash/vulndash/internal/logger"
	"github.com/vulndash/vulndash/internal/models"
	"github.com/vulndash/vulndash/internal/secrets"
)

type adminHandlers struct {
	store     Store
	log       *logger.Logger
	validator *schemaValidator
	catalog   CatalogSyncRunner
	box       *secrets.Box
	audit     *audit.Logger
}

// recordAudit is a no-op when h.audit is nil (audit logging not configured).
func (h *adminHandlers) recordAudit(r *http.Request, entry audit.Entry) {
	if h.audit == nil {
		return
	}
	entry.ActorType = audit.ActorTypeUser
	entry.ActorID = actorID(r.Context())
	entry.ActorIP = r.RemoteAddr
	h.audit.LogAsync(r.Context(), entry)
}

func readAndValidate(r *http.Request, v *schemaValidator, schemaName string, out any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "read body", err)
	}
	if err := v.validate(schemaName, body); err != nil {
		return apperr.Wrap(apperr.KindValidation, "schema validation failed", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Wrap(apperr.KindValidation, "decode body", err)
	}
	return nil
}

func (h *adminHandlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Health(r.Context()); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *adminHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.GetNotificationConfig(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *adminHandlers) putSettings(w http.ResponseWriter, r *http.Request) {
	var cfg models.NotificationConfigRecord
	if err := readAndValidate(r, h.validator, "notification_settings", &cfg); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.store.PutNotificationConfig(r.Context(), cfg); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.recordAudit(r, audit.Entry{
		Action: audit.ActionSettingsUpdate, Category: audit.ActionCategoryUpdate,
		ResourceType: "notification_config", ResourceID: "singleton", Status: audit.StatusSuccess,
	})
	writeJSON(w, http.StatusOK, cfg)
}

func (h *adminHandlers) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.ListSourceConfigs(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (h *adminHandlers) upsertSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name                string `json:"name"`
		Kind                string `json:"kind"`
		URL                 string `json:"url"`
		Enabled             bool   `json:"enabled"`
		PollIntervalSeconds int    `json:"pollIntervalSeconds"`
	}
	if err := readAndValidate(r, h.validator, "source_config", &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	cfg := models.SourceConfig{
		Name:         req.Name,
		Kind:         req.Kind,
		URL:          req.URL,
		Enabled:      req.Enabled,
		PollInterval: time.Duration(req.PollIntervalSeconds) * time.Second,
	}
	if err := h.store.UpsertSourceConfig(r.Context(), cfg); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.recordAudit(r, audit.Entry{
		Action: audit.ActionSourceUpsert, Category: audit.ActionCategoryUpdate,
		ResourceType: "source_config", ResourceID: cfg.Name, Status: audit.StatusSuccess,
	})
	writeJSON(w, http.StatusOK, cfg)
}

func (h *adminHandlers) searchInventory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	products, err := h.store.SearchProducts(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *adminHandlers) addCustomProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vendor  string `json:"vendor"`
		Product string `json:"product"`
		Version string `json:"version"`
		CPEURI  string `json:"cpeUri"`
	}
	if err := readAndValidate(r, h.validator, "custom_product", &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	id, err := h.store.InsertCustomProduct(r.Context(), req.Vendor, req.Product, req.Version, req.CPEURI)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.recordAudit(r, audit.Entry{
		Action: audit.ActionCustomProductCreate, Category: audit.ActionCategoryCreate,
		ResourceType: "product", ResourceID: id.String(), Status: audit.StatusSuccess,
	})
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (h *adminHandlers) setProductMonitored(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, apperr.Wrap(apperr.KindValidation, "invalid product id", err))
		return
	}

	var req struct {
		Monitored bool `json:"monitored"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, apperr.Wrap(apperr.KindValidation, "decode body", err))
		return
	}

	if err := h.store.SetProductMonitored(r.Context(), id, req.Monitored); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.recordAudit(r, audit.Entry{
		Action: audit.ActionProductMonitorFlag, Category: audit.ActionCategoryUpdate,
		ResourceType: "product", ResourceID: id.String(), Status: audit.StatusSuccess,
		Changes: map[string]audit.Change{"monitored": {New: req.Monitored}},
	})
	writeJSON(w, http.StatusOK, map[string]bool{"monitored": req.Monitored})
}

func (h *adminHandlers) listLLMProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.store.ListLLMProviderRecords(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (h *adminHandlers) upsertLLMProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            string `json:"name"`
		Model           string `json:"model"`
		APIKey          string `json:"apiKey"`
		Priority        int    `json:"priority"`
		Enabled         bool   `json:"enabled"`
		AzureEndpoint   string `json:"azureEndpoint"`
		AzureAPIVersion string `json:"azureApiVersion"`
		AzureDeployment string `json:"azureDeployment"`
	}
	if err := readAndValidate(r, h.validator, "llm_provider", &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	apiKeyEnc, err := h.box.Seal(req.APIKey)
	if err != nil {
		writeError(w, h.log, apperr.Wrap(apperr.KindValidation, "encrypt api key", err))
		return
	}
	rec := models.LLMProviderRecord{
		Name: req.Name, Model: req.Model, Priority: req.Priority, Enabled: req.Enabled,
		AzureEndpoint: req.AzureEndpoint, AzureAPIVersion: req.AzureAPIVersion, AzureDeployment: req.AzureDeployment,
		APIKeyEnc: apiKeyEnc,
	}
	if err := h.store.UpsertLLMProviderRecord(r.Context(), rec); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.recordAudit(r, audit.Entry{
		Action: audit.ActionLLMProviderUpsert, Category: audit.ActionCategoryUpdate,
		ResourceType: "llm_provider", ResourceID: rec.Name, Status: audit.StatusSuccess,
	})
	writeJSON(w, http.StatusOK, map[string]string{"name": rec.Name})
}

func (h *adminHandlers) listReviewQueue(w http.ResponseWriter, r *http.Request) {
	limit, offset := 50, 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}

	items, err := h.store.ListPendingReviewItems(r.Context(), limit, offset)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *adminHandlers) getReviewItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, apperr.Wrap(apperr.KindValidation, "invalid review item id", err))
		return
	}
	item, err := h.store.GetReviewItem(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *adminHandlers) approveReviewItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, apperr.Wrap(apperr.KindValidation, "invalid review item id", err))
		return
	}

	var req struct {
		Reviewer    string   `json:"reviewer"`
		Title       *string  `json:"title"`
		Description *string  `json:"description"`
		Severity    *string  `json:"severity"`
		CVSSScore   *float64 `json:"cvssScore"`
		CVSSVector  *string  `json:"cvssVector"`
	}
	if err := readAndValidate(r, h.validator, "review_edit", &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	edit := models.ReviewEdit{
		Title: req.Title, Description: req.Description,
		CVSSScore: req.CVSSScore, CVSSVector: req.CVSSVector,
	}
	if req.Severity != nil {
		sev := models.Severity(*req.Severity)
		edit.Severity = &sev
	}

	vulnID, err := h.store.ApproveReviewItem(r.Context(), id, edit, req.Reviewer)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.recordAudit(r, audit.Entry{
		Action: audit.ActionReviewItemApprove, Category: audit.ActionCategoryUpdate,
		ResourceType: "review_queue_item", ResourceID: id.String(), Status: audit.StatusSuccess,
	})
	writeJSON(w, http.StatusOK, map[string]string{"vulnerabilityId": vulnID.String()})
}

func (h *adminHandlers) rejectReviewItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, apperr.Wrap(apperr.KindValidation, "invalid review item id", err))
		return
	}

	var req struct {
		Reviewer string `json:"reviewer"`
		Notes    string `json:"notes"`
	}
	if err := readAndValidate(r, h.validator, "reject_review", &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	if err := h.store.RejectReviewItem(r.Context(), id, req.Reviewer, req.Notes); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.recordAudit(r, audit.Entry{
		Action: audit.ActionReviewItemReject, Category: audit.ActionCategoryUpdate,
		ResourceType: "review_queue_item", ResourceID: id.String(), Status: audit.StatusSuccess,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (h *adminHandlers) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	logs, err := h.store.ListCatalogSyncLogs(r.Context(), limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *adminHandlers) triggerCatalogSync(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeError(w, h.log, apperr.New(apperr.KindValidation, "catalog sync runner not configured"))
		return
	}

	stats, err := h.catalog.Run(r.Context())
	if err != nil {
		h.recordAudit(r, audit.Entry{
			Action: audit.ActionCatalogSyncTrigger, Category: audit.ActionCategoryExecute,
			ResourceType: "catalog_sync", Status: audit.StatusFailure, ErrorMessage: err.Error(),
		})
		writeError(w, h.log, apperr.Wrap(apperr.KindConnection, "catalog sync failed", err))
		return
	}
	h.recordAudit(r, audit.Entry{
		Action: audit.ActionCatalogSyncTrigger, Category: audit.ActionCategoryExecute,
		ResourceType: "catalog_sync", Status: audit.StatusSuccess,
	})
	writeJSON(w, http.StatusOK, stats)
}

func (h *adminHandlers) getSMTPConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.GetSMTPConfig(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *adminHandlers) putSMTPConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		User     string `json:"user"`
		Password string `json:"password"`
		From     string `json:"from"`
		UseTLS   bool   `json:"useTls"`
	}
	if err := readAndValidate(r, h.validator, "smtp_config", &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	passwordEnc, err := h.box.Seal(req.Password)
	if err != nil {
		writeError(w, h.log, apperr.Wrap(apperr.KindValidation, "encrypt password", err))
		return
	}
	cfg := models.SMTPConfigRecord{
		Host: req.Host, Port: req.Port, User: req.User, From: req.From, UseTLS: req.UseTLS,
		PasswordEnc: passwordEnc,
	}
	if err := h.store.PutSMTPConfig(r.Context(), cfg); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.recordAudit(r, audit.Entry{
		Action: audit.ActionSMTPConfigUpdate, Category: audit.ActionCategoryUpdate,
		ResourceType: "smtp_config", ResourceID: "singleton", Status: audit.StatusSuccess,
	})
	writeJSON(w, http.StatusOK, map[string]string{"host": cfg.Host})
}

func (h *adminHandlers) listAuditLog(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusOK, []audit.LogRow{})
		return
	}

	limit, offset := 100, 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}

	rows, err := h.audit.Query(r.Context(), audit.QueryFilters{
		ActorID:      r.URL.Query().Get("actorId"),
		Action:       r.URL.Query().Get("action"),
		ResourceType: r.URL.Query().Get("resourceType"),
		ResourceID:   r.URL.Query().Get("resourceId"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
