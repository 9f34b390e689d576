package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vulndash/vulndash/internal/audit"
	"github.com/vulndash/vulndash/internal/logger"
	"github.com/vulndash/vulndash/internal/secrets"
	"github.com/vulndash/vulndash/internal/telemetry"
)

// Config bundles everything the router needs to build handlers. Store is
// the narrow interface each handler group actually calls, kept here as one
// embedding interface so Config stays a single struct rather than one
// parameter per handler group.
type Config struct {
	Store       Store
	Log         *logger.Logger
	AdminAuth   AdminAuth
	CORSOrigins []string
	RateLimit   RateLimitConfig
	BuildInfo   BuildInfo
	// CatalogSync is optional; when nil, POST /admin/jobs/catalog-sync
	// reports a validation error instead of panicking on a nil call.
	CatalogSync CatalogSyncRunner
	// Secrets encrypts LLM API keys and the SMTP password before they
	// reach the store.
	Secrets *secrets.Box
	// Tracer is optional; when nil, requests are not traced.
	Tracer *telemetry.Provider
	// Audit is optional; when nil, admin mutations are not recorded.
	Audit *audit.Logger
}

// BuildInfo surfaces version metadata on /version.
type BuildInfo struct {
	Version string
	Commit  string
	BuiltAt string
}

// New builds the complete chi router: global middleware (request id, real
// ip, structured logging, panic recovery, compression, rate limiting,
// CORS), then an unauthenticated "/api/*" query surface and an
// admin-guarded "/admin/*" mutation surface behind a single guard scoped
// to "/admin/*" that is a no-op until AdminAuth is enabled.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	if cfg.Tracer != nil {
		r.Use(telemetry.Middleware(cfg.Tracer.Tracer()))
	}
	r.Use(requestLogger(cfg.Log))
	r.Use(recoverer(cfg.Log))
	r.Use(chimiddleware.Compress(5))
	r.Use(rateLimit(cfg.RateLimit))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := cfg.Store.Health(req.Context()); err != nil {
			writeError(w, cfg.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/version", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, cfg.BuildInfo)
	})

	pub := &publicHandlers{store: cfg.Store, log: cfg.Log.WithComponent("public_api")}
	r.Route("/api", func(r chi.Router) {
		r.Get("/vulnerabilities", pub.listVulnerabilities)
		r.Get("/vulnerabilities/{cveID}", pub.getVulnerability)
		r.Get("/trends", pub.trends)
		r.Get("/kpis", pub.kpis)
		r.Get("/export", pub.export)
		r.Post("/vulnerabilities/{cveID}/remediate", pub.remediate)
	})

	adm := &adminHandlers{
		store:     cfg.Store,
		log:       cfg.Log.WithComponent("admin_api"),
		validator: newSchemaValidator(),
		catalog:   cfg.CatalogSync,
		box:       cfg.Secrets,
		audit:     cfg.Audit,
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(cfg.AdminAuth.Middleware)

		r.Get("/health", adm.health)
		r.Get("/settings", adm.getSettings)
		r.Put("/settings", adm.putSettings)

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", adm.listSources)
			r.Put("/", adm.upsertSource)
		})
		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", adm.searchInventory)
			r.Post("/", adm.addCustomProduct)
			r.Put("/{id}/monitored", adm.setProductMonitored)
		})
		r.Route("/llm", func(r chi.Router) {
			r.Get("/", adm.listLLMProviders)
			r.Put("/", adm.upsertLLMProvider)
		})
		r.Route("/review-queue", func(r chi.Router) {
			r.Get("/", adm.listReviewQueue)
			r.Get("/{id}", adm.getReviewItem)
			r.Post("/{id}/approve", adm.approveReviewItem)
			r.Post("/{id}/reject", adm.rejectReviewItem)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", adm.listJobs)
			r.Post("/catalog-sync", adm.triggerCatalogSync)
		})
		r.Route("/email", func(r chi.Router) {
			r.Get("/", adm.getSMTPConfig)
			r.Put("/", adm.putSMTPConfig)
		})
		r.Get("/audit-log", adm.listAuditLog)
	})

	return r
}

// defaultReadTimeout is a response deadline for an http.Server wrapped
// around New; it is unexported, and cmd/api uses cfg.API.ReadTimeout.
const defaultReadTimeout = 15 * time.Second
