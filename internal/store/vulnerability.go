package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/events"
	"github.com/vulndash/vulndash/internal/extraction"
	"github.com/vulndash/vulndash/internal/models"
)

// upsertVulnerability implements the Curated Store write path: lookup by
// CVE id, insert if absent, or merge last-write-wins if present. Must run
// inside the caller's CVE-locked transaction so concurrent writes for the
// same CVE serialize.
func upsertVulnerability(ctx context.Context, tx pgx.Tx, rawEntryID uuid.UUID, result extraction.Result) (uuid.UUID, error) {
	existing, err := getVulnerabilityByCVEIDTx(ctx, tx, result.CVEID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return uuid.Nil, err
	}

	if existing == nil {
		return insertVulnerability(ctx, tx, rawEntryID, result)
	}
	return existing.ID, mergeVulnerability(ctx, tx, *existing, result)
}

func insertVulnerability(ctx context.Context, tx pgx.Tx, rawEntryID uuid.UUID, result extraction.Result) (uuid.UUID, error) {
	id := uuid.New()
	now := time.Now()

	var cvssVector *string
	if result.CVSSVector != "" {
		cvssVector = &result.CVSSVector
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO vulnerabilities
			(id, cve_id, title, description, severity, cvss_score, cvss_vector,
			 kev, published_at, confidence, extraction_provider, extraction_model,
			 extraction_attempt_index, raw_entry_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $9, $10, $11, $12, $13, NOW(), NOW())
	`, id, result.CVEID, result.Title, result.Description, string(result.Severity),
		result.CVSSScore, cvssVector, now, result.Confidence,
		result.Provider, result.Model, result.FallbackAttempt, rawEntryID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert vulnerability: %w", err)
	}

	linkProductsBestEffort(ctx, tx, id, result.Vendor, result.Product)

	return id, nil
}

// mergeVulnerability applies computeMerge's last-write-wins result to the
// stored row; remediated_at is simply never touched here, which is how it
// survives any later merge.
func mergeVulnerability(ctx context.Context, tx pgx.Tx, existing models.Vulnerability, result extraction.Result) error {
	m := computeMerge(existing, result)

	_, err := tx.Exec(ctx, `
		UPDATE vulnerabilities
		SET title = $2, description = $3, severity = $4, cvss_score = $5, cvss_vector = $6,
		    confidence = $7, extraction_provider = $8, extraction_model = $9,
		    extraction_attempt_index = $10, updated_at = NOW()
		WHERE id = $1
	`, existing.ID, m.Title, m.Description, string(m.Severity), m.CVSSScore, m.CVSSVector,
		m.Confidence, m.Provider, m.Model, m.AttemptIndex)
	if err != nil {
		return fmt.Errorf("update vulnerability: %w", err)
	}

	linkProductsBestEffort(ctx, tx, existing.ID, result.Vendor, result.Product)
	return nil
}

// linkProductsBestEffort resolves (vendor, product) against the inventory
// and links it to the vulnerability. A miss is not a failure: no matching
// product simply means no link.
func linkProductsBestEffort(ctx context.Context, tx pgx.Tx, vulnID uuid.UUID, vendor, product string) {
	if vendor == "" || product == "" {
		return
	}

	_, _ = tx.Exec(ctx, `
		INSERT INTO vulnerability_products (vulnerability_id, product_id)
		SELECT $1, p.id FROM products p
		WHERE lower(p.vendor) = lower($2) AND lower(p.product) = lower($3)
		ON CONFLICT DO NOTHING
	`, vulnID, vendor, product)
}

// The EPSS alert threshold is read from NotificationConfig in the worker
// wiring layer; ApplyEnrichment takes it as its epssThreshold parameter rather than
// querying config itself so it stays a pure store method.

// ApplyEnrichment updates EPSS/KEV fields for an existing vulnerability,
// honoring the sticky-KEV-within-a-day rule: a present KEV=true is never
// overwritten to false on the same calendar day it was set. It publishes a
// KEVTransition event when kev moves false->true, and an
// EPSSThresholdCrossing event when epss_score moves from below
// epssThreshold to at-or-above it — each exactly once per logical
// transition, published only after the update transaction commits.
func (db *DB) ApplyEnrichment(ctx context.Context, cveID string, epssScore, epssPercentile *float64, kev bool, epssThreshold float64) error {
	var pending []events.Event

	err := db.WithTx(ctx, func(tx pgx.Tx) error {
		var priorKEV bool
		var priorEPSS *float64
		err := tx.QueryRow(ctx, `
			SELECT kev, epss_score FROM vulnerabilities WHERE cve_id = $1 FOR UPDATE
		`, cveID).Scan(&priorKEV, &priorEPSS)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrNotFound
			}
			return fmt.Errorf("lock vulnerability for enrichment: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE vulnerabilities
			SET epss_score = COALESCE($2, epss_score),
			    epss_percentile = COALESCE($3, epss_percentile),
			    kev = CASE
			        WHEN kev = true AND kev_added_at::date = NOW()::date AND $4 = false THEN true
			        ELSE $4
			    END,
			    kev_added_at = CASE
			        WHEN kev = false AND $4 = true THEN NOW()
			        ELSE kev_added_at
			    END,
			    updated_at = NOW()
			WHERE cve_id = $1
		`, cveID, epssScore, epssPercentile, kev)
		if err != nil {
			return fmt.Errorf("apply enrichment: %w", err)
		}

		pending = detectEnrichmentEvents(cveID, priorKEV, priorEPSS, kev, epssScore, epssThreshold, time.Now())
		return nil
	})

	db.publish(err, pending...)
	return err
}

func getVulnerabilityByCVEIDTx(ctx context.Context, tx pgx.Tx, cveID string) (*models.Vulnerability, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, cve_id, title, description, severity, cvss_score, cvss_vector,
		       epss_score, epss_percentile, kev, kev_added_at, published_at, remediated_at,
		       confidence, extraction_provider, extraction_model, extraction_attempt_index,
		       raw_entry_id, created_at, updated_at
		FROM vulnerabilities WHERE cve_id = $1
	`, cveID)

	v, err := scanVulnerability(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("get vulnerability by cve id: %w", err)
	}
	return &v, nil
}

// GetVulnerabilityByCVEID retrieves a curated vulnerability by its CVE id.
func (db *DB) GetVulnerabilityByCVEID(ctx context.Context, cveID string) (*models.Vulnerability, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, cve_id, title, description, severity, cvss_score, cvss_vector,
		       epss_score, epss_percentile, kev, kev_added_at, published_at, remediated_at,
		       confidence, extraction_provider, extraction_model, extraction_attempt_index,
		       raw_entry_id, created_at, updated_at
		FROM vulnerabilities WHERE cve_id = $1
	`, cveID)

	v, err := scanVulnerability(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("get vulnerability by cve id: %w", err)
	}
	return &v, nil
}

// GetVulnerabilityByID retrieves a curated vulnerability by its primary
// key, the lookup the alert sender uses since EmailAlert rows reference
// vulnerabilities by id rather than CVE id.
func (db *DB) GetVulnerabilityByID(ctx context.Context, id uuid.UUID) (*models.Vulnerability, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, cve_id, title, description, severity, cvss_score, cvss_vector,
		       epss_score, epss_percentile, kev, kev_added_at, published_at, remediated_at,
		       confidence, extraction_provider, extraction_model, extraction_attempt_index,
		       raw_entry_id, created_at, updated_at
		FROM vulnerabilities WHERE id = $1
	`, id)

	v, err := scanVulnerability(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("get vulnerability by id: %w", err)
	}
	return &v, nil
}

// VulnerabilityFilter narrows ListVulnerabilities and CountVulnerabilities'
// result set. Zero values leave the corresponding filter unapplied.
type VulnerabilityFilter struct {
	Severity       models.Severity
	KEVOnly        bool
	MinEPSS        *float64
	MinCVSS        *float64
	Vendor         string
	Product        string
	Search         string
	HideRemediated bool
	Limit          int
	Offset         int
}

const listVulnerabilitiesWhere = `
	FROM vulnerabilities v
	WHERE ($1 = '' OR v.severity = $1)
	  AND (NOT $2 OR v.kev = true)
	  AND ($3::float8 IS NULL OR v.epss_score >= $3)
	  AND ($4::float8 IS NULL OR v.cvss_score >= $4)
	  AND (NOT $5 OR v.remediated_at IS NULL)
	  AND ($6 = '' OR v.cve_id ILIKE '%' || $6 || '%' OR v.title ILIKE '%' || $6 || '%')
	  AND ($7 = '' OR EXISTS (
	      SELECT 1 FROM vulnerability_products vp JOIN products p ON p.id = vp.product_id
	      WHERE vp.vulnerability_id = v.id AND lower(p.vendor) = lower($7)
	  ))
	  AND ($8 = '' OR EXISTS (
	      SELECT 1 FROM vulnerability_products vp JOIN products p ON p.id = vp.product_id
	      WHERE vp.vulnerability_id = v.id AND lower(p.product) = lower($8)
	  ))
`

func (f VulnerabilityFilter) whereArgs() []any {
	return []any{
		string(f.Severity), f.KEVOnly, f.MinEPSS, f.MinCVSS,
		f.HideRemediated, f.Search, f.Vendor, f.Product,
	}
}

// ListVulnerabilities returns curated vulnerabilities matching filter,
// newest-published first — the query surface backing the public and
// admin list endpoints.
func (db *DB) ListVulnerabilities(ctx context.Context, filter VulnerabilityFilter) ([]models.Vulnerability, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	args := filter.whereArgs()
	args = append(args, limit, filter.Offset)

	rows, err := db.Pool.Query(ctx, `
		SELECT v.id, v.cve_id, v.title, v.description, v.severity, v.cvss_score, v.cvss_vector,
		       v.epss_score, v.epss_percentile, v.kev, v.kev_added_at, v.published_at, v.remediated_at,
		       v.confidence, v.extraction_provider, v.extraction_model, v.extraction_attempt_index,
		       v.raw_entry_id, v.created_at, v.updated_at
	`+listVulnerabilitiesWhere+`
		ORDER BY v.published_at DESC
		LIMIT $9 OFFSET $10
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list vulnerabilities: %w", err)
	}
	defer rows.Close()

	var vulns []models.Vulnerability
	for rows.Next() {
		v, err := scanVulnerability(rows)
		if err != nil {
			return nil, err
		}
		vulns = append(vulns, v)
	}
	return vulns, rows.Err()
}

// CountVulnerabilities returns the total row count matching filter, ignoring
// Limit/Offset — the total the public list endpoint reports alongside a page.
func (db *DB) CountVulnerabilities(ctx context.Context, filter VulnerabilityFilter) (int, error) {
	var total int
	err := db.Pool.QueryRow(ctx, `
		SELECT count(*) `+listVulnerabilitiesWhere,
		filter.whereArgs()...,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count vulnerabilities: %w", err)
	}
	return total, nil
}

// KPISnapshot is the aggregate count surface backing GET /api/kpis.
type KPISnapshot struct {
	Total       int
	KEV         int
	HighEPSS    int
	NewToday    int
	NewThisWeek int
}

// GetKPIs computes the dashboard's headline counters in a single pass.
func (db *DB) GetKPIs(ctx context.Context, highEPSSThreshold float64) (KPISnapshot, error) {
	var k KPISnapshot
	err := db.Pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE kev = true),
			count(*) FILTER (WHERE epss_score >= $1),
			count(*) FILTER (WHERE created_at >= date_trunc('day', NOW())),
			count(*) FILTER (WHERE created_at >= date_trunc('week', NOW()))
		FROM vulnerabilities
	`, highEPSSThreshold).Scan(&k.Total, &k.KEV, &k.HighEPSS, &k.NewToday, &k.NewThisWeek)
	if err != nil {
		return KPISnapshot{}, fmt.Errorf("get kpis: %w", err)
	}
	return k, nil
}

// TrendPoint is one day of the time series GET /api/trends returns.
type TrendPoint struct {
	Day   time.Time
	Count int
}

// GetTrends buckets new vulnerabilities per day over the trailing window.
func (db *DB) GetTrends(ctx context.Context, days int) ([]TrendPoint, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT date_trunc('day', created_at) AS day, count(*)
		FROM vulnerabilities
		WHERE created_at >= NOW() - make_interval(days => $1)
		GROUP BY day
		ORDER BY day
	`, days)
	if err != nil {
		return nil, fmt.Errorf("get trends: %w", err)
	}
	defer rows.Close()

	var points []TrendPoint
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.Day, &p.Count); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// ToggleRemediated flips remediated_at in a single round trip: NULL becomes
// NOW(), non-NULL becomes NULL. The flip and the read of its result happen
// in one statement, so two concurrent toggles on the same row can't race
// each other the way a read-then-write pair would.
func (db *DB) ToggleRemediated(ctx context.Context, id uuid.UUID) (*time.Time, error) {
	var remediatedAt *time.Time
	err := db.Pool.QueryRow(ctx, `
		UPDATE vulnerabilities
		SET remediated_at = CASE WHEN remediated_at IS NULL THEN NOW() ELSE NULL END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING remediated_at
	`, id).Scan(&remediatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("toggle remediated: %w", err)
	}
	return remediatedAt, nil
}

func scanVulnerability(row rowScanner) (models.Vulnerability, error) {
	var v models.Vulnerability
	err := row.Scan(
		&v.ID, &v.CVEID, &v.Title, &v.Description, &v.Severity, &v.CVSSScore, &v.CVSSVector,
		&v.EPSSScore, &v.EPSSPercentile, &v.KEV, &v.KEVAddedAt, &v.PublishedAt, &v.RemediatedAt,
		&v.Confidence, &v.ExtractionMetadata.Provider, &v.ExtractionMetadata.Model,
		&v.ExtractionMetadata.AttemptIndex, &v.RawEntryID, &v.CreatedAt, &v.UpdatedAt,
	)
	return v, err
}
