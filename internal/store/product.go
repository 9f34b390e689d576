package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vulndash/vulndash/internal/apperr"
	"github.com/vulndash/vulndash/internal/models"
)

// UpsertCatalogProduct inserts or refreshes a product synced from the
// external CPE catalog, keyed on its CPE URI. LastSyncedAt is always
// bumped so a full catalog pass can later find untouched rows and
// deprecate them. inserted reports whether this call created the row
// (xmax = 0, the standard Postgres upsert-provenance trick) versus
// updating an existing one, so the sync job can report accurate
// added/updated counts without a separate lookup.
func (db *DB) UpsertCatalogProduct(ctx context.Context, vendor, product, version, cpeURI string) (id uuid.UUID, inserted bool, err error) {
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO products (id, vendor, product, version, cpe_uri, source, is_monitored, deprecated, last_synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'external_catalog', true, false, NOW(), NOW(), NOW())
		ON CONFLICT (cpe_uri) DO UPDATE
		SET vendor = $2, product = $3, version = $4, deprecated = false, last_synced_at = NOW(), updated_at = NOW()
		RETURNING id, (xmax = 0) AS inserted
	`, uuid.New(), vendor, product, version, cpeURI).Scan(&id, &inserted)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("upsert catalog product: %w", err)
	}
	return id, inserted, nil
}

// DeprecateUntouchedCatalogProducts marks external-catalog products not
// refreshed since before syncStartedAt as deprecated: one full paginated
// catalog pass started at syncStartedAt touches every still-present
// product, so anything older fell out of the upstream catalog.
func (db *DB) DeprecateUntouchedCatalogProducts(ctx context.Context, syncStartedAt time.Time) (int, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE products
		SET deprecated = true, updated_at = NOW()
		WHERE source = 'external_catalog' AND deprecated = false AND last_synced_at < $1
	`, syncStartedAt)
	if err != nil {
		return 0, fmt.Errorf("deprecate untouched catalog products: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// InsertCustomProduct adds an admin-entered product outside the external
// catalog's sync cycle.
func (db *DB) InsertCustomProduct(ctx context.Context, vendor, product, version, cpeURI string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO products (id, vendor, product, version, cpe_uri, source, is_monitored, deprecated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'custom', true, false, NOW(), NOW())
		ON CONFLICT (cpe_uri) DO NOTHING
	`, id, vendor, product, version, cpeURI)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert custom product: %w", err)
	}
	return id, nil
}

// SetProductMonitored toggles whether matching vulnerabilities for a
// product drive alerting.
func (db *DB) SetProductMonitored(ctx context.Context, id uuid.UUID, monitored bool) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE products SET is_monitored = $2, updated_at = NOW() WHERE id = $1
	`, id, monitored)
	if err != nil {
		return fmt.Errorf("set product monitored: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// SearchProducts finds inventory entries by case-insensitive vendor/product
// substring match, for the admin product-search surface.
func (db *DB) SearchProducts(ctx context.Context, query string, limit int) ([]models.Product, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, vendor, product, version, cpe_uri, source, is_monitored, deprecated, last_synced_at, created_at, updated_at
		FROM products
		WHERE vendor ILIKE '%' || $1 || '%' OR product ILIKE '%' || $1 || '%'
		ORDER BY vendor, product, version
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// GetProductByCPE retrieves a single product by its CPE URI.
func (db *DB) GetProductByCPE(ctx context.Context, cpeURI string) (*models.Product, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, vendor, product, version, cpe_uri, source, is_monitored, deprecated, last_synced_at, created_at, updated_at
		FROM products WHERE cpe_uri = $1
	`, cpeURI)

	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("get product by cpe: %w", err)
	}
	return &p, nil
}

// VulnerabilitiesForMonitoredProducts lists curated vulnerabilities linked
// to at least one monitored, non-deprecated product — the query backing
// the inventory-correlation view.
func (db *DB) VulnerabilitiesForMonitoredProducts(ctx context.Context, limit, offset int) ([]models.Vulnerability, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT DISTINCT v.id, v.cve_id, v.title, v.description, v.severity, v.cvss_score, v.cvss_vector,
		       v.epss_score, v.epss_percentile, v.kev, v.kev_added_at, v.published_at, v.remediated_at,
		       v.confidence, v.extraction_provider, v.extraction_model, v.extraction_attempt_index,
		       v.raw_entry_id, v.created_at, v.updated_at
		FROM vulnerabilities v
		JOIN vulnerability_products vp ON vp.vulnerability_id = v.id
		JOIN products p ON p.id = vp.product_id
		WHERE p.is_monitored = true AND p.deprecated = false
		ORDER BY v.published_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("vulnerabilities for monitored products: %w", err)
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

func scanProduct(row rowScanner) (models.Product, error) {
	var p models.Product
	err := row.Scan(
		&p.ID, &p.Vendor, &p.Product, &p.Version, &p.CPEURI,
		&p.Source, &p.IsMonitored, &p.Deprecated, &p.LastSyncedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}
