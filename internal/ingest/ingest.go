// Package ingest polls heterogeneous vulnerability feeds on a cadence and
// stages their content for the extraction pipeline, or — for sources that
// already carry structured scores — applies enrichment directly to the
// curated store. Every concrete source (nvd, cisa_kev, epss, rss, vendor)
// satisfies the same Ingester interface regardless of what it talks to
// underneath.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vulndash/vulndash/internal/models"
)

// RawStore is the subset of store.DB an Ingester needs to stage raw
// content for the extraction pipeline.
type RawStore interface {
	InsertRawEntry(ctx context.Context, source, sourceRef, rawContent string, retentionDays int) (uuid.UUID, error)
}

// EnrichmentStore is the subset of store.DB an Ingester needs to push
// already-structured scores straight onto a curated vulnerability,
// bypassing extraction entirely.
type EnrichmentStore interface {
	ApplyEnrichment(ctx context.Context, cveID string, epssScore, epssPercentile *float64, kev bool, epssThreshold float64) error
}

// Stats summarizes one Poll call for logging and SourceConfig bookkeeping.
type Stats struct {
	Fetched int
	New     int
	Errors  []string
}

// Ingester is the plugin interface every source implements. Poll performs
// one fetch-and-stage cycle against cfg and returns how much it found;
// it does not itself decide whether to run — the Poller does that based
// on SourceConfig.PollInterval and LastPolledAt.
type Ingester interface {
	// Name identifies the ingester independent of any one SourceConfig row
	// (e.g. "nvd", "cisa_kev"); it must match models.SourceConfig.Kind.
	Name() string

	// Poll fetches the source described by cfg and stages or applies
	// whatever it finds, returning aggregate stats. A partial failure
	// (one bad item in an otherwise good feed) is recorded in Stats.Errors
	// rather than failing the whole call.
	Poll(ctx context.Context, cfg models.SourceConfig) (Stats, error)
}

// defaultRetentionDays is used by raw-entry-producing ingesters when no
// narrower retention policy applies.
const defaultRetentionDays = 7

// fetchTimeout is the unit the Poller scales (ten times over) to bound one
// whole Poll call, so one slow or wedged feed can't stall the Poller.
const fetchTimeout = 30 * time.Second
