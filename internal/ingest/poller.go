package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/vulndash/vulndash/internal/logger"
	"github.com/vulndash/vulndash/internal/models"
)

// PollStore is the persistence surface the Poller needs: the list of
// sources to consider each tick, and a place to record each poll's
// outcome.
type PollStore interface {
	ListEnabledSourceConfigs(ctx context.Context) ([]models.SourceConfig, error)
	RecordSourcePollResult(ctx context.Context, name string, pollErr error) error
}

// checkInterval is how often the Poller wakes to check which sources are
// due; it is independent of and much shorter than any source's own
// PollInterval, which governs actual fetch cadence.
const checkInterval = 1 * time.Minute

// Poller drives every registered Ingester on its own per-SourceConfig
// cadence. One SourceConfig row maps to one Ingester by Kind; a config
// whose Kind has no registered Ingester is skipped and logged.
type Poller struct {
	store     PollStore
	ingesters map[string]Ingester
	log       *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller builds a Poller keyed by each ingester's Name().
func NewPoller(store PollStore, ingesters []Ingester, log *logger.Logger) *Poller {
	byName := make(map[string]Ingester, len(ingesters))
	for _, ig := range ingesters {
		byName[ig.Name()] = ig
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		store:     store,
		ingesters: byName,
		log:       log.WithComponent("ingest-poller"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the check loop in the background.
func (p *Poller) Start() {
	p.log.Info("starting ingest poller", "check_interval", checkInterval.String(), "sources", len(p.ingesters))
	p.wg.Add(1)
	go p.loop()
}

// Stop cancels the check loop and waits for any in-flight poll to finish.
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	p.tick()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Poller) tick() {
	configs, err := p.store.ListEnabledSourceConfigs(p.ctx)
	if err != nil {
		p.log.Error("list enabled source configs", "error", err)
		return
	}

	now := time.Now()
	for _, cfg := range configs {
		if cfg.LastPolledAt != nil && now.Sub(*cfg.LastPolledAt) < cfg.PollInterval {
			continue
		}
		p.pollOne(cfg)
	}
}

func (p *Poller) pollOne(cfg models.SourceConfig) {
	ig, ok := p.ingesters[cfg.Kind]
	if !ok {
		p.log.Warn("no ingester registered for source kind", "source", cfg.Name, "kind", cfg.Kind)
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, fetchTimeout*10)
	defer cancel()

	stats, pollErr := ig.Poll(ctx, cfg)
	if pollErr != nil {
		p.log.Error("poll failed", "source", cfg.Name, "kind", cfg.Kind, "error", pollErr)
	} else {
		p.log.Info("poll complete", "source", cfg.Name, "kind", cfg.Kind,
			"fetched", stats.Fetched, "new", stats.New, "errors", len(stats.Errors))
	}

	if err := p.store.RecordSourcePollResult(p.ctx, cfg.Name, pollErr); err != nil {
		p.log.Error("record poll result", "source", cfg.Name, "error", err)
	}
}
