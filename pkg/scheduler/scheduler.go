// Package scheduler orchestrates scheduled facility update runs: it
// health-gates each provider, plans pagination, fans page fetches out onto
// the shared worker pool, aggregates the pages that survived, and hands the
// batch to enrichment and persistence.
//
// Every failure mode resolves to "this page or provider contributed nothing
// this run". Providers are processed one after another, each internally
// parallel across pages, so a dead provider can never starve the others.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/metrapark/facility-sync/pkg/facility"
	"github.com/metrapark/facility-sync/pkg/geocode"
	"github.com/metrapark/facility-sync/pkg/pool"
	"github.com/metrapark/facility-sync/pkg/provider"
	"github.com/metrapark/facility-sync/pkg/storage"
)

// Prometheus metrics for scheduled runs.
var (
	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facility_runs_total",
		Help: "Total scheduled update runs",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "facility_run_duration_seconds",
		Help:    "Duration of one full update run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})

	providerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_provider_runs_total",
		Help: "Provider run outcomes by provider and result",
	}, []string{"provider", "result"})

	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_pages_total",
		Help: "Page fetch outcomes by provider and result",
	}, []string{"provider", "result"})

	recordsExcludedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_records_excluded_total",
		Help: "Records dropped during enrichment by provider",
	}, []string{"provider"})

	recordsPersistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_records_persisted_total",
		Help: "Records handed to persistence by provider",
	}, []string{"provider"})
)

// Provider run results used as metric labels.
const (
	resultOK            = "ok"
	resultSkipped       = "skipped"
	resultUnhealthy     = "unhealthy"
	resultHealthError   = "health_error"
	resultConfigError   = "config_error"
	resultNoData        = "no_data"
	resultPagesFailed   = "pages_failed"
	resultPersistFailed = "persist_failed"
)

// pageOutcome is the captured result of one page task.
type pageOutcome struct {
	page    int
	records []facility.Facility
	err     error
}

// Scheduler runs batch updates over a set of providers.
type Scheduler struct {
	providers []provider.Provider
	geocoder  geocode.Geocoder
	store     storage.Store
	pool      *pool.Pool
	logger    zerolog.Logger
}

// New creates a scheduler. The pool is shared across all providers and
// pages of a run.
func New(providers []provider.Provider, geocoder geocode.Geocoder, store storage.Store, p *pool.Pool) *Scheduler {
	return &Scheduler{
		providers: providers,
		geocoder:  geocoder,
		store:     store,
		pool:      p,
		logger:    log.With().Str("component", "scheduler").Logger(),
	}
}

// Run executes RunOnce immediately and then on every interval tick until
// the context is cancelled. A panicking run is logged and the loop
// continues with the next tick.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	s.logger.Info().Dur("interval", interval).Msg("Scheduler started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.safeRunOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) safeRunOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Update run panicked")
		}
	}()
	s.RunOnce(ctx)
}

// RunOnce performs one full update run over all providers. Provider and
// page failures are absorbed and logged; RunOnce itself never returns an
// error. A run where every provider contributed nothing is a successful
// run with no data.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()
	runsTotal.Inc()
	s.logger.Info().Int("providers", len(s.providers)).Msg("Update run started")

	for _, p := range s.providers {
		s.runProvider(ctx, p)
	}

	runDuration.Observe(time.Since(start).Seconds())
	s.logger.Info().
		Dur("duration", time.Since(start)).
		Msg("Update run complete")
}

// runProvider executes the full pipeline for one provider. Nothing it does
// can affect sibling providers.
func (s *Scheduler) runProvider(ctx context.Context, p provider.Provider) {
	logger := s.logger.With().Str("provider", p.Name()).Logger()

	if !p.OffersCurrentParking() {
		logger.Debug().Msg("Provider does not offer current parking, skipped")
		providerRunsTotal.WithLabelValues(p.Name(), resultSkipped).Inc()
		return
	}

	signal, err := p.Check(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Health check failed, provider skipped")
		providerRunsTotal.WithLabelValues(p.Name(), resultHealthError).Inc()
		return
	}
	if !signal.Healthy {
		logger.Warn().Msg("Provider unhealthy, skipped")
		providerRunsTotal.WithLabelValues(p.Name(), resultUnhealthy).Inc()
		return
	}

	pageSize := p.ReadSize()
	if pageSize <= 0 {
		logger.Error().Int("read_size", pageSize).Msg("Invalid read size, provider skipped")
		providerRunsTotal.WithLabelValues(p.Name(), resultConfigError).Inc()
		return
	}

	// ceil(totalCount / pageSize), with at least one page even for an
	// empty provider so the read path stays observable.
	pageCount := (signal.TotalCount + pageSize - 1) / pageSize
	if pageCount < 1 {
		pageCount = 1
	}

	logger.Debug().
		Int("total_count", signal.TotalCount).
		Int("page_size", pageSize).
		Int("pages", pageCount).
		Msg("Dispatching page tasks")

	collected, pagesFailed := s.fetchPages(ctx, p, pageCount, pageSize, logger)

	logger.Info().
		Int("pages", pageCount).
		Int("pages_failed", pagesFailed).
		Int("records", len(collected)).
		Msg("Pages joined")

	if len(collected) == 0 {
		if pagesFailed == pageCount {
			providerRunsTotal.WithLabelValues(p.Name(), resultPagesFailed).Inc()
		} else {
			providerRunsTotal.WithLabelValues(p.Name(), resultNoData).Inc()
		}
		return
	}

	enriched := s.enrich(ctx, collected, logger)
	if len(enriched) == 0 {
		providerRunsTotal.WithLabelValues(p.Name(), resultNoData).Inc()
		return
	}

	if err := s.store.SaveAll(ctx, enriched); err != nil {
		logger.Error().Err(err).Int("records", len(enriched)).Msg("Batch persistence failed")
		providerRunsTotal.WithLabelValues(p.Name(), resultPersistFailed).Inc()
		return
	}

	recordsPersistedTotal.WithLabelValues(p.Name()).Add(float64(len(enriched)))
	providerRunsTotal.WithLabelValues(p.Name(), resultOK).Inc()
	logger.Info().Int("records", len(enriched)).Msg("Provider batch persisted")
}

// fetchPages fans one task per page onto the pool and joins all outcomes.
// A task failure, panic, or pool rejection fails only its own page.
func (s *Scheduler) fetchPages(ctx context.Context, p provider.Provider, pageCount, pageSize int, logger zerolog.Logger) ([]facility.Facility, int) {
	outcomes := make(chan pageOutcome, pageCount)
	var wg sync.WaitGroup

	for page := 1; page <= pageCount; page++ {
		page := page
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes <- pageOutcome{page: page, err: fmt.Errorf("page task panic: %v", r)}
				}
			}()
			records, err := p.Read(ctx, page, pageSize)
			outcomes <- pageOutcome{page: page, records: records, err: err}
		}

		if err := s.pool.Submit(task); err != nil {
			wg.Done()
			outcomes <- pageOutcome{page: page, err: err}
		}
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var collected []facility.Facility
	pagesFailed := 0
	for outcome := range outcomes {
		if outcome.err != nil {
			pagesFailed++
			pagesTotal.WithLabelValues(p.Name(), "failed").Inc()
			logger.Warn().
				Err(outcome.err).
				Int("page", outcome.page).
				Msg("Page fetch failed")
			continue
		}
		pagesTotal.WithLabelValues(p.Name(), "ok").Inc()
		collected = append(collected, outcome.records...)
	}

	return collected, pagesFailed
}

// enrich resolves coordinates for each record. A record whose lookup fails
// is excluded from the batch, like a failed page.
func (s *Scheduler) enrich(ctx context.Context, records []facility.Facility, logger zerolog.Logger) []facility.Facility {
	enriched := make([]facility.Facility, 0, len(records))
	for _, rec := range records {
		coords, err := s.geocoder.Lookup(ctx, rec.Address)
		if err != nil {
			recordsExcludedTotal.WithLabelValues(rec.Provider).Inc()
			logger.Debug().
				Err(err).
				Str("facility", rec.ID).
				Msg("Geocoding failed, record excluded")
			continue
		}
		rec.Coordinates = coords
		rec.Geocoded = true
		enriched = append(enriched, rec)
	}
	return enriched
}
