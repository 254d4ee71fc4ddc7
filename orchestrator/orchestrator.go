package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/109isaque10/scraped/caching"
	"github.com/109isaque10/scraped/matching"
	"github.com/109isaque10/scraped/metadata"
	"github.com/109isaque10/scraped/metrics"
	"github.com/109isaque10/scraped/results"
	"github.com/109isaque10/scraped/scrapers"
	"github.com/109isaque10/scraped/types"
)

const (
	DefaultStaleProcessingAfter = time.Hour
	DefaultVariantConcurrency   = 3
)

const (
	StatusProcessing = "processing"
	StatusSkipped    = "skipped"
	StatusError      = "error"
)

// ScrapeStatus is the outcome of TriggerScrape
type ScrapeStatus struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Items        int    `json:"items,omitempty"`
}

func scrapedStatus(n int) ScrapeStatus {
	return ScrapeStatus{Status: fmt.Sprintf("scraped: %d items", n), Items: n}
}

// Scraped reports whether the run completed
func (s ScrapeStatus) Scraped() bool {
	return strings.HasPrefix(s.Status, "scraped")
}

func errorStatus(err error) ScrapeStatus {
	return ScrapeStatus{Status: StatusError, ErrorMessage: err.Error()}
}

type ScrapeOptions struct {
	// Override scrapes even when results are already cached
	Override bool
	// Reclaimed is set for ids returned by ReclaimStuck, whose fresh processing
	// marker belongs to the run being started
	Reclaimed bool
}

type CleanOptions struct {
	// BumpTimestamp marks the record as updated now
	BumpTimestamp bool
}

type Deps struct {
	Store    caching.Store
	Lookup   metadata.Lookup
	Adapters []scrapers.SourceAdapter
}

type Options struct {
	StaleProcessingAfter time.Duration
	VariantConcurrency   int
	Bounds               matching.Bounds
}

// Orchestrator drives scrapes of media ids through the requested, processing and
// done states kept in the store
type Orchestrator struct {
	store    caching.Store
	lookup   metadata.Lookup
	adapters []scrapers.SourceAdapter
	opts     Options
	flight   singleflight.Group
	now      func() time.Time
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.StaleProcessingAfter <= 0 {
		opts.StaleProcessingAfter = DefaultStaleProcessingAfter
	}
	if opts.VariantConcurrency <= 0 {
		opts.VariantConcurrency = DefaultVariantConcurrency
	}
	if opts.Bounds.MovieFloorMB == nil {
		opts.Bounds = matching.DefaultBounds
	}

	return &Orchestrator{
		store:    deps.Store,
		lookup:   deps.Lookup,
		adapters: deps.Adapters,
		opts:     opts,
		now:      time.Now,
	}
}

// TriggerScrape scrapes mediaID unless it is already being scraped, or was scraped
// before and opts.Override is not set. Concurrent calls for the same id and the
// same override intent share one run.
func (o *Orchestrator) TriggerScrape(ctx context.Context, mediaID string, opts ScrapeOptions) ScrapeStatus {
	key := mediaID
	if opts.Override || opts.Reclaimed {
		key += "|override"
	}
	v, _, _ := o.flight.Do(key, func() (any, error) {
		return o.scrape(ctx, mediaID, opts), nil
	})
	return v.(ScrapeStatus)
}

func (o *Orchestrator) scrape(ctx context.Context, mediaID string, opts ScrapeOptions) ScrapeStatus {
	start := o.now()
	logger := log.With().Str("id", mediaID).Logger()

	status := o.run(ctx, logger, mediaID, opts)

	label := status.Status
	if status.Scraped() {
		label = "scraped"
		metrics.ScrapeDuration.Observe(o.now().Sub(start).Seconds())
	}
	metrics.Scrapes.WithLabelValues(label).Inc()
	return status
}

func (o *Orchestrator) run(ctx context.Context, logger zerolog.Logger, mediaID string, opts ScrapeOptions) ScrapeStatus {
	claim := types.ProcessingKey(mediaID)

	rec, err := o.store.Record(ctx, claim)
	if err != nil {
		return errorStatus(errors.Wrap(err, "read processing marker"))
	}
	if opts.Reclaimed {
		opts.Override = true
	} else if rec != nil {
		age := o.now().Sub(rec.UpdatedAt)
		if age < o.opts.StaleProcessingAfter {
			logger.Debug().Dur("age", age).Msg("⏭️ Already processing")
			return ScrapeStatus{Status: StatusProcessing}
		}
		logger.Warn().Dur("age", age).Msg("♻️ Reclaiming stale processing marker")
		opts.Override = true
	}

	if !opts.Override {
		done, err := o.isDone(ctx, mediaID)
		if err != nil {
			return errorStatus(err)
		}
		if done {
			logger.Debug().Msg("⏭️ Already scraped")
			return ScrapeStatus{Status: StatusSkipped}
		}
	}

	info, err := o.lookup.Lookup(ctx, mediaID)
	if err != nil {
		logger.Error().Err(err).Msg("❌ Metadata lookup failed")
		return errorStatus(errors.Wrap(err, "metadata lookup"))
	}
	info.ID = mediaID

	targets, err := buildTargets(info)
	if err != nil {
		return errorStatus(err)
	}

	if err := o.claim(ctx, claim, targets); err != nil {
		return errorStatus(err)
	}

	logger.Info().Str("title", info.Title).Str("type", string(info.MediaType)).Int("targets", len(targets)).Msg("🔍 Scraping")

	disabled := &disabledSources{}
	total := 0
	for _, t := range targets {
		found := o.searchTarget(ctx, t, disabled)
		if err := ctx.Err(); err != nil {
			// the processing marker stays behind and is reclaimed later
			return errorStatus(errors.Wrap(err, "scrape interrupted"))
		}

		if err := o.store.UpsertMerge(ctx, t.key, found, caching.UpsertOptions{UpdateTimestamp: true}); err != nil {
			return errorStatus(errors.Wrapf(err, "store %s", t.key))
		}
		logger.Info().Str("key", t.key.String()).Int("found", len(found)).Msg("📦 Stored results")
		total += len(found)
	}

	for _, key := range []types.MediaKey{types.RequestedKey(mediaID), claim} {
		if err := o.store.Delete(ctx, key); err != nil {
			return errorStatus(errors.Wrapf(err, "delete %s", key))
		}
	}

	logger.Info().Int("items", total).Msg("✅ Scrape complete")
	return scrapedStatus(total)
}

func (o *Orchestrator) isDone(ctx context.Context, mediaID string) (bool, error) {
	for _, key := range primaryKeys(mediaID) {
		ok, err := o.store.Exists(ctx, key)
		if err != nil {
			return false, errors.Wrapf(err, "check %s", key)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// claim writes the processing marker and an empty record at every target key
func (o *Orchestrator) claim(ctx context.Context, marker types.MediaKey, targets []target) error {
	if err := o.store.Touch(ctx, marker); err != nil {
		return errors.Wrap(err, "write processing marker")
	}
	for _, t := range targets {
		if err := o.store.UpsertMerge(ctx, t.key, nil, caching.UpsertOptions{}); err != nil {
			return errors.Wrapf(err, "write placeholder %s", t.key)
		}
	}
	return nil
}

// disabledSources tracks adapters whose page layout stopped parsing during a run
type disabledSources struct {
	m sync.Map
}

func (d *disabledSources) disable(name string) { d.m.Store(name, true) }

func (d *disabledSources) has(name string) bool {
	_, ok := d.m.Load(name)
	return ok
}

// searchTarget runs every query variant of t against every adapter. Variants run a
// few at a time and all adapters of a variant run together. Per media adapters are
// called once with the first variant.
func (o *Orchestrator) searchTarget(ctx context.Context, t target, disabled *disabledSources) []types.ScrapeResult {
	var perQuery, perMedia []scrapers.SourceAdapter
	for _, a := range o.adapters {
		if scrapers.IsPerMedia(a) {
			perMedia = append(perMedia, a)
		} else {
			perQuery = append(perQuery, a)
		}
	}

	// indexed by variant then adapter so merge order does not depend on timing
	found := make([][][]types.ScrapeResult, len(t.queries)+1)

	var g errgroup.Group
	g.SetLimit(o.opts.VariantConcurrency)

	if len(perMedia) > 0 && len(t.queries) > 0 {
		found[len(t.queries)] = make([][]types.ScrapeResult, len(perMedia))
		g.Go(func() error {
			o.fanOut(ctx, perMedia, t.queries[0], t.sc, disabled, found[len(t.queries)])
			return nil
		})
	}
	for i, q := range t.queries {
		i, q := i, q
		found[i] = make([][]types.ScrapeResult, len(perQuery))
		g.Go(func() error {
			o.fanOut(ctx, perQuery, q, t.sc, disabled, found[i])
			return nil
		})
	}
	_ = g.Wait()

	var lists [][]types.ScrapeResult
	for _, byAdapter := range found {
		lists = append(lists, byAdapter...)
	}
	return results.FlattenAndDedup(lists...)
}

func (o *Orchestrator) fanOut(ctx context.Context, adapters []scrapers.SourceAdapter, q types.QueryVariant, sc types.SearchContext, disabled *disabledSources, out [][]types.ScrapeResult) {
	var wg sync.WaitGroup
	for i, a := range adapters {
		i, a := i, a
		if disabled.has(a.Name()) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = o.safeSearch(ctx, a, q, sc, disabled)
		}()
	}
	wg.Wait()
}

// safeSearch never fails: errors and panics of an adapter count as no results
func (o *Orchestrator) safeSearch(ctx context.Context, a scrapers.SourceAdapter, q types.QueryVariant, sc types.SearchContext, disabled *disabledSources) (rs []types.ScrapeResult) {
	logger := log.With().Str("source", a.Name()).Str("query", q.Text).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("💥 Source adapter panicked")
			metrics.SourceFailures.WithLabelValues(a.Name()).Inc()
			rs = nil
		}
	}()

	rs, err := a.Search(ctx, q, sc)
	if err != nil {
		metrics.SourceFailures.WithLabelValues(a.Name()).Inc()
		if errors.Is(err, scrapers.ErrParseMismatch) {
			disabled.disable(a.Name())
			logger.Warn().Err(err).Msg("⚠️ Source layout changed, skipping it for the rest of this run")
		} else {
			logger.Warn().Err(err).Msg("⚠️ Source search failed")
		}
		// partial results are still good
		return rs
	}

	metrics.SourceResults.WithLabelValues(a.Name()).Add(float64(len(rs)))
	logger.Debug().Int("found", len(rs)).Msg("📦 Source search done")
	return rs
}

// Request queues mediaID for the background worker. Ids that already have
// results are left alone.
func (o *Orchestrator) Request(ctx context.Context, mediaID string) error {
	done, err := o.isDone(ctx, mediaID)
	if err != nil || done {
		return err
	}
	return errors.Wrap(o.store.Touch(ctx, types.RequestedKey(mediaID)), "write request marker")
}

// CancelRequest drops the requested marker of mediaID
func (o *Orchestrator) CancelRequest(ctx context.Context, mediaID string) error {
	return errors.Wrap(o.store.Delete(ctx, types.RequestedKey(mediaID)), "delete request marker")
}

// PendingRequests lists the ids with a requested marker, oldest first
func (o *Orchestrator) PendingRequests(ctx context.Context) ([]string, error) {
	keys, err := o.store.ListStale(ctx, types.KindRequested, 0)
	if err != nil {
		return nil, errors.Wrap(err, "list requests")
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.ID)
	}
	return ids, nil
}

// ReclaimStuck bumps processing markers older than the stale window and returns
// their ids so they can be scraped again
func (o *Orchestrator) ReclaimStuck(ctx context.Context) ([]string, error) {
	keys, err := o.store.ListStale(ctx, types.KindProcessing, o.opts.StaleProcessingAfter)
	if err != nil {
		return nil, errors.Wrap(err, "list processing markers")
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := o.store.Touch(ctx, k); err != nil {
			return ids, errors.Wrapf(err, "reclaim %s", k)
		}
		log.Warn().Str("id", k.ID).Msg("♻️ Reclaimed stuck scrape")
		ids = append(ids, k.ID)
	}
	return ids, nil
}
