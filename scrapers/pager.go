package scrapers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/109isaque10/scraped/matching"
	"github.com/109isaque10/scraped/types"
)

const (
	DefaultMaxPages       = 20
	DefaultBadResultLimit = 15
	// the page ceiling grows by one page per this many size-skipped candidates
	sizeSkipsPerExtraPage = 10
)

// Candidate is one raw row parsed from a source page
type Candidate struct {
	Title  string
	SizeMB float64
	Hash   string
	// Link is a .torrent or magnet link, used when the page shows no hash
	Link string
}

// Page is a parsed result page
type Page struct {
	Candidates []Candidate
	HasMore    bool
}

// SourceConfig describes a paged source. Thresholds are tuned per index.
type SourceConfig struct {
	Name           string
	FirstPage      int
	MaxPages       int
	BadResultLimit int
	MinSizeMB      float64
	BatchSize      int
	PageDelay      time.Duration
	Fetch          FetchOptions

	PageURL func(query string, page int) string
	Parse   func(body []byte) (Page, error)
}

// Thresholds override the tuned values of a SourceConfig. Zero fields keep the default.
type Thresholds struct {
	MaxPages       int           `yaml:"maxPages"`
	BadResultLimit int           `yaml:"badResultLimit"`
	BatchSize      int           `yaml:"batchSize"`
	MinSizeMB      float64       `yaml:"minSizeMB"`
	MaxRetries     uint          `yaml:"maxRetries"`
	PageDelay      time.Duration `yaml:"pageDelay"`
}

// Apply returns cfg with the non zero thresholds applied
func (t Thresholds) Apply(cfg SourceConfig) SourceConfig {
	if t.MaxPages > 0 {
		cfg.MaxPages = t.MaxPages
	}
	if t.BadResultLimit > 0 {
		cfg.BadResultLimit = t.BadResultLimit
	}
	if t.BatchSize > 0 {
		cfg.BatchSize = t.BatchSize
	}
	if t.MinSizeMB > 0 {
		cfg.MinSizeMB = t.MinSizeMB
	}
	if t.MaxRetries > 0 {
		cfg.Fetch.MaxRetries = t.MaxRetries
	}
	if t.PageDelay > 0 {
		cfg.PageDelay = t.PageDelay
	}
	return cfg
}

// PagedSource is a SourceAdapter driven by a SourceConfig
type PagedSource struct {
	cfg  SourceConfig
	deps Deps
}

func NewPagedSource(cfg SourceConfig, deps Deps) *PagedSource {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.BadResultLimit <= 0 {
		cfg.BadResultLimit = DefaultBadResultLimit
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	return &PagedSource{cfg: cfg, deps: deps.withDefaults()}
}

func (p *PagedSource) Name() string { return p.cfg.Name }

// Config is the effective configuration after defaults and overrides
func (p *PagedSource) Config() SourceConfig { return p.cfg }

type fetched struct {
	body []byte
	err  error
}

// Search pages through the source until it runs out of pages, drifts into
// irrelevant results or hits its page ceiling. Pages of a batch are fetched
// concurrently but always judged in order.
func (p *PagedSource) Search(ctx context.Context, query types.QueryVariant, sc types.SearchContext) ([]types.ScrapeResult, error) {
	cfg := p.cfg
	logger := log.With().Str("source", cfg.Name).Str("query", query.Text).Logger()

	var limiter *rate.Limiter
	if cfg.PageDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.PageDelay), cfg.BatchSize)
	}

	ceiling := cfg.MaxPages
	maxCeiling := cfg.MaxPages + cfg.MaxPages/2
	sizeSkips := 0
	bad := 0
	seen := make(map[string]struct{})
	var out []types.ScrapeResult

	for done := 0; done < ceiling; {
		first := cfg.FirstPage + done
		batch := min(cfg.BatchSize, ceiling-done)
		pages := p.fetchBatch(ctx, limiter, query.Text, first, batch)

		for i, pg := range pages {
			pageNum := first + i
			done++

			if pg.err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				if pageNum == cfg.FirstPage {
					return nil, fmt.Errorf("%s page %d: %w", cfg.Name, pageNum, pg.err)
				}
				logger.Debug().Err(pg.err).Int("page", pageNum).Msg("stopping after page error")
				return out, nil
			}

			parsed, err := cfg.Parse(pg.body)
			if err != nil {
				if pageNum == cfg.FirstPage {
					return nil, fmt.Errorf("%s page %d: %w", cfg.Name, pageNum, err)
				}
				logger.Debug().Err(err).Int("page", pageNum).Msg("stopping after parse error")
				return out, nil
			}

			for _, cand := range parsed.Candidates {
				r, reason := p.accept(ctx, cand, query, sc)
				if reason == matching.Accepted {
					if _, dup := seen[r.Hash]; !dup {
						seen[r.Hash] = struct{}{}
						out = append(out, r)
					}
					bad = 0
					continue
				}

				bad++
				if reason.SizeRelated() {
					sizeSkips++
					if sizeSkips%sizeSkipsPerExtraPage == 0 && ceiling < maxCeiling {
						ceiling++
					}
				}
				if bad >= cfg.BadResultLimit {
					logger.Debug().Int("page", pageNum).Int("bad", bad).Int("found", len(out)).Msg("too many bad results, stopping")
					return out, nil
				}
			}

			if !parsed.HasMore {
				return out, nil
			}
		}
	}

	logger.Debug().Int("ceiling", ceiling).Int("found", len(out)).Msg("page ceiling reached")
	return out, nil
}

func (p *PagedSource) fetchBatch(ctx context.Context, limiter *rate.Limiter, query string, first, n int) []fetched {
	pages := make([]fetched, n)
	if n == 1 {
		pages[0] = p.fetchOne(ctx, limiter, query, first)
		return pages
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			pages[i] = p.fetchOne(gctx, limiter, query, first+i)
			return nil
		})
	}
	_ = g.Wait()
	return pages
}

func (p *PagedSource) fetchOne(ctx context.Context, limiter *rate.Limiter, query string, page int) fetched {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fetched{err: err}
		}
	}
	body, err := p.deps.Fetcher.FetchPage(ctx, p.cfg.PageURL(query, page), p.cfg.Fetch)
	return fetched{body: body, err: err}
}

// accept turns a candidate into a result or explains why not. Title checks run
// before any .torrent download.
func (p *PagedSource) accept(ctx context.Context, c Candidate, query types.QueryVariant, sc types.SearchContext) (types.ScrapeResult, matching.Reason) {
	return acceptCandidate(ctx, p.deps, p.cfg.MinSizeMB, c, query, sc)
}

func acceptCandidate(ctx context.Context, deps Deps, minSizeMB float64, c Candidate, query types.QueryVariant, sc types.SearchContext) (types.ScrapeResult, matching.Reason) {
	if strings.TrimSpace(c.Title) == "" {
		// untitled rows are named after the torrent itself
		if c.Link == "" {
			return types.ScrapeResult{}, matching.RejectTitle
		}
		resolved, err := deps.Resolver.Resolve(ctx, c.Link)
		if err != nil || resolved.Name == "" {
			return types.ScrapeResult{}, matching.RejectTitle
		}
		c.Title = resolved.Name
		if c.Hash == "" {
			c.Hash = resolved.InfoHash
		}
		if c.SizeMB == 0 {
			c.SizeMB = resolved.SizeMB
		}
	}

	if c.SizeMB > 0 && c.SizeMB < minSizeMB {
		return types.ScrapeResult{}, matching.RejectTooSmall
	}
	if !matching.HasTerms(c.Title, query.MustHaveTerms) {
		return types.ScrapeResult{}, matching.RejectMissingTerm
	}

	titles := titlesFor(query, sc)
	if reason := matching.EvaluateTitle(sc, titles, c.Title); reason != matching.Accepted {
		return types.ScrapeResult{}, reason
	}

	r := types.ScrapeResult{Title: c.Title, FileSize: c.SizeMB, Hash: types.NormalizeHash(c.Hash)}
	if r.Hash == "" && c.Link != "" {
		resolved, err := deps.Resolver.Resolve(ctx, c.Link)
		if err != nil {
			log.Trace().Err(err).Str("link", c.Link).Msg("could not resolve torrent link")
			return types.ScrapeResult{}, matching.RejectInvalidHash
		}
		r.Hash = resolved.InfoHash
		if r.FileSize == 0 {
			r.FileSize = resolved.SizeMB
		}
	}

	if reason := deps.Bounds.Evaluate(sc, titles, r); reason != matching.Accepted {
		return types.ScrapeResult{}, reason
	}
	return r, matching.Accepted
}
