package scrapers

import (
	"context"

	"github.com/109isaque10/scraped/matching"
	"github.com/109isaque10/scraped/torrentManager"
	"github.com/109isaque10/scraped/types"
)

// SourceAdapter searches one external torrent index
type SourceAdapter interface {
	Name() string
	Search(ctx context.Context, query types.QueryVariant, sc types.SearchContext) ([]types.ScrapeResult, error)
}

// MediaScoped adapters look results up by media id, so one call per media item is
// enough no matter how many query variants there are
type MediaScoped interface {
	PerMedia() bool
}

// IsPerMedia reports whether a should be called once per media item
func IsPerMedia(a SourceAdapter) bool {
	ms, ok := a.(MediaScoped)
	return ok && ms.PerMedia()
}

// Deps are shared by every adapter of a process
type Deps struct {
	Fetcher  *Fetcher
	Resolver *torrentManager.Resolver
	Bounds   matching.Bounds
}

func (d Deps) withDefaults() Deps {
	if d.Fetcher == nil {
		d.Fetcher = NewFetcher(nil)
	}
	if d.Resolver == nil {
		d.Resolver = torrentManager.NewResolver(d.Fetcher.Client(), 0)
	}
	if d.Bounds.MovieFloorMB == nil {
		d.Bounds = matching.DefaultBounds
	}
	return d
}

// titlesFor returns the title a query's results are matched against
func titlesFor(query types.QueryVariant, sc types.SearchContext) []string {
	if query.Title != "" {
		return []string{query.Title}
	}
	return []string{sc.TargetTitle}
}
