package metadata

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

type TMDBTrendingResponse struct {
	Results []TMDBTrendingItem `json:"results"`
}

type TMDBTrendingItem struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`                    // For movies
	Name         string `json:"name"`                     // For TV shows
	MediaType    string `json:"media_type"`               // "movie" or "tv"
	ReleaseDate  string `json:"release_date,omitempty"`   // For movies
	FirstAirDate string `json:"first_air_date,omitempty"` // For TV shows
}

// Trending returns the IMDb ids of this week's trending titles of mediaType ("movie"
// or "tv"), at most limit of them. Titles without an IMDb id are skipped.
func (p *TMDBProvider) Trending(ctx context.Context, mediaType string, limit int) ([]string, error) {
	if mediaType != "movie" && mediaType != "tv" {
		return nil, fmt.Errorf("unsupported trending media type %q", mediaType)
	}

	var result TMDBTrendingResponse
	if err := p.get(ctx, "/trending/"+mediaType+"/week", nil, &result); err != nil {
		return nil, err
	}

	items := result.Results
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		imdbID, err := p.GetIMDbID(ctx, mediaType, item.ID)
		if err != nil || imdbID == "" {
			log.Debug().Err(err).Int("tmdb", item.ID).Msg("⏭️ Skipping trending item without IMDb id")
			continue
		}
		ids = append(ids, imdbID)
	}

	log.Info().Str("type", mediaType).Int("found", len(result.Results)).Int("ids", len(ids)).Msg("📊 Fetched trending titles")
	return ids, nil
}
