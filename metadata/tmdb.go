package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/109isaque10/scraped/scrapers"
	"github.com/109isaque10/scraped/types"
)

const (
	DefaultTMDBURL  = "https://api.themoviedb.org/3"
	DefaultCacheTTL = 24 * time.Hour

	tmdbAnimationGenre = 16
)

// TMDBProvider looks titles up on The Movie Database
type TMDBProvider struct {
	apiKey   string
	baseURL  string
	fetcher  *scrapers.Fetcher
	cache    *Cache
	cacheTTL time.Duration
}

func NewTMDBProvider(apiKey string, fetcher *scrapers.Fetcher, cacheTTL time.Duration) *TMDBProvider {
	if cacheTTL == 0 {
		cacheTTL = DefaultCacheTTL
	}
	if fetcher == nil {
		fetcher = scrapers.NewFetcher(nil)
	}

	return &TMDBProvider{
		apiKey:   apiKey,
		baseURL:  DefaultTMDBURL,
		fetcher:  fetcher,
		cache:    &Cache{items: make(map[string]*cachedTitle)},
		cacheTTL: cacheTTL,
	}
}

// WithBaseURL points the provider at another TMDB compatible endpoint
func (p *TMDBProvider) WithBaseURL(baseURL string) *TMDBProvider {
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

// TMDB API response structures
type TMDBFindResponse struct {
	MovieResults []TMDBMovie `json:"movie_results"`
	TVResults    []TMDBShow  `json:"tv_results"`
}

type TMDBGenre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func isAnime(genres []TMDBGenre, language string) bool {
	if language != "ja" {
		return false
	}
	for _, g := range genres {
		if g.ID == tmdbAnimationGenre {
			return true
		}
	}
	return false
}

func yearOf(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return ""
}

func (p *TMDBProvider) get(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", p.apiKey)
	params.Set("language", "en-US")

	body, err := p.fetcher.FetchPage(ctx, p.baseURL+path+"?"+params.Encode(), scrapers.FetchOptions{
		MaxRetries: 3,
		Timeout:    10 * time.Second,
		Headers:    map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		var hs *scrapers.HardStopError
		if errors.As(err, &hs) {
			switch hs.StatusCode {
			case 401:
				return fmt.Errorf("TMDB API key is invalid")
			case 404:
				return ErrNotFound
			}
		}
		return fmt.Errorf("TMDB request %s: %w", path, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Lookup accepts IMDb ids (tt...) and tmdb:movie:{id} / tmdb:tv:{id}
func (p *TMDBProvider) Lookup(ctx context.Context, mediaID string) (*types.TitleInfo, error) {
	if cached := p.cache.Get(mediaID); cached != nil {
		log.Debug().Str("id", mediaID).Str("title", cached.Title).Msg("📦 Metadata cache hit")
		return cached, nil
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("no TMDB API key configured")
	}

	kind, tmdbID, err := p.resolve(ctx, mediaID)
	if err != nil {
		return nil, err
	}

	var info *types.TitleInfo
	switch kind {
	case "movie":
		info, err = p.movie(ctx, tmdbID)
	case "tv":
		info, err = p.show(ctx, tmdbID)
	default:
		err = fmt.Errorf("unsupported TMDB media type %q", kind)
	}
	if err != nil {
		return nil, err
	}

	info.ID = mediaID
	p.cache.Set(mediaID, info, p.cacheTTL)
	log.Info().Str("id", mediaID).Str("title", info.Title).Str("year", info.ReleaseYear).Str("type", string(info.MediaType)).Msg("✅ Found metadata")
	return info, nil
}

func (p *TMDBProvider) resolve(ctx context.Context, mediaID string) (kind string, id int, err error) {
	if rest, ok := strings.CutPrefix(mediaID, "tmdb:"); ok {
		kind, raw, ok := strings.Cut(rest, ":")
		if !ok {
			return "", 0, fmt.Errorf("invalid TMDB id: %s", mediaID)
		}
		id, err := strconv.Atoi(raw)
		if err != nil {
			return "", 0, fmt.Errorf("invalid TMDB id %s: %w", mediaID, err)
		}
		return kind, id, nil
	}

	if !strings.HasPrefix(mediaID, "tt") || len(mediaID) < 4 {
		return "", 0, fmt.Errorf("invalid IMDb ID format: %s", mediaID)
	}

	log.Debug().Str("id", mediaID).Msg("🔍 Fetching metadata from TMDB")

	var result TMDBFindResponse
	params := url.Values{}
	params.Set("external_source", "imdb_id")
	if err := p.get(ctx, "/find/"+url.PathEscape(mediaID), params, &result); err != nil {
		return "", 0, err
	}

	// Check movie results first
	if len(result.MovieResults) > 0 {
		return "movie", result.MovieResults[0].ID, nil
	}
	if len(result.TVResults) > 0 {
		return "tv", result.TVResults[0].ID, nil
	}
	return "", 0, fmt.Errorf("%w: %s", ErrNotFound, mediaID)
}

// Cache keeps lookups for a while, metadata rarely changes
type Cache struct {
	mu    sync.RWMutex
	items map[string]*cachedTitle
}

type cachedTitle struct {
	info      types.TitleInfo
	expiresAt time.Time
}

func (c *Cache) Get(id string) *types.TitleInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[id]
	if !exists || time.Now().After(item.expiresAt) {
		return nil
	}
	info := item.info
	return &info
}

func (c *Cache) Set(id string, info *types.TitleInfo, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// drop expired entries
	for key, item := range c.items {
		if time.Now().After(item.expiresAt) {
			delete(c.items, key)
		}
	}
	c.items[id] = &cachedTitle{info: *info, expiresAt: time.Now().Add(ttl)}
}

// IMDbID is the external_ids response
type IMDbID struct {
	IMDbID string `json:"imdb_id"`
}

// GetIMDbID maps a TMDB id to its IMDb id
func (p *TMDBProvider) GetIMDbID(ctx context.Context, mediaType string, id int) (string, error) {
	var result IMDbID
	if err := p.get(ctx, fmt.Sprintf("/%s/%d/external_ids", url.PathEscape(mediaType), id), nil, &result); err != nil {
		return "", err
	}
	return result.IMDbID, nil
}
