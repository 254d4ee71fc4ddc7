package metadata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/109isaque10/scraped/scrapers"
	"github.com/109isaque10/scraped/types"
)

const DefaultKitsuURL = "https://kitsu.io/api/edge"

// KitsuProvider looks anime up on Kitsu by kitsu:{id}
type KitsuProvider struct {
	baseURL  string
	fetcher  *scrapers.Fetcher
	cache    *Cache
	cacheTTL time.Duration
}

func NewKitsuProvider(baseURL string, fetcher *scrapers.Fetcher, cacheTTL time.Duration) *KitsuProvider {
	if baseURL == "" {
		baseURL = DefaultKitsuURL
	}
	if cacheTTL == 0 {
		cacheTTL = DefaultCacheTTL
	}
	if fetcher == nil {
		fetcher = scrapers.NewFetcher(nil)
	}

	return &KitsuProvider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		fetcher:  fetcher,
		cache:    &Cache{items: make(map[string]*cachedTitle)},
		cacheTTL: cacheTTL,
	}
}

func (p *KitsuProvider) Lookup(ctx context.Context, mediaID string) (*types.TitleInfo, error) {
	raw, ok := strings.CutPrefix(mediaID, "kitsu:")
	if !ok {
		return nil, fmt.Errorf("invalid Kitsu id: %s", mediaID)
	}
	if _, err := strconv.Atoi(raw); err != nil {
		return nil, fmt.Errorf("invalid Kitsu id %s: %w", mediaID, err)
	}

	if cached := p.cache.Get(mediaID); cached != nil {
		log.Debug().Str("id", mediaID).Str("title", cached.Title).Msg("📦 Metadata cache hit")
		return cached, nil
	}

	log.Debug().Str("id", mediaID).Msg("🔍 Fetching metadata from Kitsu")
	body, err := p.fetcher.FetchPage(ctx, p.baseURL+"/anime/"+raw, scrapers.FetchOptions{
		MaxRetries: 3,
		Timeout:    10 * time.Second,
		Headers:    map[string]string{"Accept": "application/vnd.api+json"},
	})
	if err != nil {
		var hs *scrapers.HardStopError
		if errors.As(err, &hs) && hs.StatusCode == 404 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, mediaID)
		}
		return nil, fmt.Errorf("kitsu request %s: %w", mediaID, err)
	}

	info, err := parseKitsuAnime(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", mediaID, err)
	}

	info.ID = mediaID
	p.cache.Set(mediaID, info, p.cacheTTL)
	log.Info().Str("id", mediaID).Str("title", info.Title).Str("year", info.ReleaseYear).Msg("✅ Found metadata")
	return info, nil
}

// parseKitsuAnime reads a JSON:API anime document. The English title is preferred,
// the romanized title becomes the original title since releases are named after it.
func parseKitsuAnime(body []byte) (*types.TitleInfo, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid Kitsu response")
	}
	attrs := gjson.GetBytes(body, "data.attributes")
	if !attrs.Exists() {
		return nil, ErrNotFound
	}

	title := firstNonEmpty(
		attrs.Get("titles.en").String(),
		attrs.Get("titles.en_us").String(),
		attrs.Get("canonicalTitle").String(),
	)
	if title == "" {
		return nil, errors.New("kitsu anime has no title")
	}

	original := firstNonEmpty(attrs.Get("titles.en_jp").String(), attrs.Get("titles.ja_jp").String())
	if strings.EqualFold(original, title) {
		original = attrs.Get("titles.ja_jp").String()
	}

	return &types.TitleInfo{
		MediaType:     types.MediaAnime,
		Title:         title,
		OriginalTitle: original,
		ReleaseYear:   yearOf(attrs.Get("startDate").String()),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
