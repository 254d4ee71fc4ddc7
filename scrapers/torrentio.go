package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/109isaque10/scraped/matching"
	"github.com/109isaque10/scraped/types"
	"github.com/109isaque10/scraped/utils"
)

// TorrentioResult represents a stream from the Torrentio addon
type TorrentioResult struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	InfoHash string `json:"infoHash"`
}

// TorrentioResponse represents the API response
type TorrentioResponse struct {
	Results []TorrentioResult `json:"streams"`
}

// TorrentioScraper looks streams up by media id instead of by text, so it is
// queried once per media item
type TorrentioScraper struct {
	url  string
	deps Deps
	opts FetchOptions
}

func NewTorrentio(baseURL string, deps Deps) *TorrentioScraper {
	return &TorrentioScraper{
		url:  strings.TrimRight(baseURL, "/"),
		deps: deps.withDefaults(),
		opts: FetchOptions{Timeout: IndexerTimeout},
	}
}

func (t *TorrentioScraper) Name() string   { return "torrentio" }
func (t *TorrentioScraper) PerMedia() bool { return true }

func (t *TorrentioScraper) streamURL(sc types.SearchContext) (string, bool) {
	switch sc.MediaType {
	case types.MediaMovie:
		return fmt.Sprintf("%s/stream/movie/%s.json", t.url, sc.MediaID), true
	case types.MediaTV:
		// the first episode lists the season packs too
		return fmt.Sprintf("%s/stream/series/%s:%d:1.json", t.url, sc.MediaID, sc.Season), true
	}
	return "", false
}

// Search ignores the query text and fetches the streams of sc.MediaID
func (t *TorrentioScraper) Search(ctx context.Context, query types.QueryVariant, sc types.SearchContext) ([]types.ScrapeResult, error) {
	apiURL, ok := t.streamURL(sc)
	if !ok || !strings.HasPrefix(sc.MediaID, "tt") {
		return nil, nil
	}

	body, err := t.deps.Fetcher.FetchPage(ctx, apiURL, t.opts)
	if err != nil {
		return nil, fmt.Errorf("torrentio: %w", err)
	}

	var resp TorrentioResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("torrentio: %w: %v", ErrParseMismatch, err)
	}

	var out []types.ScrapeResult
	seen := make(map[string]bool)
	for _, stream := range resp.Results {
		c := parseTorrentioStream(stream)
		if c.Hash == "" || seen[c.Hash] {
			continue
		}
		seen[c.Hash] = true

		r, reason := acceptCandidate(ctx, t.deps, 0, c, query, sc)
		if reason != matching.Accepted {
			log.Trace().Str("title", c.Title).Str("reason", string(reason)).Msg("torrentio stream rejected")
			continue
		}
		out = append(out, r)
	}

	log.Debug().Str("source", t.Name()).Str("id", sc.MediaID).Int("streams", len(resp.Results)).Int("accepted", len(out)).Msg("torrentio lookup done")
	return out, nil
}

// parseTorrentioStream reads "Release.Name\n👤 12 💾 1.4 GB ⚙️ Tracker" titles
func parseTorrentioStream(s TorrentioResult) Candidate {
	c := Candidate{
		Title: strings.TrimSpace(strings.Split(s.Title, "\n")[0]),
		Hash:  s.InfoHash,
	}

	if _, after, ok := strings.Cut(s.Title, "💾 "); ok {
		size, _, _ := strings.Cut(after, " ⚙️")
		c.SizeMB, _ = utils.ParseSizeMB(strings.TrimSpace(strings.Split(size, "\n")[0]))
	}
	return c
}
