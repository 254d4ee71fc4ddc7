package scrapers

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/109isaque10/scraped/torrentManager"
	"github.com/109isaque10/scraped/utils"
)

const IndexerTimeout = 60 * time.Second

// JackettResult represents a result from Jackett API
type JackettResult struct {
	Title     string `json:"Title"`
	Link      string `json:"Link"`
	InfoHash  string `json:"InfoHash"`
	MagnetUri string `json:"MagnetUri"`
	Seeders   *int   `json:"Seeders"`
	Size      int64  `json:"Size"`
	Tracker   string `json:"Tracker"`
	Details   string `json:"Details"`
}

// JackettResponse represents the API response
type JackettResponse struct {
	Results []JackettResult `json:"Results"`
}

// NewJackett searches every indexer configured in a Jackett instance. Jackett
// aggregates on its side and returns everything in one response.
func NewJackett(baseURL, apiKey string, deps Deps, overrides Thresholds) *PagedSource {
	baseURL = strings.TrimRight(baseURL, "/")
	cfg := SourceConfig{
		Name:           "jackett",
		FirstPage:      1,
		MaxPages:       1,
		BadResultLimit: 200,
		MinSizeMB:      1,
		BatchSize:      1,
		Fetch:          FetchOptions{Timeout: IndexerTimeout, MaxRetries: 3},
		PageURL: func(query string, _ int) string {
			params := url.Values{}
			params.Set("apikey", apiKey)
			params.Set("Query", query)
			return fmt.Sprintf("%s/api/v2.0/indexers/all/results?%s", baseURL, params.Encode())
		},
		Parse: parseJackett,
	}
	return NewPagedSource(overrides.Apply(cfg), deps)
}

func parseJackett(body []byte) (Page, error) {
	var resp JackettResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrParseMismatch, err)
	}

	// the same release is often listed by several indexers
	seen := make(map[string]bool)
	var page Page
	for _, r := range resp.Results {
		key := r.Details
		if key == "" {
			key = r.Title + r.Link
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		c := Candidate{Title: r.Title, SizeMB: utils.BytesToMB(r.Size)}
		switch {
		case r.InfoHash != "":
			c.Hash = r.InfoHash
		case r.MagnetUri != "":
			c.Hash = torrentManager.HashFromMagnet(r.MagnetUri)
		}
		if c.Hash == "" {
			c.Link = r.Link
		}
		page.Candidates = append(page.Candidates, c)
	}
	return page, nil
}
