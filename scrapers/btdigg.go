package scrapers

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/109isaque10/scraped/torrentManager"
	"github.com/109isaque10/scraped/utils"
)

const btdiggResultsPerPage = 10

// NewBTDigg searches the btdig.com DHT index. Pages are small, so five are fetched at once.
func NewBTDigg(baseURL string, deps Deps, overrides Thresholds) *PagedSource {
	baseURL = strings.TrimRight(baseURL, "/")
	cfg := SourceConfig{
		Name:           "btdigg",
		FirstPage:      0,
		MaxPages:       100,
		BadResultLimit: 20,
		MinSizeMB:      100,
		BatchSize:      5,
		Fetch:          FetchOptions{MaxRetries: 10},
		PageURL: func(query string, page int) string {
			return fmt.Sprintf("%s/search?order=0&q=%s&p=%d", baseURL, url.QueryEscape(query), page)
		},
		Parse: parseBTDiggPage,
	}
	return NewPagedSource(overrides.Apply(cfg), deps)
}

func parseBTDiggPage(body []byte) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrParseMismatch, err)
	}

	rows := doc.Find("div.one_result")
	titles := rows.Find("div.torrent_name a")
	magnets := rows.Find(`div.torrent_magnet a[href^="magnet:"]`)
	if titles.Length() != magnets.Length() {
		return Page{}, fmt.Errorf("%w: %d titles, %d magnets", ErrParseMismatch, titles.Length(), magnets.Length())
	}

	var page Page
	rows.Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find("div.torrent_name a").First().Text())
		href, _ := s.Find(`div.torrent_magnet a[href^="magnet:"]`).First().Attr("href")
		size, _ := utils.ParseSizeMB(s.Find("span.torrent_size").First().Text())

		if title == "" || href == "" {
			return
		}
		page.Candidates = append(page.Candidates, Candidate{
			Title:  title,
			SizeMB: size,
			Hash:   torrentManager.HashFromMagnet(href),
		})
	})

	page.HasMore = rows.Length() >= btdiggResultsPerPage
	return page, nil
}
