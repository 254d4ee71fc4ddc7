package scrapers

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/109isaque10/scraped/torrentManager"
	"github.com/109isaque10/scraped/utils"
)

const prowlarrPageSize = 100

// NewProwlarr searches a Prowlarr instance, paging with offset and limit
func NewProwlarr(baseURL, apiKey string, deps Deps, overrides Thresholds) *PagedSource {
	baseURL = strings.TrimRight(baseURL, "/")
	cfg := SourceConfig{
		Name:           "prowlarr",
		FirstPage:      0,
		MaxPages:       5,
		BadResultLimit: 100,
		MinSizeMB:      1,
		BatchSize:      2,
		Fetch: FetchOptions{
			Timeout: IndexerTimeout,
			Headers: map[string]string{"X-Api-Key": apiKey},
		},
		PageURL: func(query string, page int) string {
			params := url.Values{}
			params.Set("query", query)
			params.Set("type", "search")
			params.Set("offset", strconv.Itoa(page*prowlarrPageSize))
			params.Set("limit", strconv.Itoa(prowlarrPageSize))
			return fmt.Sprintf("%s/api/v1/search?%s", baseURL, params.Encode())
		},
		Parse: parseProwlarr,
	}
	return NewPagedSource(overrides.Apply(cfg), deps)
}

func parseProwlarr(body []byte) (Page, error) {
	if !gjson.ValidBytes(body) {
		return Page{}, fmt.Errorf("%w: invalid json", ErrParseMismatch)
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return Page{}, fmt.Errorf("%w: expected an array", ErrParseMismatch)
	}

	var page Page
	count := 0
	root.ForEach(func(_, v gjson.Result) bool {
		count++
		c := Candidate{
			Title:  v.Get("title").String(),
			SizeMB: utils.BytesToMB(v.Get("size").Int()),
			Hash:   v.Get("infoHash").String(),
		}
		if c.Hash == "" {
			if magnet := v.Get("magnetUrl").String(); strings.HasPrefix(magnet, "magnet:") {
				c.Hash = torrentManager.HashFromMagnet(magnet)
			}
		}
		if c.Hash == "" {
			c.Link = v.Get("downloadUrl").String()
			if c.Link == "" {
				c.Link = v.Get("magnetUrl").String()
			}
		}
		page.Candidates = append(page.Candidates, c)
		return true
	})

	page.HasMore = count >= prowlarrPageSize
	return page, nil
}
