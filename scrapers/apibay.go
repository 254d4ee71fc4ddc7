package scrapers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/109isaque10/scraped/utils"
)

// NewAPIBay searches the piratebay json api. It answers with a single page of up to
// 100 results and a sentinel row with id "0" when nothing matched.
func NewAPIBay(baseURL string, deps Deps, overrides Thresholds) *PagedSource {
	baseURL = strings.TrimRight(baseURL, "/")
	cfg := SourceConfig{
		Name:           "apibay",
		FirstPage:      1,
		MaxPages:       1,
		BadResultLimit: 100,
		MinSizeMB:      1,
		BatchSize:      1,
		PageURL: func(query string, _ int) string {
			return fmt.Sprintf("%s/q.php?q=%s&cat=0", baseURL, url.QueryEscape(query))
		},
		Parse: parseAPIBay,
	}
	return NewPagedSource(overrides.Apply(cfg), deps)
}

func parseAPIBay(body []byte) (Page, error) {
	if !gjson.ValidBytes(body) {
		return Page{}, fmt.Errorf("%w: invalid json", ErrParseMismatch)
	}

	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return Page{}, fmt.Errorf("%w: expected an array", ErrParseMismatch)
	}

	var page Page
	root.ForEach(func(_, v gjson.Result) bool {
		if v.Get("id").String() == "0" {
			return true
		}
		page.Candidates = append(page.Candidates, Candidate{
			Title:  v.Get("name").String(),
			SizeMB: utils.BytesToMB(v.Get("size").Int()),
			Hash:   v.Get("info_hash").String(),
		})
		return true
	})
	return page, nil
}
