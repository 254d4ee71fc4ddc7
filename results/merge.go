package results

import (
	"sort"
	"strconv"

	"github.com/moistari/rls"

	"github.com/109isaque10/scraped/matching"
	"github.com/109isaque10/scraped/types"
)

// FlattenAndDedup concatenates lists keeping the first result seen for each hash.
// Results whose hash is not a 40 char lowercase hex string are dropped.
func FlattenAndDedup(lists ...[]types.ScrapeResult) []types.ScrapeResult {
	total := 0
	for _, l := range lists {
		total += len(l)
	}

	seen := make(map[string]struct{}, total)
	out := make([]types.ScrapeResult, 0, total)
	for _, list := range lists {
		for _, r := range list {
			if !types.IsValidHash(r.Hash) {
				continue
			}
			if _, dup := seen[r.Hash]; dup {
				continue
			}
			seen[r.Hash] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// SortByFileSize orders results largest first, keeping the input order for equal sizes
func SortByFileSize(rs []types.ScrapeResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].FileSize > rs[j].FileSize
	})
}

// GroupByFrequency ranks results by the total size found for their release title, so
// titles with many independent releases come first. Inside a bucket, and between
// buckets of equal total, larger items come first.
func GroupByFrequency(rs []types.ScrapeResult) []types.ScrapeResult {
	type bucket struct {
		total float64
		items []types.ScrapeResult
	}

	buckets := make(map[string]*bucket)
	var order []string
	for _, r := range rs {
		key := bucketKey(r.Title)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
			order = append(order, key)
		}
		b.total += r.FileSize
		b.items = append(b.items, r)
	}

	sort.SliceStable(order, func(i, j int) bool {
		bi, bj := buckets[order[i]], buckets[order[j]]
		if bi.total != bj.total {
			return bi.total > bj.total
		}
		return maxSize(bi.items) > maxSize(bj.items)
	})

	out := make([]types.ScrapeResult, 0, len(rs))
	for _, key := range order {
		items := buckets[key].items
		SortByFileSize(items)
		out = append(out, items...)
	}
	return out
}

// bucketKey is the release title without release tags
func bucketKey(title string) string {
	r := rls.ParseString(title)
	key := matching.Normalize(r.Title)
	if key == "" {
		key = matching.Normalize(title)
	}
	if r.Year > 0 {
		key += " " + strconv.Itoa(r.Year)
	}
	return key
}

func maxSize(items []types.ScrapeResult) float64 {
	m := 0.0
	for _, it := range items {
		if it.FileSize > m {
			m = it.FileSize
		}
	}
	return m
}
