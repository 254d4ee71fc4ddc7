package scrapers

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/109isaque10/scraped/torrentManager"
	"github.com/109isaque10/scraped/utils"
)

// SourcesFile is the yaml file of pattern sources and threshold overrides
type SourcesFile struct {
	Sources    []PatternDefinition   `yaml:"sources"`
	Thresholds map[string]Thresholds `yaml:"thresholds"`
}

// PatternDefinition describes an index scraped with regular expressions.
// URL may use {query} and {page}.
type PatternDefinition struct {
	Name           string        `yaml:"name"`
	URL            string        `yaml:"url"`
	FirstPage      int           `yaml:"firstPage"`
	MaxPages       int           `yaml:"maxPages"`
	BadResultLimit int           `yaml:"badResultLimit"`
	MinSizeMB      float64       `yaml:"minSizeMB"`
	BatchSize      int           `yaml:"batchSize"`
	PageDelay      time.Duration `yaml:"pageDelay"`
	MaxRetries     uint          `yaml:"maxRetries"`
	Timeout        time.Duration `yaml:"timeout"`
	ResultsPerPage int           `yaml:"resultsPerPage"`
	Patterns       struct {
		Title string `yaml:"title"`
		Hash  string `yaml:"hash"`
		Size  string `yaml:"size"`
		Link  string `yaml:"link"`
	} `yaml:"patterns"`
}

// LoadSourcesFile reads and validates a sources file
func LoadSourcesFile(path string) (*SourcesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var f SourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}

	for i, def := range f.Sources {
		if def.Name == "" || def.URL == "" {
			return nil, fmt.Errorf("source %d: name and url are required", i)
		}
		if def.Patterns.Title == "" || (def.Patterns.Hash == "" && def.Patterns.Link == "") {
			return nil, fmt.Errorf("source %s: title and hash or link patterns are required", def.Name)
		}
	}
	return &f, nil
}

type patternSet struct {
	title, hash, size, link *regexp.Regexp
}

func compileOptional(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	return regexp.Compile(expr)
}

// NewPatternSource builds a paged adapter from a definition
func NewPatternSource(def PatternDefinition, deps Deps) (*PagedSource, error) {
	var ps patternSet
	var err error
	for _, c := range []struct {
		dst  **regexp.Regexp
		expr string
	}{
		{&ps.title, def.Patterns.Title},
		{&ps.hash, def.Patterns.Hash},
		{&ps.size, def.Patterns.Size},
		{&ps.link, def.Patterns.Link},
	} {
		if *c.dst, err = compileOptional(c.expr); err != nil {
			return nil, fmt.Errorf("source %s: %w", def.Name, err)
		}
	}

	urlTemplate := def.URL
	cfg := SourceConfig{
		Name:           def.Name,
		FirstPage:      def.FirstPage,
		MaxPages:       def.MaxPages,
		BadResultLimit: def.BadResultLimit,
		MinSizeMB:      def.MinSizeMB,
		BatchSize:      def.BatchSize,
		PageDelay:      def.PageDelay,
		Fetch:          FetchOptions{MaxRetries: def.MaxRetries, Timeout: def.Timeout},
		PageURL: func(query string, page int) string {
			r := strings.NewReplacer("{query}", url.PathEscape(query), "{page}", strconv.Itoa(page))
			return r.Replace(urlTemplate)
		},
		Parse: func(body []byte) (Page, error) {
			return ps.parse(body, def.ResultsPerPage)
		},
	}
	return NewPagedSource(cfg, deps), nil
}

func submatches(re *regexp.Regexp, body []byte) []string {
	if re == nil {
		return nil
	}
	var out []string
	for _, m := range re.FindAllSubmatch(body, -1) {
		if len(m) > 1 {
			out = append(out, strings.TrimSpace(string(m[1])))
		}
	}
	return out
}

// parse extracts parallel lists of titles, hashes and sizes. Lists of different
// lengths mean the page layout changed and nothing on it can be trusted.
func (ps patternSet) parse(body []byte, perPage int) (Page, error) {
	titles := submatches(ps.title, body)
	hashes := submatches(ps.hash, body)
	sizes := submatches(ps.size, body)
	links := submatches(ps.link, body)

	if ps.hash != nil && len(hashes) != len(titles) {
		return Page{}, fmt.Errorf("%w: %d titles, %d hashes", ErrParseMismatch, len(titles), len(hashes))
	}
	if ps.link != nil && len(links) != len(titles) {
		return Page{}, fmt.Errorf("%w: %d titles, %d links", ErrParseMismatch, len(titles), len(links))
	}
	if ps.size != nil && len(sizes) != len(titles) {
		return Page{}, fmt.Errorf("%w: %d titles, %d sizes", ErrParseMismatch, len(titles), len(sizes))
	}

	page := Page{Candidates: make([]Candidate, 0, len(titles))}
	for i, title := range titles {
		c := Candidate{Title: title}
		if hashes != nil {
			c.Hash = hashes[i]
		}
		if links != nil && c.Hash == "" {
			if strings.HasPrefix(links[i], "magnet:") {
				c.Hash = torrentManager.HashFromMagnet(links[i])
			} else {
				c.Link = links[i]
			}
		}
		if sizes != nil {
			c.SizeMB, _ = utils.ParseSizeMB(sizes[i])
		}
		page.Candidates = append(page.Candidates, c)
	}

	if perPage > 0 {
		page.HasMore = len(titles) >= perPage
	} else {
		page.HasMore = len(titles) > 0
	}
	return page, nil
}
