package metadata

import (
	"context"
	"errors"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/109isaque10/scraped/types"
)

// ErrNotFound is returned when no metadata exists for an id
var ErrNotFound = errors.New("metadata not found")

// Lookup resolves a media id to its titles, years and seasons
type Lookup interface {
	Lookup(ctx context.Context, mediaID string) (*types.TitleInfo, error)
}

// Static is a map backed Lookup
type Static map[string]types.TitleInfo

func (s Static) Lookup(_ context.Context, mediaID string) (*types.TitleInfo, error) {
	info, ok := s[mediaID]
	if !ok {
		return nil, ErrNotFound
	}
	if info.ID == "" {
		info.ID = mediaID
	}
	return &info, nil
}

var slugYearSuffix = regexp.MustCompile(`[_-](19|20)\d{2}$`)

// TitleFromSlug turns a review site url such as
// https://www.rottentomatoes.com/m/the_lord_of_the_rings_2001 into "the lord of the rings"
func TitleFromSlug(raw string) string {
	if raw == "" {
		return ""
	}

	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	slug := path.Base(strings.TrimRight(p, "/"))
	if slug == "." || slug == "/" {
		return ""
	}

	slug = slugYearSuffix.ReplaceAllString(slug, "")
	slug = strings.NewReplacer("_", " ", "-", " ").Replace(slug)
	return strings.Join(strings.Fields(slug), " ")
}

// Sources sends an id to the lookup registered for its prefix, kitsu:1376 goes to
// "kitsu". Ids with no registered prefix go to the fallback.
type Sources struct {
	byPrefix map[string]Lookup
	fallback Lookup
}

func NewSources(fallback Lookup) *Sources {
	return &Sources{byPrefix: make(map[string]Lookup), fallback: fallback}
}

// Register routes ids starting with prefix: to l
func (s *Sources) Register(prefix string, l Lookup) *Sources {
	s.byPrefix[prefix] = l
	return s
}

func (s *Sources) Lookup(ctx context.Context, mediaID string) (*types.TitleInfo, error) {
	if prefix, _, ok := strings.Cut(mediaID, ":"); ok {
		if l, found := s.byPrefix[prefix]; found {
			return l.Lookup(ctx, mediaID)
		}
	}
	if s.fallback == nil {
		return nil, ErrNotFound
	}
	return s.fallback.Lookup(ctx, mediaID)
}
