package orchestrator

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"

	"github.com/109isaque10/scraped/matching"
	"github.com/109isaque10/scraped/metadata"
	"github.com/109isaque10/scraped/types"
)

// target is one cache key of a media item and everything needed to fill it
type target struct {
	key     types.MediaKey
	sc      types.SearchContext
	titles  []string
	queries []types.QueryVariant
}

var titlePunctuation = strings.NewReplacer(
	":", " ", ";", " ", ",", " ", "!", " ", "?", " ", "(", " ", ")", " ",
	"[", " ", "]", " ", "\"", " ", "/", " ", "–", " ", "—", " ", " - ", " ",
	"'", "", "’", "",
)

// cleanTitle is the title as release names spell it
func cleanTitle(title string) string {
	t := matching.StripDiacritics(title)
	t = titlePunctuation.Replace(t)
	return strings.Join(strings.Fields(t), " ")
}

func hasNonLatinLetters(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return true
		}
	}
	return false
}

func maxEditsFor(a, b string) int {
	if min(len(a), len(b)) < 10 {
		return 0
	}
	return 2
}

// TitleVariants returns the distinct titles a media item is searched under: the
// cleaned title, the original title (plus its transliteration when it is not in
// Latin script) and the title named by the alternate title url.
func TitleVariants(info *types.TitleInfo) []string {
	var candidates []string
	candidates = append(candidates, cleanTitle(info.Title))

	if orig := strings.TrimSpace(info.OriginalTitle); orig != "" {
		if hasNonLatinLetters(orig) {
			candidates = append(candidates, cleanTitle(unidecode.Unidecode(orig)), orig)
		} else {
			candidates = append(candidates, cleanTitle(orig))
		}
	}
	candidates = append(candidates, metadata.TitleFromSlug(info.AlternateTitleSource))

	var variants []string
	for _, c := range candidates {
		if c == "" {
			continue
		}
		dup := false
		for _, v := range variants {
			if matching.NearDuplicateTitle(c, v, maxEditsFor(c, v)) {
				dup = true
				break
			}
		}
		if !dup {
			variants = append(variants, c)
		}
	}
	return variants
}

func uniqueNonEmpty(values ...string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func join(parts ...string) string {
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func movieQueries(title, year string) []types.QueryVariant {
	q := []types.QueryVariant{{Text: join(title, year), Title: title}}
	for _, res := range []string{"720p", "1080p", "2160p"} {
		q = append(q, types.QueryVariant{Text: join(title, year, res), Title: title, MustHaveTerms: []string{res}})
	}
	q = append(q,
		types.QueryVariant{Text: join(title, "x265"), Title: title},
		types.QueryVariant{Text: join(title, year, "hevc"), Title: title},
	)
	return q
}

func seasonQueries(title string, s types.SeasonInfo) []types.QueryVariant {
	q := []types.QueryVariant{
		{Text: fmt.Sprintf("%s S%02d", title, s.Number), Title: title},
		{Text: fmt.Sprintf("%s season %d", title, s.Number), Title: title},
	}
	name := s.Name
	if matching.IsGenericSeasonName(name) {
		name = ""
	}
	if name != "" || s.Code != "" {
		q = append(q, types.QueryVariant{Text: join(title, name, s.Code), Title: title})
	}
	return q
}

func animeQueries(title, year string) []types.QueryVariant {
	q := []types.QueryVariant{{Text: title, Title: title}}
	if year != "" {
		q = append(q, types.QueryVariant{Text: join(title, year), Title: title})
	}
	return q
}

// animeKeyFor keys anime by the database the id comes from: kitsu:1376 becomes
// anime:kitsu-1376, IMDb ids become anime:imdb-tt...
func animeKeyFor(mediaID string) types.MediaKey {
	if source, id, ok := strings.Cut(mediaID, ":"); ok && source != "" && id != "" {
		return types.AnimeKey(source, id)
	}
	return types.AnimeKey("imdb", mediaID)
}

// buildTargets lists the cache keys of a media item with their query variants
func buildTargets(info *types.TitleInfo) ([]target, error) {
	titles := TitleVariants(info)
	if len(titles) == 0 {
		return nil, fmt.Errorf("no title for %s", info.ID)
	}

	switch info.MediaType {
	case types.MediaMovie:
		t := target{
			key:    types.MovieKey(info.ID),
			sc:     types.SearchContext{MediaType: types.MediaMovie, MediaID: info.ID, TargetTitle: titles[0], Years: uniqueNonEmpty(info.ReleaseYear)},
			titles: titles,
		}
		for _, title := range titles {
			t.queries = append(t.queries, movieQueries(title, info.ReleaseYear)...)
		}
		return []target{t}, nil

	case types.MediaTV:
		var targets []target
		for _, s := range info.Seasons {
			if s.Number < 1 {
				continue
			}
			t := target{
				key: types.TvSeasonKey(info.ID, s.Number),
				sc: types.SearchContext{
					MediaType:   types.MediaTV,
					MediaID:     info.ID,
					TargetTitle: titles[0],
					Years:       uniqueNonEmpty(info.ReleaseYear, s.AirYear),
					Season:      s.Number,
					SeasonName:  s.Name,
					SeasonCode:  s.Code,
				},
				titles: titles,
			}
			for _, title := range titles {
				t.queries = append(t.queries, seasonQueries(title, s)...)
			}
			targets = append(targets, t)
		}
		if len(targets) == 0 {
			return nil, fmt.Errorf("no seasons for %s", info.ID)
		}
		return targets, nil

	case types.MediaAnime:
		t := target{
			key:    animeKeyFor(info.ID),
			sc:     types.SearchContext{MediaType: types.MediaAnime, MediaID: info.ID, TargetTitle: titles[0], Years: uniqueNonEmpty(info.ReleaseYear)},
			titles: titles,
		}
		for _, title := range titles {
			t.queries = append(t.queries, animeQueries(title, info.ReleaseYear)...)
		}
		return []target{t}, nil
	}

	return nil, fmt.Errorf("unsupported media type %q", info.MediaType)
}

// primaryKeys are the keys whose existence means an id was scraped before. They
// derive from the id alone so the check needs no metadata.
func primaryKeys(mediaID string) []types.MediaKey {
	return []types.MediaKey{
		types.MovieKey(mediaID),
		types.TvSeasonKey(mediaID, 1),
		animeKeyFor(mediaID),
	}
}
