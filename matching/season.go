package matching

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	seasonRangePatterns = []*regexp.Regexp{
		// S01-S03, S1-3
		regexp.MustCompile(`\bs(\d{1,2})\s?-\s?s?(\d{1,2})\b`),
		// Season 1-3, Temporada 1 a 3, Saison 1 ~ 3
		regexp.MustCompile(`\b(?:seasons?|temporadas?|saisons?)[\s._]?(\d{1,2})\s?(?:-|~|to|a)\s?(\d{1,2})\b`),
	}

	seasonPatterns = []*regexp.Regexp{
		// S01, S01E02
		regexp.MustCompile(`\bs(\d{1,2})(?:e\d{1,4})?\b`),
		// Season 2, Temporada 02
		regexp.MustCompile(`\b(?:season|temporada|saison)[\s._]?(\d{1,2})\b`),
		// 2x05
		regexp.MustCompile(`\b(\d{1,2})x\d{2,3}\b`),
		// 2nd season
		regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)[\s._]season\b`),
	}

	completeSeriesKeywords = []string{
		"complete series",
		"full series",
		"serie completa",
		"show pack",
		"pack completo",
		"colecao completa",
		"todas as temporadas",
		"todas temporadas",
		"all seasons",
		"integrale",
	}

	genericSeasonName = regexp.MustCompile(`^(season|temporada|saison) \d+$|^specials?$`)
)

type seasonMarker struct {
	from, to int
}

func (m seasonMarker) covers(season int) bool {
	return season >= m.from && season <= m.to
}

// seasonMarkers extracts every season reference of a release title
func seasonMarkers(candidate string) []seasonMarker {
	// \b does not fire between _ and a letter, and hyphens must survive for ranges
	s := strings.ReplaceAll(strings.ToLower(StripDiacritics(candidate)), "_", " ")

	var markers []seasonMarker
	for _, re := range seasonRangePatterns {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			from, _ := strconv.Atoi(m[1])
			to, _ := strconv.Atoi(m[2])
			if from > to {
				from, to = to, from
			}
			markers = append(markers, seasonMarker{from: from, to: to})
		}
		s = re.ReplaceAllString(s, " ")
	}

	for _, re := range seasonPatterns {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			n, _ := strconv.Atoi(m[1])
			markers = append(markers, seasonMarker{from: n, to: n})
		}
	}
	return markers
}

func isCompleteSeries(candidate string) bool {
	norm := Normalize(candidate)
	for _, kw := range completeSeriesKeywords {
		if containsPhrase(norm, kw) {
			return true
		}
	}
	return false
}

// namesSeason reports whether candidate carries the season's own name or code
func namesSeason(candidate, seasonName, seasonCode string) bool {
	norm := Normalize(candidate)

	if name := Normalize(seasonName); name != "" && !genericSeasonName.MatchString(name) {
		if containsPhrase(norm, name) {
			return true
		}
	}

	code := Normalize(seasonCode)
	if len(code) >= 2 && !isNumeric(code) && containsPhrase(norm, code) {
		return true
	}
	return false
}

// IsGenericSeasonName reports whether name is a placeholder such as "Season 2"
// that says nothing beyond the season number
func IsGenericSeasonName(name string) bool {
	n := Normalize(name)
	return n == "" || genericSeasonName.MatchString(n)
}

func isNumeric(s string) bool {
	_, err := strconv.Atoi(strings.ReplaceAll(s, " ", ""))
	return err == nil
}

// MatchesTvConditions is Matches plus season agreement. Every season marker found in
// the candidate is checked: at least one must cover season, otherwise the release is
// for other seasons. Without markers the candidate needs the season name or code from
// metadata, or a complete series keyword.
func MatchesTvConditions(targetTitle string, years []string, season int, seasonName, seasonCode, candidate string) bool {
	if season < 1 {
		return false
	}
	if !Matches(targetTitle, years, candidate) {
		return false
	}

	markers := seasonMarkers(candidate)
	if len(markers) > 0 {
		for _, m := range markers {
			if m.covers(season) {
				return true
			}
		}
		return false
	}

	return namesSeason(candidate, seasonName, seasonCode) || isCompleteSeries(candidate)
}
