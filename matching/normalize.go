package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letters NFKD does not decompose to ascii
var letterReplacer = strings.NewReplacer(
	"æ", "ae", "Æ", "AE",
	"œ", "oe", "Œ", "OE",
	"ø", "o", "Ø", "O",
	"ß", "ss",
	"ð", "d", "Ð", "D",
	"þ", "th", "Þ", "TH",
)

var apostropheReplacer = strings.NewReplacer("'", "", "’", "", "‘", "", "`", "")

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "and": true,
	"o": true, "os": true, "as": true, "e": true, "de": true, "da": true, "do": true,
}

// StripDiacritics removes combining marks and folds a few ligatures
func StripDiacritics(s string) string {
	s = letterReplacer.Replace(s)

	// transform.Chain is not safe for concurrent use, build one per call
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize lowercases, strips diacritics and apostrophes, turns & into "and" and
// collapses every run of punctuation and whitespace into a single space.
func Normalize(title string) string {
	title = strings.ToLower(StripDiacritics(title))
	title = apostropheReplacer.Replace(title)
	title = strings.ReplaceAll(title, "&", " and ")

	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens returns the normalized words of title
func Tokens(title string) []string {
	return strings.Fields(Normalize(title))
}

// significantTokens drops stop-words, unless that would leave nothing
func significantTokens(title string) []string {
	all := Tokens(title)
	kept := make([]string, 0, len(all))
	for _, t := range all {
		if !stopWords[t] {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return all
	}
	return kept
}

// containsPhrase reports whether the normalized phrase appears as whole words in the normalized text
func containsPhrase(normalizedText, normalizedPhrase string) bool {
	if normalizedPhrase == "" {
		return false
	}
	return strings.Contains(" "+normalizedText+" ", " "+normalizedPhrase+" ")
}
