package matching

import (
	"regexp"
	"strconv"
)

var yearToken = regexp.MustCompile(`^(19|20)\d\d$`)

// Matches reports whether candidate plausibly names targetTitle released in one of years.
//
// Target tokens are compared as whole words: titles of up to three significant words
// need all of them, longer titles tolerate one missing word. When the candidate
// carries year tokens that are not part of the title, one of them must be within a
// year of a target year. A candidate with no year at all is accepted.
func Matches(targetTitle string, years []string, candidate string) bool {
	target := significantTokens(targetTitle)
	if len(target) == 0 {
		return false
	}

	candTokens := Tokens(candidate)
	words := wordSet(candTokens)

	found := 0
	for _, t := range target {
		if words[t] {
			found++
		}
	}

	required := len(target)
	if required > 3 {
		required--
	}
	if found < required {
		return false
	}

	return yearsAgree(targetTitle, years, candTokens)
}

// wordSet holds every token plus each pair of adjacent tokens joined, so that
// "spiderman" in a title matches "spider man" in a release
func wordSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens)*2)
	for i, t := range tokens {
		set[t] = true
		if i+1 < len(tokens) {
			set[t+tokens[i+1]] = true
		}
	}
	return set
}

func yearsAgree(targetTitle string, years []string, candTokens []string) bool {
	targets := parseYears(years)
	if len(targets) == 0 {
		return true
	}

	inTitle := make(map[string]bool)
	for _, t := range Tokens(targetTitle) {
		inTitle[t] = true
	}

	seen := false
	for _, tok := range candTokens {
		if !yearToken.MatchString(tok) || inTitle[tok] {
			continue
		}
		seen = true
		y, _ := strconv.Atoi(tok)
		for _, target := range targets {
			if y >= target-1 && y <= target+1 {
				return true
			}
		}
	}
	return !seen
}

func parseYears(years []string) []int {
	out := make([]int, 0, len(years))
	for _, y := range years {
		if !yearToken.MatchString(y) {
			continue
		}
		n, _ := strconv.Atoi(y)
		out = append(out, n)
	}
	return out
}

// HasTerms reports whether every term appears as whole words in candidate
func HasTerms(candidate string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	norm := Normalize(candidate)
	for _, term := range terms {
		if !containsPhrase(norm, Normalize(term)) {
			return false
		}
	}
	return true
}
