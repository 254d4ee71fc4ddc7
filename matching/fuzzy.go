package matching

import "github.com/lithammer/fuzzysearch/fuzzy"

// NearDuplicateTitle reports whether two title variants differ by at most maxEdits
// after normalization, in which case searching both is wasted work
func NearDuplicateTitle(a, b string, maxEdits int) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return true
	}
	return fuzzy.LevenshteinDistance(na, nb) <= maxEdits
}
