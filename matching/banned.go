package matching

// bannedTerms mark releases of a different work than the one searched for:
// bonus material, soundtracks, adult content and foreign dubs.
var bannedTerms = []string{
	"making of",
	"behind the scenes",
	"documentary",
	"featurette",
	"featurettes",
	"soundtrack",
	"ost",
	"trailer",
	"teaser",
	"sample",
	"bonus disc",
	"extras only",
	"xxx",
	"porn",
	"porno",
	"parody",
	"hentai",
	"hindi",
	"tamil",
	"telugu",
	"malayalam",
	"kannada",
}

// HasNoBannedTerms reports whether candidate is free of terms that point at another
// work. A term that is part of the target title itself is allowed.
func HasNoBannedTerms(targetTitle, candidate string) bool {
	return bannedTerm(targetTitle, candidate) == ""
}

func bannedTerm(targetTitle, candidate string) string {
	target := Normalize(targetTitle)
	cand := Normalize(candidate)
	for _, term := range bannedTerms {
		if containsPhrase(target, term) {
			continue
		}
		if containsPhrase(cand, term) {
			return term
		}
	}
	return ""
}
