package matching

import (
	"github.com/109isaque10/scraped/types"
	"github.com/109isaque10/scraped/utils"
)

// Reason explains why a candidate was rejected. The zero value means accepted.
type Reason string

const (
	Accepted          Reason = ""
	RejectInvalidHash Reason = "invalid-hash"
	RejectTooSmall    Reason = "too-small"
	RejectTooLarge    Reason = "too-large"
	RejectBanned      Reason = "banned-term"
	RejectTitle       Reason = "title-mismatch"
	RejectSeason      Reason = "season-mismatch"
	RejectMissingTerm Reason = "missing-term"
)

// SizeRelated reports whether the rejection came from the size bounds
func (r Reason) SizeRelated() bool {
	return r == RejectTooSmall || r == RejectTooLarge
}

// Bounds are the plausible file sizes in megabytes
type Bounds struct {
	MovieMaxMB float64
	// MovieFloorMB is keyed by the resolution label of utils.ExtractQuality
	MovieFloorMB map[string]float64
	TVMinMB      float64
	AnimeMinMB   float64
}

// DefaultBounds reject sub-floor releases for the resolution they claim and movies above 150GB
var DefaultBounds = Bounds{
	MovieMaxMB: 150 * 1024,
	MovieFloorMB: map[string]float64{
		utils.Quality4K:      1000,
		utils.Quality1080p:   500,
		utils.Quality720p:    300,
		utils.Quality480p:    100,
		utils.QualityUnknown: 100,
	},
	TVMinMB:    50,
	AnimeMinMB: 50,
}

// CheckSize applies the bounds for mediaType to a candidate
func (b Bounds) CheckSize(mediaType types.MediaType, title string, sizeMB float64) Reason {
	switch mediaType {
	case types.MediaMovie:
		if b.MovieMaxMB > 0 && sizeMB > b.MovieMaxMB {
			return RejectTooLarge
		}
		if sizeMB < b.MovieFloorMB[utils.ExtractQuality(title)] {
			return RejectTooSmall
		}
	case types.MediaTV:
		if sizeMB < b.TVMinMB {
			return RejectTooSmall
		}
	case types.MediaAnime:
		if sizeMB < b.AnimeMinMB {
			return RejectTooSmall
		}
	}
	return Accepted
}

// Evaluate runs every check on one candidate against the title variants of a media
// item. It is the single decision used when scraping and when cleaning the cache, so
// both always agree.
func (b Bounds) Evaluate(sc types.SearchContext, titles []string, r types.ScrapeResult) Reason {
	if !types.IsValidHash(r.Hash) {
		return RejectInvalidHash
	}
	if reason := b.CheckSize(sc.MediaType, r.Title, r.FileSize); reason != Accepted {
		return reason
	}

	return EvaluateTitle(sc, titles, r.Title)
}

// EvaluateTitle runs the title, season and banned term checks only. titles are the
// title variants of the media item; sc.TargetTitle is used when there are none.
func EvaluateTitle(sc types.SearchContext, titles []string, candidate string) Reason {
	if len(titles) == 0 {
		titles = []string{sc.TargetTitle}
	}

	titleMatched := false
	banned := false
	for _, title := range titles {
		if title == "" || !Matches(title, sc.Years, candidate) {
			continue
		}
		titleMatched = true

		if sc.MediaType == types.MediaTV &&
			!MatchesTvConditions(title, sc.Years, sc.Season, sc.SeasonName, sc.SeasonCode, candidate) {
			continue
		}
		if !HasNoBannedTerms(title, candidate) {
			banned = true
			continue
		}
		return Accepted
	}

	switch {
	case banned:
		return RejectBanned
	case titleMatched:
		return RejectSeason
	}
	return RejectTitle
}

// Evaluate applies DefaultBounds
func Evaluate(sc types.SearchContext, titles []string, r types.ScrapeResult) Reason {
	return DefaultBounds.Evaluate(sc, titles, r)
}
