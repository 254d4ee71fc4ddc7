package types

import (
	"regexp"
	"strings"
)

// MediaType distinguishes how a media id is searched and keyed
type MediaType string

const (
	MediaMovie MediaType = "movie"
	MediaTV    MediaType = "tv"
	MediaAnime MediaType = "anime"
)

// ScrapeResult is a single verified torrent candidate as persisted in the cache
type ScrapeResult struct {
	Title    string  `json:"title"`
	FileSize float64 `json:"fileSize"` // megabytes
	Hash     string  `json:"hash"`
}

var hashPattern = regexp.MustCompile(`^[a-f0-9]{40}$`)

// IsValidHash reports whether h is a 40 char lowercase hex infohash
func IsValidHash(h string) bool {
	return hashPattern.MatchString(h)
}

// NormalizeHash lower-cases and trims a hash coming from a source
func NormalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// QueryVariant is one search string issued to the source adapters
type QueryVariant struct {
	Text          string
	MustHaveTerms []string
	// Title is the title variant the text was built from and is what results are matched against
	Title string
}

// SearchContext carries what adapters need to judge a candidate
type SearchContext struct {
	MediaType   MediaType
	MediaID     string
	TargetTitle string
	Years       []string
	Season      int
	SeasonName  string
	SeasonCode  string
}

// SeasonInfo describes one season of a show
type SeasonInfo struct {
	Number  int
	Name    string
	Code    string
	AirYear string
}

// TitleInfo is the output of a metadata lookup
type TitleInfo struct {
	MediaType            MediaType
	ID                   string
	Title                string
	OriginalTitle        string
	ReleaseYear          string
	Seasons              []SeasonInfo
	// AlternateTitleSource is a review site url whose slug names the title
	AlternateTitleSource string
}
