package types

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyKind is the tag of a MediaKey
type KeyKind int

const (
	KindMovie KeyKind = iota
	KindTvSeason
	KindAnime
	KindRequested
	KindProcessing
)

// Prefix returns the serialized prefix of the kind, without the trailing colon
func (k KeyKind) Prefix() string {
	switch k {
	case KindMovie:
		return "movie"
	case KindTvSeason:
		return "tv"
	case KindAnime:
		return "anime"
	case KindRequested:
		return "requested"
	case KindProcessing:
		return "processing"
	}
	return "unknown"
}

func (k KeyKind) String() string { return k.Prefix() }

// IsMarker reports whether the kind is a state marker rather than a result set
func (k KeyKind) IsMarker() bool {
	return k == KindRequested || k == KindProcessing
}

// MediaKey identifies one result set or state marker in the cache
type MediaKey struct {
	Kind   KeyKind
	ID     string
	Season int    // only for KindTvSeason
	Source string // only for KindAnime
}

func MovieKey(id string) MediaKey { return MediaKey{Kind: KindMovie, ID: id} }

func TvSeasonKey(id string, season int) MediaKey {
	return MediaKey{Kind: KindTvSeason, ID: id, Season: season}
}

func AnimeKey(source, id string) MediaKey {
	return MediaKey{Kind: KindAnime, ID: id, Source: source}
}

func RequestedKey(id string) MediaKey  { return MediaKey{Kind: KindRequested, ID: id} }
func ProcessingKey(id string) MediaKey { return MediaKey{Kind: KindProcessing, ID: id} }

// String serializes the key: movie:{id}, tv:{id}:{season}, anime:{source}-{id},
// requested:{id}, processing:{id}
func (k MediaKey) String() string {
	switch k.Kind {
	case KindTvSeason:
		return fmt.Sprintf("tv:%s:%d", k.ID, k.Season)
	case KindAnime:
		return fmt.Sprintf("anime:%s-%s", k.Source, k.ID)
	default:
		return k.Kind.Prefix() + ":" + k.ID
	}
}

// ParseMediaKey is the inverse of MediaKey.String
func ParseMediaKey(s string) (MediaKey, error) {
	prefix, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return MediaKey{}, fmt.Errorf("invalid media key %q", s)
	}

	switch prefix {
	case "movie":
		return MovieKey(rest), nil
	case "requested":
		return RequestedKey(rest), nil
	case "processing":
		return ProcessingKey(rest), nil
	case "tv":
		idx := strings.LastIndex(rest, ":")
		if idx <= 0 {
			return MediaKey{}, fmt.Errorf("invalid tv key %q: missing season", s)
		}
		season, err := strconv.Atoi(rest[idx+1:])
		if err != nil {
			return MediaKey{}, fmt.Errorf("invalid tv key %q: %w", s, err)
		}
		if season < 1 {
			return MediaKey{}, fmt.Errorf("invalid tv key %q: season must be positive", s)
		}
		return TvSeasonKey(rest[:idx], season), nil
	case "anime":
		source, id, ok := strings.Cut(rest, "-")
		if !ok || source == "" || id == "" {
			return MediaKey{}, fmt.Errorf("invalid anime key %q", s)
		}
		return AnimeKey(source, id), nil
	}

	return MediaKey{}, fmt.Errorf("unknown media key prefix %q", prefix)
}
