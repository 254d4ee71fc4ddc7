package metadata

import (
	"context"
	"fmt"

	"github.com/109isaque10/scraped/types"
)

type TMDBShow struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	OriginalName string `json:"original_name"`
	FirstAirDate string `json:"first_air_date"`
}

type TMDBSeason struct {
	SeasonNumber int    `json:"season_number"`
	Name         string `json:"name"`
	AirDate      string `json:"air_date"`
}

type TMDBShowDetails struct {
	Status           string       `json:"status_message,omitempty"`
	ID               int          `json:"id,omitempty"`
	Name             string       `json:"name,omitempty"`
	OriginalName     string       `json:"original_name,omitempty"`
	OriginalLanguage string       `json:"original_language,omitempty"`
	FirstAirDate     string       `json:"first_air_date,omitempty"`
	NumberOfSeasons  int          `json:"number_of_seasons,omitempty"`
	Genres           []TMDBGenre  `json:"genres,omitempty"`
	Seasons          []TMDBSeason `json:"seasons,omitempty"`
}

func (p *TMDBProvider) show(ctx context.Context, id int) (*types.TitleInfo, error) {
	var d TMDBShowDetails
	if err := p.get(ctx, fmt.Sprintf("/tv/%d", id), nil, &d); err != nil {
		return nil, err
	}
	if d.ID == 0 {
		return nil, fmt.Errorf("%w: tv %d: %s", ErrNotFound, id, d.Status)
	}

	info := &types.TitleInfo{
		MediaType:     types.MediaTV,
		Title:         d.Name,
		OriginalTitle: d.OriginalName,
		ReleaseYear:   yearOf(d.FirstAirDate),
	}
	if isAnime(d.Genres, d.OriginalLanguage) {
		info.MediaType = types.MediaAnime
		return info, nil
	}

	// specials (season 0) are never searched
	for _, s := range d.Seasons {
		if s.SeasonNumber < 1 {
			continue
		}
		info.Seasons = append(info.Seasons, types.SeasonInfo{
			Number:  s.SeasonNumber,
			Name:    s.Name,
			AirYear: yearOf(s.AirDate),
		})
	}
	if len(info.Seasons) == 0 {
		for n := 1; n <= d.NumberOfSeasons; n++ {
			info.Seasons = append(info.Seasons, types.SeasonInfo{Number: n})
		}
	}
	return info, nil
}
