package metadata

import (
	"context"
	"fmt"

	"github.com/109isaque10/scraped/types"
)

type TMDBMovie struct {
	ID               int         `json:"id"`
	Title            string      `json:"title"`
	OriginalTitle    string      `json:"original_title"`
	OriginalLanguage string      `json:"original_language"`
	ReleaseDate      string      `json:"release_date"`
	Genres           []TMDBGenre `json:"genres"`
}

func (p *TMDBProvider) movie(ctx context.Context, id int) (*types.TitleInfo, error) {
	var m TMDBMovie
	if err := p.get(ctx, fmt.Sprintf("/movie/%d", id), nil, &m); err != nil {
		return nil, err
	}
	if m.ID == 0 || m.Title == "" {
		return nil, fmt.Errorf("%w: movie %d", ErrNotFound, id)
	}

	info := &types.TitleInfo{
		MediaType:     types.MediaMovie,
		Title:         m.Title,
		OriginalTitle: m.OriginalTitle,
		ReleaseYear:   yearOf(m.ReleaseDate),
	}
	if isAnime(m.Genres, m.OriginalLanguage) {
		info.MediaType = types.MediaAnime
	}
	return info, nil
}
