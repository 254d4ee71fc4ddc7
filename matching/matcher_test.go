package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Amélie", "amelie"},
		{"Spider-Man: No Way Home", "spider man no way home"},
		{"Miss China's Ring", "miss chinas ring"},
		{"Fast & Furious", "fast and furious"},
		{"Tschick.2016.GERMAN..1080p", "tschick 2016 german 1080p"},
		{"Ærø Straße", "aero strasse"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		years     []string
		candidate string
		want      bool
	}{
		{
			name:      "ova release with site tag",
			target:    "spirit of wonder miss china's ring",
			years:     []string{"1992"},
			candidate: "[RapidZona.com] Duh Chudes OVA 1: Spirit of Wonder: Miss China's Ring.1992.RUS.JAP.DVDRip.mkv",
			want:      true,
		},
		{
			name:      "no year in candidate",
			target:    "final fantasy vii advent children",
			years:     []string{"2005"},
			candidate: "(shinsuV2) Final Fantasy VII Advent Children BRrip 1080p (x265+TrueHD)(spa-ger-jap).mkv",
			want:      true,
		},
		{
			name:      "year off by one",
			target:    "The Matrix",
			years:     []string{"1999"},
			candidate: "The.Matrix.2000.1080p.BluRay.x264",
			want:      true,
		},
		{
			name:      "unrelated year",
			target:    "The Matrix",
			years:     []string{"1999"},
			candidate: "The.Matrix.Resurrections.2021.1080p.WEB-DL",
			want:      false,
		},
		{
			name:      "year inside title is ignored",
			target:    "Blade Runner 2049",
			years:     []string{"2017"},
			candidate: "Blade.Runner.2049.2017.2160p.UHD.BluRay",
			want:      true,
		},
		{
			name:      "resolution is not a year",
			target:    "Heat",
			years:     []string{"1995"},
			candidate: "Heat 2160p HDR",
			want:      true,
		},
		{
			name:      "short title needs every word",
			target:    "The Dark Knight",
			years:     []string{"2008"},
			candidate: "Dark.Night.2008.720p",
			want:      false,
		},
		{
			name:      "long title tolerates one missing word",
			target:    "Harry Potter and the Philosophers Stone",
			years:     []string{"2001"},
			candidate: "Harry Potter Philosopher Stone 2001 1080p",
			want:      true,
		},
		{
			name:      "long title missing two words",
			target:    "Harry Potter and the Philosophers Stone",
			years:     []string{"2001"},
			candidate: "Harry Potter 2001 1080p",
			want:      false,
		},
		{
			name:      "whole words only",
			target:    "Heat",
			years:     nil,
			candidate: "Heatwave 2022 1080p",
			want:      false,
		},
		{
			name:      "joined words",
			target:    "Spiderman",
			years:     []string{"2002"},
			candidate: "Spider Man 2002 1080p",
			want:      true,
		},
		{
			name:      "diacritics",
			target:    "Amélie",
			years:     []string{"2001"},
			candidate: "Amelie.2001.1080p.BluRay",
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.target, tt.years, tt.candidate))
			// same answer on every call
			assert.Equal(t, tt.want, Matches(tt.target, tt.years, tt.candidate))
		})
	}
}

func TestHasNoBannedTerms(t *testing.T) {
	assert.True(t, HasNoBannedTerms("final fantasy vii advent children",
		"(shinsuV2) Final Fantasy VII Advent Children BRrip 1080p (x265+TrueHD)(spa-ger-jap).mkv"))
	assert.False(t, HasNoBannedTerms("Inception", "Inception 2010 Making Of 720p"))
	assert.False(t, HasNoBannedTerms("Interstellar", "Interstellar.2014.OST.FLAC"))
	assert.False(t, HasNoBannedTerms("Jawan", "Jawan 2023 Hindi 1080p"))
	assert.True(t, HasNoBannedTerms("The Making of a Murderer", "The Making of a Murderer 2015 1080p"),
		"term inside the title is allowed")
	assert.True(t, HasNoBannedTerms("Heat", "Heat 1995 Sampler Edition"), "whole words only")
}

func TestHasTerms(t *testing.T) {
	assert.True(t, HasTerms("Movie.2019.1080p.x265", []string{"1080p"}))
	assert.False(t, HasTerms("Movie.2019.720p.x265", []string{"1080p"}))
	assert.True(t, HasTerms("anything", nil))
}

func TestNearDuplicateTitle(t *testing.T) {
	assert.True(t, NearDuplicateTitle("Amélie", "Amelie", 2))
	assert.True(t, NearDuplicateTitle("Spider-Man", "Spiderman", 2))
	assert.False(t, NearDuplicateTitle("Amélie", "Le Fabuleux Destin d'Amélie Poulain", 2))
}
