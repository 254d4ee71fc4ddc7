package torrentManager

import (
	"fmt"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

// Magnet is the subset of a magnet link the pipeline uses
type Magnet struct {
	InfoHash    string
	DisplayName string
}

// ParseMagnet extracts the lowercase hex infohash of a magnet uri
func ParseMagnet(uri string) (*Magnet, error) {
	if !strings.HasPrefix(strings.ToLower(uri), "magnet:") {
		return nil, fmt.Errorf("not a magnet uri")
	}

	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return nil, fmt.Errorf("parse magnet: %w", err)
	}

	return &Magnet{
		InfoHash:    strings.ToLower(m.InfoHash.HexString()),
		DisplayName: m.DisplayName,
	}, nil
}

// HashFromMagnet returns the infohash of a magnet uri or "" when it has none
func HashFromMagnet(uri string) string {
	m, err := ParseMagnet(uri)
	if err != nil {
		return ""
	}
	return m.InfoHash
}
