package torrentManager

import (
	"crypto/sha1"
	"fmt"

	"github.com/IncSW/go-bencode"
)

// Metadata is what the pipeline needs from a .torrent file
type Metadata struct {
	InfoHash  string
	Name      string
	TotalSize int64
}

// ParseTorrent decodes a .torrent and computes its infohash
func ParseTorrent(content []byte) (*Metadata, error) {
	torrentMap, err := decodeTorrent(content)
	if err != nil {
		return nil, err
	}

	infoHash, err := infoHashOf(torrentMap)
	if err != nil {
		return nil, err
	}

	info, _ := torrentMap["info"].(map[string]interface{})
	name, _ := asString(info["name"])

	return &Metadata{
		InfoHash:  infoHash,
		Name:      name,
		TotalSize: totalSize(info),
	}, nil
}

func decodeTorrent(content []byte) (map[string]interface{}, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("empty content")
	}

	torrentData, err := bencode.Unmarshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal torrent: %w", err)
	}

	torrentMap, ok := torrentData.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid torrent structure")
	}
	return torrentMap, nil
}

func infoHashOf(torrentMap map[string]interface{}) (string, error) {
	infoDict, ok := torrentMap["info"]
	if !ok {
		return "", fmt.Errorf("info dictionary not found")
	}

	infoBencoded, err := bencode.Marshal(infoDict)
	if err != nil {
		return "", fmt.Errorf("failed to marshal info dict: %w", err)
	}

	hash := sha1.Sum(infoBencoded)
	return fmt.Sprintf("%x", hash), nil
}

// totalSize sums the file lengths of a single or multi file info dict
func totalSize(info map[string]interface{}) int64 {
	if info == nil {
		return 0
	}

	filesList, ok := info["files"].([]interface{})
	if !ok {
		// single file mode
		length, _ := asInt(info["length"])
		return length
	}

	var total int64
	for _, entry := range filesList {
		if fileMap, ok := entry.(map[string]interface{}); ok {
			length, _ := asInt(fileMap["length"])
			total += length
		}
	}
	return total
}

// the decoder hands byte strings back as []byte
func asString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
