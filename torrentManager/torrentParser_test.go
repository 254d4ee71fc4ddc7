package torrentManager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IncSW/go-bencode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleFileTorrent(t *testing.T) []byte {
	t.Helper()
	torrent := map[string]interface{}{
		"announce": "http://tracker.example.com:80/announce",
		"info": map[string]interface{}{
			"name":         "test.file.mkv",
			"piece length": int64(262144),
			"pieces":       "12345678901234567890",
			"length":       int64(1024000),
		},
	}
	content, err := bencode.Marshal(torrent)
	require.NoError(t, err)
	return content
}

// TestParseTorrentSingleFile tests the infohash generation
func TestParseTorrentSingleFile(t *testing.T) {
	content := singleFileTorrent(t)

	meta, err := ParseTorrent(content)
	require.NoError(t, err)
	assert.Regexp(t, `^[a-f0-9]{40}$`, meta.InfoHash)
	assert.Equal(t, "test.file.mkv", meta.Name)
	assert.Equal(t, int64(1024000), meta.TotalSize)

	again, err := ParseTorrent(content)
	require.NoError(t, err)
	assert.Equal(t, meta.InfoHash, again.InfoHash)
}

func TestParseTorrentMultipleFiles(t *testing.T) {
	torrent := map[string]interface{}{
		"announce": "http://tracker.example.com:80/announce",
		"announce-list": []interface{}{
			[]interface{}{"http://tracker.example.com:80/announce"},
			[]interface{}{"udp://backup.example.com:1337"},
		},
		"info": map[string]interface{}{
			"name":         "test.folder",
			"piece length": int64(262144),
			"pieces":       "12345678901234567890",
			"files": []interface{}{
				map[string]interface{}{
					"length": int64(512000),
					"path":   []interface{}{"file1.mkv"},
				},
				map[string]interface{}{
					"length": int64(512000),
					"path":   []interface{}{"extras", "file2.mkv"},
				},
			},
		},
	}
	content, err := bencode.Marshal(torrent)
	require.NoError(t, err)

	meta, err := ParseTorrent(content)
	require.NoError(t, err)
	assert.Len(t, meta.InfoHash, 40)
	assert.Equal(t, "test.folder", meta.Name)
	assert.Equal(t, int64(1024000), meta.TotalSize)
}

func TestParseTorrentErrors(t *testing.T) {
	_, err := ParseTorrent([]byte{})
	assert.Error(t, err, "empty content")

	_, err = ParseTorrent([]byte("invalid bencode"))
	assert.Error(t, err, "invalid bencode")

	content, err := bencode.Marshal(map[string]interface{}{
		"announce": "http://tracker.example.com:80/announce",
	})
	require.NoError(t, err)
	_, err = ParseTorrent(content)
	assert.Error(t, err, "missing info dict")
}

func TestParseMagnet(t *testing.T) {
	m, err := ParseMagnet("magnet:?xt=urn:btih:0123456789ABCDEF0123456789ABCDEF01234567&dn=Some.Movie.2019&tr=udp%3A%2F%2Ftracker.example.com%3A80")
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", m.InfoHash)
	assert.Equal(t, "Some.Movie.2019", m.DisplayName)

	assert.Equal(t, "", HashFromMagnet("http://example.com/file.torrent"))
}

func TestResolverDownloadsAndFollowsMagnetRedirect(t *testing.T) {
	content := singleFileTorrent(t)
	want, err := ParseTorrent(content)
	require.NoError(t, err)

	downloads := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/file.torrent":
			downloads++
			_, _ = w.Write(content)
		case "/magnet":
			http.Redirect(w, r, "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=Redirected.Release", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewResolver(srv.Client(), 0)
	ctx := context.Background()

	got, err := r.Resolve(ctx, srv.URL+"/file.torrent")
	require.NoError(t, err)
	assert.Equal(t, want.InfoHash, got.InfoHash)
	assert.Equal(t, "test.file.mkv", got.Name)
	assert.InDelta(t, 1024000.0/(1024*1024), got.SizeMB, 0.0001)

	// second lookup is served from memory
	_, err = r.Resolve(ctx, srv.URL+"/file.torrent")
	require.NoError(t, err)
	assert.Equal(t, 1, downloads)

	got, err = r.Resolve(ctx, srv.URL+"/magnet")
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", got.InfoHash)
	assert.Equal(t, "Redirected.Release", got.Name)

	_, err = r.Resolve(ctx, srv.URL+"/missing")
	assert.Error(t, err)
}
