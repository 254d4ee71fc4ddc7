package torrentManager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const maxTorrentBytes = 10 << 20

// Resolved is what a torrent link says about itself. Name is the torrent's own
// name, or the display name of a magnet.
type Resolved struct {
	InfoHash string
	Name     string
	SizeMB   float64
}

// Resolver turns .torrent download links into infohashes. Results are kept for
// the lifetime of the process since a link always maps to the same torrent.
type Resolver struct {
	client  *http.Client
	timeout time.Duration

	mu     sync.RWMutex
	hashes map[string]Resolved
}

// NewResolver wraps client so that a redirect to a magnet uri is returned to the
// caller instead of being followed.
func NewResolver(client *http.Client, timeout time.Duration) *Resolver {
	if client == nil {
		client = &http.Client{}
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if strings.EqualFold(req.URL.Scheme, "magnet") {
			return http.ErrUseLastResponse
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return nil
	}

	return &Resolver{
		client:  &c,
		timeout: timeout,
		hashes:  make(map[string]Resolved),
	}
}

// Resolve downloads link and returns its infohash. A magnet link is parsed directly.
func (r *Resolver) Resolve(ctx context.Context, link string) (Resolved, error) {
	if strings.HasPrefix(strings.ToLower(link), "magnet:") {
		m, err := ParseMagnet(link)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{InfoHash: m.InfoHash, Name: m.DisplayName}, nil
	}

	r.mu.RLock()
	cached, ok := r.hashes[link]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	resolved, err := r.download(ctx, link)
	if err != nil {
		return Resolved{}, err
	}

	r.mu.Lock()
	r.hashes[link] = resolved
	r.mu.Unlock()
	return resolved, nil
}

func (r *Resolver) download(ctx context.Context, link string) (Resolved, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return Resolved{}, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Resolved{}, err
	}
	defer resp.Body.Close()

	log.Trace().Str("link", link).Dur("took", time.Since(start)).Int("status", resp.StatusCode).Msg("torrent download")

	// magnet redirect
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location := resp.Header.Get("Location")
		if strings.HasPrefix(strings.ToLower(location), "magnet:") {
			m, err := ParseMagnet(location)
			if err != nil {
				return Resolved{}, err
			}
			return Resolved{InfoHash: m.InfoHash, Name: m.DisplayName}, nil
		}
		return Resolved{}, fmt.Errorf("unexpected redirect to %q", location)
	}

	if resp.StatusCode != http.StatusOK {
		return Resolved{}, fmt.Errorf("failed to download torrent: status %d", resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxTorrentBytes))
	if err != nil {
		return Resolved{}, err
	}

	meta, err := ParseTorrent(content)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{InfoHash: meta.InfoHash, Name: meta.Name, SizeMB: float64(meta.TotalSize) / (1024 * 1024)}, nil
}
