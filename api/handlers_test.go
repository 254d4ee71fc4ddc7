package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/109isaque10/scraped/caching"
	"github.com/109isaque10/scraped/orchestrator"
	"github.com/109isaque10/scraped/types"
)

type fakeScraper struct {
	status    orchestrator.ScrapeStatus
	cleanErr  error
	scrapes   []orchestrator.ScrapeOptions
	cleans    []orchestrator.CleanOptions
	requested []string
}

func (f *fakeScraper) TriggerScrape(_ context.Context, _ string, opts orchestrator.ScrapeOptions) orchestrator.ScrapeStatus {
	f.scrapes = append(f.scrapes, opts)
	return f.status
}

func (f *fakeScraper) TriggerClean(_ context.Context, _ string, opts orchestrator.CleanOptions) error {
	f.cleans = append(f.cleans, opts)
	return f.cleanErr
}

func (f *fakeScraper) Request(_ context.Context, id string) error {
	f.requested = append(f.requested, id)
	return nil
}

func newTestServer(t *testing.T, s Scraper, registry *prometheus.Registry) (*httptest.Server, caching.Store) {
	t.Helper()
	store, err := caching.NewMemoryStore("", 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(NewRouter(NewHandler(s, store, registry)))
	t.Cleanup(srv.Close)
	return srv, store
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeScraper{}, nil)

	resp := do(t, http.MethodGet, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestScrape(t *testing.T) {
	s := &fakeScraper{status: orchestrator.ScrapeStatus{Status: "scraped: 4 items", Items: 4}}
	srv, _ := newTestServer(t, s, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/scrape/tt0133093?override=true")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status orchestrator.ScrapeStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "scraped: 4 items", status.Status)
	require.Len(t, s.scrapes, 1)
	assert.True(t, s.scrapes[0].Override)

	s.status = orchestrator.ScrapeStatus{Status: orchestrator.StatusError, ErrorMessage: "metadata lookup: not found"}
	resp = do(t, http.MethodPost, srv.URL+"/api/scrape/tt0000000")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.False(t, s.scrapes[1].Override)
}

func TestClean(t *testing.T) {
	s := &fakeScraper{}
	srv, _ := newTestServer(t, s, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/clean/tt0133093?bump=1")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Len(t, s.cleans, 1)
	assert.True(t, s.cleans[0].BumpTimestamp)

	s.cleanErr = errors.New("lookup failed")
	resp = do(t, http.MethodPost, srv.URL+"/api/clean/tt0133093")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestRequest(t *testing.T) {
	s := &fakeScraper{}
	srv, _ := newTestServer(t, s, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/request/kitsu:1376")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"kitsu:1376"}, s.requested)
}

func TestResults(t *testing.T) {
	srv, store := newTestServer(t, &fakeScraper{}, nil)

	var rs []types.ScrapeResult
	for i := 1; i <= 60; i++ {
		rs = append(rs, types.ScrapeResult{Title: fmt.Sprintf("Breaking.Bad.S02.R%d", i), FileSize: float64(i * 100), Hash: fmt.Sprintf("%040x", i)})
	}
	key := types.TvSeasonKey("tt0903747", 2)
	require.NoError(t, store.UpsertMerge(context.Background(), key, rs, caching.UpsertOptions{UpdateTimestamp: true}))
	require.NoError(t, store.UpsertMerge(context.Background(), types.MovieKey("tt0000001"), nil, caching.UpsertOptions{}))

	get := func(t *testing.T, path string) (int, ResultsResponse) {
		resp := do(t, http.MethodGet, srv.URL+path)
		var body ResultsResponse
		if resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		}
		return resp.StatusCode, body
	}

	code, body := get(t, "/api/results/tv:tt0903747:2")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "tv:tt0903747:2", body.Key)
	require.Len(t, body.Results, caching.PageSize)
	assert.Equal(t, 6000.0, body.Results[0].FileSize, "largest first")

	code, body = get(t, "/api/results/tv:tt0903747:2?page=1")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body.Results, 10)

	code, body = get(t, "/api/results/tv:tt0903747:2?maxSize=1000")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body.Results, 10)
	assert.Equal(t, 1000.0, body.Results[0].FileSize)

	code, body = get(t, "/api/results/movie:tt0000001")
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, body.Results)
	assert.Empty(t, body.Results, "a validated empty record is not a 404")

	for path, want := range map[string]int{
		"/api/results/movie:tt9999999":              http.StatusNotFound,
		"/api/results/show:tt1":                     http.StatusBadRequest,
		"/api/results/processing:tt0903747":         http.StatusBadRequest,
		"/api/results/tv:tt0903747:2?page=-1":       http.StatusBadRequest,
		"/api/results/tv:tt0903747:2?maxSize=large": http.StatusBadRequest,
	} {
		code, _ := get(t, path)
		assert.Equal(t, want, code, path)
	}
}

func TestResultsFrequencyOrder(t *testing.T) {
	srv, store := newTestServer(t, &fakeScraper{}, nil)

	key := types.MovieKey("tt7286456")
	rs := []types.ScrapeResult{
		{Title: "Lonely.Release.2019.2160p.UHD.BluRay.x265-GRP", FileSize: 60000, Hash: fmt.Sprintf("%040x", 1)},
		{Title: "Popular.Movie.2019.1080p.BluRay.x264-AAA", FileSize: 12000, Hash: fmt.Sprintf("%040x", 2)},
		{Title: "Popular.Movie.2019.2160p.WEB-DL.x265-BBB", FileSize: 30000, Hash: fmt.Sprintf("%040x", 3)},
		{Title: "Popular.Movie.2019.720p.WEBRip.x264-CCC", FileSize: 25000, Hash: fmt.Sprintf("%040x", 4)},
	}
	require.NoError(t, store.UpsertMerge(context.Background(), key, rs, caching.UpsertOptions{UpdateTimestamp: true}))

	sizes := func(path string) (string, []float64) {
		resp := do(t, http.MethodGet, srv.URL+path)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		var body ResultsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		var out []float64
		for _, r := range body.Results {
			out = append(out, r.FileSize)
		}
		return body.Order, out
	}

	order, got := sizes("/api/results/movie:tt7286456")
	assert.Equal(t, OrderSize, order)
	assert.Equal(t, []float64{60000, 30000, 25000, 12000}, got)

	// the three Popular.Movie releases add up to more than the single large one
	order, got = sizes("/api/results/movie:tt7286456?order=frequency")
	assert.Equal(t, OrderFrequency, order)
	assert.Equal(t, []float64{30000, 25000, 12000, 60000}, got)

	_, got = sizes("/api/results/movie:tt7286456?order=frequency&maxSize=26000")
	assert.Equal(t, []float64{25000, 12000}, got)

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, srv.URL+"/api/results/movie:tt7286456?order=seeders").StatusCode)
}

func TestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "scraped_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	srv, _ := newTestServer(t, &fakeScraper{}, registry)
	resp := do(t, http.MethodGet, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "scraped_test_total 1")

	srv, _ = newTestServer(t, &fakeScraper{}, nil)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/metrics").StatusCode)
}
