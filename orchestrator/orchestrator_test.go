package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/109isaque10/scraped/caching"
	"github.com/109isaque10/scraped/metadata"
	"github.com/109isaque10/scraped/scrapers"
	"github.com/109isaque10/scraped/types"
)

func hash(n int) string { return fmt.Sprintf("%040x", n) }

func release(n int, size float64) types.ScrapeResult {
	return types.ScrapeResult{Title: fmt.Sprintf("The.Matrix.1999.1080p.BluRay.x264-R%d", n), FileSize: size, Hash: hash(n)}
}

type fakeAdapter struct {
	name     string
	perMedia bool
	results  []types.ScrapeResult
	err      error
	panics   bool
	block    chan struct{}

	calls   atomic.Int32
	mu      sync.Mutex
	queries []string
	seasons []int
}

func (f *fakeAdapter) Name() string   { return f.name }
func (f *fakeAdapter) PerMedia() bool { return f.perMedia }

func (f *fakeAdapter) Search(ctx context.Context, q types.QueryVariant, sc types.SearchContext) ([]types.ScrapeResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.queries = append(f.queries, q.Text)
	f.seasons = append(f.seasons, sc.Season)
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.panics {
		panic("boom")
	}
	return f.results, f.err
}

// countingStore records writes made through it
type countingStore struct {
	caching.Store
	writes atomic.Int32
}

func (s *countingStore) UpsertMerge(ctx context.Context, key types.MediaKey, rs []types.ScrapeResult, opts caching.UpsertOptions) error {
	s.writes.Add(1)
	return s.Store.UpsertMerge(ctx, key, rs, opts)
}

func (s *countingStore) Touch(ctx context.Context, key types.MediaKey) error {
	s.writes.Add(1)
	return s.Store.Touch(ctx, key)
}

func (s *countingStore) Delete(ctx context.Context, key types.MediaKey) error {
	s.writes.Add(1)
	return s.Store.Delete(ctx, key)
}

// countingLookup counts metadata calls
type countingLookup struct {
	inner metadata.Lookup
	calls atomic.Int32
}

func (l *countingLookup) Lookup(ctx context.Context, id string) (*types.TitleInfo, error) {
	l.calls.Add(1)
	return l.inner.Lookup(ctx, id)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testTitles = metadata.Static{
	"tt0133093": {MediaType: types.MediaMovie, Title: "The Matrix", ReleaseYear: "1999"},
	"tt0903747": {MediaType: types.MediaTV, Title: "Breaking Bad", ReleaseYear: "2008", Seasons: []types.SeasonInfo{
		{Number: 1, Name: "Season 1", AirYear: "2008"},
		{Number: 2, Name: "Season 2", AirYear: "2009"},
	}},
}

type fixture struct {
	o      *Orchestrator
	store  *countingStore
	lookup *countingLookup
	clock  *clock
}

func newFixture(t *testing.T, adapters ...scrapers.SourceAdapter) *fixture {
	t.Helper()
	mem, err := caching.NewMemoryStore("", 0)
	require.NoError(t, err)

	c := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	mem.SetClock(c.now)

	f := &fixture{
		store:  &countingStore{Store: mem},
		lookup: &countingLookup{inner: testTitles},
		clock:  c,
	}
	f.o = New(Deps{Store: f.store, Lookup: f.lookup, Adapters: adapters}, Options{})
	f.o.now = c.now
	return f
}

func (f *fixture) get(t *testing.T, key types.MediaKey) []types.ScrapeResult {
	t.Helper()
	rs, ok, err := f.store.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, "missing %s", key)
	return rs
}

func (f *fixture) exists(t *testing.T, key types.MediaKey) bool {
	t.Helper()
	ok, err := f.store.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func TestTriggerScrapeMergesSources(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []types.ScrapeResult{release(1, 100), release(2, 200), release(3, 300)}}
	b := &fakeAdapter{name: "b", results: []types.ScrapeResult{release(2, 200), release(3, 300), release(4, 400)}}
	c := &fakeAdapter{name: "c", results: []types.ScrapeResult{release(3, 300), release(4, 400), release(5, 500)}}
	f := newFixture(t, a, b, c)
	ctx := context.Background()

	require.NoError(t, f.o.Request(ctx, "tt0133093"))

	status := f.o.TriggerScrape(ctx, "tt0133093", ScrapeOptions{})
	assert.Equal(t, "scraped: 5 items", status.Status)
	assert.Equal(t, 5, status.Items)
	assert.Empty(t, status.ErrorMessage)

	got := f.get(t, types.MovieKey("tt0133093"))
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].FileSize, got[i].FileSize)
	}
	assert.Equal(t, hash(5), got[0].Hash)

	assert.False(t, f.exists(t, types.ProcessingKey("tt0133093")))
	assert.False(t, f.exists(t, types.RequestedKey("tt0133093")))

	// one call per query variant
	assert.EqualValues(t, 6, a.calls.Load())
	assert.Contains(t, a.queries, "The Matrix 1999 2160p")
}

func TestTriggerScrapeSkipsDoneIDs(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []types.ScrapeResult{release(1, 100)}}
	f := newFixture(t, a)
	ctx := context.Background()

	first := f.o.TriggerScrape(ctx, "tt0133093", ScrapeOptions{})
	require.True(t, first.Scraped())

	calls := a.calls.Load()
	lookups := f.lookup.calls.Load()
	writes := f.store.writes.Load()

	second := f.o.TriggerScrape(ctx, "tt0133093", ScrapeOptions{})
	assert.Equal(t, StatusSkipped, second.Status)
	assert.Equal(t, calls, a.calls.Load(), "no source calls")
	assert.Equal(t, lookups, f.lookup.calls.Load(), "no metadata calls")
	assert.Equal(t, writes, f.store.writes.Load(), "no cache writes")

	a.results = []types.ScrapeResult{release(9, 900)}
	third := f.o.TriggerScrape(ctx, "tt0133093", ScrapeOptions{Override: true})
	assert.Equal(t, "scraped: 1 items", third.Status)
	assert.Len(t, f.get(t, types.MovieKey("tt0133093")), 2, "override appends to the existing record")
}

func TestOneSeasonKeyMarksShowDone(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []types.ScrapeResult{release(1, 100)}}
	f := newFixture(t, a)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertMerge(ctx, types.TvSeasonKey("tt0903747", 1), nil, caching.UpsertOptions{}))
	require.False(t, f.exists(t, types.TvSeasonKey("tt0903747", 2)))

	status := f.o.TriggerScrape(ctx, "tt0903747", ScrapeOptions{})
	assert.Equal(t, StatusSkipped, status.Status)
	assert.Zero(t, f.lookup.calls.Load(), "done check needs no metadata")
	assert.Zero(t, a.calls.Load())
}

func TestTriggerScrapeMetadataError(t *testing.T) {
	a := &fakeAdapter{name: "a"}
	f := newFixture(t, a)

	status := f.o.TriggerScrape(context.Background(), "tt0000404", ScrapeOptions{})
	assert.Equal(t, StatusError, status.Status)
	assert.NotEmpty(t, status.ErrorMessage)
	assert.Zero(t, f.store.writes.Load())
	assert.Zero(t, a.calls.Load())
}

func TestTriggerScrapeZeroMatchesLeavesValidatedEmptyRecord(t *testing.T) {
	f := newFixture(t, &fakeAdapter{name: "a"})

	status := f.o.TriggerScrape(context.Background(), "tt0133093", ScrapeOptions{})
	assert.Equal(t, "scraped: 0 items", status.Status)
	assert.Empty(t, f.get(t, types.MovieKey("tt0133093")))

	again := f.o.TriggerScrape(context.Background(), "tt0133093", ScrapeOptions{})
	assert.Equal(t, StatusSkipped, again.Status)
}

func TestTriggerScrapeInFlightAndStaleClaims(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []types.ScrapeResult{release(1, 100)}}
	f := newFixture(t, a)
	ctx := context.Background()

	require.NoError(t, f.store.Touch(ctx, types.ProcessingKey("tt0133093")))

	f.clock.advance(59 * time.Minute)
	status := f.o.TriggerScrape(ctx, "tt0133093", ScrapeOptions{})
	assert.Equal(t, StatusProcessing, status.Status)
	assert.Zero(t, a.calls.Load())

	f.clock.advance(2 * time.Minute)
	status = f.o.TriggerScrape(ctx, "tt0133093", ScrapeOptions{})
	assert.Equal(t, "scraped: 1 items", status.Status)
	assert.False(t, f.exists(t, types.ProcessingKey("tt0133093")))
}

func TestReclaimStuck(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []types.ScrapeResult{release(1, 100)}}
	f := newFixture(t, a)
	ctx := context.Background()

	require.NoError(t, f.store.Touch(ctx, types.ProcessingKey("tt0133093")))

	f.clock.advance(30 * time.Minute)
	ids, err := f.o.ReclaimStuck(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "younger than the stale window")

	f.clock.advance(31 * time.Minute)
	ids, err = f.o.ReclaimStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tt0133093"}, ids)

	rec, err := f.store.Record(ctx, types.ProcessingKey("tt0133093"))
	require.NoError(t, err)
	assert.True(t, rec.UpdatedAt.Equal(f.clock.now()), "marker bumped")

	// the bumped marker now looks in flight to everyone but the reclaiming run
	assert.Equal(t, StatusProcessing, f.o.TriggerScrape(ctx, "tt0133093", ScrapeOptions{}).Status)
	assert.True(t, f.o.TriggerScrape(ctx, "tt0133093", ScrapeOptions{Reclaimed: true}).Scraped())
}

func TestRequestAndPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.o.Request(ctx, "tt0133093"))
	f.clock.advance(time.Second)
	require.NoError(t, f.o.Request(ctx, "tt0903747"))

	ids, err := f.o.PendingRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tt0133093", "tt0903747"}, ids)

	require.True(t, f.o.TriggerScrape(ctx, "tt0133093", ScrapeOptions{}).Scraped())
	require.NoError(t, f.o.Request(ctx, "tt0133093"))

	ids, err = f.o.PendingRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tt0903747"}, ids)
}

func TestTriggerScrapeSurvivesFailingSources(t *testing.T) {
	ok := &fakeAdapter{name: "ok", results: []types.ScrapeResult{release(1, 100)}}
	partial := &fakeAdapter{name: "partial", results: []types.ScrapeResult{release(2, 200)}, err: errors.New("page 3 failed")}
	broken := &fakeAdapter{name: "broken", panics: true}
	changed := &fakeAdapter{name: "changed", err: fmt.Errorf("wrap: %w", scrapers.ErrParseMismatch)}

	f := newFixture(t, ok, partial, broken, changed)
	f.o.opts.VariantConcurrency = 1

	status := f.o.TriggerScrape(context.Background(), "tt0133093", ScrapeOptions{})
	assert.Equal(t, "scraped: 2 items", status.Status)
	assert.EqualValues(t, 6, broken.calls.Load())
	assert.EqualValues(t, 1, changed.calls.Load(), "layout change disables the source for the run")
}

func TestPerMediaAdapterCalledOncePerTarget(t *testing.T) {
	byText := &fakeAdapter{name: "text"}
	byID := &fakeAdapter{name: "id", perMedia: true, results: []types.ScrapeResult{release(1, 5000)}}
	f := newFixture(t, byText, byID)

	status := f.o.TriggerScrape(context.Background(), "tt0903747", ScrapeOptions{})
	assert.Equal(t, "scraped: 2 items", status.Status, "one item per season")

	assert.EqualValues(t, 2, byID.calls.Load())
	assert.ElementsMatch(t, []int{1, 2}, byID.seasons)
	assert.EqualValues(t, 4, byText.calls.Load())
	assert.Contains(t, byText.queries, "Breaking Bad S02")
	assert.Contains(t, byText.queries, "Breaking Bad season 1")

	assert.Len(t, f.get(t, types.TvSeasonKey("tt0903747", 1)), 1)
	assert.Len(t, f.get(t, types.TvSeasonKey("tt0903747", 2)), 1)
}

func TestConcurrentTriggersShareOneRun(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []types.ScrapeResult{release(1, 100)}, block: make(chan struct{})}
	f := newFixture(t, a)
	f.o.opts.VariantConcurrency = 6

	statuses := make([]ScrapeStatus, 2)
	var wg sync.WaitGroup
	for i := range statuses {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = f.o.TriggerScrape(context.Background(), "tt0133093", ScrapeOptions{})
		}()
	}

	require.Eventually(t, func() bool { return a.calls.Load() == 6 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(a.block)
	wg.Wait()

	assert.EqualValues(t, 6, a.calls.Load(), "a single run")
	for _, s := range statuses {
		assert.Contains(t, []string{"scraped: 1 items", StatusSkipped}, s.Status)
	}
}

func TestOverrideDoesNotJoinPlainRun(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []types.ScrapeResult{release(1, 100)}, block: make(chan struct{})}
	f := newFixture(t, a)
	f.o.opts.VariantConcurrency = 6

	plain := make(chan ScrapeStatus, 1)
	go func() {
		plain <- f.o.TriggerScrape(context.Background(), "tt0133093", ScrapeOptions{})
	}()
	require.Eventually(t, func() bool { return a.calls.Load() == 6 }, time.Second, time.Millisecond)

	overridden := make(chan ScrapeStatus, 1)
	go func() {
		overridden <- f.o.TriggerScrape(context.Background(), "tt0133093", ScrapeOptions{Override: true})
	}()

	select {
	case s := <-overridden:
		assert.Equal(t, StatusProcessing, s.Status, "the override call sees the live marker instead of the plain result")
	case <-time.After(time.Second):
		t.Fatal("override call waited on the plain run")
	}

	close(a.block)
	assert.Equal(t, "scraped: 1 items", (<-plain).Status)
	assert.EqualValues(t, 6, a.calls.Load())
}

func TestRequestCanBeCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.o.Request(ctx, "tt0133093"))
	require.NoError(t, f.o.Request(ctx, "tt0903747"))
	require.NoError(t, f.o.CancelRequest(ctx, "tt0133093"))
	require.NoError(t, f.o.CancelRequest(ctx, "tt404"), "unknown ids are ignored")

	ids, err := f.o.PendingRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tt0903747"}, ids)
}
