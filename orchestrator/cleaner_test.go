package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/109isaque10/scraped/caching"
	"github.com/109isaque10/scraped/matching"
	"github.com/109isaque10/scraped/types"
)

func TestCleanDropsEntriesThatNoLongerMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := types.MovieKey("tt0133093")

	cached := []types.ScrapeResult{
		{Title: "The.Matrix.1999.1080p.BluRay.x264", FileSize: 8000, Hash: hash(1)},
		{Title: "The.Matrix.Reloaded.2003.1080p.BluRay", FileSize: 9000, Hash: hash(2)},
		{Title: "The.Matrix.1999.1080p.WEB", FileSize: 50, Hash: hash(3)},
		{Title: "The.Matrix.1999.2160p.REMUX", FileSize: 200000, Hash: hash(4)},
	}
	require.NoError(t, f.store.UpsertMerge(ctx, key, cached, caching.UpsertOptions{}))
	written := f.clock.now()
	f.clock.advance(time.Hour)

	reports, err := f.o.Clean(ctx, "tt0133093", CleanOptions{})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Kept)
	assert.Equal(t, map[matching.Reason]int{
		matching.RejectTitle:    1,
		matching.RejectTooSmall: 1,
		matching.RejectTooLarge: 1,
	}, reports[0].Dropped)

	rec, err := f.store.Record(ctx, key)
	require.NoError(t, err)
	require.Len(t, rec.Value, 1)
	assert.Equal(t, hash(1), rec.Value[0].Hash)
	assert.True(t, rec.UpdatedAt.Equal(written), "timestamp preserved")

	// idempotent
	require.NoError(t, f.o.TriggerClean(ctx, "tt0133093", CleanOptions{}))
	again, err := f.store.Record(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, rec.Value, again.Value)

	require.NoError(t, f.o.TriggerClean(ctx, "tt0133093", CleanOptions{BumpTimestamp: true}))
	bumped, err := f.store.Record(ctx, key)
	require.NoError(t, err)
	assert.True(t, bumped.UpdatedAt.Equal(f.clock.now()))
}

func TestCleanKeepsEmptyValidatedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := types.TvSeasonKey("tt0903747", 1)

	require.NoError(t, f.store.UpsertMerge(ctx, key, []types.ScrapeResult{
		{Title: "Breaking.Bad.S02.1080p.BluRay", FileSize: 20000, Hash: hash(1)},
	}, caching.UpsertOptions{}))

	reports, err := f.o.Clean(ctx, "tt0903747", CleanOptions{})
	require.NoError(t, err)
	require.Len(t, reports, 1, "season 2 has no record and is left alone")
	assert.Equal(t, 1, reports[0].Dropped[matching.RejectSeason])

	got := f.get(t, key)
	assert.Empty(t, got)
	assert.False(t, f.exists(t, types.TvSeasonKey("tt0903747", 2)))
}

func TestCleanNeverGrowsRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.o.TriggerClean(ctx, "tt0133093", CleanOptions{}))
	assert.False(t, f.exists(t, types.MovieKey("tt0133093")), "missing record is a no-op")

	err := f.o.TriggerClean(ctx, "tt0000404", CleanOptions{})
	assert.Error(t, err)
}
