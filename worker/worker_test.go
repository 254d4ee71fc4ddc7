package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/109isaque10/scraped/orchestrator"
)

type fakeScraper struct {
	mu        sync.Mutex
	scraped   []string
	requested []string
	pending   []string
	stuck     []string
	cancelled []string
	status    *orchestrator.ScrapeStatus
	block     bool
	started   chan string
}

func (f *fakeScraper) TriggerScrape(ctx context.Context, id string, _ orchestrator.ScrapeOptions) orchestrator.ScrapeStatus {
	f.mu.Lock()
	f.scraped = append(f.scraped, id)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- id
	}
	if f.block {
		<-ctx.Done()
		return orchestrator.ScrapeStatus{Status: orchestrator.StatusError, ErrorMessage: ctx.Err().Error()}
	}
	if f.status != nil {
		return *f.status
	}
	return orchestrator.ScrapeStatus{Status: "scraped: 1 items", Items: 1}
}

func (f *fakeScraper) Request(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, id)
	return nil
}

func (f *fakeScraper) CancelRequest(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeScraper) cancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func (f *fakeScraper) PendingRequests(context.Context) ([]string, error) { return f.pending, nil }
func (f *fakeScraper) ReclaimStuck(context.Context) ([]string, error)    { return f.stuck, nil }

func (f *fakeScraper) scrapedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scraped...)
}

type fakeTrending map[string][]string

func (f fakeTrending) Trending(_ context.Context, mediaType string, limit int) ([]string, error) {
	ids := f[mediaType]
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func newTestWorker(t *testing.T, s Scraper, trending TrendingSource, opts Options) *BackgroundWork {
	t.Helper()
	bk, err := NewBackgroundWorker(s, trending, opts)
	require.NoError(t, err)
	t.Cleanup(bk.StopAndWait)
	return bk
}

func drain(bk *BackgroundWork) []Task {
	var tasks []Task
	for {
		select {
		case task := <-bk.queue:
			tasks = append(tasks, task)
		default:
			return tasks
		}
	}
}

func TestTaskDeduplicator(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	td := NewTaskDeduplicator()
	td.now = func() time.Time { return now }

	assert.True(t, td.ShouldQueue("tt1", time.Hour))
	assert.False(t, td.ShouldQueue("tt1", time.Hour))

	now = now.Add(2 * time.Hour)
	assert.True(t, td.ShouldQueue("tt1", time.Hour))
	assert.True(t, td.ShouldQueue("tt2", time.Hour))

	td.Remove("tt2")
	assert.Equal(t, 1, td.Len())

	now = now.Add(25 * time.Hour)
	assert.Equal(t, 1, td.Cleanup(24*time.Hour))
	assert.Zero(t, td.Len())
}

func TestEnqueueDeduplicatesAndBoundsQueue(t *testing.T) {
	bk := newTestWorker(t, &fakeScraper{}, nil, Options{QueueSize: 1})

	assert.True(t, bk.Enqueue("tt1", orchestrator.ScrapeOptions{}, SourceManual))
	assert.False(t, bk.Enqueue("tt1", orchestrator.ScrapeOptions{}, SourceManual))
	assert.False(t, bk.Enqueue("tt2", orchestrator.ScrapeOptions{}, SourceManual), "queue is full")

	assert.Equal(t, 1, bk.GetQueueSize())
	assert.Equal(t, 1, bk.GetQueueCapacity())
	assert.Equal(t, 1, bk.dedup.Len(), "a rejected id is not remembered")

	tasks := drain(bk)
	require.Len(t, tasks, 1)
	assert.NotEmpty(t, tasks[0].RunID)
	assert.Equal(t, SourceManual, tasks[0].Source)
}

func TestWorkersProcessQueuedTasks(t *testing.T) {
	s := &fakeScraper{}
	bk := newTestWorker(t, s, nil, Options{Workers: 2})
	bk.Start()

	assert.True(t, bk.Enqueue("tt1", orchestrator.ScrapeOptions{}, SourceManual))
	assert.True(t, bk.Enqueue("tt2", orchestrator.ScrapeOptions{}, SourceManual))

	assert.Eventually(t, func() bool { return len(s.scrapedIDs()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return bk.dedup.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"tt1", "tt2"}, s.scrapedIDs())

	// finished ids can be queued again
	assert.True(t, bk.Enqueue("tt1", orchestrator.ScrapeOptions{}, SourceManual))
}

func TestDrainRequests(t *testing.T) {
	s := &fakeScraper{pending: []string{"tt1", "tt2", "tt1"}}
	bk := newTestWorker(t, s, nil, Options{})

	bk.drainRequests()

	tasks := drain(bk)
	require.Len(t, tasks, 2)
	assert.Equal(t, "tt1", tasks[0].MediaID)
	assert.Equal(t, "tt2", tasks[1].MediaID)
	assert.Equal(t, SourceRequest, tasks[0].Source)
	assert.False(t, tasks[0].Options.Reclaimed)
}

func TestRequestAttempts(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ra := NewRequestAttempts(time.Minute)
	ra.now = func() time.Time { return now }

	assert.True(t, ra.Ready("tt1"))
	assert.Equal(t, 1, ra.Fail("tt1"))
	assert.False(t, ra.Ready("tt1"))
	assert.True(t, ra.Ready("tt2"))

	now = now.Add(time.Minute)
	assert.True(t, ra.Ready("tt1"))

	assert.Equal(t, 2, ra.Fail("tt1"))
	now = now.Add(time.Minute)
	assert.False(t, ra.Ready("tt1"), "backoff doubles")
	now = now.Add(time.Minute)
	assert.True(t, ra.Ready("tt1"))

	ra.Clear("tt1")
	assert.Zero(t, ra.Failures("tt1"))
	assert.True(t, ra.Ready("tt1"))
}

func TestSettleRequest(t *testing.T) {
	failed := orchestrator.ScrapeStatus{Status: orchestrator.StatusError, ErrorMessage: "no metadata"}

	tests := []struct {
		name         string
		status       orchestrator.ScrapeStatus
		runs         int
		wantCanceled []string
		wantFailures int
	}{
		{name: "failure below the limit is kept", status: failed, runs: 2, wantFailures: 2},
		{name: "failure at the limit drops the request", status: failed, runs: 3, wantCanceled: []string{"tt1"}},
		{name: "skipped drops the request", status: orchestrator.ScrapeStatus{Status: orchestrator.StatusSkipped}, runs: 1, wantCanceled: []string{"tt1"}},
		{name: "processing leaves the request alone", status: orchestrator.ScrapeStatus{Status: orchestrator.StatusProcessing}, runs: 1},
		{name: "scraped forgets earlier failures", status: orchestrator.ScrapeStatus{Status: "scraped: 3 items", Items: 3}, runs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeScraper{}
			bk := newTestWorker(t, s, nil, Options{MaxRequestTries: 3})
			if tt.status.Scraped() {
				bk.attempts.Fail("tt1")
			}

			for i := 0; i < tt.runs; i++ {
				bk.settleRequest(log.Logger, "tt1", tt.status)
			}

			assert.Equal(t, tt.wantCanceled, s.cancelledIDs())
			assert.Equal(t, tt.wantFailures, bk.attempts.Failures("tt1"))
		})
	}
}

func TestFailedRequestsWaitForBackoff(t *testing.T) {
	s := &fakeScraper{
		pending: []string{"tt1", "tt2"},
		status:  &orchestrator.ScrapeStatus{Status: orchestrator.StatusError, ErrorMessage: "boom"},
	}
	bk := newTestWorker(t, s, nil, Options{RequestBackoff: time.Hour})
	bk.Start()

	bk.drainRequests()
	assert.Eventually(t, func() bool {
		return bk.attempts.Failures("tt1") == 1 && bk.attempts.Failures("tt2") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return bk.dedup.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	bk.drainRequests()
	assert.Zero(t, bk.GetQueueSize())
	assert.Len(t, s.scrapedIDs(), 2, "ids in backoff are not queued again")
	assert.Empty(t, s.cancelledIDs())
}

func TestReclaimStuckQueuesReclaimedRuns(t *testing.T) {
	s := &fakeScraper{stuck: []string{"tt9"}}
	bk := newTestWorker(t, s, nil, Options{})

	bk.reclaimStuck()

	tasks := drain(bk)
	require.Len(t, tasks, 1)
	assert.Equal(t, "tt9", tasks[0].MediaID)
	assert.Equal(t, SourceReclaim, tasks[0].Source)
	assert.True(t, tasks[0].Options.Reclaimed)
}

func TestPrefetchTrending(t *testing.T) {
	trending := fakeTrending{"movie": {"tt1", "tt2", "tt3"}, "tv": {"tt4"}}

	t.Run("requests trending ids", func(t *testing.T) {
		s := &fakeScraper{}
		bk := newTestWorker(t, s, trending, Options{TrendingLimit: 2})

		bk.prefetchTrending()
		assert.Equal(t, []string{"tt1", "tt2", "tt4"}, s.requested)
	})

	t.Run("skips a busy queue", func(t *testing.T) {
		s := &fakeScraper{}
		bk := newTestWorker(t, s, trending, Options{QueueSize: 20})
		for i := 0; i <= trendingIdleQueue; i++ {
			require.True(t, bk.Enqueue(string(rune('a'+i)), orchestrator.ScrapeOptions{}, SourceManual))
		}

		bk.prefetchTrending()
		assert.Empty(t, s.requested)
	})
}

func TestInvalidSchedule(t *testing.T) {
	_, err := NewBackgroundWorker(&fakeScraper{}, nil, Options{RequestSchedule: "every so often"})
	assert.ErrorContains(t, err, "requests schedule")

	_, err = NewBackgroundWorker(&fakeScraper{}, fakeTrending{}, Options{TrendingSchedule: "* *"})
	assert.ErrorContains(t, err, "trending schedule")

	bk, err := NewBackgroundWorker(&fakeScraper{}, nil, Options{
		RequestSchedule: DefaultRequestSchedule,
		ReclaimSchedule: DefaultReclaimSchedule,
		// ignored without a trending source
		TrendingSchedule: "* *",
	})
	require.NoError(t, err)
	assert.Len(t, bk.cron.Entries(), 3)
	bk.StopAndWait()
}

func TestStopCancelsRunningScrapeAfterGrace(t *testing.T) {
	s := &fakeScraper{block: true, started: make(chan string, 1)}
	bk, err := NewBackgroundWorker(s, nil, Options{})
	require.NoError(t, err)
	bk.Start()

	require.True(t, bk.Enqueue("tt1", orchestrator.ScrapeOptions{}, SourceManual))
	select {
	case <-s.started:
	case <-time.After(2 * time.Second):
		t.Fatal("scrape never started")
	}

	stopped := make(chan struct{})
	go func() {
		bk.stop(20 * time.Millisecond)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not cancel the running scrape")
	}
	assert.False(t, bk.Enqueue("tt2", orchestrator.ScrapeOptions{}, SourceManual))
}
