package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/109isaque10/scraped/metrics"
	"github.com/109isaque10/scraped/orchestrator"
)

const (
	DefaultWorkers          = 1
	DefaultQueueSize        = 50
	DefaultTaskTimeout      = 30 * time.Minute
	DefaultDedupWindow      = 6 * time.Hour
	DefaultRequestSchedule  = "@every 1m"
	DefaultReclaimSchedule  = "@every 10m"
	DefaultTrendingSchedule = "@every 12h"
	DefaultTrendingLimit    = 20
	DefaultMaxRequestTries  = 5
	DefaultRequestBackoff   = 5 * time.Minute

	stopGracePeriod = 30 * time.Second
	// trending ids are only requested while the queue is close to idle
	trendingIdleQueue = 10
)

const (
	SourceManual  = "manual"
	SourceRequest = "request"
	SourceReclaim = "reclaim"
)

// Scraper is the part of the orchestrator the worker drives
type Scraper interface {
	TriggerScrape(ctx context.Context, mediaID string, opts orchestrator.ScrapeOptions) orchestrator.ScrapeStatus
	Request(ctx context.Context, mediaID string) error
	PendingRequests(ctx context.Context) ([]string, error)
	CancelRequest(ctx context.Context, mediaID string) error
	ReclaimStuck(ctx context.Context) ([]string, error)
}

// TrendingSource lists popular media ids worth scraping ahead of demand
type TrendingSource interface {
	Trending(ctx context.Context, mediaType string, limit int) ([]string, error)
}

// Task is one queued scrape
type Task struct {
	RunID   string
	MediaID string
	Source  string
	Options orchestrator.ScrapeOptions
}

type Options struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
	DedupWindow time.Duration

	// cron specs, an empty spec disables the job
	RequestSchedule  string
	ReclaimSchedule  string
	TrendingSchedule string
	TrendingLimit    int

	// a requested id that fails MaxRequestTries times is dropped, retries wait
	// RequestBackoff doubled per failure
	MaxRequestTries int
	RequestBackoff  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = DefaultTaskTimeout
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = DefaultDedupWindow
	}
	if o.TrendingLimit <= 0 {
		o.TrendingLimit = DefaultTrendingLimit
	}
	if o.MaxRequestTries <= 0 {
		o.MaxRequestTries = DefaultMaxRequestTries
	}
	if o.RequestBackoff <= 0 {
		o.RequestBackoff = DefaultRequestBackoff
	}
	return o
}

type scheduledJob struct {
	name string
	spec string
	fn   func()
}

// BackgroundWork runs queued scrapes on a fixed pool of workers and feeds the
// queue from the store on a schedule
type BackgroundWork struct {
	queue    chan Task
	opts     Options
	dedup    *TaskDeduplicator
	attempts *RequestAttempts
	scraper  Scraper
	trending TrendingSource
	cron     *cron.Cron

	ctx         context.Context
	cancel      context.CancelFunc
	stopChan    chan struct{}
	stopOnce    sync.Once
	workersDone sync.WaitGroup
}

// NewBackgroundWorker validates the schedules and builds the worker. trending may
// be nil. Nothing runs until Start.
func NewBackgroundWorker(scraper Scraper, trending TrendingSource, opts Options) (*BackgroundWork, error) {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	bk := &BackgroundWork{
		queue:    make(chan Task, opts.QueueSize),
		opts:     opts,
		dedup:    NewTaskDeduplicator(),
		attempts: NewRequestAttempts(opts.RequestBackoff),
		scraper:  scraper,
		trending: trending,
		cron:     cron.New(),
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}

	jobs := []scheduledJob{
		{"requests", opts.RequestSchedule, bk.drainRequests},
		{"reclaim", opts.ReclaimSchedule, bk.reclaimStuck},
		{"dedup cleanup", "@hourly", func() { bk.dedup.Cleanup(24 * time.Hour) }},
	}
	if trending != nil {
		jobs = append(jobs, scheduledJob{"trending", opts.TrendingSchedule, bk.prefetchTrending})
	}

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := bk.cron.AddFunc(job.spec, job.fn); err != nil {
			cancel()
			return nil, errors.Wrapf(err, "invalid %s schedule %q", job.name, job.spec)
		}
	}

	return bk, nil
}

// Start launches the workers and the scheduler
func (bk *BackgroundWork) Start() {
	for i := 0; i < bk.opts.Workers; i++ {
		bk.workersDone.Add(1)
		go bk.backgroundWorker(i)
	}
	bk.cron.Start()
	log.Info().Int("workers", bk.opts.Workers).Int("capacity", bk.GetQueueCapacity()).Int("jobs", len(bk.cron.Entries())).Msg("🔧 Started background workers")
}

// Enqueue queues a scrape of mediaID. It returns false when the id is already
// queued, the queue is full or the worker is stopping.
func (bk *BackgroundWork) Enqueue(mediaID string, opts orchestrator.ScrapeOptions, source string) bool {
	select {
	case <-bk.stopChan:
		return false
	default:
	}

	if !bk.dedup.ShouldQueue(mediaID, bk.opts.DedupWindow) {
		log.Debug().Str("id", mediaID).Str("source", source).Msg("⏭️ Already queued")
		return false
	}

	task := Task{RunID: uuid.NewString(), MediaID: mediaID, Source: source, Options: opts}
	select {
	case bk.queue <- task:
		metrics.QueuedTasks.Set(float64(len(bk.queue)))
		log.Debug().Str("id", mediaID).Str("run", task.RunID).Str("source", source).Msg("📋 Queued scrape")
		return true
	default:
		bk.dedup.Remove(mediaID)
		log.Warn().Str("id", mediaID).Str("source", source).Msg("⚠️ Background queue full")
		return false
	}
}

func (bk *BackgroundWork) backgroundWorker(workerID int) {
	defer bk.workersDone.Done()

	for {
		select {
		case task := <-bk.queue:
			metrics.QueuedTasks.Set(float64(len(bk.queue)))
			bk.process(workerID, task)
		case <-bk.stopChan:
			log.Debug().Int("worker", workerID).Msg("🛑 Stop signal received, exiting")
			return
		}
	}
}

func (bk *BackgroundWork) process(workerID int, task Task) {
	defer bk.dedup.Remove(task.MediaID)

	ctx, cancel := context.WithTimeout(bk.ctx, bk.opts.TaskTimeout)
	defer cancel()

	logger := log.With().Int("worker", workerID).Str("run", task.RunID).Str("id", task.MediaID).Str("source", task.Source).Logger()
	logger.Info().Msg("🔄 Starting scrape")

	status := bk.scraper.TriggerScrape(ctx, task.MediaID, task.Options)
	switch {
	case status.Status == orchestrator.StatusError:
		logger.Error().Str("error", status.ErrorMessage).Msg("❌ Scrape failed")
	case status.Scraped():
		logger.Info().Int("items", status.Items).Msg("✅ Scrape finished")
	default:
		logger.Info().Str("status", status.Status).Msg("⏭️ Scrape not run")
	}

	if task.Source == SourceRequest {
		bk.settleRequest(logger, task.MediaID, status)
	}
}

// settleRequest keeps failed requests for a later retry until they run out of
// tries. A request for an id that is already scraped is simply answered.
func (bk *BackgroundWork) settleRequest(logger zerolog.Logger, mediaID string, status orchestrator.ScrapeStatus) {
	switch status.Status {
	case orchestrator.StatusError:
		if bk.ctx.Err() != nil {
			// interrupted by shutdown, not the id's fault
			return
		}
		failures := bk.attempts.Fail(mediaID)
		if failures < bk.opts.MaxRequestTries {
			logger.Debug().Int("failures", failures).Msg("request will be retried")
			return
		}
		logger.Warn().Int("failures", failures).Msg("⚠️ Giving up on requested id")
	case orchestrator.StatusSkipped:
	case orchestrator.StatusProcessing:
		// the run holding the marker clears the request when it finishes
		return
	default:
		bk.attempts.Clear(mediaID)
		return
	}

	bk.attempts.Clear(mediaID)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(bk.ctx), 10*time.Second)
	defer cancel()
	if err := bk.scraper.CancelRequest(ctx, mediaID); err != nil {
		logger.Error().Err(err).Msg("⚠️ Could not remove request marker")
	}
}

func (bk *BackgroundWork) drainRequests() {
	ctx, cancel := context.WithTimeout(bk.ctx, 30*time.Second)
	defer cancel()

	ids, err := bk.scraper.PendingRequests(ctx)
	if err != nil {
		log.Error().Err(err).Msg("⚠️ Could not list pending requests")
		return
	}

	queued := 0
	for _, id := range ids {
		if !bk.attempts.Ready(id) {
			continue
		}
		if bk.Enqueue(id, orchestrator.ScrapeOptions{}, SourceRequest) {
			queued++
		}
	}
	if queued > 0 {
		log.Info().Int("queued", queued).Int("pending", len(ids)).Msg("📋 Queued requested ids")
	}
}

func (bk *BackgroundWork) reclaimStuck() {
	ctx, cancel := context.WithTimeout(bk.ctx, 30*time.Second)
	defer cancel()

	ids, err := bk.scraper.ReclaimStuck(ctx)
	if err != nil {
		log.Error().Err(err).Msg("⚠️ Could not reclaim stuck scrapes")
	}
	for _, id := range ids {
		bk.Enqueue(id, orchestrator.ScrapeOptions{Reclaimed: true}, SourceReclaim)
	}
}

// prefetchTrending turns trending titles into requests while the queue is idle
func (bk *BackgroundWork) prefetchTrending() {
	if len(bk.queue) > trendingIdleQueue {
		log.Info().Int("queued", len(bk.queue)).Msg("⏭️ Background queue not idle, skipping trending prefetch")
		return
	}

	ctx, cancel := context.WithTimeout(bk.ctx, 2*time.Minute)
	defer cancel()

	requested := 0
	for _, mediaType := range []string{"movie", "tv"} {
		ids, err := bk.trending.Trending(ctx, mediaType, bk.opts.TrendingLimit)
		if err != nil {
			log.Warn().Err(err).Str("type", mediaType).Msg("⚠️ Failed to fetch trending titles")
			continue
		}
		for _, id := range ids {
			if err := bk.scraper.Request(ctx, id); err != nil {
				log.Warn().Err(err).Str("id", id).Msg("⚠️ Could not request trending title")
				continue
			}
			requested++
		}
	}

	log.Info().Int("requested", requested).Msg("🎯 Trending prefetch done")
}

// Stop halts the scheduler and the workers. Running scrapes get a grace period
// before their context is cancelled.
func (bk *BackgroundWork) Stop() {
	bk.stop(stopGracePeriod)
}

// StopAndWait stops the workers and waits for running scrapes to finish
func (bk *BackgroundWork) StopAndWait() {
	bk.stop(0)
}

func (bk *BackgroundWork) stop(grace time.Duration) {
	bk.stopOnce.Do(func() {
		log.Info().Msg("🛑 Stopping background workers...")
		<-bk.cron.Stop().Done()
		close(bk.stopChan)

		done := make(chan struct{})
		go func() {
			bk.workersDone.Wait()
			close(done)
		}()

		if grace > 0 {
			select {
			case <-done:
			case <-time.After(grace):
				log.Warn().Msg("⚠️ Background workers did not stop within timeout, cancelling scrapes")
				bk.cancel()
			}
		}
		<-done
		bk.cancel()
		log.Info().Msg("✅ All background workers stopped")
	})
}

// GetQueueSize returns current queue size for monitoring
func (bk *BackgroundWork) GetQueueSize() int {
	return len(bk.queue)
}

func (bk *BackgroundWork) GetQueueCapacity() int {
	return cap(bk.queue)
}
