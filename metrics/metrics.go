package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scraped"

var (
	Scrapes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scrapes_total",
		Help:      "Scrape runs by final status",
	}, []string{"status"})

	ScrapeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scrape_duration_seconds",
		Help:      "Wall clock time of a full scrape run",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})

	SourceResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_results_total",
		Help:      "Accepted candidates per source",
	}, []string{"source"})

	SourceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_failures_total",
		Help:      "Adapter calls that ended with an error or hard stop",
	}, []string{"source"})

	FetchRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_retries_total",
		Help:      "Page fetch attempts that were retried",
	})

	CleanerDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleaner_dropped_total",
		Help:      "Cached results removed by the cleaner, by reason",
	}, []string{"reason"})

	QueuedTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_queued_tasks",
		Help:      "Scrape tasks waiting for a background worker",
	})
)
