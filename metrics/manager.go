package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/109isaque10/scraped/caching"
)

type Manager struct {
	registry *prometheus.Registry
}

func NewManager(store caching.Store) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(Scrapes, ScrapeDuration, SourceResults, SourceFailures, FetchRetries, CleanerDropped, QueuedTasks)

	if store != nil {
		registry.MustRegister(NewCacheCollector(store))
	}

	log.Info().Msg("Metrics manager initialized with cache collector")

	return &Manager{registry: registry}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// CacheCollector reports how many keys of each kind the store holds
type CacheCollector struct {
	store caching.Store
	keys  *prometheus.Desc
}

func NewCacheCollector(store caching.Store) *CacheCollector {
	return &CacheCollector{
		store: store,
		keys: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "keys"),
			"Cached keys by kind",
			[]string{"kind"}, nil,
		),
	}
}

func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keys
}

func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := c.store.Stats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not collect cache stats")
		return
	}
	for kind, n := range stats {
		ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(n), kind.String())
	}
}
