package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/109isaque10/scraped/api"
	"github.com/109isaque10/scraped/caching"
	"github.com/109isaque10/scraped/config"
	"github.com/109isaque10/scraped/matching"
	"github.com/109isaque10/scraped/metadata"
	"github.com/109isaque10/scraped/metrics"
	"github.com/109isaque10/scraped/orchestrator"
	"github.com/109isaque10/scraped/scrapers"
	"github.com/109isaque10/scraped/torrentManager"
	"github.com/109isaque10/scraped/worker"
)

type Application struct {
	cfg   *config.Config
	store caching.Store
	tmdb  *metadata.TMDBProvider
	orch  *orchestrator.Orchestrator
}

func NewApplication(ctx context.Context, configPath string) (*Application, error) {
	appCfg, err := config.New(configPath, version)
	if err != nil {
		return nil, err
	}
	appCfg.ApplyLogConfig()
	cfg := appCfg.Config

	store, err := caching.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	log.Info().Str("engine", cfg.DatabaseEngine).Msg("✅ Cache store initialized")

	app, err := wire(cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return app, nil
}

func wire(cfg *config.Config, store caching.Store) (*Application, error) {
	client, err := scrapers.NewHTTPClient(scrapers.ProxyConfig{URL: cfg.ProxyURL})
	if err != nil {
		return nil, errors.Wrap(err, "http client")
	}
	fetcher := scrapers.NewFetcher(client)
	resolver := torrentManager.NewResolver(client, 0)

	adapters, err := scrapers.BuildAdapters(cfg.Endpoints(), scrapers.Deps{
		Fetcher:  fetcher,
		Resolver: resolver,
		Bounds:   matching.DefaultBounds,
	})
	if err != nil {
		return nil, errors.Wrap(err, "source adapters")
	}

	if cfg.TMDBAPIKey == "" {
		log.Warn().Msg("⚠️ No TMDB API key configured, metadata lookups will fail")
	}
	tmdb := metadata.NewTMDBProvider(cfg.TMDBAPIKey, fetcher, cfg.MetadataTTL)
	lookup := metadata.NewSources(tmdb)
	if cfg.KitsuURL != "" {
		lookup.Register("kitsu", metadata.NewKitsuProvider(cfg.KitsuURL, fetcher, cfg.MetadataTTL))
	}

	orch := orchestrator.New(orchestrator.Deps{
		Store:    store,
		Lookup:   lookup,
		Adapters: adapters,
	}, orchestrator.Options{
		StaleProcessingAfter: cfg.StaleProcessingAfter,
		VariantConcurrency:   cfg.VariantConcurrency,
		Bounds:               matching.DefaultBounds,
	})

	return &Application{cfg: cfg, store: store, tmdb: tmdb, orch: orch}, nil
}

func (app *Application) Close() {
	if err := app.store.Close(); err != nil {
		log.Error().Err(err).Msg("⚠️ Failed to close store")
	}
}

func (app *Application) runServer() error {
	var trending worker.TrendingSource
	if app.cfg.TMDBAPIKey != "" {
		trending = app.tmdb
	}

	bk, err := worker.NewBackgroundWorker(app.orch, trending, app.cfg.WorkerOptions())
	if err != nil {
		return err
	}
	bk.Start()

	var registry *prometheus.Registry
	if app.cfg.MetricsEnabled {
		registry = metrics.NewManager(app.store).GetRegistry()
	}

	server := &http.Server{
		Addr:              app.cfg.Addr(),
		Handler:           api.NewRouter(api.NewHandler(app.orch, app.store, registry)),
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("🚀 Server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("🛑 Starting graceful shutdown...")
	case err := <-errCh:
		log.Error().Err(err).Msg("❌ Server failed")
		bk.Stop()
		return err
	}

	gracefulShutdown(server, bk)
	return nil
}

func gracefulShutdown(server *http.Server, bk *worker.BackgroundWork) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("⚠️ Server shutdown error")
	} else {
		log.Info().Msg("✅ HTTP server stopped")
	}

	// interrupted scrapes keep their processing marker and are reclaimed on the next start
	bk.Stop()

	log.Info().Msg("✅ Graceful shutdown complete")
}
