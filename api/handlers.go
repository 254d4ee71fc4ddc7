package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/109isaque10/scraped/caching"
	"github.com/109isaque10/scraped/orchestrator"
	"github.com/109isaque10/scraped/results"
	"github.com/109isaque10/scraped/types"
)

// Scraper is what the HTTP surface needs from the orchestrator
type Scraper interface {
	TriggerScrape(ctx context.Context, mediaID string, opts orchestrator.ScrapeOptions) orchestrator.ScrapeStatus
	TriggerClean(ctx context.Context, mediaID string, opts orchestrator.CleanOptions) error
	Request(ctx context.Context, mediaID string) error
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// result orderings of GET /api/results
const (
	OrderSize      = "size"
	OrderFrequency = "frequency"
)

type ResultsResponse struct {
	Key     string               `json:"key"`
	Page    int                  `json:"page"`
	Order   string               `json:"order"`
	Results []types.ScrapeResult `json:"results"`
}

type Handler struct {
	scraper  Scraper
	store    caching.Store
	registry *prometheus.Registry
}

// NewHandler builds the API handler. A nil registry disables /metrics.
func NewHandler(scraper Scraper, store caching.Store, registry *prometheus.Registry) *Handler {
	return &Handler{scraper: scraper, store: store, registry: registry}
}

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	h.Routes(r)
	return r
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	if h.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/scrape/{id}", h.HandleScrape)
		r.Post("/clean/{id}", h.HandleClean)
		r.Post("/request/{id}", h.HandleRequest)
		r.Get("/results/{key}", h.HandleResults)
	})
}

func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

func urlParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleScrape runs a scrape to completion. The run outlives a dropped client
// connection so its markers are always settled.
func (h *Handler) HandleScrape(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	override, _ := strconv.ParseBool(r.URL.Query().Get("override"))

	status := h.scraper.TriggerScrape(context.WithoutCancel(r.Context()), id, orchestrator.ScrapeOptions{Override: override})

	code := http.StatusOK
	if status.Status == orchestrator.StatusError {
		code = http.StatusBadGateway
	}
	RespondJSON(w, code, status)
}

func (h *Handler) HandleClean(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	bump, _ := strconv.ParseBool(r.URL.Query().Get("bump"))

	if err := h.scraper.TriggerClean(context.WithoutCancel(r.Context()), id, orchestrator.CleanOptions{BumpTimestamp: bump}); err != nil {
		log.Error().Err(err).Str("id", id).Msg("clean failed")
		RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.scraper.Request(r.Context(), id); err != nil {
		log.Error().Err(err).Str("id", id).Msg("request failed")
		RespondError(w, http.StatusInternalServerError, "could not queue request")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) HandleResults(w http.ResponseWriter, r *http.Request) {
	key, err := types.ParseMediaKey(urlParam(r, "key"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if key.Kind.IsMarker() {
		RespondError(w, http.StatusBadRequest, "not a result key")
		return
	}

	q := r.URL.Query()
	page := 0
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 0 {
			RespondError(w, http.StatusBadRequest, "invalid page")
			return
		}
	}
	maxSize := 0.0
	if v := q.Get("maxSize"); v != "" {
		if maxSize, err = strconv.ParseFloat(v, 64); err != nil || maxSize < 0 {
			RespondError(w, http.StatusBadRequest, "invalid maxSize")
			return
		}
	}

	order := q.Get("order")
	switch order {
	case "":
		order = OrderSize
	case OrderSize, OrderFrequency:
	default:
		RespondError(w, http.StatusBadRequest, "invalid order")
		return
	}

	exists, err := h.store.Exists(r.Context(), key)
	if err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("results lookup failed")
		RespondError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if !exists {
		RespondError(w, http.StatusNotFound, "no results for "+key.String())
		return
	}

	items, err := h.page(r.Context(), key, order, maxSize, page)
	if err != nil {
		log.Error().Err(err).Str("key", key.String()).Msg("results page failed")
		RespondError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if items == nil {
		items = []types.ScrapeResult{}
	}

	RespondJSON(w, http.StatusOK, ResultsResponse{Key: key.String(), Page: page, Order: order, Results: items})
}

// page reads one page of key. Stored records are sorted by size, the frequency
// order regroups the whole record before paging.
func (h *Handler) page(ctx context.Context, key types.MediaKey, order string, maxSize float64, page int) ([]types.ScrapeResult, error) {
	if order != OrderFrequency {
		return h.store.Page(ctx, key, maxSize, page)
	}
	all, _, err := h.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return caching.PageOf(results.GroupByFrequency(all), maxSize, page), nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
