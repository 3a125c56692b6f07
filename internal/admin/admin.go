// Package admin serves the operator-facing HTTP endpoints: liveness, direct
// access to cache entries by key, and pprof under /debug.
package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/die-net/cacheproxy/internal/cache"
)

// NewRouter returns the admin handler for store.
//
//	GET    /healthz            200 "ok"
//	GET    /cache?key=<line>   raw cached bytes, or 404
//	HEAD   /cache?key=<line>   200 or 404
//	DELETE /cache?key=<line>   204
//	/debug/*                   net/http/pprof
func NewRouter(store cache.Store, logger zerolog.Logger) http.Handler {
	h := &handler{store: store, log: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Route("/cache", func(r chi.Router) {
		r.Use(requireKey)
		r.Get("/", h.getEntry)
		r.Head("/", h.headEntry)
		r.Delete("/", h.deleteEntry)
	})

	r.Mount("/debug", middleware.Profiler())

	return r
}

type handler struct {
	store cache.Store
	log   zerolog.Logger
}

func requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") == "" {
			http.Error(w, "missing key parameter", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) getEntry(w http.ResponseWriter, r *http.Request) {
	v, err := h.store.Get(r.Context(), r.URL.Query().Get("key"))
	if errors.Is(err, cache.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.storeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(v)))
	_, _ = w.Write(v)
}

func (h *handler) headEntry(w http.ResponseWriter, r *http.Request) {
	ok, err := h.store.Contains(r.Context(), r.URL.Query().Get("key"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if err := h.store.Remove(r.Context(), key); err != nil {
		h.storeError(w, err)
		return
	}
	h.log.Info().Str("key", key).Msg("cache entry removed")
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) storeError(w http.ResponseWriter, err error) {
	h.log.Error().Err(err).Msg("cache store failed")
	http.Error(w, "cache store error", http.StatusInternalServerError)
}

func (h *handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Msg("admin request")
	})
}
