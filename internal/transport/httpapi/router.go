// Package httpapi wires the server's HTTP surface: health, metrics, the
// loopback-only admin API and the viewer websocket.
package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tilesync.io/internal/sim/world"
)

type RouterConfig struct {
	// World is required.
	World *world.World

	// WS serves /v1/ws when set.
	WS http.Handler
	// Metrics serves /metrics when set.
	Metrics http.Handler

	EnableAdmin bool
	// EnablePprof mounts net/http/pprof under /debug, loopback only.
	EnablePprof bool
	// CORSOrigins defaults to localhost origins.
	CORSOrigins []string
	// LogRequests enables the chi request logger.
	LogRequests bool
}

type handlers struct {
	world *world.World
}

// NewRouter builds the router. It starts no goroutines and opens no
// listeners, so tests can wrap it in httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	if cfg.LogRequests {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if origins == nil {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	h := &handlers{world: cfg.World}

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	if cfg.EnableAdmin {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(loopbackOnly)
			r.Get("/state", h.handleState)
			r.Post("/snapshot", h.handleSnapshot)
		})
	}
	if cfg.EnablePprof {
		r.With(loopbackOnly).Mount("/debug", middleware.Profiler())
	}
	if cfg.WS != nil {
		r.Method(http.MethodGet, "/v1/ws", cfg.WS)
	}
	return r
}

func (h *handlers) handleState(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := h.world.RequestState(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, struct {
		State   world.AdminState   `json:"state"`
		Metrics world.WorldMetrics `json:"metrics"`
	}{
		State:   st,
		Metrics: h.world.Metrics(),
	})
}

func (h *handlers) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	tick, err := h.world.RequestSnapshot(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
