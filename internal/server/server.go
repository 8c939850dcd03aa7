// Package server exposes the HTTP surface the external scheduler drives:
// health, metrics, sweep triggers and single-product resolution.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/sweep"
)

// Sweeper is the part of *sweep.Sweeper the server drives.
type Sweeper interface {
	Start(ctx context.Context) error
	Running() bool
	Last() *sweep.Summary
	ResolveOne(ctx context.Context, productID string) (*sweep.ProductResult, error)
}

// Server routes requests to a Sweeper.
type Server struct {
	sweeper     Sweeper
	metrics     http.Handler
	corsOrigins []string
	// base outlives individual requests; background sweeps run under it.
	base context.Context
}

// New creates a Server. Background sweeps are canceled when base is.
func New(base context.Context, sw Sweeper, metrics http.Handler, corsOrigins []string) *Server {
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &Server{sweeper: sw, metrics: metrics, corsOrigins: corsOrigins, base: base}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", s.metrics)
	r.Post("/sweeps", s.startSweep)
	r.Get("/sweeps/latest", s.latestSweep)
	r.Post("/products/{id}/resolve", s.resolveProduct)
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sweepRunning": s.sweeper.Running()})
}

func (s *Server) startSweep(w http.ResponseWriter, _ *http.Request) {
	err := s.sweeper.Start(s.base)
	if errors.Is(err, sweep.ErrAlreadyRunning) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "sweep already running"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) latestSweep(w http.ResponseWriter, _ *http.Request) {
	last := s.sweeper.Last()
	if last == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no sweep has finished yet"})
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Server) resolveProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.sweeper.ResolveOne(r.Context(), id)
	if sweep.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found", "productId": id})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	zap.L().Error("server: request failed", zap.Error(err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
