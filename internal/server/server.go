// Package server exposes seed search, experiment analysis and sample-size
// planning over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/abtest-cli/internal/config"
	"github.com/sells-group/abtest-cli/internal/experr"
	"github.com/sells-group/abtest-cli/internal/monitoring"
	"github.com/sells-group/abtest-cli/internal/seedfinder"
)

const maxBodyBytes = 32 << 20

// Server holds the HTTP handlers and their shared dependencies.
type Server struct {
	cfg       *config.Config
	collector *monitoring.Collector
	gatherer  prometheus.Gatherer
	limiter   *rate.Limiter
	version   string

	// newRNG supplies the seed generator for each search.
	newRNG func() *rand.Rand
}

// New creates a Server. collector may be nil, in which case no metrics are
// recorded and /metrics serves gatherer alone.
func New(cfg *config.Config, collector *monitoring.Collector, gatherer prometheus.Gatherer, version string) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:       cfg,
		collector: collector,
		gatherer:  gatherer,
		limiter:   rate.NewLimiter(rate.Limit(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst),
		version:   version,
		newRNG:    func() *rand.Rand { return nil },
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/rerandomization", s.handleRerandomization)
		r.Post("/experiment-analysis", s.handleExperimentAnalysis)
		r.Post("/sample-size", s.handleSampleSize)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "abtest-cli server is running",
		"version": s.version,
	})
}

// logRequests logs each request and records it with the collector under
// its route pattern.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
		if s.collector != nil {
			s.collector.RecordHTTPRequest(r.Method, route, status, elapsed)
		}
	})
}

// rateLimit rejects requests beyond the shared token bucket with 429.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

// writeError maps caller mistakes to 400 and everything else to 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case experr.IsConfig(err), experr.IsData(err), errors.Is(err, seedfinder.ErrSearchExhausted):
		status = http.StatusBadRequest
	default:
		zap.L().Error("server: request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
