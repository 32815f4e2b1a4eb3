// Package api serves layer listings and suitability results over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/geospatial"
	"github.com/warpaintvision/shopsite/internal/layer"
	"github.com/warpaintvision/shopsite/internal/metrics"
	"github.com/warpaintvision/shopsite/internal/planar"
	"github.com/warpaintvision/shopsite/internal/suitability"
)

const (
	// DefaultListingLimit caps the features returned by /geodb/points and
	// /geodb/data when no WithListingLimit option is given.
	DefaultListingLimit = 1000
	// DefaultRequestTimeout bounds one suitability computation in /geodb/area.
	DefaultRequestTimeout = 60 * time.Second
)

// Computer runs the suitability pipeline. *suitability.Engine satisfies it.
type Computer interface {
	Compute(ctx context.Context, layers layer.Layers, cfg suitability.Config) (*suitability.RankedResult, error)
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	source      layer.Source
	engine      Computer
	filter      *layer.FilterTable
	areas       map[string]layer.BBox
	defaultArea string
	cfg         suitability.Config
	proj        planar.Projection
	cache       geospatial.ResponseCache
	limit       int
	timeout     time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithCache caches rendered suitability responses. A nil cache disables
// caching.
func WithCache(c geospatial.ResponseCache) Option {
	return func(s *Server) { s.cache = c }
}

// WithSuitabilityConfig sets the pipeline parameters used by /geodb/area.
func WithSuitabilityConfig(cfg suitability.Config) Option {
	return func(s *Server) { s.cfg = cfg }
}

// WithProjection sets the projection used to write coordinates back to
// WGS84. Without it coordinates are written as loaded.
func WithProjection(p planar.Projection) Option {
	return func(s *Server) { s.proj = p }
}

// WithListingLimit caps listing responses.
func WithListingLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithRequestTimeout bounds a suitability computation.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithDefaultArea names the area used when a request omits ?area.
func WithDefaultArea(name string) Option {
	return func(s *Server) { s.defaultArea = name }
}

// NewServer creates a Server over the named areas.
func NewServer(source layer.Source, engine Computer, filter *layer.FilterTable, areas map[string]layer.BBox, opts ...Option) *Server {
	if filter == nil {
		filter = layer.DefaultFilterTable()
	}
	s := &Server{
		source:  source,
		engine:  engine,
		filter:  filter,
		areas:   areas,
		cfg:     suitability.DefaultConfig(),
		limit:   DefaultListingLimit,
		timeout: DefaultRequestTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if _, ok := s.areas[s.defaultArea]; !ok {
		s.defaultArea = firstArea(s.areas)
	}
	return s
}

func firstArea(areas map[string]layer.BBox) string {
	if _, ok := areas["szeged"]; ok {
		return "szeged"
	}
	names := make([]string, 0, len(areas))
	for n := range areas {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// Router returns the HTTP handler with permissive CORS.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(countRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/geodb", func(r chi.Router) {
		r.Get("/points", s.handlePoints)
		r.Get("/data", s.handleData)
		r.Get("/area", s.handleArea)
	})
	return r
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
		status = http.StatusInternalServerError
		data = []byte(`{"detail":"encode response"}`)
	}
	writeRaw(w, status, "application/json", data)
}

func writeRaw(w http.ResponseWriter, status int, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
