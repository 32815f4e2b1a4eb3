// Package metrics exposes the Prometheus collectors of the siting service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shopsite_suitability_run_duration_seconds",
		Help:    "Duration of suitability runs",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})
	RunFaces = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shopsite_suitability_faces",
		Help:    "Number of ranked faces returned per run",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
	RunErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shopsite_suitability_errors_total",
		Help: "Suitability runs that failed",
	})
	FallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopsite_service_area_fallback_total",
		Help: "Access buffers built from the fallback radius, by reason",
	}, []string{"reason"})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopsite_cache_hits_total",
		Help: "Cache hits by cache",
	}, []string{"cache"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopsite_cache_misses_total",
		Help: "Cache misses by cache",
	}, []string{"cache"})
	IsochroneRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopsite_isochrone_requests_total",
		Help: "Isochrone API requests by outcome",
	}, []string{"outcome"})
	IsochroneDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shopsite_isochrone_request_duration_ms",
		Help:    "Isochrone API call duration in milliseconds",
		Buckets: []float64{50, 100, 200, 500, 1000, 2000, 5000, 10000},
	})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopsite_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"route", "status"})
)

func init() {
	prometheus.MustRegister(RunDurationSeconds)
	prometheus.MustRegister(RunFaces)
	prometheus.MustRegister(RunErrorsTotal)
	prometheus.MustRegister(FallbackTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(IsochroneRequestsTotal)
	prometheus.MustRegister(IsochroneDurationMs)
	prometheus.MustRegister(HTTPRequestsTotal)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
