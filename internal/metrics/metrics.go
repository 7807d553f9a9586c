// Package metrics exposes Prometheus collectors for the POI search service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	upstreamRequestsTotal       *prometheus.CounterVec
	upstreamRequestDuration     prometheus.Histogram
	upstreamRetriesTotal        *prometheus.CounterVec
	upstreamExhaustedTotal      prometheus.Counter
	rateLimitDelaysSeconds      *prometheus.HistogramVec
	regionsTotal                *prometheus.CounterVec
	regionRecords               prometheus.Histogram
	pageCacheTotal              *prometheus.CounterVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec
	resultStoreSaveDurationSecs *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poi_upstream_requests_total",
				Help: "Upstream page requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		upstreamRequestDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "poi_upstream_request_duration_seconds",
				Help:    "Latency of individual upstream page requests.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		upstreamRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poi_upstream_retries_total",
				Help: "Retries scheduled after a failed attempt, labeled by reason.",
			},
			[]string{"reason"},
		)

		upstreamExhaustedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "poi_upstream_exhausted_total",
				Help: "Page requests that used their whole attempt budget without success.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poi_rate_limit_delays_seconds",
				Help:    "Histogram of local rate limit wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)

		regionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poi_regions_total",
				Help: "Regions searched, labeled by outcome (complete, truncated, empty).",
			},
			[]string{"outcome"},
		)

		regionRecords = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "poi_region_records",
				Help:    "Number of records collected per region.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		)

		pageCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poi_page_cache_total",
				Help: "Page cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		resultStoreSaveDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poi_result_store_save_seconds",
				Help:    "Time spent persisting an aggregate, labeled by backend.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"backend"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstreamRequest records one upstream attempt.
func ObserveUpstreamRequest(outcome string, duration time.Duration) {
	Init()
	upstreamRequestsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		upstreamRequestDuration.Observe(duration.Seconds())
	}
}

// ObserveRetry increments the retry counter for reason.
func ObserveRetry(reason string) {
	Init()
	upstreamRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveExhausted counts a page request that ran out of attempts.
func ObserveExhausted() {
	Init()
	upstreamExhaustedTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveRegion records the outcome and size of a finished region.
func ObserveRegion(outcome string, records int) {
	Init()
	regionsTotal.WithLabelValues(outcome).Inc()
	regionRecords.Observe(float64(records))
}

// ObservePageCache records a page cache hit or miss.
func ObservePageCache(result string) {
	Init()
	pageCacheTotal.WithLabelValues(result).Inc()
}

// ObserveResultSave records how long a backend took to persist an aggregate.
func ObserveResultSave(backend string, duration time.Duration) {
	Init()
	resultStoreSaveDurationSecs.WithLabelValues(backend).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
