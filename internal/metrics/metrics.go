// Package metrics exposes Prometheus collectors for the crawler service.
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
	cyclesTotal                *prometheus.CounterVec
	itemsKeptTotal             *prometheus.CounterVec
	pagesFetchedTotal          *prometheus.CounterVec
	storeRetriesTotal          *prometheus.CounterVec
	joinDocumentsTotal         *prometheus.CounterVec
	activeRunners              *prometheus.GaugeVec
	queueDepth                 *prometheus.GaugeVec
	sourceRequestsTotal        *prometheus.CounterVec
	sourceBytesTotal           *prometheus.CounterVec
	sessionRebuildsTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snowball_cycles_total",
				Help: "Crawl cycles run, labeled by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		)

		itemsKeptTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snowball_items_kept_total",
				Help: "New items kept by crawl cycles, labeled by stage.",
			},
			[]string{"stage"},
		)

		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snowball_pages_fetched_total",
				Help: "Source pages fetched by crawl cycles, labeled by stage.",
			},
			[]string{"stage"},
		)

		storeRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snowball_store_retries_total",
				Help: "Retries caused by an unavailable queue or record store, labeled by stage.",
			},
			[]string{"stage"},
		)

		joinDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snowball_join_documents_total",
				Help: "Schema documents produced by the join stage, labeled by status.",
			},
			[]string{"status"},
		)

		activeRunners = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "snowball_active_runners",
				Help: "Runners currently processing an entity, labeled by stage.",
			},
			[]string{"stage"},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "snowball_queue_depth",
				Help: "Last observed number of items waiting in a queue.",
			},
			[]string{"queue"},
		)

		sourceRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snowball_source_requests_total",
				Help: "Requests sent to the source site, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		sourceBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snowball_source_bytes_total",
				Help: "Bytes fetched from the source site, labeled by site.",
			},
			[]string{"site"},
		)

		sessionRebuildsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "snowball_source_session_rebuilds_total",
				Help: "Source sessions rebuilt after the site rejected a request.",
			},
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

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "snowball_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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

// ObserveCycle records one crawl cycle.
func ObserveCycle(stage, outcome string, pages, kept int) {
	Init()
	cyclesTotal.WithLabelValues(stage, outcome).Inc()
	if pages > 0 {
		pagesFetchedTotal.WithLabelValues(stage).Add(float64(pages))
	}
	if kept > 0 {
		itemsKeptTotal.WithLabelValues(stage).Add(float64(kept))
	}
}

// ObserveStoreRetry counts one retry against an unavailable store.
func ObserveStoreRetry(stage string) {
	Init()
	storeRetriesTotal.WithLabelValues(stage).Inc()
}

// ObserveJoin counts one join stage document.
func ObserveJoin(status string) {
	Init()
	joinDocumentsTotal.WithLabelValues(status).Inc()
}

// IncActiveRunners increments the active runners gauge.
func IncActiveRunners(stage string) {
	Init()
	activeRunners.WithLabelValues(stage).Inc()
}

// DecActiveRunners decrements the active runners gauge.
func DecActiveRunners(stage string) {
	Init()
	activeRunners.WithLabelValues(stage).Dec()
}

// ObserveQueueDepth records the length of a queue.
func ObserveQueueDepth(queue string, depth int64) {
	Init()
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// ObserveSourceRequest counts a response from the source site.
func ObserveSourceRequest(site string, code int, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	sourceRequestsTotal.WithLabelValues(sanitizedSite, strconv.Itoa(code)).Inc()
	if bytesFetched > 0 {
		sourceBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveSessionRebuild counts a rebuilt source session.
func ObserveSessionRebuild() {
	Init()
	sessionRebuildsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
