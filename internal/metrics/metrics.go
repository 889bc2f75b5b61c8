// Package metrics exposes Prometheus collectors for the price intelligence pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "priceintel_pages_total",
			Help: "Total number of competitor pages scraped, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "priceintel_fetch_attempts_total",
			Help: "Total number of scraping proxy calls, labeled by result.",
		},
		[]string{"result"},
	)

	fetchBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "priceintel_fetch_bytes_total",
			Help: "Total number of page bytes returned by the scraping proxy.",
		},
	)

	rateLimitWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "priceintel_rate_limit_wait_seconds",
			Help:    "Histogram of time spent waiting for proxy rate limit tokens.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	strategyHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "priceintel_strategy_hits_total",
			Help: "Total number of pages whose candidates came from each extraction strategy.",
		},
		[]string{"strategy"},
	)

	candidatesRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "priceintel_candidates_rejected_total",
			Help: "Total number of price candidates dropped by validation.",
		},
	)

	productsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "priceintel_products_total",
			Help: "Total number of product scrapes, labeled by terminal state.",
		},
		[]string{"state"},
	)

	productDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "priceintel_product_scrape_seconds",
			Help:    "Histogram of end-to-end product scrape latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "priceintel_http_requests_total",
			Help: "Total number of requests served by the ops listener, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "priceintel_http_request_duration_seconds",
			Help:    "Histogram of ops listener latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "route"},
	)

	activeFetches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "priceintel_active_fetches",
			Help: "Number of competitor page tasks currently in flight.",
		},
	)
)

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

// ObservePage records the outcome of one competitor page.
func ObservePage(pageURL, outcome string) {
	pagesTotal.WithLabelValues(SanitizeSite(pageURL), outcome).Inc()
}

// ObserveFetchAttempt records one proxy call and the bytes it returned.
func ObserveFetchAttempt(result string, bytesFetched int) {
	fetchAttemptsTotal.WithLabelValues(result).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	rateLimitWaitSeconds.Observe(duration.Seconds())
}

// ObserveStrategyHit counts a page resolved by the named strategy.
func ObserveStrategyHit(strategy string) {
	strategyHitsTotal.WithLabelValues(strategy).Inc()
}

// ObserveRejectedCandidate counts a candidate dropped during validation.
func ObserveRejectedCandidate() {
	candidatesRejectedTotal.Inc()
}

// ObserveProduct records a finished product scrape.
func ObserveProduct(state string, duration time.Duration) {
	productsTotal.WithLabelValues(state).Inc()
	if duration > 0 {
		productDurationSeconds.Observe(duration.Seconds())
	}
}

// IncActiveFetches increments the in-flight task gauge.
func IncActiveFetches() {
	activeFetches.Inc()
}

// DecActiveFetches decrements the in-flight task gauge.
func DecActiveFetches() {
	activeFetches.Dec()
}

// ObserveHTTPRequest records one request served by the ops listener.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
