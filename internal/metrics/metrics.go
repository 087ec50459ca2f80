// Package metrics exposes Prometheus collectors for page transport and the
// status API, and pushes them to a Pushgateway at the end of a run.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	pagesTotal                 *prometheus.CounterVec
	pageBytesTotal             *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	browserTerminationsTotal   prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderwatch_pages_total",
				Help: "Total number of portal pages fetched, labeled by site, renderer and status.",
			},
			[]string{"site", "renderer", "status"},
		)

		pageBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderwatch_page_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderwatch_fetch_retries_total",
				Help: "Total number of page fetch retries, labeled by site.",
			},
			[]string{"site"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenderwatch_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		browserTerminationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tenderwatch_browser_terminations_total",
				Help: "Total number of headless browsers killed after a unit timeout.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderwatch_api_requests_total",
				Help: "Status API requests by route and response code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenderwatch_api_request_duration_seconds",
				Help:    "Status API latency by route.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.5, 2},
			},
			[]string{"method", "route"},
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

// ObservePage records one page fetch.
func ObservePage(site, renderer, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	pagesTotal.WithLabelValues(sanitizedSite, renderer, status).Inc()
	if bytesFetched > 0 {
		pageBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRetry records a retried page fetch.
func ObserveRetry(site string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveBrowserTermination records a hard browser kill.
func ObserveBrowserTermination() {
	Init()
	browserTerminationsTotal.Inc()
}

// ObserveHTTPRequest records one status API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Push sends everything in g to a Pushgateway under job, grouped by purpose.
// An empty gatewayURL is a no-op.
func Push(ctx context.Context, gatewayURL, job, purpose string, g prometheus.Gatherer) error {
	if gatewayURL == "" {
		return nil
	}
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	pusher := push.New(gatewayURL, job).Gatherer(g)
	if purpose != "" {
		pusher = pusher.Grouping("purpose", purpose)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
