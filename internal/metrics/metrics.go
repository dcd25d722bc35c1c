// Package metrics exposes Prometheus collectors for the crawler.
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
	urlsTotal                  *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fieldsExtractedTotal       *prometheus.CounterVec
	patternsLearnedTotal       *prometheus.CounterVec
	politenessWaitSeconds      prometheus.Histogram
	robotsFailOpenTotal        prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		urlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skicrawler_urls_total",
				Help: "URLs that reached a terminal outcome, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skicrawler_fetch_attempts_total",
				Help: "Fetch attempts, labeled by result.",
			},
			[]string{"result"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skicrawler_fetch_duration_seconds",
				Help:    "Page load latency, labeled by backend.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"backend"},
		)

		fieldsExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skicrawler_fields_extracted_total",
				Help: "Extracted field values, labeled by field and cascade stage.",
			},
			[]string{"field", "method"},
		)

		patternsLearnedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skicrawler_patterns_learned_total",
				Help: "Patterns added to the pattern bank by heuristic mining.",
			},
			[]string{"field"},
		)

		politenessWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "skicrawler_politeness_wait_seconds",
				Help:    "Time spent waiting on per-domain politeness delays.",
				Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10},
			},
		)

		robotsFailOpenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "skicrawler_robots_fail_open_total",
				Help: "robots.txt downloads that failed and defaulted to allow.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skicrawler_http_requests_total",
				Help: "Requests served by the status listener, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skicrawler_http_request_duration_seconds",
				Help:    "Status listener latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
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

// ObserveURLOutcome counts a URL reaching succeeded, blocked, failed or skipped.
func ObserveURLOutcome(outcome string) {
	Init()
	urlsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchAttempt counts one fetch attempt.
func ObserveFetchAttempt(result string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveFetchDuration records the latency of one backend load.
func ObserveFetchDuration(backend string, d time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(backend).Observe(d.Seconds())
}

// ObserveFieldExtracted counts one extracted value.
func ObserveFieldExtracted(field, method string) {
	Init()
	fieldsExtractedTotal.WithLabelValues(field, method).Inc()
}

// ObservePatternLearned counts a newly registered pattern.
func ObservePatternLearned(field string) {
	Init()
	patternsLearnedTotal.WithLabelValues(field).Inc()
}

// ObservePolitenessWait records a per-domain wait.
func ObservePolitenessWait(d time.Duration) {
	Init()
	politenessWaitSeconds.Observe(d.Seconds())
}

// ObserveRobotsFailOpen counts a robots.txt failure that defaulted to allow.
func ObserveRobotsFailOpen() {
	Init()
	robotsFailOpenTotal.Inc()
}

// ObserveHTTPRequest records one request served by the status listener.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
