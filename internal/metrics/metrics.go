// Package metrics exposes Prometheus collectors for the search service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestone_pages_fetched_total",
			Help: "Total number of pages fetched, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	documentsIndexedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestone_documents_indexed_total",
			Help: "Total number of documents processed, labeled by final state.",
		},
		[]string{"state"},
	)

	queriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lodestone_queries_total",
			Help: "Total number of search queries executed.",
		},
	)

	queryDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lodestone_query_duration_seconds",
			Help:    "Histogram of search query latencies.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lodestone_active_workers",
			Help: "Number of workers currently processing a target.",
		},
	)

	frontierDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lodestone_frontier_depth",
			Help: "Number of targets waiting in the crawl frontier.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lodestone_rate_limit_delays_seconds",
			Help:    "Histogram of per-host politeness wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	indexedDocuments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lodestone_indexed_documents",
			Help: "Documents currently visible in the lexical index.",
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

// ObserveFetch increments the page fetch counter.
func ObserveFetch(site string, outcome string) {
	pagesFetchedTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveDocument increments the document counter for a final state.
func ObserveDocument(state string) {
	documentsIndexedTotal.WithLabelValues(state).Inc()
}

// ObserveQuery records one executed query and its latency.
func ObserveQuery(duration time.Duration) {
	queriesTotal.Inc()
	queryDurationSeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// SetFrontierDepth records the current frontier queue depth.
func SetFrontierDepth(n int) {
	frontierDepth.Set(float64(n))
}

// SetIndexedDocuments records the current lexical index document count.
func SetIndexedDocuments(n int) {
	indexedDocuments.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
