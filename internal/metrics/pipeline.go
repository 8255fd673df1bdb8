package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobsTotal, cacheRequestsTotal, extractPagesTotal, analysisLatency, progressDropped)
}

var jobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_jobs_total",
		Help: "Research jobs reaching a terminal status.",
	},
	[]string{"status"},
)

var cacheRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_cache_requests_total",
		Help: "Query and URL cache lookups by result.",
	},
	[]string{"cache", "result"}, // cache="query"|"url", result="hit"|"miss"|"error"
)

var extractPagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_extract_pages_total",
		Help: "Pages extracted per strategy and outcome.",
	},
	[]string{"strategy", "result"},
)

var analysisLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "research_analysis_latency_ms",
		Help:    "Latency of analysis provider calls in milliseconds.",
		Buckets: []float64{500, 1000, 2500, 5000, 10000, 20000, 40000, 80000},
	},
	[]string{"provider", "model", "success"},
)

var progressDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "research_progress_events_dropped_total",
		Help: "Progress events dropped because a buffer was full.",
	},
)

func IncJob(status string) {
	jobsTotal.WithLabelValues(norm(status)).Inc()
}

func IncCacheRequest(cache, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cache), norm(result)).Inc()
}

func IncExtractPage(strategy string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	extractPagesTotal.WithLabelValues(norm(strategy), result).Inc()
}

func ObserveAnalysis(provider, model string, success bool, elapsed time.Duration) {
	analysisLatency.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(elapsed.Milliseconds()))
}

func IncProgressDropped() {
	progressDropped.Inc()
}
