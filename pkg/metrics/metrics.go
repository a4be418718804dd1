package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	FrontierSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawl_frontier_size",
			Help: "Current number of URLs queued across running crawls.",
		},
	)

	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_fetches_total",
			Help: "Total number of page fetches.",
		},
		[]string{"status", "error_type"}, // status: success, failure
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawl_fetch_duration_seconds",
			Help:    "Duration of page fetches.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"host"},
	)

	DiscoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawl_discovered_urls_total",
			Help: "Total number of URLs accepted into a discovered set.",
		},
	)

	ExcludedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_excluded_urls_total",
			Help: "Total number of URLs rejected by the exclusion policy.",
		},
		[]string{"reason"},
	)

	RobotsFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_robots_fetches_total",
			Help: "Total number of robots.txt fetches.",
		},
		[]string{"result"}, // result: parsed, unavailable
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_jobs_total",
			Help: "Total number of crawl jobs finished by the API workers.",
		},
		[]string{"status"},
	)
)
