package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestedHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "umami_ingest_hits_total",
			Help: "Hits processed by the ingest writer, by outcome",
		},
		[]string{"outcome"},
	)

	WriteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "umami_ingest_write_retries_total",
			Help: "Event write units retried after a transient storage failure",
		},
	)

	SessionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "umami_session_create_conflicts_total",
			Help: "Session inserts that lost a race and re-read the winner",
		},
	)

	DegradedQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "umami_stats_degraded_queries_total",
			Help: "Aggregation queries served by the fallback scan because an index was missing",
		},
		[]string{"dimension"},
	)

	TenantMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "umami_tenant_mismatch_total",
			Help: "Requests denied for addressing a website outside the caller's scope",
		},
	)

	MirrorFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "umami_mirror_failures_total",
			Help: "Committed events that could not be copied to ClickHouse",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)
