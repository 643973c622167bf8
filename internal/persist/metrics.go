package persist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catchd_stats_requests_enqueued_total",
		Help: "Total number of persistence requests accepted by the queue",
	}, []string{"op"})

	requestsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catchd_stats_requests_processed_total",
		Help: "Total number of persistence requests completed successfully",
	}, []string{"op"})

	requestsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catchd_stats_requests_failed_total",
		Help: "Total number of persistence requests that failed",
	}, []string{"op"})

	requestsShed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catchd_stats_requests_shed_total",
		Help: "Total number of persistence requests rejected because a worker queue was full",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catchd_stats_queue_depth",
		Help: "Current number of queued persistence requests",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catchd_stats_request_duration_seconds",
		Help:    "Duration of persistence requests against the store",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)
