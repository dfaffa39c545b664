// Package observability holds the Prometheus collectors recorded by the
// fetch pipeline and the HTTP service.
package observability

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"upstream"},
	)

	fetchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geofetch_fetch_duration_seconds",
			Help:    "End to end duration of a layer fetch, cache included.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"source"},
	)

	featuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geofetch_features_total",
			Help: "Features fetched by source and geometry kind.",
		},
		[]string{"source", "kind"},
	)

	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geofetch_exports_total",
			Help: "Files written by format.",
		},
		[]string{"format"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache results by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache backend operations by result.",
		},
		[]string{"op", "result"},
	)

	cacheOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Cache backend operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geofetch_events_total",
			Help: "Fetch events by delivery result.",
		},
		[]string{"result"},
	)
)

var (
	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geofetch_invalidations_total",
			Help: "Processed invalidation events by op and result.",
		},
		[]string{"op", "result"},
	)

	invalidatedKeysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geofetch_invalidated_keys_total",
			Help: "Cache keys removed by invalidation events.",
		},
	)

	consumerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geofetch_kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		fetchDurationSeconds, featuresTotal, exportsTotal,
		cacheResults, cacheOpTotal, cacheOpDuration, eventsTotal,
		invalidationsTotal, invalidatedKeysTotal, consumerErrorsTotal,
	}
}

// Init registers the collectors on reg. Registering on the same registry
// twice is a no-op.
func Init(reg prometheus.Registerer) {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func ObserveFetch(source, kind string, features int, d time.Duration) {
	fetchDurationSeconds.WithLabelValues(source).Observe(d.Seconds())
	if kind == "" {
		kind = "mixed"
	}
	featuresTotal.WithLabelValues(source, kind).Add(float64(features))
}

func IncExport(format string) {
	exportsTotal.WithLabelValues(format).Inc()
}

func IncCacheHit()  { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	cacheOpTotal.WithLabelValues(op, res).Inc()
	cacheOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

// IncEvent counts fetch events: published, dropped or error.
func IncEvent(result string) {
	eventsTotal.WithLabelValues(result).Inc()
}

// ObserveInvalidation records one processed invalidation event.
func ObserveInvalidation(op string, keys int, err error) {
	res := "ok"
	switch {
	case err != nil:
		res = "error"
	case keys < 0:
		res = "skipped"
	}
	invalidationsTotal.WithLabelValues(op, res).Inc()
	if keys > 0 {
		invalidatedKeysTotal.Add(float64(keys))
	}
}

func IncConsumerError(kind string) {
	consumerErrorsTotal.WithLabelValues(kind).Inc()
}
