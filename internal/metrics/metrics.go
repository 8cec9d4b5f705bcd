// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UpstreamRequests counts calls to the remote mail service.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cwmail_upstream_requests_total",
			Help: "Requests made to the remote mail service",
		},
		[]string{"operation", "outcome"}, // outcome: ok, status, transport
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cwmail_upstream_request_duration_seconds",
			Help:    "Remote mail service request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"operation"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cwmail_http_request_duration_seconds",
			Help:    "Page request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"route", "status"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cwmail_messages_sent_total",
			Help: "Messages accepted by the remote mail service",
		},
		[]string{"channel", "self_destruct"}, // channel: web, smtp
	)
)

func RecordUpstream(operation, outcome string, duration time.Duration) {
	UpstreamRequests.WithLabelValues(operation, outcome).Inc()
	UpstreamDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordHTTPRequest(route string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementMessagesSent(channel string, readLimit int) {
	MessagesSent.WithLabelValues(channel, strconv.FormatBool(readLimit > 0)).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
