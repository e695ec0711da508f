package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatbat_http_request_duration_seconds",
			Help:    "HTTP request duration, excluding event streams",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Submission metrics
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbat_submissions_total",
			Help: "Submissions by request kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	MessagesAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbat_messages_appended_total",
			Help: "Messages appended to the log",
		},
	)

	JournalPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbat_journal_publishes_total",
			Help: "Journal publishes by class and result",
		},
		[]string{"class", "result"},
	)

	// Stream metrics
	StreamSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatbat_stream_sessions",
			Help: "Open event stream sessions",
		},
	)

	StreamEventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbat_stream_events_sent_total",
			Help: "Events written to streams by type",
		},
		[]string{"type"},
	)

	StreamFallbackRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbat_stream_fallback_refreshes_total",
			Help: "Full refreshes sent in place of an incremental update",
		},
		[]string{"reason"},
	)
)
