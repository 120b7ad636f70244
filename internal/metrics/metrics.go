package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts API requests by route group and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lexwrite",
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by route group and status code.",
	}, []string{"route", "status"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lexwrite",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lexwrite",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// AssistRequestsTotal counts LLM proxy calls by action and outcome.
	AssistRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lexwrite",
		Subsystem: "ai",
		Name:      "requests_total",
		Help:      "Total AI assist and citation requests by action and outcome.",
	}, []string{"action", "outcome"})

	// AssistDuration tracks upstream LLM latency.
	AssistDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lexwrite",
		Subsystem: "ai",
		Name:      "upstream_duration_seconds",
		Help:      "LLM upstream call duration in seconds.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 120},
	}, []string{"action"})

	// AutosaveTotal counts debounced saves by outcome (saved, failed, cancelled).
	AutosaveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lexwrite",
		Subsystem: "editor",
		Name:      "autosave_total",
		Help:      "Debounced autosave outcomes.",
	}, []string{"outcome"})

	// AutosavePending is the number of documents waiting for their quiet period.
	AutosavePending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lexwrite",
		Subsystem: "editor",
		Name:      "autosave_pending",
		Help:      "Documents with a scheduled autosave.",
	})

	// LiveConnections is the number of open editor websockets.
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lexwrite",
		Subsystem: "editor",
		Name:      "live_connections",
		Help:      "Open editor websocket connections.",
	})
)
