// Package metrics exposes Prometheus instrumentation for the platform.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector registered with a single registry so
// tests can create isolated instances.
type Metrics struct {
	Registry *prometheus.Registry

	EventsReceived    *prometheus.CounterVec
	EventsBypassed    prometheus.Counter
	EventsDropped     prometheus.Counter
	QueueDepth        prometheus.Gauge
	RiskScore         prometheus.Histogram
	ExecutionsStarted prometheus.Counter
	ExecutionsDone    *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	StepRetries       prometheus.Counter
	AccessDecisions   *prometheus.CounterVec
	TrustScore        prometheus.Histogram
	DefenseActions    *prometheus.CounterVec
	FeedMerged        prometheus.Counter
	FeedErrors        prometheus.Counter
	Escalations       *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New builds a Metrics set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "soar",
			Name:      "events_received_total",
			Help:      "Security events received, by severity.",
		}, []string{"severity"}),
		EventsBypassed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "soar",
			Name:      "events_bypassed_total",
			Help:      "Critical events that bypassed the queue.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "soar",
			Name:      "events_dropped_total",
			Help:      "Events rejected because the queue was full.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "secops",
			Subsystem: "soar",
			Name:      "queue_depth",
			Help:      "Events currently waiting in the queue.",
		}),
		RiskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "secops",
			Subsystem: "analysis",
			Name:      "risk_score",
			Help:      "Distribution of ensemble risk scores.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		ExecutionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "playbook",
			Name:      "executions_started_total",
			Help:      "Playbook executions started.",
		}),
		ExecutionsDone: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "playbook",
			Name:      "executions_completed_total",
			Help:      "Terminal playbook executions, by status.",
		}, []string{"status"}),
		ExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "secops",
			Subsystem: "playbook",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of terminal executions.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		StepRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "playbook",
			Name:      "step_retries_total",
			Help:      "Step attempts beyond the first.",
		}),
		AccessDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "zerotrust",
			Name:      "access_decisions_total",
			Help:      "Access evaluations, by decision and reason.",
		}, []string{"decision", "reason"}),
		TrustScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "secops",
			Subsystem: "zerotrust",
			Name:      "trust_score",
			Help:      "Distribution of composite trust scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		DefenseActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "defense",
			Name:      "actions_total",
			Help:      "Autonomous defense actions, by action and outcome.",
		}, []string{"action", "outcome"}),
		FeedMerged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "intel",
			Name:      "indicators_merged_total",
			Help:      "Indicators merged into the threat intel store.",
		}),
		FeedErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "intel",
			Name:      "feed_errors_total",
			Help:      "Feed fetch and parse failures.",
		}),
		Escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "response",
			Name:      "escalations_total",
			Help:      "SLA escalations fired, by rule.",
		}, []string{"rule"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secops",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by method, route, and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "secops",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
