package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilanteye_events_ingested_total",
			Help: "Total number of events persisted by the correlator",
		},
		[]string{"source"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilanteye_events_rejected_total",
			Help: "Total number of ingestion payloads rejected before persistence",
		},
		[]string{"endpoint", "reason"},
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilanteye_alerts_created_total",
			Help: "Total number of alerts written, by detector",
		},
		[]string{"detector"},
	)

	ReputationVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilanteye_reputation_verdicts_total",
			Help: "Reputation verdicts returned by the oracle client",
		},
		[]string{"status"},
	)

	ReputationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilanteye_reputation_errors_total",
			Help: "Reputation lookups that degraded to INCONCLUSIVE, by error kind",
		},
		[]string{"kind"},
	)

	ReputationCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilanteye_reputation_cache_requests_total",
			Help: "Reputation cache lookups by backend and result",
		},
		[]string{"backend", "result"},
	)

	AnomalyScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigilanteye_anomaly_decision_score",
			Help:    "Decision-function scores produced by the anomaly baseline",
			Buckets: prometheus.LinearBuckets(-0.5, 0.1, 11),
		},
	)

	ModelTrainings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilanteye_model_trainings_total",
			Help: "Anomaly baseline training attempts by outcome",
		},
		[]string{"outcome"},
	)

	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilanteye_dispatch_outcomes_total",
			Help: "Response workflow dispatch attempts by outcome kind",
		},
		[]string{"kind"},
	)

	ForwarderFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigilanteye_forwarder_failures_total",
			Help: "Events that could not be forwarded to the external SIEM",
		},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigilanteye_pipeline_duration_seconds",
			Help:    "Time taken by one correlator run",
			Buckets: prometheus.DefBuckets,
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilanteye_http_requests_total",
			Help: "HTTP requests served, by route and status code",
		},
		[]string{"route", "code"},
	)
)
