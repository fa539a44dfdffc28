package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docvault"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

// Enforcement gate metrics
var (
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Total enforcement gate decisions",
		},
		[]string{"check", "outcome", "reason"},
	)

	UnknownPlanLookups = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_plan_lookups_total",
			Help:      "Plan catalog lookups that failed because the stored plan is unknown",
		},
	)

	UploadReservationRollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_reservation_rollbacks_total",
			Help:      "Upload reservations released because the pool was over limit after reserving",
		},
	)
)

// Business metrics
var (
	DocumentsUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_uploaded_total",
			Help:      "Total number of documents stored",
		},
		[]string{"source"}, // "web" or "email"
	)

	SeatInvitesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seat_invites_created_total",
			Help:      "Total number of seat invitations created",
		},
	)

	SeatInvitesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seat_invites_accepted_total",
			Help:      "Total number of seat invitations accepted",
		},
	)

	AccountLinksActivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_links_activated_total",
			Help:      "Total number of account links activated",
		},
	)

	TrialsDowngraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_downgraded_total",
			Help:      "Total number of expired trials downgraded to the read-only plan",
		},
	)
)

// Maintenance task metrics
var (
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_tasks_total",
			Help:      "Total number of maintenance task runs",
		},
		[]string{"type", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "maintenance_task_duration_seconds",
			Help:      "Maintenance task execution time distribution",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"type"},
	)
)
