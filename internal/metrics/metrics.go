package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Job types
	JobTypeWebhookEvent = "webhook_event"
	JobTypeSyncUser     = "sync_user"

	// Job results
	ResultSuccess = "success"
	ResultDropped = "dropped"
	ResultFailure = "failure"
	ResultIgnored = "ignored"

	// HTTP endpoints
	EndpointOAuthCallback = "oauth_callback"
	EndpointCronSync      = "cron_sync"
	EndpointWebhook       = "webhook_callback"
	EndpointAPI           = "api"
	EndpointEvents        = "events"
	EndpointHealth        = "health"

	// Polar API operations
	OpExchangeCode        = "exchange_code"
	OpRegisterUser        = "register_user"
	OpGetUser             = "get_user"
	OpDeleteUser          = "delete_user"
	OpCreateWebhook       = "create_webhook"
	OpListWebhooks        = "list_webhooks"
	OpDeleteWebhook       = "delete_webhook"
	OpUpdateWebhook       = "update_webhook"
	OpFetchDaily          = "fetch_daily"
	OpListExercises       = "list_exercises"
	OpGetExercise         = "get_exercise"
	OpCreateTransaction   = "create_transaction"
	OpListPhysicalInfo    = "list_physical_info"
	OpGetPhysicalInfo     = "get_physical_info"
	OpCommitTransaction   = "commit_transaction"
	StatusTransportError  = "transport_error"
	StatusBreakerRejected = "breaker_rejected"

	// Rate limit windows and buckets
	WindowShortTerm = "short_term"
	WindowLongTerm  = "long_term"
	BucketLimit     = "limit"
	BucketUsage     = "usage"

	// Store operations
	StoreOpGet       = "get"
	StoreOpSet       = "set"
	StoreOpMerge     = "merge"
	StoreOpIncrement = "increment"
	StoreOpDelete    = "delete"
	StoreOpList      = "list"
	StoreOpQuery     = "query"

	// Per-category sync outcomes
	OutcomeFound   = "found"
	OutcomeMissing = "missing"
	OutcomeError   = "error"

	// Physical-info reconciler outcomes
	ReconcileCommitted = "committed"
	ReconcileNoNewData = "no_new_data"
	ReconcileAborted   = "aborted"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Queue Metrics
var (
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of jobs waiting in the worker queue",
		},
	)

	QueueEnqueueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_enqueue_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"job_type"},
	)

	QueueDequeueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dequeue_total",
			Help: "Total number of jobs dequeued with outcome",
		},
		[]string{"job_type", "result"},
	)

	QueueProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_processing_duration_seconds",
			Help:    "Time spent processing jobs",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"job_type", "result"},
	)

	QueueItemAge = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_item_age_seconds",
			Help:    "Time from enqueue to processing start",
			Buckets: []float64{0.01, 0.1, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"job_type"},
	)

	WorkerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_active",
			Help: "Whether the worker is currently active (1) or not (0)",
		},
	)
)

// Polar API Metrics
var (
	PolarAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polar_api_requests_total",
			Help: "Total number of Polar AccessLink API requests",
		},
		[]string{"operation", "status_code"},
	)

	PolarAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polar_api_request_duration_seconds",
			Help:    "Polar AccessLink API request latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation", "status_code"},
	)

	PolarRateLimitUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polar_rate_limit_usage",
			Help: "Polar AccessLink rate limit usage as reported by the API",
		},
		[]string{"window", "bucket"},
	)
)

// Store Metrics
var (
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Document store operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"backend", "operation"},
	)

	StoreOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operation_errors_total",
			Help: "Total number of document store operation errors",
		},
		[]string{"backend", "operation"},
	)
)

// Business Metrics
var (
	WebhookEventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_received_total",
			Help: "Total number of Polar webhook events received",
		},
		[]string{"event", "result"},
	)

	CategorySyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "category_sync_total",
			Help: "Per-category sync outcomes",
		},
		[]string{"category", "outcome"},
	)

	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "physical_info_reconcile_total",
			Help: "Physical-info transaction reconciliation outcomes",
		},
		[]string{"outcome"},
	)

	SyncUserDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_user_duration_seconds",
			Help:    "Time spent syncing one user for one date",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	CronSyncUsers = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cron_sync_users",
			Help:    "Number of users per cron sync run by result",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"result"},
	)

	AchievementsUnlockedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "achievements_unlocked_total",
			Help: "Total number of achievements unlocked",
		},
	)
)

// Circuit Breaker Metrics
var (
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"breaker"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)
)
