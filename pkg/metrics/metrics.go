package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Controller session metrics
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultbridge_controller_logins_total",
			Help: "Controller login attempts by cluster and outcome",
		},
		[]string{"cluster", "outcome"},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultbridge_controller_queries_total",
			Help: "Controller queries by cluster and outcome",
		},
		[]string{"cluster", "outcome"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faultbridge_controller_query_duration_seconds",
			Help:    "Controller query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cluster"},
	)

	PaginationBuckets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultbridge_pagination_buckets_total",
			Help: "Day buckets fetched during historical pagination",
		},
		[]string{"cluster"},
	)

	// Subscription metrics
	SubscriptionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "faultbridge_subscription_state",
			Help: "Current subscription state per cluster (1 for the active state)",
		},
		[]string{"cluster", "state"},
	)

	SubscriptionRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultbridge_subscription_refreshes_total",
			Help: "Subscription refresh cycles by cluster and outcome",
		},
		[]string{"cluster", "outcome"},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultbridge_stream_messages_received_total",
			Help: "Inbound stream messages",
		},
		[]string{"cluster"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultbridge_stream_messages_dropped_total",
			Help: "Inbound stream messages dropped because the worker backlog was full",
		},
		[]string{"cluster"},
	)

	WorkerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultbridge_worker_panics_total",
			Help: "Message handlers that panicked",
		},
		[]string{"cluster"},
	)

	// Normalizer metrics
	EventsNormalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultbridge_events_normalized_total",
			Help: "Fault records normalized into events by severity",
		},
		[]string{"cluster", "severity"},
	)

	NormalizeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultbridge_normalize_failures_total",
			Help: "Fault records that could not be normalized",
		},
		[]string{"cluster", "reason"},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultbridge_sink_events_dropped_total",
			Help: "Events dropped because the sink queue was full",
		},
	)

	// Identity cache metrics
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultbridge_identity_cache_lookups_total",
			Help: "Identity cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	CacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultbridge_identity_cache_evictions_total",
			Help: "Identity cache entries evicted by capacity",
		},
	)

	DirectoryLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultbridge_directory_lookups_total",
			Help: "Device directory lookups by outcome",
		},
		[]string{"outcome"},
	)

	// Supervisor metrics
	ClustersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "faultbridge_clusters_total",
			Help: "Registered clusters by mode and status",
		},
		[]string{"mode", "status"},
	)

	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultbridge_cluster_restarts_total",
			Help: "Cluster runner (re)starts by reason",
		},
		[]string{"cluster", "reason"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faultbridge_reconciliation_duration_seconds",
			Help:    "Duration of one reconcile pass",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultbridge_reconciliation_cycles_total",
			Help: "Total number of reconcile passes",
		},
	)

	PollRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultbridge_poll_runs_total",
			Help: "Scheduled poll runs by cluster and outcome",
		},
		[]string{"cluster", "outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultbridge_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(LoginsTotal)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(PaginationBuckets)
	prometheus.MustRegister(SubscriptionState)
	prometheus.MustRegister(SubscriptionRefreshes)
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(MessagesDropped)
	prometheus.MustRegister(WorkerPanics)
	prometheus.MustRegister(EventsNormalized)
	prometheus.MustRegister(NormalizeFailures)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(CacheLookups)
	prometheus.MustRegister(CacheEvictions)
	prometheus.MustRegister(DirectoryLookups)
	prometheus.MustRegister(ClustersTotal)
	prometheus.MustRegister(RestartsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(PollRuns)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
