// Package metrics provides the Prometheus collectors shared by Motor and
// Cortex: rejection counters by reason, breaker-state transitions, and
// reconciliation drift, adapted from the teacher's service-wide metrics
// registry with the blockchain-specific collectors dropped.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors registered for one process (motor or cortex).
type Metrics struct {
	// Intent pipeline
	IntentsAccepted  prometheus.Counter
	RejectionsTotal  *prometheus.CounterVec // label: reason
	PipelineDuration prometheus.Histogram

	// Circuit breaker
	BreakerTransitions *prometheus.CounterVec // labels: from, to
	BreakerState       prometheus.Gauge       // numeric state, 0=NORMAL..3=EMERGENCY

	// Reconciler / shadow state
	ReconcileRuns   prometheus.Counter
	DriftEvents     *prometheus.CounterVec // label: classification
	DriftMagnitude  *prometheus.HistogramVec

	// Ledger
	FillsProcessed     prometheus.Counter
	FillsDuplicate     prometheus.Counter
	LedgerPostFailures prometheus.Counter

	// Bus
	BusPublished   *prometheus.CounterVec // label: subject
	BusDelivered   *prometheus.CounterVec // label: subject
	BusACLDenied   *prometheus.CounterVec // label: identity

	// Database
	DatabaseQueriesTotal  *prometheus.CounterVec
	DatabaseQueryDuration *prometheus.HistogramVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer,
// which may be nil to skip registration entirely (used in unit tests that
// construct multiple Metrics instances in the same process).
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		IntentsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "motorcortex_intents_accepted_total",
			Help: "Total number of intents accepted by the pipeline",
		}),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "motorcortex_rejections_total",
				Help: "Total number of intents rejected, by reason",
			},
			[]string{"reason"},
		),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "motorcortex_pipeline_duration_seconds",
			Help:    "Intent pipeline end-to-end duration",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		}),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "motorcortex_breaker_transitions_total",
				Help: "Total number of circuit-breaker state transitions",
			},
			[]string{"from", "to"},
		),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "motorcortex_breaker_state",
			Help: "Current circuit-breaker state (0=NORMAL,1=CAUTIOUS,2=DEFENSIVE,3=EMERGENCY)",
		}),
		ReconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "motorcortex_reconcile_runs_total",
			Help: "Total number of reconciliation ticks executed",
		}),
		DriftEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "motorcortex_drift_events_total",
				Help: "Total number of drift events, by classification",
			},
			[]string{"classification"},
		),
		DriftMagnitude: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "motorcortex_drift_magnitude",
				Help:    "Magnitude of shadow/exchange position drift",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"symbol"},
		),
		FillsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "motorcortex_fills_processed_total",
			Help: "Total number of fills committed to the ledger",
		}),
		FillsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "motorcortex_fills_duplicate_total",
			Help: "Total number of duplicate fills absorbed idempotently",
		}),
		LedgerPostFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "motorcortex_ledger_post_failures_total",
			Help: "Total number of fill postings that failed and were not acknowledged",
		}),
		BusPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "motorcortex_bus_published_total",
				Help: "Total number of messages published, by subject",
			},
			[]string{"subject"},
		),
		BusDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "motorcortex_bus_delivered_total",
				Help: "Total number of messages delivered to subscribers, by subject",
			},
			[]string{"subject"},
		),
		BusACLDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "motorcortex_bus_acl_denied_total",
				Help: "Total number of publish/subscribe calls denied by ACL, by identity",
			},
			[]string{"identity"},
		),
		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "motorcortex_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "motorcortex_database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		ServiceUptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "motorcortex_service_uptime_seconds",
			Help: "Service uptime in seconds",
		}),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "motorcortex_service_info",
				Help: "Service information",
			},
			[]string{"service", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.IntentsAccepted,
			m.RejectionsTotal,
			m.PipelineDuration,
			m.BreakerTransitions,
			m.BreakerState,
			m.ReconcileRuns,
			m.DriftEvents,
			m.DriftMagnitude,
			m.FillsProcessed,
			m.FillsDuplicate,
			m.LedgerPostFailures,
			m.BusPublished,
			m.BusDelivered,
			m.BusACLDenied,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, environment()).Set(1)
	return m
}

func environment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("MOTORCORTEX_ENV")))
	if env == "" {
		return "development"
	}
	return env
}

// RecordDatabaseQuery records a database query's outcome and latency.
func (m *Metrics) RecordDatabaseQuery(operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRejection increments the rejection counter for reason.
func (m *Metrics) RecordRejection(reason string) {
	m.RejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordBreakerTransition increments the transition counter and updates the
// state gauge. state is the numeric value of the new breaker state.
func (m *Metrics) RecordBreakerTransition(from, to string, state int) {
	m.BreakerTransitions.WithLabelValues(from, to).Inc()
	m.BreakerState.Set(float64(state))
}

// UpdateUptime sets the uptime gauge relative to startTime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes (once) and returns the process-wide Metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(serviceName)
	}
	return global
}

// Global returns the process-wide Metrics instance, initializing a default
// one if Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New("motorcortex")
	}
	return global
}
