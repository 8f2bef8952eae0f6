// Package metrics provides Prometheus instrumentation for goquota components.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for goquota components. A nil
// *Registry is valid and records nothing.
type Registry struct {
	// Decision Metrics
	Evaluations        *prometheus.CounterVec
	Allowed            *prometheus.CounterVec
	Denied             *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	RuleViolations     *prometheus.CounterVec

	// Store Metrics
	StoreErrors      *prometheus.CounterVec
	FailOpen         *prometheus.CounterVec
	ProceduresLoaded prometheus.Counter

	// Administrative Metrics
	Resets          prometheus.Counter
	ResetKeys       prometheus.Counter
	MaintenanceRuns *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry bound to prometheus.DefaultRegisterer under the
// default namespace. It is created on first use and shared afterwards.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRegistry
}

// New returns the registry described by config, or nil when metrics are
// disabled. The default registerer and namespace share Default().
func New(config Config) *Registry {
	if !config.Enabled {
		return nil
	}
	if config.Namespace == "" {
		config.Namespace = DefaultNamespace
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	if config.Registry == prometheus.DefaultRegisterer && config.Namespace == DefaultNamespace && len(config.Labels) == 0 {
		return Default()
	}
	return newRegistry(config.Registry, config.Namespace, config.Labels)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return newRegistry(reg, DefaultNamespace, nil)
}

func newRegistry(reg prometheus.Registerer, namespace string, labels prometheus.Labels) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		Evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "ratelimit",
				Name:        "evaluations_total",
				Help:        "Total number of rate limit evaluations",
				ConstLabels: labels,
			},
			[]string{"algorithm", "operation"},
		),

		Allowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "ratelimit",
				Name:        "allowed_total",
				Help:        "Total number of allowed evaluations",
				ConstLabels: labels,
			},
			[]string{"algorithm", "operation"},
		),

		Denied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "ratelimit",
				Name:        "denied_total",
				Help:        "Total number of denied evaluations",
				ConstLabels: labels,
			},
			[]string{"algorithm", "operation"},
		),

		EvaluationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "ratelimit",
				Name:        "evaluation_duration_seconds",
				Help:        "Time spent evaluating a limit, store round trip included",
				Buckets:     []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
				ConstLabels: labels,
			},
			[]string{"algorithm"},
		),

		RuleViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "ratelimit",
				Name:        "rule_violations_total",
				Help:        "Total number of rejections attributed to a named rule",
				ConstLabels: labels,
			},
			[]string{"rule"},
		),

		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "store",
				Name:        "errors_total",
				Help:        "Total number of failed store operations",
				ConstLabels: labels,
			},
			[]string{"operation", "kind"},
		),

		FailOpen: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "store",
				Name:        "fail_open_total",
				Help:        "Total number of evaluations admitted because the store was unavailable",
				ConstLabels: labels,
			},
			[]string{"algorithm"},
		),

		ProceduresLoaded: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "store",
				Name:        "procedures_loaded_total",
				Help:        "Total number of procedures loaded into the store cache",
				ConstLabels: labels,
			},
		),

		Resets: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "admin",
				Name:        "resets_total",
				Help:        "Total number of reset operations",
				ConstLabels: labels,
			},
		),

		ResetKeys: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "admin",
				Name:        "reset_keys_deleted_total",
				Help:        "Total number of stored keys removed by resets",
				ConstLabels: labels,
			},
		),

		MaintenanceRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "admin",
				Name:        "maintenance_runs_total",
				Help:        "Total number of scheduled maintenance job runs",
				ConstLabels: labels,
			},
			[]string{"job", "status"},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "http",
				Name:        "requests_total",
				Help:        "Total number of HTTP requests served",
				ConstLabels: labels,
			},
			[]string{"route", "code"},
		),
	}
}

// ObserveDecision records one evaluation outcome.
func (r *Registry) ObserveDecision(algorithm, operation string, allowed bool, took time.Duration) {
	if r == nil {
		return
	}
	r.Evaluations.WithLabelValues(algorithm, operation).Inc()
	if allowed {
		r.Allowed.WithLabelValues(algorithm, operation).Inc()
	} else {
		r.Denied.WithLabelValues(algorithm, operation).Inc()
	}
	r.EvaluationDuration.WithLabelValues(algorithm).Observe(took.Seconds())
}

// ObserveRuleViolation records a rejection by rule.
func (r *Registry) ObserveRuleViolation(rule string) {
	if r == nil {
		return
	}
	r.RuleViolations.WithLabelValues(rule).Inc()
}

// ObserveStoreError records a failed store operation of the given kind.
func (r *Registry) ObserveStoreError(operation, kind string) {
	if r == nil {
		return
	}
	r.StoreErrors.WithLabelValues(operation, kind).Inc()
}

// ObserveFailOpen records an evaluation admitted while the store was down.
func (r *Registry) ObserveFailOpen(algorithm string) {
	if r == nil {
		return
	}
	r.FailOpen.WithLabelValues(algorithm).Inc()
}

// ObserveProceduresLoaded records procedures pushed to the store cache.
func (r *Registry) ObserveProceduresLoaded(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.ProceduresLoaded.Add(float64(n))
}

// ObserveReset records a reset and the number of keys it removed.
func (r *Registry) ObserveReset(deleted int64) {
	if r == nil {
		return
	}
	r.Resets.Inc()
	if deleted > 0 {
		r.ResetKeys.Add(float64(deleted))
	}
}

// ObserveMaintenance records a scheduled job run.
func (r *Registry) ObserveMaintenance(job string, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.MaintenanceRuns.WithLabelValues(job, status).Inc()
}

// ObserveHTTP records a served HTTP request.
func (r *Registry) ObserveHTTP(route string, code int) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
