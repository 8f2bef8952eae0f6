/*
Package metrics provides Prometheus instrumentation for goquota.

Every limiter, the HTTP server and the maintenance scheduler report through a
single Registry. A nil *Registry is a valid no-op, so components can hold one
unconditionally and metrics stay optional.

# Basic Usage

	registry := metrics.New(metrics.DefaultConfig())

	limiter, err := limiter.New(limiter.Config{
		Redis:   client,
		Metrics: registry,
	})

Metrics are exposed with the standard handler:

	http.Handle("/metrics", promhttp.Handler())

# Available Metrics

Decisions:
  - goquota_ratelimit_evaluations_total{algorithm, operation}
  - goquota_ratelimit_allowed_total{algorithm, operation}
  - goquota_ratelimit_denied_total{algorithm, operation}
  - goquota_ratelimit_evaluation_duration_seconds{algorithm}
  - goquota_ratelimit_rule_violations_total{rule}

Store:
  - goquota_store_errors_total{operation, kind}
  - goquota_store_fail_open_total{algorithm}
  - goquota_store_procedures_loaded_total

Administration:
  - goquota_admin_resets_total
  - goquota_admin_reset_keys_deleted_total
  - goquota_admin_maintenance_runs_total{job, status}
  - goquota_http_requests_total{route, code}

Limit keys are never used as label values. Per-key counters live in the
store and are read back with the limiter's GetLimitMetrics.

# Custom Registry

Tests and embedded deployments pass their own registerer so repeated
construction does not collide with the global one:

	reg := prometheus.NewRegistry()
	registry := metrics.New(metrics.Config{
		Enabled:   true,
		Registry:  reg,
		Namespace: "edge",
		Labels:    prometheus.Labels{"region": "eu-west-1"},
	})
*/
package metrics
