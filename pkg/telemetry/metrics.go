package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for the deployment saga.
type Metrics struct {
	config MetricsConfig

	deploymentsStarted   prometheus.Counter
	deploymentsCompleted *prometheus.CounterVec
	deploymentDuration   *prometheus.HistogramVec

	adapterCalls    *prometheus.CounterVec
	adapterErrors   *prometheus.CounterVec
	adapterDuration *prometheus.HistogramVec

	rollbacks *prometheus.CounterVec

	activeDeployments prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. When disabled, every method is a
// no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		deploymentsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_started_total",
			Help:      "Total number of deployments started",
		}),
		deploymentsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_completed_total",
			Help:      "Total number of deployments finished, by final status",
		}, []string{"status"}),
		deploymentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deployment_duration_seconds",
			Help:      "Wall-clock duration of deployments in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),

		adapterCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_calls_total",
			Help:      "Total number of adapter create/delete calls",
		}, []string{"service", "operation"}),
		adapterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_errors_total",
			Help:      "Total number of failed adapter calls",
		}, []string{"service", "operation"}),
		adapterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_call_duration_seconds",
			Help:      "Duration of adapter calls in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "operation"}),

		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Total number of rollback walks, by final status",
		}, []string{"status"}),

		activeDeployments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_deployments",
			Help:      "Number of deployments currently in progress",
		}),
	}

	registry.MustRegister(
		m.deploymentsStarted,
		m.deploymentsCompleted,
		m.deploymentDuration,
		m.adapterCalls,
		m.adapterErrors,
		m.adapterDuration,
		m.rollbacks,
		m.activeDeployments,
	)

	return m
}

// DeploymentStarted records the start of a deployment.
func (m *Metrics) DeploymentStarted() {
	if m.registry == nil {
		return
	}
	m.deploymentsStarted.Inc()
	m.activeDeployments.Inc()
}

// DeploymentCompleted records a deployment reaching completed or failed.
func (m *Metrics) DeploymentCompleted(status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.deploymentsCompleted.WithLabelValues(status).Inc()
	m.deploymentDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeDeployments.Dec()
}

// AdapterCall records one create or delete round-trip.
func (m *Metrics) AdapterCall(service, operation string, duration time.Duration, failed bool) {
	if m.registry == nil {
		return
	}
	m.adapterCalls.WithLabelValues(service, operation).Inc()
	m.adapterDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
	if failed {
		m.adapterErrors.WithLabelValues(service, operation).Inc()
	}
}

// RollbackCompleted records a finished rollback walk.
func (m *Metrics) RollbackCompleted(status string) {
	if m.registry == nil {
		return
	}
	m.rollbacks.WithLabelValues(status).Inc()
}
