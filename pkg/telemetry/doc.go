// Package telemetry provides logging, metrics, tracing, and step-event
// publishing for Wingman.
//
// Logging is built on zerolog; NewLogger produces the root logger and
// packages derive component loggers from it. Metrics are Prometheus
// collectors covering deployments, adapter calls, and rollbacks. Tracing
// uses OpenTelemetry with otlp or stdout exporters. The EventPublisher is
// the event sink the orchestrator emits step notifications into: it never
// blocks the caller and fans events out to subscribers asynchronously.
package telemetry
