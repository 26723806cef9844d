package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for Wingman.
type Config struct {
	// ServiceName is the name reported to telemetry backends.
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the running version.
	ServiceVersion string `yaml:"service_version"`

	// Environment is the deployment environment (dev, staging, prod).
	Environment string `yaml:"environment"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures distributed tracing.
	Tracing TracingConfig `yaml:"tracing"`

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig `yaml:"metrics"`

	// Events configures the step-event publisher.
	Events EventsConfig `yaml:"events"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level"`

	// Format specifies the log format (console, json).
	Format string `yaml:"format"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `yaml:"output"`

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool `yaml:"enable_caller"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool `yaml:"enabled"`

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP gRPC endpoint (e.g. "localhost:4317").
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool `yaml:"insecure"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate"`

	// ExportTimeout bounds trace export.
	ExportTimeout time.Duration `yaml:"export_timeout"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected.
	Enabled bool `yaml:"enabled"`

	// Namespace is the metric name prefix.
	Namespace string `yaml:"namespace"`
}

// EventsConfig configures the step-event publisher.
type EventsConfig struct {
	// BufferSize is the in-flight event buffer. When the buffer is full
	// new events are dropped rather than blocking the orchestrator.
	BufferSize int `yaml:"buffer_size"`
}

// DefaultConfig returns a configuration suitable for local use.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "wingman",
		ServiceVersion: "dev",
		Environment:    "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "wingman",
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c Config) Validate() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp":
			if c.Tracing.Endpoint == "" {
				return fmt.Errorf("tracing endpoint is required for the otlp exporter")
			}
		case "stdout", "none":
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			return fmt.Errorf("sampling rate must be in [0,1], got %f", c.Tracing.SamplingRate)
		}
	}
	if c.Events.BufferSize < 0 {
		return fmt.Errorf("event buffer size must be non-negative")
	}
	return nil
}
