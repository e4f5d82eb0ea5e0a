package config

import "time"

// ObservabilityConfig holds OpenTelemetry configuration for a worker binary.
type ObservabilityConfig struct {
	OTelEnabled bool   `env:"EDGEQUEUE_OTEL_ENABLED"`
	ServiceName string `env:"EDGEQUEUE_SERVICE_NAME" envDefault:"edgequeue-worker"`

	// ExporterTimeout bounds each OTLP export call.
	ExporterTimeout time.Duration `env:"EDGEQUEUE_OTEL_EXPORTER_TIMEOUT" envDefault:"10s"`

	// BatchTimeout bounds how long the trace batcher waits before a forced
	// flush; the log batch processor uses it as its export timeout.
	BatchTimeout time.Duration `env:"EDGEQUEUE_OTEL_BATCH_TIMEOUT" envDefault:"5s"`

	// MetricInterval controls how often the periodic metric reader exports.
	MetricInterval time.Duration `env:"EDGEQUEUE_OTEL_METRIC_INTERVAL" envDefault:"15s"`
}
