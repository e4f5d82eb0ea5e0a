package config

import (
	"fmt"
	"time"
)

// WorkerConfig holds all configuration for the edgequeue-worker binary.
type WorkerConfig struct {
	Database      DatabaseConfig
	Observability ObservabilityConfig

	// Concurrency bounds how many jobs run at once.
	Concurrency int `env:"EDGEQUEUE_CONCURRENCY" envDefault:"4"`

	// ProbeURL, when set, enables network gating via an HTTP poller hitting
	// this URL. Left empty, no network monitor is installed and online-only
	// jobs always run.
	ProbeURL string `env:"EDGEQUEUE_PROBE_URL"`

	// ProbeInterval controls how often the poller checks connectivity.
	ProbeInterval time.Duration `env:"EDGEQUEUE_PROBE_INTERVAL" envDefault:"30s"`

	// ShutdownTimeout is how long the worker binary waits after stopping the
	// queue before it exits. It sleeps for the whole duration; it does not
	// return early when in-flight jobs finish.
	ShutdownTimeout time.Duration `env:"EDGEQUEUE_SHUTDOWN_TIMEOUT" envDefault:"20s"`
}

// LoadWorkerConfig loads and validates worker configuration from environment.
func LoadWorkerConfig() (*WorkerConfig, error) {
	cfg := &WorkerConfig{}

	if err := Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load worker config: %w", err)
	}

	return cfg, nil
}
