package outbox

import (
	"time"

	"go.opentelemetry.io/otel/metric"
)

const (
	defaultDispatchInterval = 5 * time.Second
	defaultBatchSize        = 100
	defaultMaxRetries       = 3

	defaultCleanupInterval = 1 * time.Hour
	defaultRetentionAge    = 24 * time.Hour
)

// DispatcherConfig controls dispatcher polling and retry behavior.
type DispatcherConfig struct {
	// DispatchInterval is the periodic interval between dispatch cycles.
	DispatchInterval time.Duration
	// BatchSize is the max number of messages fetched per cycle.
	BatchSize int
	// MaxRetries is the retry budget; messages at or over it are skipped
	// without a publish attempt.
	MaxRetries int
	// MeterProvider overrides the default global meter provider when set.
	MeterProvider metric.MeterProvider
}

// DefaultDispatcherConfig returns the baseline dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		DispatchInterval: defaultDispatchInterval,
		BatchSize:        defaultBatchSize,
		MaxRetries:       defaultMaxRetries,
	}
}

func (cfg *DispatcherConfig) normalize() {
	defaults := DefaultDispatcherConfig()

	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = defaults.DispatchInterval
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
}

// SweeperConfig controls retention of processed messages.
type SweeperConfig struct {
	// CleanupInterval is the periodic interval between purge runs.
	CleanupInterval time.Duration
	// RetentionAge is the minimum age of processed messages to purge.
	RetentionAge time.Duration
}

// DefaultSweeperConfig returns the baseline sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		CleanupInterval: defaultCleanupInterval,
		RetentionAge:    defaultRetentionAge,
	}
}

func (cfg *SweeperConfig) normalize() {
	defaults := DefaultSweeperConfig()

	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}

	if cfg.RetentionAge <= 0 {
		cfg.RetentionAge = defaults.RetentionAge
	}
}
