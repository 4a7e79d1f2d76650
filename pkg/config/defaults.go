package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyNexusDefaults(&cfg.Nexus)
	applyInstanceDefaults(&cfg.Instance)
	applyMetricsDefaults(&cfg.Metrics)
	applyTelemetryDefaults(&cfg.Telemetry)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyNexusDefaults sets endpoint/worker-pool defaults.
func applyNexusDefaults(cfg *NexusConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.ManagementPort == 0 {
		cfg.ManagementPort = 7000
	}
	if cfg.DataPortBase == 0 {
		cfg.DataPortBase = 7100
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 4096
	}
	if cfg.WorkerPoolSize == 0 {
		cfg.WorkerPoolSize = 8
	}
	if cfg.WorkerQueueDepth == 0 {
		cfg.WorkerQueueDepth = 1024
	}
}

// applyInstanceDefaults sets per-instance protocol defaults.
func applyInstanceDefaults(cfg *InstanceConfig) {
	if cfg.WindowSize == 0 {
		cfg.WindowSize = 64
	}
	if len(cfg.BufferTiers) == 0 {
		cfg.BufferTiers = []int{256, 4096, 65536}
	}
	if cfg.RTOFloor == 0 {
		cfg.RTOFloor = 5 * time.Millisecond
	}
	if cfg.RTOCeiling == 0 {
		cfg.RTOCeiling = 16 * cfg.RTOFloor
	}

	applyCongestionDefaults(&cfg.CongestionControl)
}

// applyCongestionDefaults sets Timely controller defaults
// (SPEC_FULL.md §12 "Timely parameters").
func applyCongestionDefaults(cfg *CongestionConfig) {
	if cfg.TLow == 0 {
		cfg.TLow = 50 * time.Microsecond
	}
	if cfg.THigh == 0 {
		cfg.THigh = time.Millisecond
	}
	if cfg.AdditiveIncreaseMbps == 0 {
		cfg.AdditiveIncreaseMbps = 10
	}
	if cfg.MultiplicativeDecrease == 0 {
		cfg.MultiplicativeDecrease = 0.8
	}
	if cfg.Gain == 0 {
		cfg.Gain = 0.25
	}
	if cfg.MinRateMbps == 0 {
		cfg.MinRateMbps = 10
	}
	if cfg.MaxRateMbps == 0 {
		cfg.MaxRateMbps = 100000
	}
}

// applyMetricsDefaults sets metrics server defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9090"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

// DefaultConfig returns a Config struct with all default values applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
