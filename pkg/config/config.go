package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the Nexus runtime configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (NEXUS_*) (highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// No CLI flag is bound to a configuration key. See Load for when
// environment variables apply.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Nexus controls the RPC endpoint itself: binding, worker pool sizing,
	// and the session-management control plane.
	Nexus NexusConfig `mapstructure:"nexus" yaml:"nexus"`

	// Instance holds per-RPC-instance protocol parameters: window size,
	// buffer tiers, retransmission timing, and congestion control (see
	// InstanceConfig for which of them are applied).
	Instance InstanceConfig `mapstructure:"instance" yaml:"instance"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// NexusConfig controls the local Nexus endpoint: its transport binding, the
// session-management control plane, and the background worker pool shared
// by every RPC instance it hosts.
type NexusConfig struct {
	// Host is the hostname or address clients use to reach the management
	// port (see spec.md §6 External Interfaces — connect()/getaddr()).
	Host string `mapstructure:"host" validate:"required" yaml:"host"`

	// ManagementPort is the UDP port the session-management thread listens
	// on for connect/disconnect/reset control messages.
	ManagementPort int `mapstructure:"management_port" validate:"required,min=1,max=65535" yaml:"management_port"`

	// DataPortBase is the first UDP port an RPC instance's event loop binds
	// to; instances are assigned DataPortBase+N in registration order.
	DataPortBase int `mapstructure:"data_port_base" validate:"required,min=1,max=65535" yaml:"data_port_base"`

	// MaxSessions caps concurrently connected sessions per RPC instance,
	// enforced as kTooManySessions (spec.md §7).
	MaxSessions int `mapstructure:"max_sessions" validate:"required,gt=0" yaml:"max_sessions"`

	// WorkerPoolSize is the number of goroutines in the background worker
	// pool that drains the inline-to-background SPSC hand-off queue.
	WorkerPoolSize int `mapstructure:"worker_pool_size" validate:"required,gt=0" yaml:"worker_pool_size"`

	// WorkerQueueDepth bounds the SPSC hand-off channel between the event
	// loop and the background worker pool.
	WorkerQueueDepth int `mapstructure:"worker_queue_depth" validate:"required,gt=0" yaml:"worker_queue_depth"`
}

// InstanceConfig holds per-RPC-instance protocol parameters. nexusd passes
// WindowSize and BufferTiers to the engine. MTU, RTOFloor, RTOCeiling and
// CongestionControl are loaded and validated but not applied: the engine
// uses the transport's own MTU(), fixed 5ms/80ms RTO bounds, and
// congestion.DefaultParams().
type InstanceConfig struct {
	// WindowSize is the sliding request/response window size W (spec.md
	// §4.4), i.e. the number of concurrently in-flight requests a session
	// may have outstanding.
	WindowSize int `mapstructure:"window_size" validate:"required,gt=0,lte=65536" yaml:"window_size"`

	// MTU is an MTU setting where zero stands for the transport's own
	// MTU(); it is not applied (see InstanceConfig).
	MTU int `mapstructure:"mtu" validate:"gte=0" yaml:"mtu,omitempty"`

	// BufferTiers lists the message buffer pool's size classes in bytes,
	// smallest first (spec.md §4.1 Hugepage Slab Allocator).
	BufferTiers []int `mapstructure:"buffer_tiers" validate:"required,min=1" yaml:"buffer_tiers"`

	// RTOFloor is the minimum retransmission timeout for any slot.
	RTOFloor time.Duration `mapstructure:"rto_floor" validate:"required,gt=0" yaml:"rto_floor"`

	// RTOCeiling bounds the exponential backoff applied on repeated
	// retransmission (see SPEC_FULL.md §12 "Retransmission backoff ceiling").
	RTOCeiling time.Duration `mapstructure:"rto_ceiling" validate:"required,gtfield=RTOFloor" yaml:"rto_ceiling"`

	// CongestionControl holds the Timely controller parameters.
	CongestionControl CongestionConfig `mapstructure:"congestion_control" yaml:"congestion_control"`
}

// CongestionConfig holds Timely-style congestion control parameters
// (spec.md §4.5 / SPEC_FULL.md §12 "Timely parameters").
type CongestionConfig struct {
	// TLow is the RTT threshold below which the rate increases additively.
	TLow time.Duration `mapstructure:"t_low" validate:"required,gt=0" yaml:"t_low"`

	// THigh is the RTT threshold above which the rate decreases
	// multiplicatively.
	THigh time.Duration `mapstructure:"t_high" validate:"required,gtfield=TLow" yaml:"t_high"`

	// AdditiveIncreaseMbps is the per-tick additive rate increase applied
	// when RTT is below TLow.
	AdditiveIncreaseMbps float64 `mapstructure:"additive_increase_mbps" validate:"required,gt=0" yaml:"additive_increase_mbps"`

	// MultiplicativeDecrease (beta) is the factor applied to the current
	// rate when RTT exceeds THigh.
	MultiplicativeDecrease float64 `mapstructure:"multiplicative_decrease" validate:"required,gt=0,lt=1" yaml:"multiplicative_decrease"`

	// Gain weights the between-bounds update toward the new RTT-derived
	// rate estimate.
	Gain float64 `mapstructure:"gain" validate:"required,gt=0,lte=1" yaml:"gain"`

	// MinRateMbps and MaxRateMbps bound the controller's output.
	MinRateMbps float64 `mapstructure:"min_rate_mbps" validate:"required,gt=0" yaml:"min_rate_mbps"`
	MaxRateMbps float64 `mapstructure:"max_rate_mbps" validate:"required,gtfield=MinRateMbps" yaml:"max_rate_mbps"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ListenAddr is the address the Prometheus handler binds to, e.g.
	// ":9090" or "127.0.0.1:9090".
	ListenAddr string `mapstructure:"listen_addr" validate:"omitempty,hostname_port" yaml:"listen_addr,omitempty"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing. When enabled,
// trace data is exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure controls whether to use an insecure (non-TLS) connection.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NEXUS_*)
//  2. Configuration file
//  3. Default values
//
// When no configuration file is found, Load returns DefaultConfig() and
// does not consult the environment. When a file is found, an environment
// variable overrides a key only if that key appears in the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate runs struct-tag validation over a fully defaulted Config.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variable and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns the combined decode hook for time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings to time.Duration, so config files can
// use human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nexus")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "nexus")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
