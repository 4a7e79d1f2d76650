package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_Nexus(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Nexus.ManagementPort != 7000 {
		t.Errorf("expected default management port 7000, got %d", cfg.Nexus.ManagementPort)
	}
	if cfg.Nexus.DataPortBase != 7100 {
		t.Errorf("expected default data port base 7100, got %d", cfg.Nexus.DataPortBase)
	}
	if cfg.Nexus.WorkerPoolSize != 8 {
		t.Errorf("expected default worker pool size 8, got %d", cfg.Nexus.WorkerPoolSize)
	}
}

func TestApplyDefaults_Instance(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Instance.WindowSize != 64 {
		t.Errorf("expected default window size 64, got %d", cfg.Instance.WindowSize)
	}
	if cfg.Instance.RTOFloor != 5*time.Millisecond {
		t.Errorf("expected default RTO floor 5ms, got %v", cfg.Instance.RTOFloor)
	}
	if cfg.Instance.RTOCeiling != 80*time.Millisecond {
		t.Errorf("expected default RTO ceiling 80ms (16x floor), got %v", cfg.Instance.RTOCeiling)
	}
}

func TestApplyDefaults_CongestionControl(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	cc := cfg.Instance.CongestionControl
	if cc.TLow != 50*time.Microsecond {
		t.Errorf("expected T_low 50us, got %v", cc.TLow)
	}
	if cc.THigh != time.Millisecond {
		t.Errorf("expected T_high 1ms, got %v", cc.THigh)
	}
	if cc.MultiplicativeDecrease != 0.8 {
		t.Errorf("expected beta 0.8, got %v", cc.MultiplicativeDecrease)
	}
	if cc.Gain != 0.25 {
		t.Errorf("expected gain 0.25, got %v", cc.Gain)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "DEBUG",
			Format: "json",
			Output: "/var/log/nexus.log",
		},
		ShutdownTimeout: 60 * time.Second,
		Nexus: NexusConfig{
			ManagementPort: 7777,
		},
	}

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("expected explicit level 'DEBUG' to be preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected explicit format 'json' to be preserved, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "/var/log/nexus.log" {
		t.Errorf("expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 60*time.Second {
		t.Errorf("expected explicit timeout 60s to be preserved, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Nexus.ManagementPort != 7777 {
		t.Errorf("expected explicit management port to be preserved, got %d", cfg.Nexus.ManagementPort)
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("default config should be valid, got error: %v", err)
	}
}

func TestDefaultConfig_HasRequiredFields(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Logging.Level == "" {
		t.Error("default config missing logging level")
	}
	if cfg.Nexus.ManagementPort == 0 {
		t.Error("default config missing management port")
	}
	if cfg.Instance.WindowSize == 0 {
		t.Error("default config missing window size")
	}
	if len(cfg.Instance.BufferTiers) == 0 {
		t.Error("default config missing buffer tiers")
	}
}
