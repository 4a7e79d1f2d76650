package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// configTemplate is the commented YAML template written by InitConfig.
const configTemplate = `# Nexus Configuration File
# Generated by 'nexusd init' - edit as needed.

logging:
  level: "INFO"      # DEBUG, INFO, WARN, ERROR
  format: "text"      # text, json
  output: "stdout"    # stdout, stderr, or a file path

nexus:
  host: "0.0.0.0"
  management_port: 7000
  data_port_base: 7100
  max_sessions: 4096
  worker_pool_size: 8
  worker_queue_depth: 1024

instance:
  window_size: 64
  buffer_tiers: [256, 4096, 65536]
  rto_floor: 5ms
  rto_ceiling: 80ms
  congestion_control:
    t_low: 50us
    t_high: 1ms
    additive_increase_mbps: 10
    multiplicative_decrease: 0.8
    gain: 0.25
    min_rate_mbps: 10
    max_rate_mbps: 100000

metrics:
  enabled: false
  listen_addr: ":9090"

shutdown_timeout: 30s
`

// InitConfig writes a default configuration file to the standard location
// ($XDG_CONFIG_HOME/nexus/config.yaml, or ~/.config/nexus/config.yaml) and
// returns the path written. If force is false and a config already exists,
// it returns an error rather than overwriting it.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path. If force is
// false and the file already exists, it returns an error.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
