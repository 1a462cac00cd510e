package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig is the top-level configuration for storepulse-agent.
type AgentConfig struct {
	StoreID             string   `yaml:"store_id"`
	StoreName           string   `yaml:"store_name"`
	MonitoringServerURL string   `yaml:"monitoring_server_url"`
	HeartbeatInterval   Duration `yaml:"heartbeat_interval"`
	BufferDBPath        string   `yaml:"buffer_db_path"`
	LogLevel            string   `yaml:"log_level"`
	LogFormat           string   `yaml:"log_format"`

	NetworkSpeedInterval Duration `yaml:"network_speed_interval"`
	ProbeURLs            []string `yaml:"probe_urls"`
}

// LoadAgent reads agent configuration from a YAML file, applies
// environment-variable expansion and overrides, and validates the result.
func LoadAgent(path string) (*AgentConfig, error) {
	cfg := agentDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	applyAgentEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the agent configuration is usable.
func (c *AgentConfig) Validate() error {
	if c.StoreID == "" {
		return fmt.Errorf("store_id is required")
	}
	if c.MonitoringServerURL == "" {
		return fmt.Errorf("monitoring_server_url is required")
	}
	if c.HeartbeatInterval.Duration <= 0 {
		return fmt.Errorf("heartbeat_interval must be > 0")
	}
	if c.BufferDBPath == "" {
		return fmt.Errorf("buffer_db_path is required")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	return nil
}

func agentDefaults() *AgentConfig {
	return &AgentConfig{
		StoreName:            "",
		HeartbeatInterval:    Duration{60 * time.Second},
		BufferDBPath:         "/data/storepulse-buffer.db",
		LogLevel:             "info",
		LogFormat:            "text",
		NetworkSpeedInterval: Duration{30 * time.Minute},
		ProbeURLs: []string{
			"https://www.cloudflare.com/cdn-cgi/trace",
			"https://www.google.com/generate_204",
		},
	}
}

func applyAgentEnvOverrides(cfg *AgentConfig) {
	if v := os.Getenv("STORE_ID"); v != "" {
		cfg.StoreID = v
	}
	if v := os.Getenv("STORE_NAME"); v != "" {
		cfg.StoreName = v
	}
	if v := os.Getenv("MONITORING_SERVER_URL"); v != "" {
		cfg.MonitoringServerURL = v
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.HeartbeatInterval = Duration{time.Duration(ms) * time.Millisecond}
		}
	}
}
