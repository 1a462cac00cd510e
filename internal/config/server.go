package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the top-level configuration for storepulse-server.
type ServerConfig struct {
	Listen string `yaml:"listen"`

	// DB* describe the persistence backend. storepulse's store package is
	// an opaque append/upsert log (per design, the relational schema is a
	// collaborator, not core logic) backed by an embedded sqlite file; DBName
	// doubles as that file's path so the same env vars a relational deployment
	// would set still have a meaning here.
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	AlertThreshold        Duration `yaml:"alert_threshold"`
	OfflineAlertCooldown  Duration `yaml:"offline_alert_cooldown"`
	RecoveryAlertCooldown Duration `yaml:"recovery_alert_cooldown"`
	StartupAlertCooldown  Duration `yaml:"startup_alert_cooldown"`
	HealthCheckInterval   Duration `yaml:"health_check_interval"`
	SweeperEpsilon        Duration `yaml:"sweeper_epsilon"`

	EmailConfigPath    string   `yaml:"email_config_path"`
	FrontendURL        string   `yaml:"frontend_url"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	SMTP SMTPConfig `yaml:"smtp"`

	Webhooks []NotificationConfig `yaml:"webhooks"`
	Ntfy     []NtfyConfig         `yaml:"ntfy"`
}

// NtfyConfig describes an ntfy.sh-style push notification sink.
type NtfyConfig struct {
	URL   string `yaml:"url"`
	Topic string `yaml:"topic"`
}

// SMTPConfig describes the outbound mail transport used by the email
// notification provider.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// NotificationConfig describes a webhook-style notification sink.
type NotificationConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// LoadServer reads server configuration from a YAML file, applies
// environment-variable expansion and overrides, and validates the result.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := serverDefaults()

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

	applyServerEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the server configuration is usable.
func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.DBName == "" {
		return fmt.Errorf("db_name is required")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be one of: text, json")
	}
	if c.AlertThreshold.Duration <= 0 {
		return fmt.Errorf("alert_threshold must be > 0")
	}
	if c.OfflineAlertCooldown.Duration <= 0 {
		return fmt.Errorf("offline_alert_cooldown must be > 0")
	}
	if c.HealthCheckInterval.Duration <= 0 {
		return fmt.Errorf("health_check_interval must be > 0")
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhooks[%d]: url is required", i)
		}
	}
	if _, err := url.Parse(c.FrontendURL); c.FrontendURL != "" && err != nil {
		return fmt.Errorf("frontend_url: %w", err)
	}
	return nil
}

func serverDefaults() *ServerConfig {
	return &ServerConfig{
		Listen:                ":8080",
		DBName:                "storepulse.db",
		LogLevel:              "info",
		LogFormat:             "text",
		AlertThreshold:        Duration{5 * time.Minute},
		OfflineAlertCooldown:  Duration{5 * time.Minute},
		RecoveryAlertCooldown: Duration{5 * time.Minute},
		StartupAlertCooldown:  Duration{10 * time.Minute},
		HealthCheckInterval:   Duration{2 * time.Minute},
		SweeperEpsilon:        Duration{30 * time.Second},
		EmailConfigPath:       "email_recipients.json",
	}
}

func applyServerEnvOverrides(cfg *ServerConfig) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DBHost = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DBPort = n
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DBUser = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DBPassword = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DBName = v
	}
	if v := os.Getenv("ALERT_THRESHOLD_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AlertThreshold = Duration{time.Duration(n) * time.Minute}
		}
	}
	if v := os.Getenv("OFFLINE_ALERT_COOLDOWN_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OfflineAlertCooldown = Duration{time.Duration(n) * time.Minute}
		}
	}
	if v := os.Getenv("HEALTH_CHECK_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HealthCheckInterval = Duration{time.Duration(n) * time.Minute}
		}
	}
	if v := os.Getenv("EMAIL_CONFIG_PATH"); v != "" {
		cfg.EmailConfigPath = v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.FrontendURL = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = n
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.SMTP.From = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = strings.Split(v, ",")
	}
}
