package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Host            HostConfig        `yaml:"host"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Webhook         WebhookConfig     `yaml:"webhook"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Sync            SyncConfig        `yaml:"sync"`
	Cyclers         []CyclerConfig    `yaml:"cyclers"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// Activation modes for HostConfig.ActivationMode
const (
	ActivationAuto    = "auto"    // mood manager, flow card action on missing permission
	ActivationManager = "manager" // mood manager only
	ActivationFlow    = "flow"    // flow card action only
)

// HostConfig contains home-automation host Web API settings
type HostConfig struct {
	URL            string   `yaml:"url"`
	Token          string   `yaml:"token"`
	Timeout        Duration `yaml:"timeout"`         // HTTP timeout for host API requests
	RetryCount     int      `yaml:"retry_count"`     // Retries on transport errors and 5xx
	RetryWait      Duration `yaml:"retry_wait"`      // Initial wait between retries
	RetryMaxWait   Duration `yaml:"retry_max_wait"`  // Upper bound for retry backoff
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`  // Outgoing request rate
	ActivationMode string   `yaml:"activation_mode"` // auto | manager | flow
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// HealthcheckConfig contains health check and metrics server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// WebhookConfig contains webhook HTTP server settings
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Broker      string   `yaml:"broker"`
	ClientID    string   `yaml:"client_id"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	TopicPrefix string   `yaml:"topic_prefix"`
	QoS         byte     `yaml:"qos"`
	Timeout     Duration `yaml:"timeout"` // Connect timeout
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// Retention returns the retention window as a duration
func (c *LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SyncConfig contains periodic mood resync settings
type SyncConfig struct {
	Interval Duration `yaml:"interval"` // 0 = disabled
}

// CyclerConfig declares a mood cycler device bound to a zone
type CyclerConfig struct {
	ID     string       `yaml:"id"`
	Name   string       `yaml:"name"`
	Zone   string       `yaml:"zone"`
	Filter string       `yaml:"filter"` // Optional Lua expression over id, name, zone
	Button ButtonConfig `yaml:"button"`
}

// ButtonConfig maps a physical button published over MQTT to the cycle action
type ButtonConfig struct {
	MQTTTopic   string   `yaml:"mqtt_topic"`
	MQTTActions []string `yaml:"mqtt_actions"` // Empty = any payload triggers
	Debounce    Duration `yaml:"debounce"`     // Presses closer than this collapse into one
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration bytes, expands environment variables and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./moodcycler.sqlite"
	}

	// Host defaults
	cfg.Host.URL = strings.TrimRight(cfg.Host.URL, "/")
	if cfg.Host.Timeout == 0 {
		cfg.Host.Timeout = Duration(15 * time.Second)
	}
	if cfg.Host.RetryCount == 0 {
		cfg.Host.RetryCount = 2
	}
	if cfg.Host.RetryWait == 0 {
		cfg.Host.RetryWait = Duration(500 * time.Millisecond)
	}
	if cfg.Host.RetryMaxWait == 0 {
		cfg.Host.RetryMaxWait = Duration(5 * time.Second)
	}
	if cfg.Host.RateLimitRPS == 0 {
		cfg.Host.RateLimitRPS = 5.0
	}
	if cfg.Host.ActivationMode == "" {
		cfg.Host.ActivationMode = ActivationAuto
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// Webhook defaults
	if cfg.Webhook.Port == 0 {
		cfg.Webhook.Port = 8080
	}
	if cfg.Webhook.Host == "" {
		cfg.Webhook.Host = "0.0.0.0"
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "moodcycler"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "moodcycler"
	}
	if cfg.MQTT.Timeout == 0 {
		cfg.MQTT.Timeout = Duration(10 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	for i := range cfg.Cyclers {
		if cfg.Cyclers[i].Name == "" {
			cfg.Cyclers[i].Name = "Mood Cycler"
		}
	}
}

// Validate checks settings that have no sensible default
func (c *Config) Validate() error {
	if c.Host.URL == "" {
		return fmt.Errorf("host.url is required")
	}

	switch c.Host.ActivationMode {
	case ActivationAuto, ActivationManager, ActivationFlow:
	default:
		return fmt.Errorf("host.activation_mode: unknown mode %q", c.Host.ActivationMode)
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}

	seen := make(map[string]bool, len(c.Cyclers))
	for i, cy := range c.Cyclers {
		if cy.ID == "" {
			return fmt.Errorf("cyclers[%d]: id is required", i)
		}
		if cy.Zone == "" {
			return fmt.Errorf("cyclers[%d] (%s): zone is required", i, cy.ID)
		}
		if seen[cy.ID] {
			return fmt.Errorf("cyclers[%d]: duplicate id %q", i, cy.ID)
		}
		seen[cy.ID] = true
	}

	return nil
}

// GetShutdownTimeout returns the shutdown timeout as a time.Duration
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
