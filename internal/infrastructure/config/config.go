package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the clip bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub      HubConfig      `yaml:"hub"`
	Devices  MQTTConfig     `yaml:"devices"`
	Clip     ClipConfig     `yaml:"clip"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HubConfig is the connection to the automation hub's broker plus the
// topic roots the bridge publishes under.
type HubConfig struct {
	MQTTConfig `yaml:",inline"`

	// PonderPrefix roots state, command and availability topics.
	PonderPrefix string `yaml:"ponder_prefix"`

	// DiscoveryPrefix roots discovery and hub status topics.
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`

	// ClientID may be left empty; the client then generates a unique one.
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// ClipConfig contains the device protocol engine settings.
type ClipConfig struct {
	// DeviceTopicPrefix roots the per-device outbound topic.
	DeviceTopicPrefix string `yaml:"device_topic_prefix"`

	// DeployInterval is the re-deploy interval (seconds) sent to devices.
	DeployInterval int `yaml:"deploy_interval"`

	// VerifyChecksum drops inbound frames with a bad CRC.
	VerifyChecksum bool `yaml:"verify_checksum"`

	// Shards is the number of dispatch workers.
	Shards int `yaml:"shards"`

	// QueueSize is the per-shard queue depth.
	QueueSize int `yaml:"queue_size"`

	// StateRefresh is a cron spec for re-querying every device.
	// Empty disables the refresh.
	StateRefresh string `yaml:"state_refresh"`

	// HealthInterval is the bridge health publish interval (seconds).
	HealthInterval int `yaml:"health_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CLIPBRIDGE_SECTION_KEY
// For example: CLIPBRIDGE_HUB_HOST, CLIPBRIDGE_DATABASE_PATH
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			MQTTConfig:      defaultMQTT(1),
			PonderPrefix:    "ponder",
			DiscoveryPrefix: "homeassistant",
		},
		Devices: defaultMQTT(0),
		Clip: ClipConfig{
			DeviceTopicPrefix: "lime/devices",
			DeployInterval:    600,
			Shards:            8,
			QueueSize:         100,
			StateRefresh:      "@every 10m",
			HealthInterval:    30,
		},
		Database: DatabaseConfig{
			Path:        "./data/clipbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     28,
			},
		},
	}
}

func defaultMQTT(qos int) MQTTConfig {
	return MQTTConfig{
		Broker: MQTTBrokerConfig{
			Host: "localhost",
			Port: 1883,
		},
		QoS: qos,
		Reconnect: MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CLIPBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Hub broker
	applyMQTTEnv("CLIPBRIDGE_HUB", &cfg.Hub.MQTTConfig)
	if v := os.Getenv("CLIPBRIDGE_HUB_PONDER_PREFIX"); v != "" {
		cfg.Hub.PonderPrefix = v
	}

	// Device broker
	applyMQTTEnv("CLIPBRIDGE_DEVICES", &cfg.Devices)

	// Clip
	if v := os.Getenv("CLIPBRIDGE_CLIP_VERIFY_CHECKSUM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Clip.VerifyChecksum = b
		}
	}

	// Database
	if v := os.Getenv("CLIPBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("CLIPBRIDGE_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("CLIPBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("CLIPBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyMQTTEnv(prefix string, m *MQTTConfig) {
	if v := os.Getenv(prefix + "_HOST"); v != "" {
		m.Broker.Host = v
	}
	if v := os.Getenv(prefix + "_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			m.Broker.Port = port
		}
	}
	if v := os.Getenv(prefix + "_USERNAME"); v != "" {
		m.Auth.Username = v
	}
	if v := os.Getenv(prefix + "_PASSWORD"); v != "" {
		m.Auth.Password = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.Hub.validate("hub")...)
	errs = append(errs, c.Devices.validate("devices")...)

	if c.Hub.PonderPrefix == "" {
		errs = append(errs, "hub.ponder_prefix is required")
	}
	if c.Hub.DiscoveryPrefix == "" {
		errs = append(errs, "hub.discovery_prefix is required")
	}
	if strings.ContainsAny(c.Hub.PonderPrefix+c.Hub.DiscoveryPrefix+c.Clip.DeviceTopicPrefix, "+#") {
		errs = append(errs, "topic prefixes must not contain MQTT wildcards")
	}

	// Clip
	if c.Clip.DeviceTopicPrefix == "" {
		errs = append(errs, "clip.device_topic_prefix is required")
	}
	if c.Clip.DeployInterval < 1 {
		errs = append(errs, "clip.deploy_interval must be positive")
	}
	if c.Clip.Shards < 1 {
		errs = append(errs, "clip.shards must be at least 1")
	}
	if c.Clip.QueueSize < 1 {
		errs = append(errs, "clip.queue_size must be at least 1")
	}
	if c.Clip.HealthInterval < 1 {
		errs = append(errs, "clip.health_interval must be positive")
	}

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// InfluxDB
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// Logging
	if c.Logging.Output == "file" && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (m MQTTConfig) validate(section string) []string {
	var errs []string
	if m.Broker.Host == "" {
		errs = append(errs, section+".broker.host is required")
	}
	if m.Broker.Port < 1 || m.Broker.Port > 65535 {
		errs = append(errs, section+".broker.port must be between 1 and 65535")
	}
	if m.QoS < 0 || m.QoS > 2 {
		errs = append(errs, section+".qos must be 0, 1, or 2")
	}
	return errs
}

// HealthInterval returns the health publish interval as a Duration.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Clip.HealthInterval) * time.Second
}

// String returns the configuration as YAML with credentials redacted.
func (c *Config) String() string {
	redacted := *c
	redacted.Hub.Auth.Password = redact(redacted.Hub.Auth.Password)
	redacted.Devices.Auth.Password = redact(redacted.Devices.Auth.Password)
	redacted.InfluxDB.Token = redact(redacted.InfluxDB.Token)

	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}
