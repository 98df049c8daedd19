package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends for the access snapshot.
const (
	StorageBackendFile   = "file"
	StorageBackendSQLite = "sqlite"
)

// Tag formats accepted by access.tag.format.
const (
	TagFormatNumeric      = "numeric"
	TagFormatAlphanumeric = "alphanumeric"
)

// Config is the root configuration structure for Gray Logic Access.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site          SiteConfig          `yaml:"site"`
	Storage       StorageConfig       `yaml:"storage"`
	Database      DatabaseConfig      `yaml:"database"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
	Access        AccessConfig        `yaml:"access"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// Timezone is the IANA zone schedules are written in (e.g. "Europe/London").
	Timezone string `yaml:"timezone"`
}

// StorageConfig selects where the users/schedules snapshot lives.
type StorageConfig struct {
	// Backend is "file" (JSON document, atomic rename) or "sqlite"
	// (single-row document in the database below).
	Backend string `yaml:"backend"`

	// Path is the JSON snapshot file for the file backend.
	Path string `yaml:"path"`

	// SaveDelayMS batches mutations for this long before saving.
	// 0 saves synchronously after every mutation.
	SaveDelayMS int `yaml:"save_delay_ms"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AccessConfig contains validation policy settings.
type AccessConfig struct {
	Name      LengthConfig    `yaml:"name"`
	Code      LengthConfig    `yaml:"code"`
	Tag       TagConfig       `yaml:"tag"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// LengthConfig bounds a string's length.
type LengthConfig struct {
	MinLength int `yaml:"min_length"`
	MaxLength int `yaml:"max_length"`
}

// TagConfig describes what an RFID tag identifier looks like at this site.
type TagConfig struct {
	// Format is "numeric" (value within Min..Max) or "alphanumeric"
	// (letters, digits, '-', '_', ':' up to MaxLength).
	Format    string `yaml:"format"`
	Min       int64  `yaml:"min"`
	Max       int64  `yaml:"max"`
	MaxLength int    `yaml:"max_length"`
}

// RateLimitConfig limits validation attempts per keypad source.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	// PerMinute is the sustained number of attempts allowed per source.
	PerMinute int `yaml:"per_minute"`
	// Burst is the number of attempts allowed back to back.
	Burst int `yaml:"burst"`
}

// NotificationsConfig controls delivery of validation notifications.
type NotificationsConfig struct {
	// IncludeCredentials publishes the presented code or tag in MQTT events.
	// Off by default: anyone subscribed to the bus would learn valid codes.
	IncludeCredentials bool `yaml:"include_credentials"`

	// AccessLog records every attempt in the SQLite access log.
	AccessLog bool `yaml:"access_log"`

	// RetentionDays prunes access log entries older than this. 0 keeps all.
	RetentionDays int `yaml:"retention_days"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_ACCESS_SECTION_KEY
// For example: GRAYLOGIC_ACCESS_DATABASE_PATH, GRAYLOGIC_ACCESS_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration, as used when no file is given.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic",
			Timezone: "UTC",
		},
		Storage: StorageConfig{
			Backend:     StorageBackendFile,
			Path:        "./data/access.json",
			SaveDelayMS: 1000,
		},
		Database: DatabaseConfig{
			Path:        "./data/access.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-access",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Listen:    "127.0.0.1:9102",
			Path:      "/metrics",
			Namespace: "graylogic_access",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Access: AccessConfig{
			Name: LengthConfig{MinLength: 2, MaxLength: 50},
			Code: LengthConfig{MinLength: 4, MaxLength: 8},
			Tag: TagConfig{
				Format:    TagFormatNumeric,
				Min:       0,
				Max:       9999,
				MaxLength: 32,
			},
			RateLimit: RateLimitConfig{
				Enabled:   true,
				PerMinute: 10,
				Burst:     5,
			},
		},
		Notifications: NotificationsConfig{
			AccessLog:     true,
			RetentionDays: 90,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_ACCESS_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Site
	if v := os.Getenv("GRAYLOGIC_ACCESS_SITE_TIMEZONE"); v != "" {
		cfg.Site.Timezone = v
	}

	// Storage
	if v := os.Getenv("GRAYLOGIC_ACCESS_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("GRAYLOGIC_ACCESS_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_ACCESS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_ACCESS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_ACCESS_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GRAYLOGIC_ACCESS_MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("GRAYLOGIC_ACCESS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_ACCESS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_ACCESS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_ACCESS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("site.timezone %q is not a known zone", c.Site.Timezone))
	}

	// Storage validation
	switch c.Storage.Backend {
	case StorageBackendFile:
		if c.Storage.Path == "" {
			errs = append(errs, "storage.path is required for the file backend")
		}
	case StorageBackendSQLite:
	default:
		errs = append(errs, "storage.backend must be \"file\" or \"sqlite\"")
	}
	if c.Storage.SaveDelayMS < 0 {
		errs = append(errs, "storage.save_delay_ms cannot be negative")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && (c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535) {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	// Metrics validation
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	// Access policy validation
	errs = append(errs, c.Access.validate()...)

	if c.Notifications.RetentionDays < 0 {
		errs = append(errs, "notifications.retention_days cannot be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (a *AccessConfig) validate() []string {
	var errs []string

	if a.Name.MinLength < 1 || a.Name.MaxLength < a.Name.MinLength {
		errs = append(errs, "access.name length bounds are invalid")
	}
	if a.Code.MinLength < 1 || a.Code.MaxLength < a.Code.MinLength {
		errs = append(errs, "access.code length bounds are invalid")
	}

	switch a.Tag.Format {
	case TagFormatNumeric:
		if a.Tag.Min < 0 || a.Tag.Max < a.Tag.Min {
			errs = append(errs, "access.tag min/max are invalid")
		}
	case TagFormatAlphanumeric:
		if a.Tag.MaxLength < 1 {
			errs = append(errs, "access.tag.max_length must be at least 1")
		}
	default:
		errs = append(errs, "access.tag.format must be \"numeric\" or \"alphanumeric\"")
	}

	if a.RateLimit.Enabled && (a.RateLimit.PerMinute < 1 || a.RateLimit.Burst < 1) {
		errs = append(errs, "access.rate_limit.per_minute and burst must be positive when enabled")
	}

	return errs
}

// Location returns the site timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SaveDelay returns the storage save delay as a Duration.
func (c *Config) SaveDelay() time.Duration {
	return time.Duration(c.Storage.SaveDelayMS) * time.Millisecond
}

// Retention returns the access log retention as a Duration. Zero keeps all.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Notifications.RetentionDays) * 24 * time.Hour
}
