// Package config provides configuration management for the vault risk service
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Aidin1998/vaultrisk/internal/risk"
)

// EnvPrefix is prepended to every environment override, e.g.
// VAULTRISK_MONITOR_CHECK_INTERVAL.
const EnvPrefix = "VAULTRISK"

// DefaultPaths are searched when Load is called without paths.
var DefaultPaths = []string{"./config.yaml", "./configs/vaultrisk.yaml"}

// Config holds all vault risk service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database" json:"database"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis" json:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka" yaml:"kafka" json:"kafka"`
	Alerting  AlertingConfig  `mapstructure:"alerting" yaml:"alerting" json:"alerting"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging" json:"logging"`
	Workers   WorkersConfig   `mapstructure:"workers" yaml:"workers" json:"workers"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor" json:"monitor"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host             string        `mapstructure:"host" yaml:"host" json:"host"`
	Port             int           `mapstructure:"port" yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout" validate:"min=0"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout" validate:"min=0"`
	CORSOrigins      []string      `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
	EnableSimulation bool          `mapstructure:"enable_simulation" yaml:"enable_simulation" json:"enable_simulation"`
	// RateLimitRPS is the per client request rate; zero disables limiting.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps" json:"rate_limit_rps" validate:"min=0"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst" json:"rate_limit_burst" validate:"min=0"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver" json:"driver" validate:"oneof=sqlite postgres"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn" json:"-" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate" yaml:"auto_migrate" json:"auto_migrate"`
}

// RedisConfig holds Redis configuration for the market data cache, the market
// data feed and the alert stream.
type RedisConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Address           string        `mapstructure:"address" yaml:"address" json:"address" validate:"required_if=Enabled true"`
	Password          string        `mapstructure:"password" yaml:"password" json:"-"`
	DB                int           `mapstructure:"db" yaml:"db" json:"db" validate:"min=0"`
	KeyPrefix         string        `mapstructure:"key_prefix" yaml:"key_prefix" json:"key_prefix"`
	MarketDataTTL     time.Duration `mapstructure:"market_data_ttl" yaml:"market_data_ttl" json:"market_data_ttl" validate:"min=0"`
	MarketDataChannel string        `mapstructure:"market_data_channel" yaml:"market_data_channel" json:"market_data_channel"`
	AlertStream       string        `mapstructure:"alert_stream" yaml:"alert_stream" json:"alert_stream"`
	AlertStreamMaxLen int64         `mapstructure:"alert_stream_max_len" yaml:"alert_stream_max_len" json:"alert_stream_max_len" validate:"min=0"`
}

// KafkaConfig holds Kafka configuration for alert publishing
type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Brokers    []string `mapstructure:"brokers" yaml:"brokers" json:"brokers" validate:"required_if=Enabled true"`
	AlertTopic string   `mapstructure:"alert_topic" yaml:"alert_topic" json:"alert_topic"`
}

// AlertingConfig holds outbound alert webhook configuration
type AlertingConfig struct {
	WebhookURL     string            `mapstructure:"webhook_url" yaml:"webhook_url" json:"webhook_url" validate:"omitempty,url"`
	WebhookHeaders map[string]string `mapstructure:"webhook_headers" yaml:"webhook_headers" json:"-"`
	WebhookTimeout time.Duration     `mapstructure:"webhook_timeout" yaml:"webhook_timeout" json:"webhook_timeout" validate:"min=0"`
	// WebhookMinSeverity drops alerts ranked below it; empty sends everything.
	WebhookMinSeverity string `mapstructure:"webhook_min_severity" yaml:"webhook_min_severity" json:"webhook_min_severity" validate:"omitempty,oneof=low medium high critical"`
	// QueueSize bounds the undelivered alerts held per sink.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" json:"queue_size" validate:"min=0"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `mapstructure:"format" yaml:"format" json:"format" validate:"omitempty,oneof=json console"`
}

// WorkersConfig schedules the background vault sweep and history pruning.
// A zero interval disables the worker.
type WorkersConfig struct {
	SweepInterval     time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" json:"sweep_interval" validate:"min=0"`
	SweepBatchLimit   int           `mapstructure:"sweep_batch_limit" yaml:"sweep_batch_limit" json:"sweep_batch_limit" validate:"min=0"`
	HistoryLimit      int           `mapstructure:"history_limit" yaml:"history_limit" json:"history_limit" validate:"min=1"`
	RetentionInterval time.Duration `mapstructure:"retention_interval" yaml:"retention_interval" json:"retention_interval" validate:"min=0"`
}

// TelemetryConfig selects OpenTelemetry exporters. Only "stdout" exists;
// empty disables the signal.
type TelemetryConfig struct {
	ServiceName     string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	TracingExporter string `mapstructure:"tracing_exporter" yaml:"tracing_exporter" json:"tracing_exporter" validate:"omitempty,oneof=stdout"`
	MetricsExporter string `mapstructure:"metrics_exporter" yaml:"metrics_exporter" json:"metrics_exporter" validate:"omitempty,oneof=stdout"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			CORSOrigins:    []string{"*"},
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "file:vaultrisk.db?cache=shared",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			Address:           "localhost:6379",
			KeyPrefix:         "vaultrisk",
			MarketDataTTL:     10 * time.Minute,
			MarketDataChannel: "vaultrisk:market-data",
			AlertStream:       "vaultrisk:alerts",
			AlertStreamMaxLen: 10000,
		},
		Kafka: KafkaConfig{
			Brokers:    []string{"localhost:9092"},
			AlertTopic: "vaultrisk.alerts",
		},
		Alerting: AlertingConfig{
			WebhookTimeout: 10 * time.Second,
			QueueSize:      256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Workers: WorkersConfig{
			SweepInterval:     time.Minute,
			SweepBatchLimit:   500,
			HistoryLimit:      50,
			RetentionInterval: time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "vaultrisk",
		},
		Monitor: DefaultMonitorConfig(),
	}
}

var validate = validator.New()

// Validate checks struct tags and the monitor threshold ordering. Failures
// are risk.ErrValidation.
func (c *Config) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}
	return c.Monitor.checkThresholdOrder()
}

func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verr := risk.ErrValidation.Explain("invalid configuration")
	if fieldErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range fieldErrs {
			verr = verr.WithField(fe.Namespace(), fmt.Sprintf("failed %q validation", fe.Tag()))
		}
		return verr
	}
	return verr.Wrap(err)
}

// Load reads configuration from the given YAML files (DefaultPaths when none
// are given), then VAULTRISK_* environment variables, and validates the result.
// Missing files are skipped.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if len(paths) == 0 {
		paths = DefaultPaths
	}
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, risk.ErrValidation.Explain("failed to decode configuration").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key with viper so environment overrides are
// picked up by Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]interface{}{
		"server.host":              d.Server.Host,
		"server.port":              d.Server.Port,
		"server.read_timeout":      d.Server.ReadTimeout,
		"server.write_timeout":     d.Server.WriteTimeout,
		"server.cors_origins":      d.Server.CORSOrigins,
		"server.enable_simulation": d.Server.EnableSimulation,
		"server.rate_limit_rps":    d.Server.RateLimitRPS,
		"server.rate_limit_burst":  d.Server.RateLimitBurst,

		"database.driver":            d.Database.Driver,
		"database.dsn":               d.Database.DSN,
		"database.max_open_conns":    d.Database.MaxOpenConns,
		"database.max_idle_conns":    d.Database.MaxIdleConns,
		"database.conn_max_lifetime": d.Database.ConnMaxLifetime,
		"database.auto_migrate":      d.Database.AutoMigrate,

		"redis.enabled":              d.Redis.Enabled,
		"redis.address":              d.Redis.Address,
		"redis.password":             d.Redis.Password,
		"redis.db":                   d.Redis.DB,
		"redis.key_prefix":           d.Redis.KeyPrefix,
		"redis.market_data_ttl":      d.Redis.MarketDataTTL,
		"redis.market_data_channel":  d.Redis.MarketDataChannel,
		"redis.alert_stream":         d.Redis.AlertStream,
		"redis.alert_stream_max_len": d.Redis.AlertStreamMaxLen,

		"kafka.enabled":     d.Kafka.Enabled,
		"kafka.brokers":     d.Kafka.Brokers,
		"kafka.alert_topic": d.Kafka.AlertTopic,

		"alerting.webhook_url":          d.Alerting.WebhookURL,
		"alerting.webhook_timeout":      d.Alerting.WebhookTimeout,
		"alerting.webhook_min_severity": d.Alerting.WebhookMinSeverity,
		"alerting.queue_size":           d.Alerting.QueueSize,

		"logging.level":  d.Logging.Level,
		"logging.format": d.Logging.Format,

		"workers.sweep_interval":     d.Workers.SweepInterval,
		"workers.sweep_batch_limit":  d.Workers.SweepBatchLimit,
		"workers.history_limit":      d.Workers.HistoryLimit,
		"workers.retention_interval": d.Workers.RetentionInterval,

		"telemetry.service_name":     d.Telemetry.ServiceName,
		"telemetry.tracing_exporter": d.Telemetry.TracingExporter,
		"telemetry.metrics_exporter": d.Telemetry.MetricsExporter,
	}
	for key, value := range d.Monitor.defaults() {
		defaults["monitor."+key] = value
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
