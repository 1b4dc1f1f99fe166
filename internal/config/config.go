package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Broker    BrokerConfig    `mapstructure:"broker"    validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker"    validate:"required"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"               validate:"omitempty,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	// InMemory replaces Postgres and the broker with process-local
	// implementations. URL is ignored and workers must run in-process.
	InMemory bool `mapstructure:"in_memory"`
}

// BrokerConfig contains the NATS JetStream settings used by the priority queues.
type BrokerConfig struct {
	URL            string        `mapstructure:"url"             validate:"required,url"`
	Stream         string        `mapstructure:"stream"          validate:"required,alphanum"`
	AckWait        time.Duration `mapstructure:"ack_wait"        validate:"gt=0"`
	MaxAckPending  int           `mapstructure:"max_ack_pending" validate:"gte=1"`
	MaxDeliver     int           `mapstructure:"max_deliver"     validate:"gte=-1"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout" validate:"gt=0"`
}

// WorkerConfig controls the consumer loops and the simulated execution delays.
type WorkerConfig struct {
	ConsumersPerPriority int           `mapstructure:"consumers_per_priority" validate:"gte=1,lte=64"`
	HighDelay            time.Duration `mapstructure:"high_delay"             validate:"gte=0"`
	MediumDelay          time.Duration `mapstructure:"medium_delay"           validate:"gte=0"`
	LowDelay             time.Duration `mapstructure:"low_delay"              validate:"gte=0"`
}

// DispatchConfig controls the orphaned-task reconciler. A zero interval
// disables it.
type DispatchConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" validate:"gte=0"`
	ReconcileAge      time.Duration `mapstructure:"reconcile_age"      validate:"gte=0"`
	ReconcileBatch    int           `mapstructure:"reconcile_batch"    validate:"gte=1"`
}

// TelemetryConfig controls the OpenTelemetry providers.
type TelemetryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"service_name"    validate:"required_if=Enabled true"`
	MetricInterval time.Duration `mapstructure:"metric_interval" validate:"gte=0"`
}
