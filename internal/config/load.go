package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, so server.port is
// read from TASKER_SERVER_PORT.
const EnvPrefix = "TASKER"

// defaults lists every key Load understands. Keys must be registered with
// viper for AutomaticEnv to reach them during Unmarshal.
var defaults = map[string]any{
	"server.port":             8080,
	"server.log_level":        "info",
	"server.shutdown_timeout": 10 * time.Second,

	"database.url":               "",
	"database.max_open_conns":    10,
	"database.max_idle_conns":    5,
	"database.conn_max_lifetime": 5 * time.Minute,
	"database.auto_migrate":      true,
	"database.in_memory":         false,

	"broker.url":             "nats://127.0.0.1:4222",
	"broker.stream":          "TASKS",
	"broker.ack_wait":        time.Minute,
	"broker.max_ack_pending": 1,
	"broker.max_deliver":     -1,
	"broker.publish_timeout": 5 * time.Second,

	"worker.consumers_per_priority": 1,
	"worker.high_delay":             2 * time.Second,
	"worker.medium_delay":           5 * time.Second,
	"worker.low_delay":              10 * time.Second,

	"dispatch.reconcile_interval": time.Duration(0),
	"dispatch.reconcile_age":      5 * time.Minute,
	"dispatch.reconcile_batch":    100,

	"telemetry.enabled":         false,
	"telemetry.service_name":    "tasker",
	"telemetry.metric_interval": 30 * time.Second,
}

// Load reads configuration from, in increasing order of precedence,
// built-in defaults, an optional config.yaml in the working directory,
// a .env file and TASKER_* environment variables. The result is validated
// before it is returned.
func Load() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if !cfg.Database.InMemory && cfg.Database.URL == "" {
		return errors.New("config validation failed: database.url is required unless database.in_memory is set")
	}
	return nil
}
