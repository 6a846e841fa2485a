package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "DJT_"

// Config is the complete runtime configuration of the djt service
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
	Notify    NotifyConfig    `yaml:"notify"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	// ReadOnly serves queries only, for replicas sharing a Postgres store
	ReadOnly bool `yaml:"read_only"`
}

// StoreConfig selects and tunes the job store backend
type StoreConfig struct {
	Backend     string        `yaml:"backend" validate:"oneof=bolt postgres memory"`
	DataDir     string        `yaml:"data_dir" validate:"required_if=Backend bolt"`
	PostgresDSN string        `yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries  int           `yaml:"max_retries" validate:"gte=0"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// NotifyConfig lists the sinks job events are forwarded to. The log sink
// is used when no other sink is enabled.
type NotifyConfig struct {
	Kafka   KafkaConfig   `yaml:"kafka"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// KafkaConfig configures the Kafka sink
type KafkaConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Brokers        []string      `yaml:"brokers" validate:"required_if=Enabled true,dive,hostname_port"`
	Topic          string        `yaml:"topic" validate:"required_if=Enabled true"`
	ClientID       string        `yaml:"client_id"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gte=0"`
}

// WebhookConfig configures the webhook sink. An empty URL disables it.
type WebhookConfig struct {
	URL        string        `yaml:"url" validate:"omitempty,url"`
	Timeout    time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxRetries int           `yaml:"max_retries" validate:"gte=0"`
}

// RateLimitConfig configures per-client request limiting on the API
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"required_if=Enabled true,gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// MetricsConfig configures the job gauge collector
type MetricsConfig struct {
	CollectInterval time.Duration `yaml:"collect_interval" validate:"gt=0"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend:    "bolt",
			DataDir:    "./djt-data",
			Timeout:    5 * time.Second,
			MaxRetries: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
		Notify: NotifyConfig{
			Kafka: KafkaConfig{
				Topic:          "djt.jobs",
				ClientID:       "djt",
				ConnectTimeout: 30 * time.Second,
			},
			Webhook: WebhookConfig{
				Timeout:    5 * time.Second,
				MaxRetries: 3,
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
		},
		Metrics: MetricsConfig{
			CollectInterval: 15 * time.Second,
		},
	}
}

// LoadDotEnv loads environment variables from the given .env files, or
// from ./.env when none are given. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the optional YAML file at
// path and DJT_* environment variables, in that order, then validates it
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"SERVER_ADDR":        &cfg.Server.Addr,
		"STORE_BACKEND":      &cfg.Store.Backend,
		"STORE_DATA_DIR":     &cfg.Store.DataDir,
		"STORE_POSTGRES_DSN": &cfg.Store.PostgresDSN,
		"LOG_LEVEL":          &cfg.Log.Level,
		"KAFKA_TOPIC":        &cfg.Notify.Kafka.Topic,
		"KAFKA_CLIENT_ID":    &cfg.Notify.Kafka.ClientID,
		"WEBHOOK_URL":        &cfg.Notify.Webhook.URL,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"STORE_TIMEOUT":            &cfg.Store.Timeout,
		"WEBHOOK_TIMEOUT":          &cfg.Notify.Webhook.Timeout,
		"METRICS_COLLECT_INTERVAL": &cfg.Metrics.CollectInterval,
	}
	for name, dst := range durations {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"STORE_MAX_RETRIES":   &cfg.Store.MaxRetries,
		"WEBHOOK_MAX_RETRIES": &cfg.Notify.Webhook.MaxRetries,
		"RATE_LIMIT_BURST":    &cfg.RateLimit.Burst,
	}
	for name, dst := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"SERVER_READ_ONLY":   &cfg.Server.ReadOnly,
		"LOG_JSON":           &cfg.Log.JSON,
		"KAFKA_ENABLED":      &cfg.Notify.Kafka.Enabled,
		"RATE_LIMIT_ENABLED": &cfg.RateLimit.Enabled,
	}
	for name, dst := range bools {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "RATE_LIMIT_RPS"); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %sRATE_LIMIT_RPS: %w", EnvPrefix, err)
		}
		cfg.RateLimit.RequestsPerSecond = rps
	}

	if v, ok := os.LookupEnv(EnvPrefix + "KAFKA_BROKERS"); ok {
		cfg.Notify.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Notify.Kafka.Brokers = append(cfg.Notify.Kafka.Brokers, b)
			}
		}
	}
	return nil
}
