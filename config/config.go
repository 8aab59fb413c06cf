package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	AckBeforeDispatch = "before-dispatch"
	AckAfterDispatch  = "after-dispatch"

	LedgerRedis    = "redis"
	LedgerPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Consumer  ConsumerConfig  `mapstructure:"consumer"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type StreamConfig struct {
	Name        string `mapstructure:"name"`
	Group       string `mapstructure:"group"`
	DeleteOnAck bool   `mapstructure:"delete_on_ack"`
}

type LedgerConfig struct {
	Backend     string `mapstructure:"backend"`
	Key         string `mapstructure:"key"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type ProcessorConfig struct {
	DefaultURL  string        `mapstructure:"default_url"`
	FallbackURL string        `mapstructure:"fallback_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ConsumerConfig struct {
	Name            string        `mapstructure:"name"`
	Block           time.Duration `mapstructure:"block"`
	Count           int64         `mapstructure:"count"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	AckMode         string        `mapstructure:"ack_mode"`
	ErrorBackoffMin time.Duration `mapstructure:"error_backoff_min"`
	ErrorBackoffMax time.Duration `mapstructure:"error_backoff_max"`
}

type DispatchConfig struct {
	// FallbackStrictStatus treats a non-200 answer from the fallback
	// processor as a failure instead of a success.
	FallbackStrictStatus bool `mapstructure:"fallback_strict_status"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load reads configuration from an optional .env file, an optional YAML file
// at path and the environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	// a missing .env is the normal case in containers
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Consumer.Name == "" {
		cfg.Consumer.Name = defaultConsumerName()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "9999")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)

	v.SetDefault("stream.name", "payments_stream")
	v.SetDefault("stream.group", "payments_group")
	v.SetDefault("stream.delete_on_ack", false)

	v.SetDefault("ledger.backend", LedgerRedis)
	v.SetDefault("ledger.key", "payments:timeline")
	v.SetDefault("ledger.postgres_dsn", "")

	v.SetDefault("processor.default_url", "http://localhost:8001")
	v.SetDefault("processor.fallback_url", "http://localhost:8002")
	v.SetDefault("processor.timeout", 5*time.Second)

	v.SetDefault("consumer.name", "")
	v.SetDefault("consumer.block", 2*time.Second)
	v.SetDefault("consumer.count", 10)
	v.SetDefault("consumer.workers", 64)
	v.SetDefault("consumer.queue_size", 256)
	v.SetDefault("consumer.ack_mode", AckAfterDispatch)
	v.SetDefault("consumer.error_backoff_min", 50*time.Millisecond)
	v.SetDefault("consumer.error_backoff_max", 5*time.Second)

	v.SetDefault("dispatch.fallback_strict_status", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")
}

func bindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// names used by the compose files of the payment processors
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("processor.default_url", "PROCESSOR_DEFAULT_URL", "PAYMENT_PROCESSOR_URL_DEFAULT")
	_ = v.BindEnv("processor.fallback_url", "PROCESSOR_FALLBACK_URL", "PAYMENT_PROCESSOR_URL_FALLBACK")
	_ = v.BindEnv("consumer.name", "CONSUMER_NAME")
	_ = v.BindEnv("ledger.postgres_dsn", "LEDGER_POSTGRES_DSN", "DATABASE_URL")
}

func (c *Config) Validate() error {
	if c.Processor.DefaultURL == "" {
		return fmt.Errorf("processor.default_url is required")
	}
	if c.Processor.FallbackURL == "" {
		return fmt.Errorf("processor.fallback_url is required")
	}
	if c.Processor.Timeout <= 0 {
		return fmt.Errorf("processor.timeout must be positive")
	}
	if c.Stream.Name == "" || c.Stream.Group == "" {
		return fmt.Errorf("stream.name and stream.group are required")
	}
	if c.Consumer.Block < 0 {
		return fmt.Errorf("consumer.block must not be negative")
	}
	if c.Consumer.Count <= 0 {
		return fmt.Errorf("consumer.count must be positive")
	}
	if c.Consumer.Workers <= 0 {
		return fmt.Errorf("consumer.workers must be positive")
	}
	if c.Consumer.QueueSize < 0 {
		return fmt.Errorf("consumer.queue_size must not be negative")
	}

	switch c.Consumer.AckMode {
	case AckBeforeDispatch, AckAfterDispatch:
	default:
		return fmt.Errorf("consumer.ack_mode must be %q or %q", AckBeforeDispatch, AckAfterDispatch)
	}

	switch c.Ledger.Backend {
	case LedgerRedis:
		if c.Ledger.Key == "" {
			return fmt.Errorf("ledger.key is required")
		}
	case LedgerPostgres:
		if c.Ledger.PostgresDSN == "" {
			return fmt.Errorf("ledger.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown ledger.backend %q", c.Ledger.Backend)
	}

	return nil
}

func defaultConsumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "consumer-" + uuid.NewString()[:8]
}
