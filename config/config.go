// Package config loads the flashsale daemon configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Environment variables that override file values.
const (
	EnvRedisAddr    = "FLASHSALE_REDIS_ADDR"
	EnvPostgresDSN  = "FLASHSALE_POSTGRES_DSN"
	EnvKafkaBrokers = "FLASHSALE_KAFKA_BROKERS" // comma separated
	EnvLogLevel     = "FLASHSALE_LOG_LEVEL"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Cache    CacheConfig    `yaml:"cache"`
	Orders   OrdersConfig   `yaml:"orders"`
	Hooks    HooksConfig    `yaml:"hooks"`
	Drill    DrillConfig    `yaml:"drill"`
}

type LogConfig struct {
	Backend string `yaml:"backend"` // zap | logrus | slog | zerolog
	Level   string `yaml:"level"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type PostgresConfig struct {
	// Empty DSN runs the drill against an in-memory store.
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"`
}

type KafkaConfig struct {
	// No brokers disables publishing.
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type CacheConfig struct {
	Provider    string        `yaml:"provider"` // redis | ristretto | bigcache
	Codec       string        `yaml:"codec"`    // json | msgpack | cbor | cbor-det
	Strategy    string        `yaml:"strategy"` // pass_through | mutex | logical_expire
	TTL         time.Duration `yaml:"ttl"`
	NegativeTTL time.Duration `yaml:"negative_ttl"`
	LogicalTTL  time.Duration `yaml:"logical_ttl"`
	Breaker     bool          `yaml:"breaker"`
}

type OrdersConfig struct {
	IDPrefix       string        `yaml:"id_prefix"`
	QueueCapacity  int           `yaml:"queue_capacity"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	LockRetries    int           `yaml:"lock_retries"`
}

type HooksConfig struct {
	Backend    string `yaml:"backend"` // none | slog | otel
	AsyncQueue int    `yaml:"async_queue"`
}

// DrillConfig describes the simulated sale run by the daemon.
type DrillConfig struct {
	VoucherID int64         `yaml:"voucher_id"`
	Stock     int64         `yaml:"stock"`
	Users     int           `yaml:"users"`
	Attempts  int           `yaml:"attempts"` // per user
	Window    time.Duration `yaml:"window"`   // 0 = unbounded sale
	ShopID    int64         `yaml:"shop_id"`  // 0 skips the cache read
}

func Default() Config {
	return Config{
		Log:   LogConfig{Backend: "zap", Level: "info"},
		Redis: RedisConfig{Addr: "localhost:6379", PoolSize: 64},
		Postgres: PostgresConfig{
			MaxConns: 16,
			Migrate:  true,
		},
		Kafka: KafkaConfig{Topic: "flashsale.orders"},
		Cache: CacheConfig{
			Provider:    "redis",
			Codec:       "json",
			Strategy:    "mutex",
			TTL:         30 * time.Minute,
			NegativeTTL: 2 * time.Minute,
			LogicalTTL:  30 * time.Minute,
		},
		Orders: OrdersConfig{
			IDPrefix:       "order",
			QueueCapacity:  1 << 16,
			EnqueueTimeout: 50 * time.Millisecond,
			LockTTL:        10 * time.Second,
			LockRetries:    5,
		},
		Hooks: HooksConfig{Backend: "slog", AsyncQueue: 1024},
		Drill: DrillConfig{
			VoucherID: 1,
			Stock:     100,
			Users:     1000,
			Attempts:  2,
			Window:    time.Minute,
			ShopID:    1,
		},
	}
}

// Load reads path over Default, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv(EnvPostgresDSN); v != "" {
		c.Postgres.DSN = v
	}
	if v := getenv(EnvKafkaBrokers); v != "" {
		c.Kafka.Brokers = c.Kafka.Brokers[:0]
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

func oneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("config: %s must be one of %s, got %q", field, strings.Join(allowed, "|"), v)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	add(oneOf("log.backend", c.Log.Backend, "zap", "logrus", "slog", "zerolog"))
	add(oneOf("log.level", strings.ToLower(c.Log.Level), "debug", "info", "warn", "error"))
	add(oneOf("cache.provider", c.Cache.Provider, "redis", "ristretto", "bigcache"))
	add(oneOf("cache.codec", c.Cache.Codec, "json", "msgpack", "cbor", "cbor-det"))
	add(oneOf("cache.strategy", c.Cache.Strategy, "pass_through", "mutex", "logical_expire"))
	add(oneOf("hooks.backend", c.Hooks.Backend, "none", "slog", "otel"))

	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("config: redis.addr is required"))
	}
	if c.Cache.TTL <= 0 || c.Cache.NegativeTTL <= 0 || c.Cache.NegativeTTL >= c.Cache.TTL {
		errs = append(errs, errors.New("config: cache ttls must satisfy 0 < negative_ttl < ttl"))
	}
	if c.Cache.Provider == "bigcache" && c.Cache.Strategy == "logical_expire" {
		// bigcache has one global life window, logical entries would be evicted
		errs = append(errs, errors.New("config: logical_expire needs a provider with per-key ttl"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("config: kafka.topic is required with brokers"))
	}
	if c.Orders.QueueCapacity <= 0 {
		errs = append(errs, errors.New("config: orders.queue_capacity must be > 0"))
	}
	if c.Drill.Stock < 0 || c.Drill.Users <= 0 || c.Drill.Attempts <= 0 {
		errs = append(errs, errors.New("config: drill needs stock >= 0, users > 0, attempts > 0"))
	}
	return errors.Join(errs...)
}
