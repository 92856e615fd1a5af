// Package config loads service settings: defaults, then an optional YAML file, then
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort        string        `yaml:"http_port"`
	GRPCPort        string        `yaml:"grpc_port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	JWTSecret       string        `yaml:"jwt_secret"`

	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

type DatabaseConfig struct {
	Driver        string        `yaml:"driver"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	Name          string        `yaml:"name"`
	SQLitePath    string        `yaml:"sqlite_path"`
	MigrationsDir string        `yaml:"migrations_dir"`
	TxTimeout     time.Duration `yaml:"tx_timeout"`
}

type SessionConfig struct {
	Store         string        `yaml:"store"`
	TTL           time.Duration `yaml:"ttl"`
	Cookie        string        `yaml:"cookie"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	MongoURI      string        `yaml:"mongo_uri"`
	MongoDB       string        `yaml:"mongo_db"`
}

type KafkaConfig struct {
	// empty disables publishing
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func Default() *Config {
	return &Config{
		HTTPPort:        "8080",
		GRPCPort:        "50051",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		Database: DatabaseConfig{
			Driver:        "postgres",
			Host:          "localhost",
			Port:          5432,
			User:          "postgres",
			Password:      "postgres",
			Name:          "storefront",
			SQLitePath:    "storefront.db",
			MigrationsDir: "./internal/repository/migrations/postgres",
			TxTimeout:     5 * time.Second,
		},
		Session: SessionConfig{
			Store:     "redis",
			TTL:       30 * time.Minute,
			Cookie:    "storefront_session",
			RedisAddr: "localhost:6379",
			MongoURI:  "mongodb://localhost:27017",
			MongoDB:   "storefront",
		},
		Kafka: KafkaConfig{
			Topic:        "storefront-orders",
			PollInterval: time.Second,
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.GRPCPort = getEnv("GRPC_PORT", c.GRPCPort)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SQLitePath = getEnv("SQLITE_PATH", c.Database.SQLitePath)
	c.Database.MigrationsDir = getEnv("MIGRATIONS_DIR", c.Database.MigrationsDir)

	c.Session.Store = getEnv("SESSION_STORE", c.Session.Store)
	c.Session.Cookie = getEnv("SESSION_COOKIE", c.Session.Cookie)
	c.Session.RedisAddr = getEnv("REDIS_ADDR", c.Session.RedisAddr)
	c.Session.RedisPassword = getEnv("REDIS_PASSWORD", c.Session.RedisPassword)
	c.Session.MongoURI = getEnv("MONGO_URI", c.Session.MongoURI)
	c.Session.MongoDB = getEnv("MONGO_DB", c.Session.MongoDB)

	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}

	var err error
	if c.Database.Port, err = getEnvInt("DB_PORT", c.Database.Port); err != nil {
		return err
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"REQUEST_TIMEOUT", &c.RequestTimeout},
		{"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout},
		{"TX_TIMEOUT", &c.Database.TxTimeout},
		{"SESSION_TTL", &c.Session.TTL},
		{"OUTBOX_POLL_INTERVAL", &c.Kafka.PollInterval},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver))
	}
	switch c.Session.Store {
	case "redis", "mongo":
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_STORE %q", c.Session.Store))
	}

	for name, d := range map[string]time.Duration{
		"REQUEST_TIMEOUT":      c.RequestTimeout,
		"SHUTDOWN_TIMEOUT":     c.ShutdownTimeout,
		"TX_TIMEOUT":           c.Database.TxTimeout,
		"SESSION_TTL":          c.Session.TTL,
		"OUTBOX_POLL_INTERVAL": c.Kafka.PollInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.HTTPPort == "" {
		errs = append(errs, errors.New("HTTP_PORT is required"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
