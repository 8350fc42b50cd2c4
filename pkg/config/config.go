package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Limiter   LimiterConfig   `mapstructure:"limiter"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Generator GeneratorConfig `mapstructure:"generator"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level string `mapstructure:"level"` // "debug", "info", "warn", "error"
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString renders the pgx connection URL.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// FeedConfig points at the upstream price API.
type FeedConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	FreshTTL  time.Duration `mapstructure:"fresh_ttl"` // how old the latest snapshot may get before a refill
}

// LimiterConfig configures the two independent sliding-window limiters:
// one bounding upstream feed calls, one bounding expensive API routes per user.
type LimiterConfig struct {
	FeedLimit  int           `mapstructure:"feed_limit"`
	FeedWindow time.Duration `mapstructure:"feed_window"`
	APILimit   int           `mapstructure:"api_limit"`
	APIWindow  time.Duration `mapstructure:"api_window"`
}

type IngestConfig struct {
	Secret string `mapstructure:"secret"` // shared secret for the archive-ingest trigger; empty disables ingestion
}

type WorkerConfig struct {
	NumWorkers int `mapstructure:"num_workers"`
}

type GeneratorConfig struct {
	Users []string `mapstructure:"users"`
	Items []int    `mapstructure:"items"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Load .env file into System Environment (if it exists)
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	// 2. Set Defaults (12-Factor App: Dev/Prod Parity)
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.user", "vault")
	v.SetDefault("postgres.password", "vault")
	v.SetDefault("postgres.dbname", "vault")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "portfolio_fills")
	v.SetDefault("kafka.group_id", "fill-worker-group")

	v.SetDefault("feed.base_url", "https://prices.runescape.wiki/api/v1/osrs")
	v.SetDefault("feed.user_agent", "vault-trading-desk/1.0 (contact: Kenny427)")
	v.SetDefault("feed.timeout", 10*time.Second)
	v.SetDefault("feed.fresh_ttl", 60*time.Second)

	v.SetDefault("limiter.feed_limit", 10)
	v.SetDefault("limiter.feed_window", time.Minute)
	v.SetDefault("limiter.api_limit", 20)
	v.SetDefault("limiter.api_window", time.Minute)

	v.SetDefault("ingest.secret", "")

	v.SetDefault("worker.num_workers", 4)

	v.SetDefault("generator.users", []string{"dev-user"})
	v.SetDefault("generator.items", []int{2, 6, 10, 12934})

	// 3. Configure Viper to read Environment Variables
	// This maps dot-notation to underscores (e.g., "app.port" -> "APP_PORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Explicitly Bind Env Vars to Keys
	// This is crucial for Viper to map flat Env Vars (APP_PORT) to nested structs (App.Port)
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.dbname", "postgres.sslmode")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id")
	bindEnv(v, "feed.base_url", "feed.user_agent", "feed.timeout", "feed.fresh_ttl")
	bindEnv(v, "limiter.feed_limit", "limiter.feed_window", "limiter.api_limit", "limiter.api_window")
	bindEnv(v, "ingest.secret")
	bindEnv(v, "worker.num_workers")
	bindEnv(v, "generator.users", "generator.items")

	// 5. Unmarshal into Struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	// 6. Basic Validation
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	if cfg.Limiter.FeedLimit <= 0 || cfg.Limiter.APILimit <= 0 {
		return nil, fmt.Errorf("limiter limits must be positive")
	}
	if cfg.Worker.NumWorkers <= 0 {
		return nil, fmt.Errorf("worker count must be positive")
	}

	return &cfg, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
