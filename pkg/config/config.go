// Package config loads service configuration from an optional .env file, a
// YAML file and GQ_* environment overrides, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/engine"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    engine.Options  `yaml:"engine"`
	Source    SourceConfig    `yaml:"source"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Search    SearchConfig    `yaml:"search"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RPC       RPCConfig       `yaml:"rpc"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// APIKeys guard the mutating endpoints. Empty leaves them open.
	APIKeys     []string `yaml:"apiKeys"`
	CORSOrigins []string `yaml:"corsOrigins"`
}

// Source kinds.
const (
	SourceNone     = "none"
	SourceFile     = "file"
	SourcePostgres = "postgres"
	SourceRedis    = "redis"
)

// SourceConfig selects where the initial record set is loaded from.
type SourceConfig struct {
	Kind    string        `yaml:"kind"`
	Path    string        `yaml:"path"`
	Table   string        `yaml:"table"`
	Key     string        `yaml:"key"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds Kafka broker and topic settings. Empty topics disable the
// corresponding feature.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	RecordUpdates string `yaml:"recordUpdates"`
	QueryEvents   string `yaml:"queryEvents"`
}

// SearchConfig bounds what a single HTTP query may ask for.
type SearchConfig struct {
	DefaultLimit int     `yaml:"defaultLimit"`
	MaxLimit     int     `yaml:"maxLimit"`
	MaxRadiusKm  float64 `yaml:"maxRadiusKm"`
}

// RateLimitConfig configures the token bucket applied to API requests.
// A zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// AnalyticsConfig controls query event batching and snapshot persistence.
// A zero SnapshotInterval disables snapshots.
type AnalyticsConfig struct {
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// RPCConfig controls the TCP RPC listener. A zero port disables it.
type RPCConfig struct {
	Port int `yaml:"port"`
}

// Load reads an optional .env file and a YAML config file (if provided), then
// applies environment-variable overrides on top of the defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceNone, SourceFile, SourcePostgres, SourceRedis:
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	if c.Source.Kind == SourceFile && c.Source.Path == "" {
		return errors.New("source.path is required for a file source")
	}
	if c.Engine.CacheSize < 0 {
		return errors.New("engine.cacheSize must not be negative")
	}
	if c.Search.MaxLimit > 0 && c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.defaultLimit %d exceeds search.maxLimit %d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  5 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Engine: engine.DefaultOptions(),
		Source: SourceConfig{
			Kind:    SourceNone,
			Table:   "places",
			Key:     "geoquery:records",
			Timeout: 30 * time.Second,
			Retries: 3,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "geoquery",
			User:            "geoquery",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "geoquery",
		},
		Search: SearchConfig{
			DefaultLimit: 50,
			MaxLimit:     1000,
			MaxRadiusKm:  20000,
		},
		Analytics: AnalyticsConfig{
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads GQ_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt("GQ_SERVER_PORT", &cfg.Server.Port)
	setBool("GQ_ENGINE_STATIC", &cfg.Engine.Static)
	setBool("GQ_ENGINE_CACHE", &cfg.Engine.Cache)
	setInt("GQ_ENGINE_CACHE_SIZE", &cfg.Engine.CacheSize)
	setString("GQ_SOURCE_KIND", &cfg.Source.Kind)
	setString("GQ_SOURCE_PATH", &cfg.Source.Path)
	setString("GQ_SOURCE_TABLE", &cfg.Source.Table)
	setString("GQ_SOURCE_KEY", &cfg.Source.Key)
	setString("GQ_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("GQ_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("GQ_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("GQ_POSTGRES_USER", &cfg.Postgres.User)
	setString("GQ_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("GQ_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	setString("GQ_REDIS_ADDR", &cfg.Redis.Addr)
	setString("GQ_REDIS_PASSWORD", &cfg.Redis.Password)
	setList("GQ_API_KEYS", &cfg.Server.APIKeys)
	setList("GQ_CORS_ORIGINS", &cfg.Server.CORSOrigins)
	setList("GQ_KAFKA_BROKERS", &cfg.Kafka.Brokers)
	setString("GQ_KAFKA_TOPIC_RECORD_UPDATES", &cfg.Kafka.Topics.RecordUpdates)
	setString("GQ_KAFKA_TOPIC_QUERY_EVENTS", &cfg.Kafka.Topics.QueryEvents)
	if v := os.Getenv("GQ_RATE_LIMIT_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.RPS = rps
		}
	}
	setInt("GQ_RATE_LIMIT_BURST", &cfg.RateLimit.Burst)
	setString("GQ_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("GQ_LOGGING_FORMAT", &cfg.Logging.Format)
	setInt("GQ_RPC_PORT", &cfg.RPC.Port)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(key string, dst *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		*dst = parts
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
