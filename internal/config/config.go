// Package config loads process configuration from the environment.
// A .env file in the working directory is read first; it never overrides
// variables already set in the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/provider/mnemonic"
)

// Storage backends.
const (
	StorageCassandra = "cassandra"
	StorageMemory    = "memory"
)

// Broker backends.
const (
	BrokerChannel = "channel"
	BrokerRedis   = "redis"
)

// ConfigurationError reports a missing or malformed setting.
// It is fatal at startup.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// Provider holds the settings of one upstream vendor.
type Provider struct {
	BaseURL    string
	APIKey     string
	RateLimit  int // calls allowed per RateWindow
	RateWindow time.Duration
	Timeout    time.Duration
	MaxRetries int
}

// Cassandra holds wide-column store settings.
type Cassandra struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	Consistency string
	Timeout     time.Duration
	Replication int // keyspace replication factor used by migrate
}

// Redis holds broker and result backend settings.
type Redis struct {
	Addr      string
	DB        int
	Queue     string
	ResultTTL time.Duration
}

// Refresh holds orchestrator tuning.
type Refresh struct {
	Interval       time.Duration
	TopN           int
	FloorBatchSize int
	ShallowWindow  domain.Duration // empty disables history for known collections
	DeepWindow     domain.Duration
	GroupBy        string
}

// Config is the full process configuration.
type Config struct {
	LogLevel  string
	LogFormat string
	HTTPAddr  string

	Mnemonic Provider
	Gallop   Provider

	StorageBackend string
	Cassandra      Cassandra

	Broker      string
	Redis       Redis
	Workers     int
	MaxAttempts int

	BatchSize    int
	WriteRetries int

	PostgresDSN   string // optional refresh-cycle history
	ClickhouseDSN string // optional task-result audit log

	Refresh Refresh
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &ConfigurationError{Key: ".env", Reason: err.Error()}
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables with defaults.
func FromEnv() *Config {
	return &Config{
		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),
		HTTPAddr:  getenv("HTTP_ADDR", ":9090"),

		Mnemonic: Provider{
			BaseURL:    getenv("MNEMONIC_BASE_URL", "https://ethereum-rest.api.mnemonichq.com"),
			APIKey:     os.Getenv("MNEMONIC_API_KEY"),
			RateLimit:  getenvInt("MNEMONIC_RATE_LIMIT", 30),
			RateWindow: getenvDur("MNEMONIC_RATE_WINDOW", time.Second),
			Timeout:    getenvDur("MNEMONIC_TIMEOUT", 30*time.Second),
			MaxRetries: getenvInt("MNEMONIC_MAX_RETRIES", 3),
		},
		Gallop: Provider{
			BaseURL:    getenv("GALLOP_BASE_URL", "https://api.prod.gallop.run"),
			APIKey:     os.Getenv("GALLOP_API_KEY"),
			RateLimit:  getenvInt("GALLOP_RATE_LIMIT", 10),
			RateWindow: getenvDur("GALLOP_RATE_WINDOW", time.Second),
			Timeout:    getenvDur("GALLOP_TIMEOUT", 30*time.Second),
			MaxRetries: getenvInt("GALLOP_MAX_RETRIES", 3),
		},

		StorageBackend: getenv("STORAGE_BACKEND", StorageCassandra),
		Cassandra: Cassandra{
			Hosts:       getenvList("CASSANDRA_HOSTS"),
			Keyspace:    os.Getenv("CASSANDRA_KEYSPACE"),
			Username:    os.Getenv("CASSANDRA_USERNAME"),
			Password:    os.Getenv("CASSANDRA_PASSWORD"),
			Consistency: getenv("CASSANDRA_CONSISTENCY", "LOCAL_QUORUM"),
			Timeout:     getenvDur("CASSANDRA_TIMEOUT", 10*time.Second),
			Replication: getenvInt("CASSANDRA_REPLICATION", 1),
		},

		Broker: getenv("BROKER", BrokerChannel),
		Redis: Redis{
			Addr:      getenv("REDIS_ADDR", "127.0.0.1:6379"),
			DB:        getenvInt("REDIS_DB", 0),
			Queue:     getenv("REDIS_QUEUE", "etl:tasks"),
			ResultTTL: getenvDur("REDIS_RESULT_TTL", 24*time.Hour),
		},
		Workers:     getenvInt("WORKERS", 4),
		MaxAttempts: getenvInt("TASK_MAX_ATTEMPTS", 3),

		BatchSize:    getenvInt("BATCH_SIZE", 30),
		WriteRetries: getenvInt("WRITE_RETRIES", 2),

		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		ClickhouseDSN: os.Getenv("CLICKHOUSE_DSN"),

		Refresh: Refresh{
			Interval:       getenvDur("REFRESH_INTERVAL", 24*time.Hour),
			TopN:           getenvInt("REFRESH_TOP_N", 100),
			FloorBatchSize: getenvInt("FLOOR_BATCH_SIZE", 20),
			ShallowWindow:  shallowWindow(),
			DeepWindow:     domain.Duration(getenv("DEEP_WINDOW", string(domain.DurationOneYear))),
			GroupBy:        getenv("HISTORY_GROUP_BY", "1d"),
		},
	}
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.Mnemonic.APIKey == "" {
		return &ConfigurationError{Key: "MNEMONIC_API_KEY", Reason: "required"}
	}
	if c.Gallop.APIKey == "" {
		return &ConfigurationError{Key: "GALLOP_API_KEY", Reason: "required"}
	}

	switch c.StorageBackend {
	case StorageMemory:
	case StorageCassandra:
		if len(c.Cassandra.Hosts) == 0 {
			return &ConfigurationError{Key: "CASSANDRA_HOSTS", Reason: "required for cassandra storage"}
		}
		if c.Cassandra.Keyspace == "" {
			return &ConfigurationError{Key: "CASSANDRA_KEYSPACE", Reason: "required for cassandra storage"}
		}
	default:
		return &ConfigurationError{Key: "STORAGE_BACKEND", Reason: fmt.Sprintf("unknown backend %q", c.StorageBackend)}
	}

	switch c.Broker {
	case BrokerChannel, BrokerRedis:
	default:
		return &ConfigurationError{Key: "BROKER", Reason: fmt.Sprintf("unknown broker %q", c.Broker)}
	}

	if c.BatchSize <= 0 || c.BatchSize > 30 {
		return &ConfigurationError{Key: "BATCH_SIZE", Reason: "must be between 1 and 30"}
	}
	if c.Mnemonic.RateLimit <= 0 || c.Gallop.RateLimit <= 0 {
		return &ConfigurationError{Key: "RATE_LIMIT", Reason: "must be positive"}
	}
	if c.Refresh.TopN <= 0 {
		return &ConfigurationError{Key: "REFRESH_TOP_N", Reason: "must be positive"}
	}
	if c.Refresh.FloorBatchSize <= 0 {
		return &ConfigurationError{Key: "FLOOR_BATCH_SIZE", Reason: "must be positive"}
	}
	switch c.Refresh.ShallowWindow {
	case "", domain.DurationOneDay, domain.DurationSevenDays:
	default:
		return &ConfigurationError{Key: "SHALLOW_WINDOW", Reason: fmt.Sprintf("%q is not ONE_DAY, SEVEN_DAYS or off", c.Refresh.ShallowWindow)}
	}
	if !slices.Contains(mnemonic.Durations, c.Refresh.DeepWindow) {
		return &ConfigurationError{Key: "DEEP_WINDOW", Reason: fmt.Sprintf("history window %q not served", c.Refresh.DeepWindow)}
	}
	if _, err := mnemonic.GroupByTag(mnemonic.GroupBy(c.Refresh.GroupBy)); err != nil {
		return &ConfigurationError{Key: "HISTORY_GROUP_BY", Reason: err.Error()}
	}
	if c.Workers <= 0 {
		return &ConfigurationError{Key: "WORKERS", Reason: "must be positive"}
	}
	return nil
}

// shallowWindow reads SHALLOW_WINDOW; "off" disables known-collection history.
func shallowWindow() domain.Duration {
	v := getenv("SHALLOW_WINDOW", string(domain.DurationSevenDays))
	if strings.EqualFold(v, "off") {
		return ""
	}
	return domain.Duration(v)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
