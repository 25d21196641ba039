// Package config handles environment-based configuration loading.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"api_gateway/internal/accesslog"
)

// Config holds all environment-variable-driven settings.
type Config struct {
	ListenAddr string

	// Route store
	DBPath string

	// Rate limiter
	RedisAddr    string
	RedisTimeout time.Duration

	// Access log topic
	KafkaBrokers   []string
	AccessLogTopic string

	// Route cache
	CacheRefreshInterval time.Duration

	// Outbound dispatch
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
}

const (
	defaultListenAddr           = "127.0.0.1:8080"
	defaultDBPath               = "gateway.db"
	defaultRedisAddr            = "127.0.0.1:6379"
	defaultKafkaBrokers         = "127.0.0.1:9092"
	defaultAccessLogTopic       = accesslog.DefaultTopic
	defaultCacheRefreshInterval = 30 * time.Second
	defaultRedisTimeout         = 500 * time.Millisecond
	defaultDialTimeout          = time.Second
	defaultHeaderTimeout        = 5 * time.Second
)

// FromEnv reads the gateway configuration from the environment, applying
// defaults for anything unset.
func FromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:            stringEnv("GATEWAY_LISTEN_ADDR", defaultListenAddr),
		DBPath:                stringEnv("GATEWAY_DB_PATH", defaultDBPath),
		RedisAddr:             stringEnv("GATEWAY_REDIS_ADDR", defaultRedisAddr),
		RedisTimeout:          durationMSEnv("GATEWAY_REDIS_TIMEOUT_MS", defaultRedisTimeout),
		KafkaBrokers:          listEnv("GATEWAY_KAFKA_BROKERS", defaultKafkaBrokers),
		AccessLogTopic:        stringEnv("GATEWAY_ACCESS_LOG_TOPIC", defaultAccessLogTopic),
		CacheRefreshInterval:  durationMSEnv("GATEWAY_CACHE_REFRESH_MS", defaultCacheRefreshInterval),
		DialTimeout:           durationMSEnv("GATEWAY_DIAL_TIMEOUT_MS", defaultDialTimeout),
		ResponseHeaderTimeout: durationMSEnv("GATEWAY_RESPONSE_HEADER_TIMEOUT_MS", defaultHeaderTimeout),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is empty")
	}
	if c.DBPath == "" {
		return errors.New("db path is empty")
	}
	if len(c.KafkaBrokers) == 0 {
		return errors.New("kafka brokers list is empty")
	}
	if c.AccessLogTopic == "" {
		return errors.New("access log topic is empty")
	}
	if c.CacheRefreshInterval <= 0 {
		return errors.New("cache refresh interval must be positive")
	}
	return nil
}

func stringEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func listEnv(key, fallback string) []string {
	raw := stringEnv(key, fallback)
	parts := strings.Split(raw, ",")
	var values []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func durationMSEnv(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
