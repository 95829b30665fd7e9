package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paymenttech/payment-processor/internal/cache"
	"github.com/paymenttech/payment-processor/internal/service/retry"
)

// StorageDriver выбирает durable-хранилище платежей.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// CacheDriver выбирает бэкенд cache-aside слоя.
type CacheDriver string

const (
	CacheDriverMemory CacheDriver = "memory"
	CacheDriverRedis  CacheDriver = "redis"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	CacheDriver   CacheDriver
	RedisAddr     string
	ResultTTL     time.Duration
	FailureWindow time.Duration

	// KafkaBrokers пустой — сервис работает в standalone-режиме:
	// события проводятся синхронно внутри процесса.
	KafkaBrokers       string
	PrimaryConcurrency int
	RetryConcurrency   int
	DLQConcurrency     int

	MaxRetries     int
	BaseRetryDelay time.Duration

	// GatewaySuccessRate — доля успешных проведений у симулируемого провайдера.
	GatewaySuccessRate float64
}

// DefaultConfig возвращает конфигурацию по умолчанию: standalone-режим,
// память вместо PostgreSQL и Redis.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		CacheDriver:         CacheDriverMemory,
		ResultTTL:           cache.DefaultResultTTL,
		FailureWindow:       cache.DefaultFailureWindow,
		PrimaryConcurrency:  3,
		RetryConcurrency:    1,
		DLQConcurrency:      1,
		MaxRetries:          retry.DefaultMaxRetries,
		BaseRetryDelay:      retry.DefaultBaseDelay,
		GatewaySuccessRate:  0.95,
	}
}

// LoadConfigFromEnv строит конфигурацию из переменных окружения PAYPROC_*,
// отталкиваясь от значений по умолчанию.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.HTTPAddr = envString("PAYPROC_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = envString("PAYPROC_METRICS_ADDR", cfg.MetricsAddr)
	cfg.PostgresDSN = envString("PAYPROC_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.RedisAddr = envString("PAYPROC_REDIS_ADDR", cfg.RedisAddr)
	cfg.KafkaBrokers = envString("PAYPROC_KAFKA_BROKERS", cfg.KafkaBrokers)

	if raw := envString("PAYPROC_STORAGE_DRIVER", ""); raw != "" {
		driver := StorageDriver(strings.ToLower(raw))
		switch driver {
		case StorageDriverMemory, StorageDriverPostgres:
			cfg.StorageDriver = driver
		default:
			return Config{}, fmt.Errorf("unknown storage driver %q", raw)
		}
	}
	if raw := envString("PAYPROC_CACHE_DRIVER", ""); raw != "" {
		driver := CacheDriver(strings.ToLower(raw))
		switch driver {
		case CacheDriverMemory, CacheDriverRedis:
			cfg.CacheDriver = driver
		default:
			return Config{}, fmt.Errorf("unknown cache driver %q", raw)
		}
	}

	var err error
	if cfg.PostgresAutoMigrate, err = envBool("PAYPROC_POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate); err != nil {
		return Config{}, err
	}
	if cfg.ResultTTL, err = envDuration("PAYPROC_RESULT_TTL", cfg.ResultTTL); err != nil {
		return Config{}, err
	}
	if cfg.FailureWindow, err = envDuration("PAYPROC_FAILURE_WINDOW", cfg.FailureWindow); err != nil {
		return Config{}, err
	}
	if cfg.BaseRetryDelay, err = envDuration("PAYPROC_BASE_RETRY_DELAY", cfg.BaseRetryDelay); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries, err = envInt("PAYPROC_MAX_RETRIES", cfg.MaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.PrimaryConcurrency, err = envInt("PAYPROC_PRIMARY_CONCURRENCY", cfg.PrimaryConcurrency); err != nil {
		return Config{}, err
	}
	if cfg.RetryConcurrency, err = envInt("PAYPROC_RETRY_CONCURRENCY", cfg.RetryConcurrency); err != nil {
		return Config{}, err
	}
	if cfg.DLQConcurrency, err = envInt("PAYPROC_DLQ_CONCURRENCY", cfg.DLQConcurrency); err != nil {
		return Config{}, err
	}
	if cfg.GatewaySuccessRate, err = envFloat("PAYPROC_GATEWAY_SUCCESS_RATE", cfg.GatewaySuccessRate); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

// Validate проверяет согласованность конфигурации.
func (c Config) Validate() error {
	if c.StorageDriver == StorageDriverPostgres && c.PostgresDSN == "" {
		return fmt.Errorf("postgres storage driver requires PAYPROC_POSTGRES_DSN")
	}
	if c.CacheDriver == CacheDriverRedis && c.RedisAddr == "" {
		return fmt.Errorf("redis cache driver requires PAYPROC_REDIS_ADDR")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.BaseRetryDelay <= 0 {
		return fmt.Errorf("base retry delay must be positive")
	}
	if c.PrimaryConcurrency < 1 || c.RetryConcurrency < 1 || c.DLQConcurrency < 1 {
		return fmt.Errorf("consumer concurrency must be at least 1")
	}
	if c.GatewaySuccessRate < 0 || c.GatewaySuccessRate > 1 {
		return fmt.Errorf("gateway success rate must be within [0, 1]")
	}
	return nil
}

// BrokerList возвращает список Kafka-брокеров из конфигурации.
func (c Config) BrokerList() []string {
	if strings.TrimSpace(c.KafkaBrokers) == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

func envString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}
