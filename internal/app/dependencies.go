package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/paymenttech/payment-processor/internal/cache"
	"github.com/paymenttech/payment-processor/internal/domain"
	"github.com/paymenttech/payment-processor/internal/messaging/kafka"
	"github.com/paymenttech/payment-processor/internal/metrics"
	"github.com/paymenttech/payment-processor/internal/service/gateway"
	"github.com/paymenttech/payment-processor/internal/service/lifecycle"
	"github.com/paymenttech/payment-processor/internal/service/retry"
	"github.com/paymenttech/payment-processor/internal/storage/memory"
	"github.com/paymenttech/payment-processor/internal/storage/postgres"
)

// Dependencies содержит собранный граф зависимостей сервиса.
type Dependencies struct {
	Payments  domain.PaymentRepository
	Ledgers   domain.RetryLedgerRepository
	Cache     *cache.ResultCache
	Metrics   *metrics.PaymentMetrics
	Publisher domain.PaymentEventPublisher
	Scheduler *retry.Scheduler
	Engine    *lifecycle.Engine
	Processor *lifecycle.Processor

	Store    *postgres.Store
	Producer *kafka.Producer
	loopback *loopbackPublisher

	Logger *log.Entry
}

// initRuntimeDependencies собирает зависимости согласно конфигурации.
// Порядок: хранилище, кэш, транспорт, планировщик, движок, обработчик.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	deps := &Dependencies{Logger: logger}

	if err := initStorage(ctx, cfg, deps); err != nil {
		return nil, err
	}
	if err := initCache(cfg, deps, logger); err != nil {
		deps.Close()
		return nil, err
	}

	deps.Metrics = metrics.NewPaymentMetrics()

	producer, err := initKafkaProducer(cfg.BrokerList(), logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Producer = producer
	if producer != nil {
		deps.Publisher = kafka.NewPaymentPublisher(producer)
	} else {
		logger.Warn("Kafka не сконфигурирован, события проводятся внутри процесса")
		deps.loopback = newLoopbackPublisher(logger)
		deps.Publisher = deps.loopback
	}

	deps.Scheduler, err = retry.NewScheduler(deps.Ledgers, deps.Publisher,
		retry.WithMaxRetries(cfg.MaxRetries),
		retry.WithBaseDelay(cfg.BaseRetryDelay),
		retry.WithMetrics(deps.Metrics),
	)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("init retry scheduler: %w", err)
	}

	deps.Engine, err = lifecycle.NewEngine(deps.Payments, deps.Ledgers, deps.Publisher, deps.Scheduler,
		lifecycle.WithCache(deps.Cache),
		lifecycle.WithMetrics(deps.Metrics),
	)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("init lifecycle engine: %w", err)
	}

	provider := gateway.NewSimulatedProvider(gateway.WithSuccessRate(cfg.GatewaySuccessRate))
	deps.Processor, err = lifecycle.NewProcessor(deps.Engine, provider)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("init payment processor: %w", err)
	}

	if deps.loopback != nil {
		deps.loopback.Bind(deps.Processor)
	}

	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, deps *Dependencies) error {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		deps.Ledgers = memory.NewRetryLedgerRepository()
		deps.Payments = memory.NewPaymentRepository(deps.Ledgers)
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return fmt.Errorf("apply migrations: %w", err)
			}
		}
		deps.Store = store
		deps.Payments = postgres.NewPaymentRepository(store)
		deps.Ledgers = postgres.NewRetryLedgerRepository(store)
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
	return nil
}

func initCache(cfg Config, deps *Dependencies, logger *log.Entry) error {
	var store cache.Store
	switch cfg.CacheDriver {
	case CacheDriverMemory, "":
		store = cache.NewMemoryStore()
	case CacheDriverRedis:
		redisStore, err := cache.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.WithField("addr", cfg.RedisAddr).Info("redis cache initialized")
		store = redisStore
	default:
		return fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
	}

	deps.Cache = cache.NewResultCache(store,
		cache.WithResultTTL(cfg.ResultTTL),
		cache.WithFailureWindow(cfg.FailureWindow),
	)
	return nil
}

// Close освобождает ресурсы в обратном порядке инициализации.
func (d *Dependencies) Close() {
	if d.Scheduler != nil {
		d.Scheduler.Close()
	}
	if d.loopback != nil {
		d.loopback.Wait()
	}
	if d.Producer != nil {
		closeKafkaProducer(d.Producer, d.Logger)
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil && d.Logger != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
