package cache

import (
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/paymenttech/payment-processor/internal/domain"
)

const (
	// Префиксы ключей совпадают у всех инстансов сервиса: кэш общий.
	paymentKeyPrefix = "payment:"
	failureKeyPrefix = "failures:"

	// DefaultResultTTL — срок жизни закэшированного ответа по idempotency-key.
	DefaultResultTTL = 30 * time.Minute
	// DefaultFailureWindow — окно счётчика неудач по счёту. TTL сбрасывается
	// при каждом инкременте, так что это приближение скользящего окна,
	// а не точный rate limiting.
	DefaultFailureWindow = 5 * time.Minute
)

// ResultCache — cache-aside слой поверх generic TTL-хранилища.
// Кэширует последнюю известную проекцию PaymentResponse по idempotency-key
// и ведёт лёгкие счётчики неудач по счетам. Кэш только advisory: любая
// ошибка чтения или битая запись трактуется как промах, durable-хранилище
// остаётся источником истины.
type ResultCache struct {
	store         Store
	resultTTL     time.Duration
	failureWindow time.Duration
	logger        *log.Entry
}

// ResultCacheOption настраивает ResultCache.
type ResultCacheOption func(*ResultCache)

// WithResultTTL задаёт TTL закэшированных ответов.
func WithResultTTL(ttl time.Duration) ResultCacheOption {
	return func(c *ResultCache) {
		if ttl > 0 {
			c.resultTTL = ttl
		}
	}
}

// WithFailureWindow задаёт окно счётчиков неудач.
func WithFailureWindow(window time.Duration) ResultCacheOption {
	return func(c *ResultCache) {
		if window > 0 {
			c.failureWindow = window
		}
	}
}

// WithLogger задаёт logger для кэша.
func WithLogger(logger *log.Entry) ResultCacheOption {
	return func(c *ResultCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewResultCache создаёт cache-aside слой поверх переданного Store.
func NewResultCache(store Store, options ...ResultCacheOption) *ResultCache {
	c := &ResultCache{
		store:         store,
		resultTTL:     DefaultResultTTL,
		failureWindow: DefaultFailureWindow,
		logger:        log.WithField("component", "result-cache"),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Get возвращает закэшированный ответ по idempotency-key.
// Второе значение false означает промах; битая запись удаляется и тоже
// считается промахом.
func (c *ResultCache) Get(idempotencyKey string) (domain.PaymentResponse, bool) {
	key := paymentKeyPrefix + idempotencyKey

	raw, err := c.store.Get(key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.WithError(err).WithField("key", key).Warn("cache read failed, treating as miss")
		}
		return domain.PaymentResponse{}, false
	}

	var resp domain.PaymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("corrupt cache entry, dropping")
		_ = c.store.Delete(key)
		return domain.PaymentResponse{}, false
	}
	if resp.TransactionID == "" {
		// Запись другого формата. Не наша — выбрасываем.
		_ = c.store.Delete(key)
		return domain.PaymentResponse{}, false
	}

	return resp, true
}

// Put записывает проекцию ответа в кэш (write-through, last-writer-wins).
func (c *ResultCache) Put(idempotencyKey string, resp domain.PaymentResponse) {
	key := paymentKeyPrefix + idempotencyKey

	raw, err := json.Marshal(resp)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("failed to marshal cached response")
		return
	}
	if err := c.store.Set(key, raw, c.resultTTL); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}

// Invalidate удаляет закэшированный ответ.
func (c *ResultCache) Invalidate(idempotencyKey string) {
	key := paymentKeyPrefix + idempotencyKey
	if err := c.store.Delete(key); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache invalidate failed")
	}
}

// IncrementFailure увеличивает счётчик неудач по счёту-источнику.
func (c *ResultCache) IncrementFailure(account string) int64 {
	count, err := c.store.Increment(failureKeyPrefix+account, c.failureWindow)
	if err != nil {
		c.logger.WithError(err).WithField("account", account).Warn("failure counter increment failed")
		return 0
	}
	return count
}

// FailureCount возвращает текущее значение счётчика неудач по счёту.
func (c *ResultCache) FailureCount(account string) int64 {
	raw, err := c.store.Get(failureKeyPrefix + account)
	if err != nil {
		return 0
	}

	var count int64
	if err := json.Unmarshal(raw, &count); err != nil {
		return 0
	}
	return count
}
