package lifecycle

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/paymenttech/payment-processor/internal/cache"
	"github.com/paymenttech/payment-processor/internal/domain"
	"github.com/paymenttech/payment-processor/internal/metrics"
)

// Resolver разрешает idempotency-key в последнюю известную проекцию платежа.
// Порядок строго фиксирован: сначала кэш, затем durable-хранилище, и только
// потом промах. Разрешение не имеет побочных эффектов кроме репопуляции кэша.
type Resolver struct {
	payments domain.PaymentRepository
	cache    *cache.ResultCache
	metrics  *metrics.PaymentMetrics
	logger   *log.Entry
}

// NewResolver создаёт резолвер идемпотентности. Кэш и метрики опциональны.
func NewResolver(payments domain.PaymentRepository, resultCache *cache.ResultCache, m *metrics.PaymentMetrics) (*Resolver, error) {
	if payments == nil {
		return nil, fmt.Errorf("resolver requires a payment repository")
	}

	return &Resolver{
		payments: payments,
		cache:    resultCache,
		metrics:  m,
		logger:   log.WithField("component", "idempotency_resolver"),
	}, nil
}

// Resolve возвращает проекцию платежа по idempotency-key.
// Второе значение false означает, что ключ прежде не встречался и платёж
// можно принимать как новый.
func (r *Resolver) Resolve(idempotencyKey string) (domain.PaymentResponse, bool, error) {
	if r.cache != nil {
		if resp, ok := r.cache.Get(idempotencyKey); ok {
			if r.metrics != nil {
				r.metrics.RecordIdempotentHit("cache")
			}
			r.logger.WithField("idempotency_key", idempotencyKey).
				Debug("Идемпотентный повтор разрешён из кэша")
			return resp, true, nil
		}
	}

	payment, err := r.payments.GetByIdempotencyKey(idempotencyKey)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return domain.PaymentResponse{}, false, nil
	}
	if err != nil {
		return domain.PaymentResponse{}, false, fmt.Errorf("resolve idempotency key: %w", err)
	}

	resp := domain.NewPaymentResponse(payment)
	if r.cache != nil {
		// Репопуляция: следующий повтор того же ключа разрешится из кэша.
		r.cache.Put(idempotencyKey, resp)
	}
	if r.metrics != nil {
		r.metrics.RecordIdempotentHit("store")
	}
	r.logger.WithFields(log.Fields{
		"idempotency_key": idempotencyKey,
		"transaction_id":  payment.TransactionID,
	}).Debug("Идемпотентный повтор разрешён из хранилища")

	return resp, true, nil
}
