package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/paymenttech/payment-processor/internal/cache"
	"github.com/paymenttech/payment-processor/internal/domain"
	"github.com/paymenttech/payment-processor/internal/metrics"
	"github.com/paymenttech/payment-processor/internal/service/retry"
)

// saveAttempts ограничивает число перечитываний при конфликте версий.
const saveAttempts = 3

// RetryScheduler решает судьбу упавшего платежа: повтор или эскалация.
type RetryScheduler interface {
	ScheduleRetry(event domain.PaymentEvent) (retry.Decision, error)
}

// ValidationError агрегирует замечания валидации входного запроса.
type ValidationError struct {
	Reasons []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Reasons))
	for _, reason := range e.Reasons {
		msgs = append(msgs, reason.Error())
	}
	return "invalid payment request: " + strings.Join(msgs, "; ")
}

// Engine управляет жизненным циклом платежа: допуск, переходы статусов,
// повторы и эскалация. Durable-хранилище — единственный источник истины;
// кэш и метрики advisory и не влияют на исход операций.
type Engine struct {
	payments  domain.PaymentRepository
	ledgers   domain.RetryLedgerRepository
	publisher domain.PaymentEventPublisher
	resolver  *Resolver
	scheduler RetryScheduler
	cache     *cache.ResultCache
	metrics   *metrics.PaymentMetrics
	logger    *log.Entry

	now   func() time.Time
	newID func() string
}

// EngineOption настраивает движок жизненного цикла.
type EngineOption func(*Engine)

// WithCache подключает cache-aside слой ответов.
func WithCache(c *cache.ResultCache) EngineOption {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithMetrics подключает метрики движка.
func WithMetrics(m *metrics.PaymentMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger переопределяет логгер движка.
func WithLogger(logger *log.Entry) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine создаёт движок жизненного цикла платежей.
func NewEngine(
	payments domain.PaymentRepository,
	ledgers domain.RetryLedgerRepository,
	publisher domain.PaymentEventPublisher,
	scheduler RetryScheduler,
	opts ...EngineOption,
) (*Engine, error) {
	if payments == nil {
		return nil, fmt.Errorf("lifecycle engine requires a payment repository")
	}
	if ledgers == nil {
		return nil, fmt.Errorf("lifecycle engine requires a ledger repository")
	}
	if publisher == nil {
		return nil, fmt.Errorf("lifecycle engine requires an event publisher")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("lifecycle engine requires a retry scheduler")
	}

	e := &Engine{
		payments:  payments,
		ledgers:   ledgers,
		publisher: publisher,
		scheduler: scheduler,
		logger:    log.WithField("component", "lifecycle_engine"),
		now:       time.Now,
		newID:     uuid.NewString,
	}

	for _, opt := range opts {
		opt(e)
	}

	resolver, err := NewResolver(payments, e.cache, e.metrics)
	if err != nil {
		return nil, err
	}
	e.resolver = resolver

	return e, nil
}

// Resolver возвращает резолвер идемпотентности движка.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// Admit принимает запрос на платёж. Повтор уже известного idempotency-key
// возвращает сохранённую проекцию без побочных эффектов; новый ключ
// порождает платёж в статусе pending, запись журнала повторов и событие
// в основном потоке.
func (e *Engine) Admit(req domain.PaymentRequest) (domain.PaymentResponse, error) {
	if errs := req.Validate(); len(errs) > 0 {
		return domain.PaymentResponse{}, &ValidationError{Reasons: errs}
	}

	if resp, ok, err := e.resolver.Resolve(req.IdempotencyKey); err != nil {
		return domain.PaymentResponse{}, err
	} else if ok {
		return resp, nil
	}

	now := e.now().UTC()
	payment := domain.Payment{
		ID:                 e.newID(),
		TransactionID:      e.newID(),
		IdempotencyKey:     req.IdempotencyKey,
		Amount:             req.Amount,
		Currency:           req.Currency,
		SourceAccount:      req.SourceAccount,
		DestinationAccount: req.DestinationAccount,
		Status:             domain.PaymentStatusPending,
		CreatedAt:          now,
	}
	ledger := domain.RetryLedgerEntry{
		PaymentRef: payment.TransactionID,
		RetryCount: 0,
		CreatedAt:  now,
	}

	if err := e.payments.Create(payment, ledger); err != nil {
		if domain.IsDuplicateKey(err) {
			// Гонка двух одновременных запросов с одним ключом:
			// проигравший читает результат победителя.
			if resp, ok, rerr := e.resolver.Resolve(req.IdempotencyKey); rerr == nil && ok {
				return resp, nil
			}
			return domain.PaymentResponse{}, err
		}
		return domain.PaymentResponse{}, fmt.Errorf("admit payment: %w", err)
	}

	if e.metrics != nil {
		e.metrics.RecordAdmitted()
	}

	// Событие публикуется после фиксации в хранилище. Сбой публикации не
	// откатывает допуск: платёж останется pending до операторского вмешательства.
	if err := e.publisher.PublishPayment(domain.NewPaymentEvent(payment, 0)); err != nil {
		if e.metrics != nil {
			e.metrics.RecordPublishFailure()
		}
		e.logger.WithFields(log.Fields{
			"transaction_id": payment.TransactionID,
			"error":          err,
		}).Error("Не удалось опубликовать событие платежа")
	}

	resp := domain.NewPaymentResponse(payment)
	if e.cache != nil {
		e.cache.Put(payment.IdempotencyKey, resp)
	}

	e.logger.WithFields(log.Fields{
		"transaction_id": payment.TransactionID,
		"amount":         payment.Amount.String(),
		"currency":       payment.Currency,
	}).Info("Платёж принят в обработку")

	return resp, nil
}

// Status возвращает текущую проекцию платежа по транзакционному ID.
func (e *Engine) Status(transactionID string) (domain.PaymentResponse, error) {
	payment, err := e.payments.GetByTransactionID(transactionID)
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	return domain.NewPaymentResponse(payment), nil
}

// MarkProcessing фиксирует начало попытки проведения платежа.
// Для терминальных платежей и повторных доставок того же статуса — no-op.
func (e *Engine) MarkProcessing(transactionID string) error {
	_, _, err := e.updatePayment(transactionID, func(p *domain.Payment) (bool, error) {
		if !p.Status.CanTransitionTo(domain.PaymentStatusProcessing) {
			return false, nil
		}
		p.Status = domain.PaymentStatusProcessing
		return true, nil
	})
	if errors.Is(err, domain.ErrPaymentNotFound) {
		e.logger.WithField("transaction_id", transactionID).
			Warn("Событие ссылается на неизвестный платёж")
		return nil
	}
	return err
}

// OnSuccess фиксирует успешное проведение платежа. Повторный вызов для уже
// завершённого платежа — no-op: двойная доставка события безопасна.
func (e *Engine) OnSuccess(transactionID string) error {
	payment, changed, err := e.updatePayment(transactionID, func(p *domain.Payment) (bool, error) {
		if p.Status.Terminal() {
			return false, nil
		}
		now := e.now().UTC()
		p.Status = domain.PaymentStatusSuccess
		p.FailureReason = ""
		p.ProcessedAt = &now
		return true, nil
	})
	if errors.Is(err, domain.ErrPaymentNotFound) {
		e.logger.WithField("transaction_id", transactionID).
			Warn("Событие успеха ссылается на неизвестный платёж")
		return nil
	}
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	e.resolveLedger(transactionID)
	e.refreshCache(payment)

	if e.metrics != nil {
		e.metrics.RecordSucceeded()
		e.metrics.RecordProcessingDuration(e.now().Sub(payment.CreatedAt))
	}

	e.logger.WithField("transaction_id", transactionID).Info("Платёж успешно проведён")
	return nil
}

// OnFailure фиксирует неудачную попытку проведения и передаёт событие
// планировщику повторов. При исчерпании бюджета платёж финализируется
// и эскалируется в dead-letter поток.
func (e *Engine) OnFailure(event domain.PaymentEvent, reason string) error {
	payment, changed, err := e.updatePayment(event.TransactionID, func(p *domain.Payment) (bool, error) {
		if p.Status.Terminal() {
			return false, nil
		}
		now := e.now().UTC()
		p.Status = domain.PaymentStatusRetryScheduled
		p.FailureReason = reason
		p.ProcessedAt = &now
		return true, nil
	})
	if errors.Is(err, domain.ErrPaymentNotFound) {
		e.logger.WithField("transaction_id", event.TransactionID).
			Warn("Событие отказа ссылается на неизвестный платёж")
		return nil
	}
	if err != nil {
		return err
	}
	if !changed {
		// Платёж уже терминален: поздняя или повторная доставка.
		return nil
	}

	e.refreshCache(payment)
	if e.cache != nil {
		e.cache.IncrementFailure(payment.SourceAccount)
	}

	failed := event
	failed.FailureReason = reason

	decision, err := e.scheduler.ScheduleRetry(failed)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}

	switch decision.Kind {
	case retry.DecisionEscalate:
		return e.finalizeFailure(failed)
	case retry.DecisionRetry:
		e.logger.WithFields(log.Fields{
			"transaction_id": event.TransactionID,
			"retry_count":    decision.RetryCount,
			"delay":          decision.Delay.String(),
		}).Warn("Платёж не проведён, запланирован повтор")
	}
	return nil
}

// Cancel переводит платёж в статус cancelled. Допустим только из
// нетерминальных статусов; повторная отмена — no-op.
func (e *Engine) Cancel(transactionID, reason string) error {
	payment, changed, err := e.updatePayment(transactionID, func(p *domain.Payment) (bool, error) {
		if p.Status == domain.PaymentStatusCancelled {
			return false, nil
		}
		if !p.Status.CanTransitionTo(domain.PaymentStatusCancelled) {
			return false, domain.ErrStatusTransition
		}
		now := e.now().UTC()
		p.Status = domain.PaymentStatusCancelled
		p.FailureReason = reason
		p.ProcessedAt = &now
		return true, nil
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	e.resolveLedger(transactionID)
	e.refreshCache(payment)

	if e.metrics != nil {
		e.metrics.RecordCancelled()
	}

	e.logger.WithFields(log.Fields{
		"transaction_id": transactionID,
		"reason":         reason,
	}).Info("Платёж отменён")
	return nil
}

// Reopen — операторское переоткрытие платежа, эскалированного в dead-letter.
// Допустимо только из статуса failed: журнал повторов сбрасывается на нулевой
// счётчик, платёж возвращается в retry_scheduled и заново публикуется
// в основном потоке. Терминальность failed снимает только этот явный путь;
// поздние доставки старых событий платёж не переоткрывают.
func (e *Engine) Reopen(transactionID string) error {
	payment, _, err := e.updatePayment(transactionID, func(p *domain.Payment) (bool, error) {
		if p.Status != domain.PaymentStatusFailed {
			return false, domain.ErrStatusTransition
		}
		p.Status = domain.PaymentStatusRetryScheduled
		p.FailureReason = ""
		p.ProcessedAt = nil
		return true, nil
	})
	if err != nil {
		return err
	}

	if err := e.ledgers.Reopen(transactionID); err != nil {
		if !errors.Is(err, domain.ErrLedgerNotFound) {
			return fmt.Errorf("reopen retry ledger: %w", err)
		}
		entry := domain.RetryLedgerEntry{
			PaymentRef: transactionID,
			RetryCount: 0,
			CreatedAt:  e.now().UTC(),
		}
		if createErr := e.ledgers.Create(entry); createErr != nil && !errors.Is(createErr, domain.ErrLedgerAlreadyExists) {
			return fmt.Errorf("recreate retry ledger: %w", createErr)
		}
	}

	e.refreshCache(payment)

	if e.metrics != nil {
		e.metrics.RecordReopened()
	}

	// Как и при допуске, сбой публикации не откатывает переоткрытие:
	// платёж останется в retry_scheduled до повторного запуска утилиты.
	if err := e.publisher.PublishPayment(domain.NewPaymentEvent(payment, 0)); err != nil {
		if e.metrics != nil {
			e.metrics.RecordPublishFailure()
		}
		e.logger.WithFields(log.Fields{
			"transaction_id": transactionID,
			"error":          err,
		}).Error("Не удалось опубликовать событие переоткрытого платежа")
	}

	e.logger.WithField("transaction_id", transactionID).Info("Платёж переоткрыт оператором")
	return nil
}

// finalizeFailure переводит платёж в терминальный failed и публикует событие
// в dead-letter поток. Публикация происходит только при фактическом переходе,
// так что повторная эскалация не дублирует dead-letter событие.
func (e *Engine) finalizeFailure(event domain.PaymentEvent) error {
	payment, changed, err := e.updatePayment(event.TransactionID, func(p *domain.Payment) (bool, error) {
		if p.Status.Terminal() {
			return false, nil
		}
		now := e.now().UTC()
		p.Status = domain.PaymentStatusFailed
		if event.FailureReason != "" {
			p.FailureReason = event.FailureReason
		}
		p.ProcessedAt = &now
		return true, nil
	})
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	e.resolveLedger(event.TransactionID)
	e.refreshCache(payment)

	if err := e.publisher.PublishDeadLetter(event); err != nil {
		if e.metrics != nil {
			e.metrics.RecordPublishFailure()
		}
		e.logger.WithFields(log.Fields{
			"transaction_id": event.TransactionID,
			"error":          err,
		}).Error("Не удалось опубликовать dead-letter событие")
	}

	if e.metrics != nil {
		e.metrics.RecordFailed()
		e.metrics.RecordDeadLettered()
		e.metrics.RecordProcessingDuration(e.now().Sub(payment.CreatedAt))
	}

	e.logger.WithFields(log.Fields{
		"transaction_id": event.TransactionID,
		"retry_count":    event.RetryCount,
		"reason":         event.FailureReason,
	}).Error("Платёж эскалирован в dead-letter")
	return nil
}

// updatePayment перечитывает платёж и применяет мутацию с учётом optimistic
// locking: конфликт версий разрешается повторным чтением, не более
// saveAttempts раз. Возвращает применённое состояние и признак изменения.
func (e *Engine) updatePayment(transactionID string, mutate func(*domain.Payment) (bool, error)) (domain.Payment, bool, error) {
	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		payment, err := e.payments.GetByTransactionID(transactionID)
		if err != nil {
			return domain.Payment{}, false, err
		}

		changed, err := mutate(&payment)
		if err != nil {
			return payment, false, err
		}
		if !changed {
			return payment, false, nil
		}

		if err := e.payments.Save(payment); err != nil {
			if domain.IsVersionConflict(err) {
				lastErr = err
				continue
			}
			return domain.Payment{}, false, fmt.Errorf("save payment: %w", err)
		}
		payment.Version++
		return payment, true, nil
	}
	return domain.Payment{}, false, fmt.Errorf("update payment %s: %w", transactionID, lastErr)
}

// resolveLedger закрывает журнал повторов при терминальном статусе платежа.
// Конфликт счётчика означает, что запись уже закрыл кто-то другой.
func (e *Engine) resolveLedger(transactionID string) {
	entry, err := e.ledgers.GetByPaymentRef(transactionID)
	if err != nil {
		if !errors.Is(err, domain.ErrLedgerNotFound) {
			e.logger.WithFields(log.Fields{
				"transaction_id": transactionID,
				"error":          err,
			}).Warn("Не удалось прочитать журнал повторов")
		}
		return
	}
	if entry.Resolved() {
		return
	}

	resolvedAt := e.now().UTC()
	entry.ResolvedAt = &resolvedAt
	if err := e.ledgers.Save(entry, entry.RetryCount); err != nil && !errors.Is(err, domain.ErrLedgerRetryConflict) {
		e.logger.WithFields(log.Fields{
			"transaction_id": transactionID,
			"error":          err,
		}).Warn("Не удалось закрыть журнал повторов")
	}
}

func (e *Engine) refreshCache(payment domain.Payment) {
	if e.cache == nil {
		return
	}
	e.cache.Put(payment.IdempotencyKey, domain.NewPaymentResponse(payment))
}
