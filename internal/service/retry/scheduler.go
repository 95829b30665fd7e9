package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/paymenttech/payment-processor/internal/domain"
	"github.com/paymenttech/payment-processor/internal/metrics"
)

const (
	// DefaultMaxRetries определяет бюджет повторов на один платёж.
	DefaultMaxRetries = 5
	// DefaultBaseDelay — базовая задержка экспоненциального backoff.
	DefaultBaseDelay = 1000 * time.Millisecond
)

// DecisionKind описывает исход планирования повтора.
type DecisionKind int

const (
	// DecisionRetry — запланирован отложенный повтор.
	DecisionRetry DecisionKind = iota
	// DecisionEscalate — бюджет повторов исчерпан, платёж эскалируется.
	DecisionEscalate
	// DecisionNoop — повторная доставка уже учтённого события, действий нет.
	DecisionNoop
)

// Decision — результат ScheduleRetry: что делать с упавшим платежом.
type Decision struct {
	Kind       DecisionKind
	Delay      time.Duration
	RetryCount int
}

// Scheduler планирует отложенные повторы обработки платежей.
// Счётчик попыток хранится в журнале повторов, поэтому повторная
// доставка одного и того же события не приводит к двойному инкременту.
type Scheduler struct {
	ledgers    domain.RetryLedgerRepository
	publisher  domain.PaymentEventPublisher
	maxRetries int
	baseDelay  time.Duration
	metrics    *metrics.PaymentMetrics
	logger     *log.Entry

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer
}

// SchedulerOption настраивает планировщик повторов.
type SchedulerOption func(*Scheduler)

// WithMaxRetries переопределяет бюджет повторов.
func WithMaxRetries(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithBaseDelay переопределяет базовую задержку backoff.
func WithBaseDelay(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.baseDelay = d
		}
	}
}

// WithMetrics подключает метрики планировщика.
func WithMetrics(m *metrics.PaymentMetrics) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithTimerFunc переопределяет фабрику таймеров. Используется в тестах
// для синхронного срабатывания отложенных повторов.
func WithTimerFunc(afterFunc func(time.Duration, func()) *time.Timer) SchedulerOption {
	return func(s *Scheduler) {
		if afterFunc != nil {
			s.afterFunc = afterFunc
		}
	}
}

// WithLogger переопределяет логгер планировщика.
func WithLogger(logger *log.Entry) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler создаёт планировщик поверх журнала повторов и издателя событий.
func NewScheduler(ledgers domain.RetryLedgerRepository, publisher domain.PaymentEventPublisher, opts ...SchedulerOption) (*Scheduler, error) {
	if ledgers == nil {
		return nil, fmt.Errorf("retry scheduler requires a ledger repository")
	}
	if publisher == nil {
		return nil, fmt.Errorf("retry scheduler requires an event publisher")
	}

	s := &Scheduler{
		ledgers:    ledgers,
		publisher:  publisher,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		logger:     log.WithField("component", "retry_scheduler"),
		timers:     make(map[string]*time.Timer),
		now:        time.Now,
		afterFunc:  time.AfterFunc,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Delay возвращает задержку перед повтором с номером retryCount:
// baseDelay * 2^(retryCount-1).
func (s *Scheduler) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	return s.baseDelay << uint(retryCount-1)
}

// MaxRetries возвращает настроенный бюджет повторов.
func (s *Scheduler) MaxRetries() int {
	return s.maxRetries
}

// ScheduleRetry принимает упавшее событие и решает его судьбу.
// Журнал повторов загружается (или создаётся лениво) по transactionID,
// затем счётчик попыток сверяется с доставленным событием: расхождение
// означает повторную доставку, которая не порождает новых действий.
func (s *Scheduler) ScheduleRetry(event domain.PaymentEvent) (Decision, error) {
	entry, err := s.ledgers.GetByPaymentRef(event.TransactionID)
	if errors.Is(err, domain.ErrLedgerNotFound) {
		entry = domain.RetryLedgerEntry{
			PaymentRef: event.TransactionID,
			RetryCount: 0,
			CreatedAt:  s.now(),
		}
		if createErr := s.ledgers.Create(entry); createErr != nil && !errors.Is(createErr, domain.ErrLedgerAlreadyExists) {
			return Decision{}, fmt.Errorf("create retry ledger entry: %w", createErr)
		}
		entry, err = s.ledgers.GetByPaymentRef(event.TransactionID)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load retry ledger entry: %w", err)
	}

	if entry.Resolved() {
		// Журнал уже закрыт: либо платёж завершился, либо эскалация
		// уже состоялась. Эскалацию возвращаем повторно, чтобы
		// вызывающая сторона могла довести финализацию до конца.
		if entry.RetryCount >= s.maxRetries {
			return Decision{Kind: DecisionEscalate, RetryCount: entry.RetryCount}, nil
		}
		return Decision{Kind: DecisionNoop, RetryCount: entry.RetryCount}, nil
	}

	if entry.RetryCount >= s.maxRetries {
		return s.escalate(entry)
	}

	if event.RetryCount != entry.RetryCount {
		s.logger.WithFields(log.Fields{
			"transaction_id": event.TransactionID,
			"event_retries":  event.RetryCount,
			"ledger_retries": entry.RetryCount,
		}).Warn("Повторная доставка события, повтор уже запланирован")
		return Decision{Kind: DecisionNoop, RetryCount: entry.RetryCount}, nil
	}

	next := entry.RetryCount + 1
	updated := entry
	updated.RetryCount = next
	updated.LastRetryAt = s.now()
	updated.AppendError(next, event.FailureReason)

	if err := s.ledgers.Save(updated, entry.RetryCount); err != nil {
		if errors.Is(err, domain.ErrLedgerRetryConflict) {
			return Decision{Kind: DecisionNoop, RetryCount: entry.RetryCount}, nil
		}
		return Decision{}, fmt.Errorf("save retry ledger entry: %w", err)
	}

	delay := s.Delay(next)
	s.armTimer(event, next, delay)

	if s.metrics != nil {
		s.metrics.RecordRetryScheduled()
	}

	s.logger.WithFields(log.Fields{
		"transaction_id": event.TransactionID,
		"retry_count":    next,
		"delay":          delay.String(),
	}).Info("Запланирован повтор обработки платежа")

	return Decision{Kind: DecisionRetry, Delay: delay, RetryCount: next}, nil
}

// escalate закрывает журнал повторов. Условное обновление гарантирует,
// что при гонке двух доставок эскалация состоится ровно один раз.
func (s *Scheduler) escalate(entry domain.RetryLedgerEntry) (Decision, error) {
	resolvedAt := s.now()
	updated := entry
	updated.ResolvedAt = &resolvedAt

	if err := s.ledgers.Save(updated, entry.RetryCount); err != nil {
		if errors.Is(err, domain.ErrLedgerRetryConflict) {
			return Decision{Kind: DecisionNoop, RetryCount: entry.RetryCount}, nil
		}
		return Decision{}, fmt.Errorf("resolve retry ledger entry: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"transaction_id": entry.PaymentRef,
		"retry_count":    entry.RetryCount,
	}).Warn("Бюджет повторов исчерпан, платёж эскалируется")

	return Decision{Kind: DecisionEscalate, RetryCount: entry.RetryCount}, nil
}

// armTimer ставит отложенную публикацию события в поток повторов.
// Таймер не блокирует вызывающую горутину; после срабатывания он
// удаляется из реестра, чтобы Close не держал лишних ссылок.
func (s *Scheduler) armTimer(event domain.PaymentEvent, retryCount int, delay time.Duration) {
	retryEvent := event
	retryEvent.RetryCount = retryCount
	retryEvent.Timestamp = s.now()

	key := fmt.Sprintf("%s#%d", event.TransactionID, retryCount)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.WithField("transaction_id", event.TransactionID).
			Warn("Планировщик остановлен, повтор не будет опубликован")
		return
	}
	s.mu.Unlock()

	// Таймер создаётся вне блокировки: фабрика в тестах срабатывает синхронно.
	fired := make(chan struct{})
	timer := s.afterFunc(delay, func() {
		defer close(fired)

		if err := s.publisher.PublishRetry(retryEvent); err != nil {
			if s.metrics != nil {
				s.metrics.RecordPublishFailure()
			}
			s.logger.WithFields(log.Fields{
				"transaction_id": retryEvent.TransactionID,
				"retry_count":    retryCount,
				"error":          err,
			}).Error("Не удалось опубликовать событие повтора")
		}

		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-fired:
		// Уже сработал, отслеживать нечего.
	default:
		if s.closed {
			timer.Stop()
			return
		}
		s.timers[key] = timer
	}
}

// PendingTimers возвращает количество взведённых таймеров повторов.
func (s *Scheduler) PendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close останавливает все взведённые таймеры. Незавершённые повторы
// будут восстановлены после рестарта из неразрешённых записей журнала.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
}
