package app

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/paymenttech/payment-processor/internal/domain"
	"github.com/paymenttech/payment-processor/internal/service/lifecycle"
)

// loopbackPublisher проводит события внутри процесса, когда Kafka не
// сконфигурирован: основной и повторный потоки уходят прямо в обработчик,
// dead-letter события только логируются. Семантика жизненного цикла при этом
// не меняется, теряется лишь durable-доставка.
type loopbackPublisher struct {
	mu        sync.RWMutex
	processor *lifecycle.Processor
	wg        sync.WaitGroup
	logger    *log.Entry
}

func newLoopbackPublisher(logger *log.Entry) *loopbackPublisher {
	return &loopbackPublisher{
		logger: logger.WithField("transport", "loopback"),
	}
}

// Bind подключает обработчик. Публикации до подключения теряются с
// предупреждением: это возможно только при ошибке порядка инициализации.
func (p *loopbackPublisher) Bind(processor *lifecycle.Processor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processor = processor
}

func (p *loopbackPublisher) PublishPayment(event domain.PaymentEvent) error {
	return p.dispatch(event)
}

func (p *loopbackPublisher) PublishRetry(event domain.PaymentEvent) error {
	return p.dispatch(event)
}

func (p *loopbackPublisher) PublishDeadLetter(event domain.PaymentEvent) error {
	p.logger.WithFields(log.Fields{
		"transaction_id": event.TransactionID,
		"retry_count":    event.RetryCount,
		"reason":         event.FailureReason,
	}).Error("Dead-letter событие в standalone-режиме, требуется ручной разбор")
	return nil
}

func (p *loopbackPublisher) dispatch(event domain.PaymentEvent) error {
	p.mu.RLock()
	processor := p.processor
	p.mu.RUnlock()

	if processor == nil {
		p.logger.WithField("transaction_id", event.TransactionID).
			Warn("Обработчик ещё не подключён, событие потеряно")
		return nil
	}

	// Асинхронно, как и настоящая доставка: Admit не должен ждать проведения.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := processor.HandleDelivery(context.Background(), event); err != nil {
			p.logger.WithFields(log.Fields{
				"transaction_id": event.TransactionID,
				"error":          err,
			}).Error("Ошибка обработки события в standalone-режиме")
		}
	}()
	return nil
}

// Wait дожидается завершения всех запущенных обработок.
func (p *loopbackPublisher) Wait() {
	p.wg.Wait()
}

var _ domain.PaymentEventPublisher = (*loopbackPublisher)(nil)
