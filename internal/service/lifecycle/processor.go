package lifecycle

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/paymenttech/payment-processor/internal/domain"
)

// Processor обрабатывает доставленные события платёжного цикла: ведёт платёж
// через провайдера и сообщает движку исход попытки. Один и тот же обработчик
// обслуживает основной поток и поток повторов — семантика идентична.
type Processor struct {
	engine  *Engine
	gateway domain.ProcessingGateway
	logger  *log.Entry
}

// NewProcessor создаёт обработчик событий поверх движка и платёжного шлюза.
func NewProcessor(engine *Engine, gateway domain.ProcessingGateway) (*Processor, error) {
	if engine == nil {
		return nil, fmt.Errorf("processor requires a lifecycle engine")
	}
	if gateway == nil {
		return nil, fmt.Errorf("processor requires a processing gateway")
	}

	return &Processor{
		engine:  engine,
		gateway: gateway,
		logger:  log.WithField("component", "payment_processor"),
	}, nil
}

// HandleDelivery обрабатывает одну доставку события. Ошибка возвращается
// только при сбое самого конвейера; неуспех провайдера — штатный исход,
// который уходит в планировщик повторов.
func (p *Processor) HandleDelivery(ctx context.Context, event domain.PaymentEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := p.engine.MarkProcessing(event.TransactionID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	if err := p.gateway.Process(event); err != nil {
		p.logger.WithFields(log.Fields{
			"transaction_id": event.TransactionID,
			"retry_count":    event.RetryCount,
			"error":          err,
		}).Warn("Провайдер отклонил платёж")
		return p.engine.OnFailure(event, err.Error())
	}

	return p.engine.OnSuccess(event.TransactionID)
}

// HandleDeadLetter регистрирует событие из dead-letter потока.
// Автоматических действий нет: разбор делает оператор, в том числе
// утилитой переигрывания.
func (p *Processor) HandleDeadLetter(ctx context.Context, event domain.PaymentEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.logger.WithFields(log.Fields{
		"transaction_id": event.TransactionID,
		"retry_count":    event.RetryCount,
		"reason":         event.FailureReason,
	}).Error("Dead-letter событие требует ручного разбора")
	return nil
}
