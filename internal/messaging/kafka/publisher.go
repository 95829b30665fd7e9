package kafka

import (
	"fmt"
	"strconv"

	"github.com/paymenttech/payment-processor/internal/domain"
)

// PaymentPublisher публикует события платёжного цикла в три потока Kafka.
type PaymentPublisher struct {
	producer *Producer
}

// NewPaymentPublisher создаёт Kafka-паблишер поверх producer'а.
func NewPaymentPublisher(producer *Producer) domain.PaymentEventPublisher {
	return &PaymentPublisher{producer: producer}
}

// PublishPayment отправляет событие в основной поток.
func (p *PaymentPublisher) PublishPayment(event domain.PaymentEvent) error {
	return p.publish(TopicPaymentEvents, event)
}

// PublishRetry отправляет событие в поток повторов.
func (p *PaymentPublisher) PublishRetry(event domain.PaymentEvent) error {
	return p.publish(TopicPaymentRetry, event)
}

// PublishDeadLetter отправляет событие в dead-letter поток без изменений.
func (p *PaymentPublisher) PublishDeadLetter(event domain.PaymentEvent) error {
	return p.publish(TopicDeadLetter, event)
}

func (p *PaymentPublisher) publish(topic string, event domain.PaymentEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka payment publisher is not initialized")
	}

	// Ключ — transaction id: все события одной транзакции в одной партиции.
	return p.producer.PublishEventWithHeaders(topic, event.TransactionID, event, map[string]string{
		HeaderRetryCount: strconv.Itoa(event.RetryCount),
	})
}

var _ domain.PaymentEventPublisher = (*PaymentPublisher)(nil)
