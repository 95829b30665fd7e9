package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/paymenttech/payment-processor/internal/domain"
)

// Topics платёжного цикла. Три независимых потока: основной, повторы, dead-letter.
const (
	TopicPaymentEvents = "payment-events"
	TopicPaymentRetry  = "payment-retry"
	TopicDeadLetter    = "payment-dlq"
)

// Consumer groups. У каждого потока своя группа, чтобы backpressure на
// повторах не тормозил основной приём.
const (
	GroupPrimary    = "payment-processor-group"
	GroupRetry      = "payment-retry-group"
	GroupDeadLetter = "payment-dlq-group"
)

// Kafka headers для retry-логики.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// ParsePaymentEvent парсит PaymentEvent из сообщения.
func ParsePaymentEvent(message *sarama.ConsumerMessage) (*domain.PaymentEvent, error) {
	var event domain.PaymentEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal payment event: %w", err)
	}
	if event.TransactionID == "" {
		return nil, fmt.Errorf("payment event without transaction_id")
	}
	return &event, nil
}

// RetryCountFromHeaders извлекает retry count из headers сообщения.
// Возвращает 0, если header отсутствует или нечитаем.
func RetryCountFromHeaders(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) == HeaderRetryCount {
			var count int
			if _, err := fmt.Sscanf(string(header.Value), "%d", &count); err == nil {
				return count
			}
		}
	}
	return 0
}
