package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentEvent — транзитное событие платёжного цикла, переносимое по event-каналу.
// Создаётся заново при каждой публикации и не мутируется после конструирования:
// владение передаётся каналу.
type PaymentEvent struct {
	TransactionID      string          `json:"transaction_id"`
	IdempotencyKey     string          `json:"idempotency_key"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	SourceAccount      string          `json:"source_account"`
	DestinationAccount string          `json:"destination_account"`
	Status             PaymentStatus   `json:"status"`
	Timestamp          time.Time       `json:"timestamp"`
	RetryCount         int             `json:"retry_count"`
	FailureReason      string          `json:"failure_reason,omitempty"`
}

// NewPaymentEvent строит событие из текущего durable-состояния платежа.
func NewPaymentEvent(p Payment, retryCount int) PaymentEvent {
	return PaymentEvent{
		TransactionID:      p.TransactionID,
		IdempotencyKey:     p.IdempotencyKey,
		Amount:             p.Amount,
		Currency:           p.Currency,
		SourceAccount:      p.SourceAccount,
		DestinationAccount: p.DestinationAccount,
		Status:             p.Status,
		Timestamp:          time.Now().UTC(),
		RetryCount:         retryCount,
		FailureReason:      p.FailureReason,
	}
}
