package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRequest — входной запрос на проведение платежа.
type PaymentRequest struct {
	IdempotencyKey     string          `json:"idempotency_key"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	SourceAccount      string          `json:"source_account"`
	DestinationAccount string          `json:"destination_account"`
	Description        string          `json:"description,omitempty"`
}

// Validate проверяет запрос перед допуском в обработку.
func (r *PaymentRequest) Validate() []error {
	p := Payment{
		IdempotencyKey:     r.IdempotencyKey,
		Amount:             r.Amount,
		Currency:           r.Currency,
		SourceAccount:      r.SourceAccount,
		DestinationAccount: r.DestinationAccount,
	}
	return p.Validate()
}

// PaymentResponse — проекция платежа, возвращаемая клиенту и кэшируемая по idempotency-key.
type PaymentResponse struct {
	TransactionID  string          `json:"transaction_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         PaymentStatus   `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	Message        string          `json:"message,omitempty"`
}

// NewPaymentResponse строит проекцию из durable-записи платежа.
func NewPaymentResponse(p Payment) PaymentResponse {
	return PaymentResponse{
		TransactionID:  p.TransactionID,
		IdempotencyKey: p.IdempotencyKey,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         p.Status,
		CreatedAt:      p.CreatedAt,
		ProcessedAt:    p.ProcessedAt,
		Message:        "Payment " + string(p.Status),
	}
}
