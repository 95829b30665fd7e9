package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus описывает жизненный цикл платежа.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж принят и записан, событие опубликовано, обработка ещё не началась.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusProcessing — событие доставлено consumer'у, идёт попытка проведения.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusRetryScheduled — попытка не удалась, платёж ждёт повторной доставки.
	PaymentStatusRetryScheduled PaymentStatus = "retry_scheduled"
	// PaymentStatusSuccess — платёж проведён. Терминальный статус.
	PaymentStatusSuccess PaymentStatus = "success"
	// PaymentStatusFailed — лимит повторов исчерпан, платёж ушёл в dead-letter. Терминальный статус.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusCancelled — платёж отменён оператором до завершения цикла. Терминальный статус.
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusRetryScheduled,
		PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, является ли статус конечным: из него нет переходов.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// rank задаёт монотонный порядок статусов: переход "назад" запрещён.
func (s PaymentStatus) rank() int {
	switch s {
	case PaymentStatusPending:
		return 0
	case PaymentStatusProcessing:
		return 1
	case PaymentStatusRetryScheduled:
		return 2
	case PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled:
		return 3
	default:
		return -1
	}
}

// CanTransitionTo проверяет допустимость перехода статусов.
// Особые случаи: retry_scheduled возвращается в processing при повторной
// доставке, cancelled допустим из любого нетерминального статуса.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if !s.Valid() || !next.Valid() || s == next {
		return false
	}
	if s.Terminal() {
		return false
	}
	if next == PaymentStatusCancelled {
		return true
	}
	// Повторная доставка: retry_scheduled → processing.
	if s == PaymentStatusRetryScheduled && next == PaymentStatusProcessing {
		return true
	}
	return next.rank() > s.rank()
}

// Payment агрегирует состояние платежа. Запись никогда не удаляется (audit trail).
type Payment struct {
	ID             string
	TransactionID  string
	IdempotencyKey string
	// Amount хранится как decimal: бинарные float для денег не используются.
	Amount             decimal.Decimal
	Currency           string
	SourceAccount      string
	DestinationAccount string
	Status             PaymentStatus
	FailureReason      string
	// Version — монотонный счётчик для optimistic locking при Save.
	Version     int64
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Validate проверяет базовые инварианты платежа и возвращает список замечаний.
func (p *Payment) Validate() []error {
	var errs []error

	if p.IdempotencyKey == "" {
		errs = append(errs, ErrIdempotencyKeyRequired)
	}
	if p.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if p.SourceAccount == "" {
		errs = append(errs, ErrSourceAccountRequired)
	}
	if p.DestinationAccount == "" {
		errs = append(errs, ErrDestinationAccountRequired)
	}
	if p.Amount.Sign() <= 0 {
		errs = append(errs, ErrAmountNotPositive)
	}

	return errs
}
