package domain

import (
	"fmt"
	"time"
)

// RetryLedgerEntry хранит durable-состояние повторов для одной транзакции.
// Создаётся вместе с платежом (retry_count=0) и мутируется только планировщиком повторов.
type RetryLedgerEntry struct {
	// PaymentRef — транзакционный ID платежа; одна запись на транзакцию.
	PaymentRef  string
	RetryCount  int
	LastRetryAt time.Time
	// ErrorLog — append-only журнал причин неудачных попыток.
	ErrorLog  string
	CreatedAt time.Time
	// ResolvedAt выставляется ровно один раз, когда платёж достигает терминального статуса.
	ResolvedAt *time.Time
}

// Resolved сообщает, закрыта ли запись леджера.
func (e *RetryLedgerEntry) Resolved() bool {
	return e.ResolvedAt != nil
}

// AppendError дописывает причину очередной неудачной попытки в журнал.
func (e *RetryLedgerEntry) AppendError(attempt int, reason string) {
	e.ErrorLog += fmt.Sprintf("\n[retry %d] %s", attempt, reason)
}

// Validate проверяет инварианты записи леджера.
func (e *RetryLedgerEntry) Validate(maxRetries int) []error {
	var errs []error

	if e.PaymentRef == "" {
		errs = append(errs, ErrLedgerNotFound)
	}
	if e.RetryCount < 0 {
		errs = append(errs, ErrLedgerRetryConflict)
	}
	if maxRetries > 0 && e.RetryCount > maxRetries {
		errs = append(errs, ErrLedgerRetryConflict)
	}

	return errs
}
