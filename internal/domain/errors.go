package domain

import "errors"

var (
	// Ошибка отсутствующего idempotency-key в запросе.
	ErrIdempotencyKeyRequired = errors.New("idempotency_key is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствующего счёта-источника.
	ErrSourceAccountRequired = errors.New("source_account is required")
	// Ошибка отсутствующего счёта-получателя.
	ErrDestinationAccountRequired = errors.New("destination_account is required")
	// Ошибка неположительной суммы платежа.
	ErrAmountNotPositive = errors.New("amount must be greater than zero")
	// ErrPaymentNotFound возвращается, если платёж не найден в репозитории.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicateIdempotencyKey сигнализирует, что платёж с таким ключом уже создан.
	// Уникальность ключа обеспечивает хранилище; вызывающий перечитывает победившую запись.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	// ErrPaymentVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrPaymentVersionConflict = errors.New("payment version conflict")
	// ErrStatusTransition возвращается при попытке недопустимого перехода статуса.
	ErrStatusTransition = errors.New("invalid payment status transition")
	// ErrLedgerNotFound возвращается, если запись retry-леджера отсутствует.
	ErrLedgerNotFound = errors.New("retry ledger entry not found")
	// ErrLedgerAlreadyExists возвращается при повторном создании записи леджера.
	ErrLedgerAlreadyExists = errors.New("retry ledger entry already exists")
	// ErrLedgerRetryConflict сигнализирует, что retry_count уже продвинулся дальше
	// ожидаемого значения: дубликат доставки не должен инкрементировать счётчик повторно.
	ErrLedgerRetryConflict = errors.New("retry ledger count conflict")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrPaymentVersionConflict)
}

// IsDuplicateKey проверяет, является ли ошибка нарушением уникальности idempotency-key.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey)
}
