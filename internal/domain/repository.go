package domain

// PaymentRepository описывает требования к durable-хранилищу платежей.
// Хранилище — единственное место, где строго обеспечивается уникальность
// idempotency-key и разрешаются конкурентные обновления одной записи.
type PaymentRepository interface {
	// Create сохраняет новый платёж вместе со свежей записью retry-леджера.
	// Возвращает ErrDuplicateIdempotencyKey, если ключ уже занят.
	Create(payment Payment, ledger RetryLedgerEntry) error
	// Get возвращает платёж по внутреннему идентификатору.
	Get(id string) (Payment, error)
	// GetByTransactionID возвращает платёж по транзакционному ID или ErrPaymentNotFound.
	GetByTransactionID(transactionID string) (Payment, error)
	// GetByIdempotencyKey возвращает платёж по idempotency-key или ErrPaymentNotFound.
	GetByIdempotencyKey(key string) (Payment, error)
	// Save применяет обновления к платежу с учётом optimistic locking:
	// запись со stale-версией завершится ErrPaymentVersionConflict.
	Save(payment Payment) error
}

// RetryLedgerRepository хранит durable-состояние повторов по транзакции.
type RetryLedgerRepository interface {
	// Create сохраняет новую запись или возвращает ErrLedgerAlreadyExists.
	Create(entry RetryLedgerEntry) error
	// GetByPaymentRef возвращает запись по транзакционному ID платежа.
	GetByPaymentRef(paymentRef string) (RetryLedgerEntry, error)
	// Save обновляет запись, только если текущий retry_count равен expectedRetryCount,
	// а запись ещё не закрыта. Иначе возвращает ErrLedgerRetryConflict: так дубликат
	// доставки не инкрементирует счётчик повторно и не трогает закрытый журнал.
	Save(entry RetryLedgerEntry, expectedRetryCount int) error
	// Reopen сбрасывает счётчик повторов и снимает resolved_at: платёж получает
	// новый полный бюджет попыток. Операторское действие, журнал ошибок сохраняется.
	Reopen(paymentRef string) error
	// ListUnresolved возвращает незакрытые записи (для операторской диагностики).
	ListUnresolved(limit int) ([]RetryLedgerEntry, error)
}
