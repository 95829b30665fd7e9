package memory

import (
	"sync"

	"github.com/paymenttech/payment-processor/internal/domain"
)

// paymentRepositoryInMemory — in-memory реализация PaymentRepository
// для локальной разработки и тестов.
type paymentRepositoryInMemory struct {
	mu      sync.RWMutex
	items   map[string]domain.Payment // по внутреннему ID
	byKey   map[string]string         // idempotency_key → ID
	byTx    map[string]string         // transaction_id → ID
	ledgers domain.RetryLedgerRepository
}

// NewPaymentRepository возвращает in-memory репозиторий платежей.
// Ledger-репозиторий нужен, чтобы Create записывал платёж и запись леджера
// как единое целое — как это делает транзакция в Postgres.
func NewPaymentRepository(ledgers domain.RetryLedgerRepository) domain.PaymentRepository {
	return &paymentRepositoryInMemory{
		items:   make(map[string]domain.Payment),
		byKey:   make(map[string]string),
		byTx:    make(map[string]string),
		ledgers: ledgers,
	}
}

// Create сохраняет новый платёж, обеспечивая уникальность idempotency-key.
func (r *paymentRepositoryInMemory) Create(payment domain.Payment, ledger domain.RetryLedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[payment.IdempotencyKey]; exists {
		return domain.ErrDuplicateIdempotencyKey
	}
	if _, exists := r.items[payment.ID]; exists {
		return domain.ErrDuplicateIdempotencyKey
	}

	if r.ledgers != nil {
		if err := r.ledgers.Create(ledger); err != nil {
			return err
		}
	}

	r.items[payment.ID] = clonePayment(payment)
	r.byKey[payment.IdempotencyKey] = payment.ID
	r.byTx[payment.TransactionID] = payment.ID
	return nil
}

// Get возвращает платёж по внутреннему ID или ErrPaymentNotFound.
func (r *paymentRepositoryInMemory) Get(id string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.items[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return clonePayment(payment), nil
}

// GetByTransactionID возвращает платёж по транзакционному ID.
func (r *paymentRepositoryInMemory) GetByTransactionID(transactionID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byTx[transactionID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return clonePayment(r.items[id]), nil
}

// GetByIdempotencyKey возвращает платёж по idempotency-key.
func (r *paymentRepositoryInMemory) GetByIdempotencyKey(key string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[key]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return clonePayment(r.items[id]), nil
}

// Save перезаписывает платёж, проверяя версию (optimistic locking).
func (r *paymentRepositoryInMemory) Save(payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[payment.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if current.Version != payment.Version {
		return domain.ErrPaymentVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	payment.Version++
	r.items[payment.ID] = clonePayment(payment)
	return nil
}

func clonePayment(src domain.Payment) domain.Payment {
	dst := src
	if src.ProcessedAt != nil {
		at := *src.ProcessedAt
		dst.ProcessedAt = &at
	}
	return dst
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
