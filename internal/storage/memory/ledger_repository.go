package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/paymenttech/payment-processor/internal/domain"
)

type ledgerRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.RetryLedgerEntry
}

// NewRetryLedgerRepository создаёт in-memory реализацию RetryLedgerRepository.
func NewRetryLedgerRepository() domain.RetryLedgerRepository {
	return &ledgerRepositoryInMemory{
		items: make(map[string]domain.RetryLedgerEntry),
	}
}

func (r *ledgerRepositoryInMemory) Create(entry domain.RetryLedgerEntry) error {
	if entry.PaymentRef == "" {
		return domain.ErrLedgerNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[entry.PaymentRef]; exists {
		return domain.ErrLedgerAlreadyExists
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	r.items[entry.PaymentRef] = cloneLedgerEntry(entry)
	return nil
}

func (r *ledgerRepositoryInMemory) GetByPaymentRef(paymentRef string) (domain.RetryLedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.items[paymentRef]
	if !ok {
		return domain.RetryLedgerEntry{}, domain.ErrLedgerNotFound
	}
	return cloneLedgerEntry(entry), nil
}

// Save применяет обновление, только если текущий retry_count совпадает с ожидаемым,
// а запись ещё не закрыта. Защита от двойного инкремента при дубликате доставки
// и от мутаций закрытого журнала.
func (r *ledgerRepositoryInMemory) Save(entry domain.RetryLedgerEntry, expectedRetryCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[entry.PaymentRef]
	if !ok {
		return domain.ErrLedgerNotFound
	}
	if current.RetryCount != expectedRetryCount || current.Resolved() {
		return domain.ErrLedgerRetryConflict
	}

	r.items[entry.PaymentRef] = cloneLedgerEntry(entry)
	return nil
}

// Reopen выдаёт платежу новый бюджет повторов: счётчик обнуляется,
// resolved_at снимается. Журнал ошибок остаётся как audit trail.
func (r *ledgerRepositoryInMemory) Reopen(paymentRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.items[paymentRef]
	if !ok {
		return domain.ErrLedgerNotFound
	}

	entry.RetryCount = 0
	entry.LastRetryAt = time.Time{}
	entry.ResolvedAt = nil
	r.items[paymentRef] = cloneLedgerEntry(entry)
	return nil
}

func (r *ledgerRepositoryInMemory) ListUnresolved(limit int) ([]domain.RetryLedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.RetryLedgerEntry, 0, len(r.items))
	for _, entry := range r.items {
		if entry.Resolved() {
			continue
		}
		result = append(result, cloneLedgerEntry(entry))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].PaymentRef < result[j].PaymentRef
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func cloneLedgerEntry(src domain.RetryLedgerEntry) domain.RetryLedgerEntry {
	dst := src
	if src.ResolvedAt != nil {
		at := *src.ResolvedAt
		dst.ResolvedAt = &at
	}
	return dst
}

var _ domain.RetryLedgerRepository = (*ledgerRepositoryInMemory)(nil)
