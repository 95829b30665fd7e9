package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/paymenttech/payment-processor/internal/domain"
	"github.com/paymenttech/payment-processor/internal/storage/memory"
)

func TestRetryLedgerRepository_CreateAndGet(t *testing.T) {
	repo := memory.NewRetryLedgerRepository()

	if err := repo.Create(newLedger("tx-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	entry, err := repo.GetByPaymentRef("tx-1")
	if err != nil {
		t.Fatalf("GetByPaymentRef failed: %v", err)
	}
	if entry.RetryCount != 0 {
		t.Fatalf("expected retry count 0, got %d", entry.RetryCount)
	}

	if err := repo.Create(newLedger("tx-1")); !errors.Is(err, domain.ErrLedgerAlreadyExists) {
		t.Fatalf("expected ErrLedgerAlreadyExists, got %v", err)
	}
}

func TestRetryLedgerRepository_SaveGuard(t *testing.T) {
	repo := memory.NewRetryLedgerRepository()
	if err := repo.Create(newLedger("tx-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	entry, _ := repo.GetByPaymentRef("tx-1")
	entry.RetryCount = 1
	entry.AppendError(1, "timeout")

	if err := repo.Save(entry, 0); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Повторное применение того же инкремента — конфликт, не двойной счёт.
	if err := repo.Save(entry, 0); !errors.Is(err, domain.ErrLedgerRetryConflict) {
		t.Fatalf("expected ErrLedgerRetryConflict, got %v", err)
	}

	got, _ := repo.GetByPaymentRef("tx-1")
	if got.RetryCount != 1 {
		t.Fatalf("retry count must stay 1, got %d", got.RetryCount)
	}
}

func TestRetryLedgerRepository_SaveRejectsResolvedEntry(t *testing.T) {
	repo := memory.NewRetryLedgerRepository()
	if err := repo.Create(newLedger("tx-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	entry, _ := repo.GetByPaymentRef("tx-1")
	resolvedAt := time.Now().UTC()
	entry.ResolvedAt = &resolvedAt
	if err := repo.Save(entry, 0); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Закрытый журнал неизменяем даже при совпадающем retry_count.
	entry.RetryCount = 1
	if err := repo.Save(entry, 0); !errors.Is(err, domain.ErrLedgerRetryConflict) {
		t.Fatalf("expected ErrLedgerRetryConflict, got %v", err)
	}

	got, _ := repo.GetByPaymentRef("tx-1")
	if got.RetryCount != 0 {
		t.Fatalf("retry count must stay 0, got %d", got.RetryCount)
	}
}

func TestRetryLedgerRepository_Reopen(t *testing.T) {
	repo := memory.NewRetryLedgerRepository()
	if err := repo.Create(newLedger("tx-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	entry, _ := repo.GetByPaymentRef("tx-1")
	entry.RetryCount = 3
	entry.LastRetryAt = time.Now().UTC()
	entry.AppendError(3, "timeout")
	resolvedAt := time.Now().UTC()
	entry.ResolvedAt = &resolvedAt
	if err := repo.Save(entry, 0); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := repo.Reopen("tx-1"); err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}

	got, err := repo.GetByPaymentRef("tx-1")
	if err != nil {
		t.Fatalf("GetByPaymentRef failed: %v", err)
	}
	if got.RetryCount != 0 {
		t.Fatalf("expected retry count 0 after reopen, got %d", got.RetryCount)
	}
	if got.Resolved() {
		t.Fatal("entry must be unresolved after reopen")
	}
	if !got.LastRetryAt.IsZero() {
		t.Fatalf("last retry timestamp must be cleared, got %v", got.LastRetryAt)
	}
	if got.ErrorLog == "" {
		t.Fatal("error log must survive reopen as audit trail")
	}

	// Сброшенная запись снова принимает условные обновления.
	got.RetryCount = 1
	if err := repo.Save(got, 0); err != nil {
		t.Fatalf("Save after reopen failed: %v", err)
	}

	if err := repo.Reopen("no-such-tx"); !errors.Is(err, domain.ErrLedgerNotFound) {
		t.Fatalf("expected ErrLedgerNotFound, got %v", err)
	}
}

func TestRetryLedgerRepository_ListUnresolved(t *testing.T) {
	repo := memory.NewRetryLedgerRepository()

	first := newLedger("tx-1")
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if err := repo.Create(first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	second := newLedger("tx-2")
	if err := repo.Create(second); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	resolved := newLedger("tx-3")
	now := time.Now().UTC()
	resolved.ResolvedAt = &now
	if err := repo.Create(resolved); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	entries, err := repo.ListUnresolved(0)
	if err != nil {
		t.Fatalf("ListUnresolved failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 unresolved entries, got %d", len(entries))
	}
	if entries[0].PaymentRef != "tx-1" {
		t.Fatalf("expected oldest first, got %s", entries[0].PaymentRef)
	}

	limited, err := repo.ListUnresolved(1)
	if err != nil {
		t.Fatalf("ListUnresolved with limit failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(limited))
	}
}
