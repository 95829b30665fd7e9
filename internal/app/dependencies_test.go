package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/paymenttech/payment-processor/internal/domain"
)

func newStandaloneDeps(t *testing.T, successRate float64) *Dependencies {
	t.Helper()

	cfg := DefaultConfig()
	cfg.GatewaySuccessRate = successRate
	cfg.BaseRetryDelay = time.Hour // тесты не ждут реальных повторов

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("component", "test"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies: %v", err)
	}
	t.Cleanup(deps.Close)
	return deps
}

func standaloneRequest(key string) domain.PaymentRequest {
	return domain.PaymentRequest{
		IdempotencyKey:     key,
		Amount:             decimal.NewFromFloat(42.00),
		Currency:           "USD",
		SourceAccount:      "acc-1",
		DestinationAccount: "acc-2",
	}
}

func TestInitRuntimeDependencies_MemoryStandalone(t *testing.T) {
	deps := newStandaloneDeps(t, 1.0)

	if deps.Store != nil {
		t.Error("memory driver should not open postgres")
	}
	if deps.Producer != nil {
		t.Error("no brokers configured, producer must be nil")
	}
	if deps.loopback == nil {
		t.Fatal("standalone mode must use the loopback publisher")
	}
	if deps.Engine == nil || deps.Processor == nil || deps.Scheduler == nil {
		t.Fatal("dependency graph is incomplete")
	}
}

func TestStandaloneSettlement_Success(t *testing.T) {
	deps := newStandaloneDeps(t, 1.0)

	resp, err := deps.Engine.Admit(standaloneRequest("sa-key-1"))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	// В standalone-режиме событие проводится внутри процесса.
	deps.loopback.Wait()

	status, err := deps.Engine.Status(resp.TransactionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != domain.PaymentStatusSuccess {
		t.Errorf("статус = %s, ожидался success", status.Status)
	}
}

func TestStandaloneSettlement_DeclineSchedulesRetry(t *testing.T) {
	deps := newStandaloneDeps(t, 0)

	resp, err := deps.Engine.Admit(standaloneRequest("sa-key-2"))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	deps.loopback.Wait()

	status, err := deps.Engine.Status(resp.TransactionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != domain.PaymentStatusRetryScheduled {
		t.Errorf("статус = %s, ожидался retry_scheduled", status.Status)
	}
	if deps.Scheduler.PendingTimers() != 1 {
		t.Errorf("взведено %d таймеров повторов, ожидался 1", deps.Scheduler.PendingTimers())
	}
}

func TestInitRuntimeDependencies_UnknownStorage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriver("cassandra")

	if _, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("component", "test")); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}
