package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func validPayment() Payment {
	return Payment{
		ID:                 "pay-1",
		TransactionID:      "tx-1",
		IdempotencyKey:     "idem-1",
		Amount:             decimal.NewFromInt(100),
		Currency:           "USD",
		SourceAccount:      "acc-src",
		DestinationAccount: "acc-dst",
		Status:             PaymentStatusPending,
	}
}

func TestPaymentValidate_OK(t *testing.T) {
	p := validPayment()
	if errs := p.Validate(); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestPaymentValidate_Errors(t *testing.T) {
	p := Payment{Amount: decimal.NewFromInt(-5)}
	errs := p.Validate()

	want := []error{
		ErrIdempotencyKeyRequired,
		ErrCurrencyRequired,
		ErrSourceAccountRequired,
		ErrDestinationAccountRequired,
		ErrAmountNotPositive,
	}
	if len(errs) != len(want) {
		t.Fatalf("expected %d errors, got %d: %v", len(want), len(errs), errs)
	}
	for i, e := range want {
		if !errors.Is(errs[i], e) {
			t.Fatalf("expected error %v at %d, got %v", e, i, errs[i])
		}
	}
}

func TestPaymentValidate_ZeroAmount(t *testing.T) {
	p := validPayment()
	p.Amount = decimal.Zero
	errs := p.Validate()
	if len(errs) != 1 || !errors.Is(errs[0], ErrAmountNotPositive) {
		t.Fatalf("expected ErrAmountNotPositive, got %v", errs)
	}
}

func TestPaymentStatus_Terminal(t *testing.T) {
	terminal := []PaymentStatus{PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("status %s must be terminal", s)
		}
	}

	open := []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing, PaymentStatusRetryScheduled}
	for _, s := range open {
		if s.Terminal() {
			t.Fatalf("status %s must not be terminal", s)
		}
	}
}

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		allowed  bool
	}{
		{PaymentStatusPending, PaymentStatusProcessing, true},
		{PaymentStatusProcessing, PaymentStatusSuccess, true},
		{PaymentStatusProcessing, PaymentStatusRetryScheduled, true},
		{PaymentStatusProcessing, PaymentStatusFailed, true},
		{PaymentStatusRetryScheduled, PaymentStatusProcessing, true},
		{PaymentStatusRetryScheduled, PaymentStatusFailed, true},
		{PaymentStatusPending, PaymentStatusCancelled, true},
		{PaymentStatusProcessing, PaymentStatusCancelled, true},
		{PaymentStatusRetryScheduled, PaymentStatusCancelled, true},

		// Переходы назад запрещены.
		{PaymentStatusProcessing, PaymentStatusPending, false},
		{PaymentStatusRetryScheduled, PaymentStatusPending, false},
		{PaymentStatusSuccess, PaymentStatusPending, false},
		{PaymentStatusSuccess, PaymentStatusFailed, false},
		{PaymentStatusFailed, PaymentStatusProcessing, false},
		{PaymentStatusCancelled, PaymentStatusProcessing, false},
		{PaymentStatusSuccess, PaymentStatusCancelled, false},
		{PaymentStatusPending, PaymentStatusPending, false},
		{PaymentStatus("bogus"), PaymentStatusPending, false},
		{PaymentStatusPending, PaymentStatus("bogus"), false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestNewPaymentResponse(t *testing.T) {
	p := validPayment()
	p.Status = PaymentStatusSuccess

	resp := NewPaymentResponse(p)
	if resp.TransactionID != p.TransactionID {
		t.Fatalf("expected transaction id %s, got %s", p.TransactionID, resp.TransactionID)
	}
	if resp.Status != PaymentStatusSuccess {
		t.Fatalf("expected status success, got %s", resp.Status)
	}
	if resp.Message != "Payment success" {
		t.Fatalf("unexpected message: %q", resp.Message)
	}
	if !resp.Amount.Equal(p.Amount) {
		t.Fatalf("expected amount %s, got %s", p.Amount, resp.Amount)
	}
}
