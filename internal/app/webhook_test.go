package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/daytradedak/payment-service/internal/domain"
	"github.com/daytradedak/payment-service/pkg/rabbitmq"
)

func seedPendingPayment(repo *fakeRepository, reg *domain.Registration, paymentID string, amount int64) *domain.PaymentRecord {
	p := &domain.PaymentRecord{
		ID:             uuid.New(),
		PaymentID:      paymentID,
		RegistrationID: reg.ID,
		EventID:        reg.EventID,
		Amount:         amount,
		Currency:       "usd",
		PaymentType:    domain.PaymentTypeDeposit,
		Status:         domain.PaymentStatusPending,
	}
	repo.payments[paymentID] = p
	return p
}

func TestCompletePaymentAppliesOnce(t *testing.T) {
	repo := newFakeRepository()
	publisher := &fakePublisher{}
	svc := newTestService(repo, newFakeGateway(), publisher)
	ev := seedEvent(repo, 299999, 10000)
	reg := seedPartialRegistration(repo, ev, 299999)
	seedPendingPayment(repo, reg, "pay-1", 50000)

	payload := domain.WebhookPayload{PaymentID: "pay-1", StripePaymentIntentID: "pi_123"}

	first, err := svc.CompletePayment(context.Background(), payload)
	if err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if first.AlreadyCompleted {
		t.Fatal("first delivery must apply the payment")
	}
	if got := repo.registrations[reg.ID].TotalPaid; got != 50000 {
		t.Errorf("totalPaid = %d, want 50000", got)
	}
	if got := repo.registrations[reg.ID].RemainingBalance; got != 249999 {
		t.Errorf("remainingBalance = %d, want 249999", got)
	}
	if repo.registrations[reg.ID].IsFullyPaid {
		t.Error("registration must not be fully paid after a deposit")
	}

	// Same payload delivered again: no mutation.
	second, err := svc.CompletePayment(context.Background(), payload)
	if err != nil {
		t.Fatalf("second delivery failed: %v", err)
	}
	if !second.AlreadyCompleted {
		t.Fatal("second delivery must be an idempotent no-op")
	}
	if got := repo.registrations[reg.ID].TotalPaid; got != 50000 {
		t.Errorf("totalPaid after redelivery = %d, want 50000", got)
	}
	if len(repo.history) != 1 {
		t.Errorf("history entries = %d, want exactly 1", len(repo.history))
	}
}

func TestCompletePaymentUnknownIDIsNoOpSuccess(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, newFakeGateway(), &fakePublisher{})

	result, err := svc.CompletePayment(context.Background(), domain.WebhookPayload{
		PaymentID:             "never-seen",
		StripePaymentIntentID: "pi_999",
	})
	if err != nil {
		t.Fatalf("unknown payment id must not error: %v", err)
	}
	if !result.AlreadyCompleted {
		t.Error("unknown payment id should report a no-op")
	}
}

func TestCompletePaymentRejectsEmptyPaymentID(t *testing.T) {
	svc := newTestService(newFakeRepository(), newFakeGateway(), &fakePublisher{})

	_, err := svc.CompletePayment(context.Background(), domain.WebhookPayload{PaymentID: "  "})
	if !errors.Is(err, ErrMissingPaymentID) {
		t.Fatalf("err = %v, want ErrMissingPaymentID", err)
	}
}

func TestCompletePaymentEmitsCompletionAndCommission(t *testing.T) {
	repo := newFakeRepository()
	publisher := &fakePublisher{}
	svc := newTestService(repo, newFakeGateway(), publisher)
	ev := seedEvent(repo, 50000, 10000)
	reg := seedPartialRegistration(repo, ev, 50000)
	code := "AFF-42"
	reg.ReferralCode = &code
	seedPendingPayment(repo, reg, "pay-full", 50000)

	result, err := svc.CompletePayment(context.Background(), domain.WebhookPayload{
		PaymentID:             "pay-full",
		StripePaymentIntentID: "pi_full",
	})
	if err != nil {
		t.Fatalf("CompletePayment failed: %v", err)
	}
	if !result.FirstFullyPaid {
		t.Fatal("full payment should be the first fully-paid transition")
	}

	want := []string{
		rabbitmq.RoutingKeyPaymentConfirmed,
		rabbitmq.RoutingKeyRegistrationCompleted,
		rabbitmq.RoutingKeyCommissionCreate,
	}
	if len(publisher.published) != len(want) {
		t.Fatalf("published = %v, want %v", publisher.published, want)
	}
	for i, key := range want {
		if publisher.published[i] != key {
			t.Errorf("published[%d] = %q, want %q", i, publisher.published[i], key)
		}
	}
}

func TestCompletePaymentSwallowsPublishFailures(t *testing.T) {
	repo := newFakeRepository()
	publisher := &fakePublisher{publishErr: errors.New("broker down")}
	svc := newTestService(repo, newFakeGateway(), publisher)
	ev := seedEvent(repo, 50000, 10000)
	reg := seedPartialRegistration(repo, ev, 50000)
	seedPendingPayment(repo, reg, "pay-2", 50000)

	_, err := svc.CompletePayment(context.Background(), domain.WebhookPayload{
		PaymentID:             "pay-2",
		StripePaymentIntentID: "pi_2",
	})
	if err != nil {
		t.Fatalf("publish failure must never fail the completion: %v", err)
	}
	if got := repo.registrations[reg.ID].TotalPaid; got != 50000 {
		t.Errorf("ledger transition must survive a publish failure, totalPaid = %d", got)
	}
}
