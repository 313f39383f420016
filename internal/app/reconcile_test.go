package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"

	"github.com/daytradedak/payment-service/internal/domain"
	"github.com/daytradedak/payment-service/pkg/stripegateway"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedSubscription(repo *fakeRepository, userID uuid.UUID, stripeID, plan string, periodEnd time.Time) *domain.SubscriptionEntry {
	sub := &domain.SubscriptionEntry{
		ID:                   uuid.New(),
		UserID:               userID,
		PlanID:               plan,
		StripeSubscriptionID: stripeID,
		Status:               domain.SubscriptionStatusActive,
		CurrentPeriodEnd:     periodEnd,
	}
	repo.subscriptions[sub.ID] = sub
	return sub
}

func completedSubscriptionPayment(repo *fakeRepository, stripeSubID string, processedAt time.Time) {
	id := uuid.NewString()
	repo.payments[id] = &domain.PaymentRecord{
		ID:                   uuid.New(),
		PaymentID:            id,
		RegistrationID:       uuid.New(),
		Amount:               4999,
		Status:               domain.PaymentStatusCompleted,
		StripeSubscriptionID: &stripeSubID,
		ProcessedAt:          &processedAt,
	}
}

func TestTransactionSyncAdvancesPeriodEnd(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, newFakeGateway(), &fakePublisher{})

	sub := seedSubscription(repo, uuid.New(), "sub_1", "pro", testNow.AddDate(0, 0, 3))
	processedAt := testNow.Add(-2 * time.Hour)
	completedSubscriptionPayment(repo, "sub_1", processedAt)

	result, err := svc.SyncRecentSubscriptionPayments(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Advanced != 1 {
		t.Fatalf("advanced = %d, want 1", result.Advanced)
	}

	want := processedAt.AddDate(0, 1, 0)
	if got := repo.subscriptions[sub.ID].CurrentPeriodEnd; !got.Equal(want) {
		t.Errorf("period end = %v, want %v", got, want)
	}
	if len(repo.subHistory) != 1 || repo.subHistory[0].Action != domain.SubscriptionActionRenewed {
		t.Fatalf("expected one renewed history entry, got %v", repo.subHistory)
	}
	if got, _ := repo.subHistory[0].Metadata["new_period_end"].(string); got != want.Format(time.RFC3339) {
		t.Errorf("history new_period_end = %q, want %q", got, want.Format(time.RFC3339))
	}
}

func TestTransactionSyncReactivatesStaleSubscription(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, newFakeGateway(), &fakePublisher{})

	// Expired locally, but the stored period end is already past the one a
	// fresh charge would derive. The charge proves the gateway is still
	// billing, so the entry must come back without its period end moving.
	storedEnd := testNow.AddDate(0, 2, 0)
	expiresAt := testNow.AddDate(0, 0, -1)
	sub := seedSubscription(repo, uuid.New(), "sub_stale", "pro", storedEnd)
	sub.Status = domain.SubscriptionStatusExpired
	sub.ExpiresAt = &expiresAt
	completedSubscriptionPayment(repo, "sub_stale", testNow.Add(-2*time.Hour))

	result, err := svc.SyncRecentSubscriptionPayments(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.FallbackApplied != 1 {
		t.Fatalf("fallback = %d, want 1", result.FallbackApplied)
	}
	got := repo.subscriptions[sub.ID]
	if got.Status != domain.SubscriptionStatusActive {
		t.Errorf("status = %q, want active", got.Status)
	}
	if got.ExpiresAt != nil {
		t.Errorf("expires_at = %v, want nil", got.ExpiresAt)
	}
	if !got.CurrentPeriodEnd.Equal(storedEnd) {
		t.Errorf("period end = %v, want unchanged %v", got.CurrentPeriodEnd, storedEnd)
	}
	if len(repo.subHistory) != 1 || repo.subHistory[0].Action != domain.SubscriptionActionRenewed {
		t.Fatalf("expected one renewed history entry, got %v", repo.subHistory)
	}
	if got, _ := repo.subHistory[0].Metadata["new_period_end"].(string); got != storedEnd.Format(time.RFC3339) {
		t.Errorf("history new_period_end = %q, want %q", got, storedEnd.Format(time.RFC3339))
	}
}

func TestTransactionSyncNeverMovesPeriodEndBackwards(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, newFakeGateway(), &fakePublisher{})

	farFuture := testNow.AddDate(0, 3, 0)
	sub := seedSubscription(repo, uuid.New(), "sub_1", "pro", farFuture)
	completedSubscriptionPayment(repo, "sub_1", testNow.Add(-2*time.Hour))

	result, err := svc.SyncRecentSubscriptionPayments(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Advanced != 0 {
		t.Errorf("advanced = %d, want 0", result.Advanced)
	}
	if got := repo.subscriptions[sub.ID].CurrentPeriodEnd; !got.Equal(farFuture) {
		t.Errorf("period end moved backwards: %v", got)
	}
	if len(repo.subHistory) != 0 {
		t.Errorf("stale charge wrote history: %v", repo.subHistory)
	}
}

func TestTransactionSyncIgnoresChargesOutsideWindow(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, newFakeGateway(), &fakePublisher{})

	seedSubscription(repo, uuid.New(), "sub_1", "pro", testNow)
	completedSubscriptionPayment(repo, "sub_1", testNow.Add(-48*time.Hour))

	result, err := svc.SyncRecentSubscriptionPayments(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Scanned != 0 {
		t.Errorf("scanned = %d, want 0", result.Scanned)
	}
}

func TestGatewaySyncOverwritesDrift(t *testing.T) {
	repo := newFakeRepository()
	gateway := newFakeGateway()
	svc := newTestService(repo, gateway, &fakePublisher{})

	customer := "cus_1"
	userID := uuid.New()
	repo.users = []domain.User{{ID: userID, StripeCustomerID: &customer}}

	staleEnd := testNow.AddDate(0, 0, -5)
	gatewayEnd := testNow.AddDate(0, 1, 0)
	sub := seedSubscription(repo, userID, "sub_1", "pro", staleEnd)
	gateway.listBySub[customer] = []stripegateway.Subscription{
		{ID: "sub_1", PlanID: "pro", Status: "active", CurrentPeriodEnd: gatewayEnd},
	}

	result, err := svc.SyncGatewaySubscriptions(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.SubscriptionsFixed != 1 {
		t.Errorf("fixed = %d, want 1", result.SubscriptionsFixed)
	}
	if got := repo.subscriptions[sub.ID].CurrentPeriodEnd; !got.Equal(gatewayEnd) {
		t.Errorf("period end = %v, want gateway value %v", got, gatewayEnd)
	}
	if len(repo.subHistory) != 1 || repo.subHistory[0].Action != domain.SubscriptionActionRenewed {
		t.Fatalf("expected one renewed history entry for the overwrite, got %v", repo.subHistory)
	}
	if got, _ := repo.subHistory[0].Metadata["current_period_end"].(string); got != gatewayEnd.Format(time.RFC3339) {
		t.Errorf("history current_period_end = %q, want %q", got, gatewayEnd.Format(time.RFC3339))
	}
}

func TestGatewaySyncExpiresLocalOnlyActive(t *testing.T) {
	repo := newFakeRepository()
	gateway := newFakeGateway()
	svc := newTestService(repo, gateway, &fakePublisher{})

	customer := "cus_1"
	userID := uuid.New()
	repo.users = []domain.User{{ID: userID, StripeCustomerID: &customer}}

	sub := seedSubscription(repo, userID, "sub_gone", "pro", testNow.AddDate(0, 1, 0))
	// Gateway reports no active subscriptions for this customer.

	if _, err := svc.SyncGatewaySubscriptions(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if got := repo.subscriptions[sub.ID].Status; got != domain.SubscriptionStatusExpired {
		t.Errorf("status = %q, want expired", got)
	}
}

func TestExpirySweepCancelsThenMarks(t *testing.T) {
	repo := newFakeRepository()
	gateway := newFakeGateway()
	svc := newTestService(repo, gateway, &fakePublisher{})

	sub := seedSubscription(repo, uuid.New(), "sub_lapsed", "pro", testNow.AddDate(0, 0, -1))

	result, err := svc.EnforceSubscriptionExpiry(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Expired != 1 {
		t.Fatalf("expired = %d, want 1", result.Expired)
	}
	if len(gateway.cancelledIDs) != 1 || gateway.cancelledIDs[0] != "sub_lapsed" {
		t.Errorf("gateway cancel calls = %v, want [sub_lapsed]", gateway.cancelledIDs)
	}
	if got := repo.subscriptions[sub.ID].Status; got != domain.SubscriptionStatusExpired {
		t.Errorf("status = %q, want expired", got)
	}
	if len(repo.subHistory) != 1 || repo.subHistory[0].Action != domain.SubscriptionActionExpired {
		t.Errorf("expected one expired history entry, got %v", repo.subHistory)
	}
}

func TestExpirySweepKeepsActiveWhenCancelFails(t *testing.T) {
	repo := newFakeRepository()
	gateway := newFakeGateway()
	svc := newTestService(repo, gateway, &fakePublisher{})

	sub := seedSubscription(repo, uuid.New(), "sub_stuck", "pro", testNow.AddDate(0, 0, -1))
	gateway.cancelErr["sub_stuck"] = &stripe.Error{Type: stripe.ErrorTypeAPI, Msg: "internal error"}

	result, err := svc.EnforceSubscriptionExpiry(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.CancelFailed != 1 {
		t.Errorf("cancelFailed = %d, want 1", result.CancelFailed)
	}
	if got := repo.subscriptions[sub.ID].Status; got != domain.SubscriptionStatusActive {
		t.Errorf("status = %q, want active: never mark expired while the gateway might still bill", got)
	}
}

func TestExpirySweepTreatsAlreadyGoneAsSuccess(t *testing.T) {
	repo := newFakeRepository()
	gateway := newFakeGateway()
	svc := newTestService(repo, gateway, &fakePublisher{})

	missing := seedSubscription(repo, uuid.New(), "sub_missing", "pro", testNow.AddDate(0, 0, -1))
	gateway.cancelErr["sub_missing"] = &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404}

	result, err := svc.EnforceSubscriptionExpiry(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Expired != 1 {
		t.Fatalf("expired = %d, want 1", result.Expired)
	}
	if got := repo.subscriptions[missing.ID].Status; got != domain.SubscriptionStatusExpired {
		t.Errorf("status = %q, want expired when gateway says not found", got)
	}
}
