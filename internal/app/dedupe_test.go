package app

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/daytradedak/payment-service/internal/domain"
)

// A nil *redis.Client is the normal bootstrap outcome when REDIS_URL is
// absent or the ping fails. The cache must degrade to always-miss without
// ever touching the client.
func TestWebhookDedupeNilClientDegrades(t *testing.T) {
	var client *redis.Client
	d := NewWebhookDedupe(client, "payments", time.Minute)

	if d.SeenRecently(context.Background(), "pay-1") {
		t.Error("nil-client cache reported a hit")
	}
	d.Mark(context.Background(), "pay-1")
	if d.SeenRecently(context.Background(), "pay-1") {
		t.Error("nil-client cache retained a mark")
	}
}

func TestWebhookDedupeNilReceiver(t *testing.T) {
	var d *WebhookDedupe
	if d.SeenRecently(context.Background(), "pay-1") {
		t.Error("nil dedupe reported a hit")
	}
	d.Mark(context.Background(), "pay-1")
}

// Webhook completion must work end to end when the service runs without
// Redis, with the nil client wired exactly the way main does it.
func TestCompletePaymentWithoutRedis(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, newFakeGateway(), &fakePublisher{})
	var client *redis.Client
	svc.dedupe = NewWebhookDedupe(client, "payments", 0)

	ev := seedEvent(repo, 299999, 10000)
	reg := seedPartialRegistration(repo, ev, 299999)
	seedPendingPayment(repo, reg, "pay-no-redis", 50000)

	applied, err := svc.CompletePayment(context.Background(), domain.WebhookPayload{
		PaymentID:             "pay-no-redis",
		StripePaymentIntentID: "pi_777",
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if applied.AlreadyCompleted {
		t.Error("fresh payment reported as already completed")
	}
	if got := repo.registrations[reg.ID].TotalPaid; got != 50000 {
		t.Errorf("total paid = %d, want 50000", got)
	}
}
