/**
 * @description
 * Webhook completion handling. The gateway delivers "payment succeeded"
 * notifications at least once and possibly out of order; CompletePayment
 * applies them to the ledger idempotently. The ledger write and the
 * aggregate recompute happen in one database transaction; everything after
 * that (notifications, commission creation) is best-effort and never rolls
 * the transition back.
 */

package app

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/daytradedak/payment-service/internal/domain"
	"github.com/daytradedak/payment-service/internal/store"
	"github.com/daytradedak/payment-service/pkg/rabbitmq"
)

var ErrMissingPaymentID = errors.New("paymentId is required")

// CompletePayment applies an inbound payment-completed notification.
//
// Idempotency: an unknown payment id and an already-completed payment id are
// both successes without mutation. Concurrent redelivery is guarded by the
// conditional transition inside ApplyPaymentCompletion, backed by the unique
// constraint on payment_id.
func (s *Service) CompletePayment(ctx context.Context, payload domain.WebhookPayload) (*domain.PaymentApplication, error) {
	paymentID := strings.TrimSpace(payload.PaymentID)
	if paymentID == "" {
		return nil, ErrMissingPaymentID
	}

	// Fast path: a recently applied payment id short-circuits before the
	// database round-trip. Purely an optimization; the DB remains the guard.
	if s.dedupe.SeenRecently(ctx, paymentID) {
		log.Printf("level=info component=service flow=webhook outcome=duplicate msg=\"payment already applied (cache)\" payment_id=%s", paymentID)
		return &domain.PaymentApplication{AlreadyCompleted: true}, nil
	}

	application, err := s.repo.ApplyPaymentCompletion(ctx, store.ApplyPaymentCompletionParams{
		PaymentID:             paymentID,
		StripePaymentIntentID: strings.TrimSpace(payload.StripePaymentIntentID),
		ReceiptURL:            payload.ReceiptURL,
		ProcessedAt:           s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			// Unknown payment id: the record may have been collected as an
			// abandoned checkout, or the notification belongs to another
			// deployment. Treated as success per at-least-once semantics.
			log.Printf("level=warn component=service flow=webhook outcome=noop msg=\"payment id not found\" payment_id=%s", paymentID)
			return &domain.PaymentApplication{AlreadyCompleted: true}, nil
		}
		return nil, err
	}

	s.dedupe.Mark(ctx, paymentID)

	if application.AlreadyCompleted {
		log.Printf("level=info component=service flow=webhook outcome=duplicate msg=\"payment already applied\" payment_id=%s", paymentID)
		return application, nil
	}

	log.Printf("level=info component=service flow=webhook outcome=applied payment_id=%s registration_id=%s amount=%s total_paid=%s remaining=%s",
		paymentID, application.Registration.ID,
		domain.FormatCents(application.Payment.Amount),
		domain.FormatCents(application.Registration.TotalPaid),
		domain.FormatCents(application.Registration.RemainingBalance))

	s.emitPaymentSideEffects(ctx, application)

	return application, nil
}

// emitPaymentSideEffects publishes the downstream reactions to a completed
// payment. Failures are logged and swallowed: side effects never block or
// undo the ledger transition.
func (s *Service) emitPaymentSideEffects(ctx context.Context, application *domain.PaymentApplication) {
	if s.eventProducer == nil {
		return
	}

	reg := application.Registration
	payment := application.Payment

	event := rabbitmq.PaymentEvent{
		PaymentID:      payment.PaymentID,
		RegistrationID: reg.ID,
		EventID:        reg.EventID,
		Email:          reg.Email,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		ReceiptURL:     payment.ReceiptURL,
		ReferralCode:   reg.ReferralCode,
		Timestamp:      s.now().UTC(),
	}

	if err := s.eventProducer.Publish(ctx, rabbitmq.PaymentEventExchange, rabbitmq.RoutingKeyPaymentConfirmed, event); err != nil {
		log.Printf("level=warn component=service flow=webhook msg=\"payment confirmation publish failed\" payment_id=%s err=%v", payment.PaymentID, err)
	}

	if !application.FirstFullyPaid {
		return
	}

	if err := s.eventProducer.Publish(ctx, rabbitmq.PaymentEventExchange, rabbitmq.RoutingKeyRegistrationCompleted, event); err != nil {
		log.Printf("level=warn component=service flow=webhook msg=\"registration completion publish failed\" registration_id=%s err=%v", reg.ID, err)
	}

	if reg.ReferralCode != nil && strings.TrimSpace(*reg.ReferralCode) != "" {
		if err := s.eventProducer.Publish(ctx, rabbitmq.PaymentEventExchange, rabbitmq.RoutingKeyCommissionCreate, event); err != nil {
			log.Printf("level=warn component=service flow=webhook msg=\"commission publish failed\" registration_id=%s referral_code=%s err=%v", reg.ID, *reg.ReferralCode, err)
		}
	}
}
