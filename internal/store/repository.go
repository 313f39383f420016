/**
 * @description
 * This file defines the `Repository` interface for the payment-service's data
 * access layer, together with the parameter structs shared by its
 * implementations. The interface is consumed by the application service and
 * the scheduled jobs; tests substitute hand-written fakes.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/daytradedak/payment-service/internal/domain"
)

// ApplyPaymentCompletionParams carries the webhook fields applied when a
// pending payment transitions to completed.
type ApplyPaymentCompletionParams struct {
	PaymentID             string
	StripePaymentIntentID string
	ReceiptURL            *string
	ProcessedAt           time.Time
}

// Repository defines the database operations the payment-service needs.
type Repository interface {
	// Event methods
	FindEventByID(ctx context.Context, eventID uuid.UUID) (*domain.Event, error)

	// Registration methods
	FindRegistrationByID(ctx context.Context, registrationID uuid.UUID) (*domain.Registration, error)
	FindRegistrationByEventAndEmail(ctx context.Context, eventID uuid.UUID, email string) (*domain.Registration, error)
	CreateRegistration(ctx context.Context, reg *domain.Registration) error
	// DeleteRegistrationIfUnpaid removes a registration and its pending
	// payments only when the registration has no completed payment. Returns
	// false when the guard blocked the delete.
	DeleteRegistrationIfUnpaid(ctx context.Context, registrationID uuid.UUID) (bool, error)
	// DeleteRegistrationCascade is the operator escape hatch: it removes the
	// registration, its entire ledger, and its history unconditionally.
	DeleteRegistrationCascade(ctx context.Context, registrationID uuid.UUID) error
	ListExpiredUnpaidRegistrations(ctx context.Context, asOf time.Time, limit int) ([]domain.Registration, error)
	ListPartialRegistrationIDs(ctx context.Context) ([]uuid.UUID, error)
	// OverwriteRegistrationBalances writes a recomputed aggregate summary.
	// This is the only write path for the derived balance fields.
	OverwriteRegistrationBalances(ctx context.Context, registrationID uuid.UUID, summary domain.BalanceSummary, status string) error

	// Payment ledger methods
	CreatePayment(ctx context.Context, payment *domain.PaymentRecord) error
	FindPaymentByPaymentID(ctx context.Context, paymentID string) (*domain.PaymentRecord, error)
	ListPaymentsByRegistration(ctx context.Context, registrationID uuid.UUID) ([]domain.PaymentRecord, error)
	ListCompletedPaymentsByRegistration(ctx context.Context, registrationID uuid.UUID) ([]domain.PaymentRecord, error)
	ListHistoryByRegistration(ctx context.Context, registrationID uuid.UUID) ([]domain.PaymentHistoryEntry, error)
	// ApplyPaymentCompletion marks the payment completed, recomputes the
	// owning aggregate from the ledger, and appends the history entry, all in
	// one database transaction. Re-delivery of an already-completed payment
	// id returns AlreadyCompleted=true without mutation.
	ApplyPaymentCompletion(ctx context.Context, params ApplyPaymentCompletionParams) (*domain.PaymentApplication, error)
	ListRecentCompletedSubscriptionPayments(ctx context.Context, since time.Time) ([]domain.PaymentRecord, error)

	// User and subscription methods
	ListUsersWithStripeCustomer(ctx context.Context, region string, limit, offset int) ([]domain.User, error)
	ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]domain.SubscriptionEntry, error)
	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.SubscriptionEntry, error)
	ListLapsedActiveSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]domain.SubscriptionEntry, error)
	// AdvanceSubscriptionPeriodEnd conditionally pushes current_period_end
	// forward, only when the stored value is older. Returns false when the
	// conditional update matched no row (stale candidate or concurrent writer).
	AdvanceSubscriptionPeriodEnd(ctx context.Context, subscriptionID uuid.UUID, newPeriodEnd time.Time) (bool, error)
	UpdateSubscription(ctx context.Context, sub *domain.SubscriptionEntry) error
	MarkSubscriptionExpired(ctx context.Context, subscriptionID uuid.UUID) error
	AppendSubscriptionHistory(ctx context.Context, entry *domain.SubscriptionHistoryEntry) error
}
