/**
 * @description
 * This file defines the core domain models for the payment-service.
 * These structs represent the payment ledger, the registration balance
 * aggregate, and the data transfer objects (DTOs) used by the API and
 * business-logic layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents),
 *   which avoids floating-point inaccuracies with financial data. Amounts
 *   cross the API boundary as decimal strings and are converted exactly.
 * - `PaymentID` is the caller-generated idempotency key: the webhook handler
 *   applies a given payment id at most once regardless of redelivery.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment statuses. Transitions are monotonic:
// pending -> {processing|completed|failed|cancelled}, completed -> refunded only.
const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"
	PaymentStatusCancelled  = "cancelled"
)

// Payment types.
const (
	PaymentTypeDeposit     = "deposit"
	PaymentTypeInstallment = "installment"
	PaymentTypeFinal       = "final"
	PaymentTypeFull        = "full"
)

// Payment modes on a registration.
const (
	PaymentModeFull    = "full"
	PaymentModePartial = "partial"
)

// Registration statuses.
const (
	RegistrationStatusPending   = "pending"
	RegistrationStatusConfirmed = "confirmed"
)

// PaymentRecord is one row of the payment ledger: a single payment attempt
// against a registration. This struct maps directly to the `payments` table.
type PaymentRecord struct {
	ID                    uuid.UUID  `json:"id"`
	PaymentID             string     `json:"payment_id"`
	StripePaymentIntentID *string    `json:"stripe_payment_intent_id,omitempty"`
	StripeSessionID       *string    `json:"stripe_session_id,omitempty"`
	StripeSubscriptionID  *string    `json:"stripe_subscription_id,omitempty"`
	RegistrationID        uuid.UUID  `json:"registration_id"`
	EventID               uuid.UUID  `json:"event_id"`
	Amount                int64      `json:"amount"` // in cents
	Currency              string     `json:"currency"`
	PaymentType           string     `json:"payment_type"` // deposit | installment | final | full
	Status                string     `json:"status"`
	PreviousBalance       int64      `json:"previous_balance"` // in cents, at time of payment
	NewBalance            int64      `json:"new_balance"`      // in cents, at time of payment
	ReceiptURL            *string    `json:"receipt_url,omitempty"`
	RetryCount            int        `json:"retry_count"`
	ProcessedAt           *time.Time `json:"processed_at,omitempty"`
	FailedAt              *time.Time `json:"failed_at,omitempty"`
	RefundedAt            *time.Time `json:"refunded_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Registration is the denormalized balance aggregate for one event
// registration. Every derived field (total paid, remaining balance,
// fully-paid flag) is recomputed from the ledger, never hand-edited.
type Registration struct {
	ID                uuid.UUID  `json:"id"`
	EventID           uuid.UUID  `json:"event_id"`
	Email             string     `json:"email"`
	ReferralCode      *string    `json:"referral_code,omitempty"`
	PaymentMode       string     `json:"payment_mode"` // full | partial
	Status            string     `json:"status"`       // pending | confirmed
	TotalAmount       int64      `json:"total_amount"` // in cents, price net of discount
	TotalPaid         int64      `json:"total_paid"`
	RemainingBalance  int64      `json:"remaining_balance"`
	IsFullyPaid       bool       `json:"is_fully_paid"`
	CheckoutExpiresAt *time.Time `json:"checkout_expires_at,omitempty"`
	NextPaymentDue    *time.Time `json:"next_payment_due,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// PaymentHistoryEntry is the immutable, append-only record written when a
// payment transitions to completed. It is a denormalized copy of the
// transaction so the aggregate's history survives ledger repairs.
type PaymentHistoryEntry struct {
	ID                    uuid.UUID `json:"id"`
	RegistrationID        uuid.UUID `json:"registration_id"`
	PaymentID             string    `json:"payment_id"`
	Amount                int64     `json:"amount"`
	PaymentType           string    `json:"payment_type"`
	StripePaymentIntentID *string   `json:"stripe_payment_intent_id,omitempty"`
	ReceiptURL            *string   `json:"receipt_url,omitempty"`
	RecordedAt            time.Time `json:"recorded_at"`
}

// Event is the read-only view of a purchasable event that the payment-service
// needs: its price and the deposit/installment policy configured on it.
type Event struct {
	ID                 uuid.UUID `json:"id"`
	Title              string    `json:"title"`
	Price              int64     `json:"price"` // in cents
	Currency           string    `json:"currency"`
	MinDeposit         int64     `json:"min_deposit"`          // flat minimum, in cents; 0 = use percent
	MinDepositPercent  float64   `json:"min_deposit_percent"`  // used when MinDeposit is 0
	MinimumInstallment int64     `json:"minimum_installment"`  // in cents
	AllowPartial       bool      `json:"allow_partial"`
}

// CheckoutRequest is the DTO for initiating a registration checkout.
// Amount is a decimal string (e.g. "500.00") parsed at fixed 2-decimal precision.
type CheckoutRequest struct {
	EventID      uuid.UUID `json:"event_id"`
	Email        string    `json:"email"`
	Amount       string    `json:"amount"`
	PaymentMode  string    `json:"payment_mode"` // full | partial
	ReferralCode *string   `json:"referral_code,omitempty"`
}

// CheckoutResponse carries the gateway redirect for a freshly created checkout.
type CheckoutResponse struct {
	RegistrationID uuid.UUID `json:"registration_id"`
	PaymentID      string    `json:"payment_id"`
	CheckoutURL    string    `json:"checkout_url"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// AdditionalPaymentRequest is the DTO for an installment or final payment
// against an existing registration.
type AdditionalPaymentRequest struct {
	Amount string `json:"amount"`
}

// WebhookPayload is the inbound payment-completed notification. Delivery is
// at-least-once; the handler must be idempotent per PaymentID.
type WebhookPayload struct {
	PaymentID             string  `json:"paymentId"`
	StripePaymentIntentID string  `json:"stripePaymentIntentId"`
	ReceiptURL            *string `json:"receiptUrl,omitempty"`
}

// LedgerView is the admin inspection DTO: a registration with its full ledger.
type LedgerView struct {
	Registration *Registration         `json:"registration"`
	Payments     []PaymentRecord       `json:"payments"`
	History      []PaymentHistoryEntry `json:"history"`
}

// PaymentApplication is the result of applying a completed payment to the
// ledger and its aggregate in one transaction.
type PaymentApplication struct {
	Payment          *PaymentRecord `json:"payment"`
	Registration     *Registration  `json:"registration"`
	AlreadyCompleted bool           `json:"already_completed"`
	FirstFullyPaid   bool           `json:"first_fully_paid"`
}

// CollectorResult summarizes one abandoned-checkout collector run.
type CollectorResult struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// RecalculationResult summarizes an admin recalculation run.
type RecalculationResult struct {
	Recalculated int `json:"recalculated"`
	Corrected    int `json:"corrected"`
	Failed       int `json:"failed"`
}
