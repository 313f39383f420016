/**
 * @description
 * This file defines the subscription-side domain models for the
 * payment-service: the per-user subscription entries kept consistent with the
 * payment gateway by the reconciliation sweeps, and the append-only history
 * log written on every state change.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subscription statuses.
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
)

// Subscription history actions.
const (
	SubscriptionActionRenewed       = "renewed"
	SubscriptionActionExpired       = "expired"
	SubscriptionActionPaymentFailed = "payment_failed"
)

// User is the simplified view of a platform user that the payment-service
// needs: their gateway customer id and region for the batched sync.
type User struct {
	ID               uuid.UUID `json:"id"`
	Email            string    `json:"email"`
	StripeCustomerID *string   `json:"stripe_customer_id,omitempty"`
	Region           string    `json:"region"`
}

// SubscriptionEntry is one plan subscription held by a user. At most one
// entry per (user, plan) may be active at any time; the gateway sync treats
// duplicates as drift and repairs them.
type SubscriptionEntry struct {
	ID                   uuid.UUID  `json:"id"`
	UserID               uuid.UUID  `json:"user_id"`
	PlanID               string     `json:"plan_id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	Status               string     `json:"status"` // active | expired | cancelled
	CurrentPeriodEnd     time.Time  `json:"current_period_end"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// SubscriptionHistoryEntry is an immutable audit record appended whenever a
// subscription entry changes state. Never mutated or deleted.
type SubscriptionHistoryEntry struct {
	ID             uuid.UUID              `json:"id"`
	UserID         uuid.UUID              `json:"user_id"`
	SubscriptionID uuid.UUID              `json:"subscription_id"`
	PlanID         string                 `json:"plan_id"`
	Action         string                 `json:"action"` // renewed | expired | payment_failed
	Price          int64                  `json:"price"`  // in cents
	EffectiveAt    time.Time              `json:"effective_at"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// TransactionSyncResult summarizes one recent-transaction sync run.
type TransactionSyncResult struct {
	Scanned         int `json:"scanned"`
	Advanced        int `json:"advanced"`
	FallbackApplied int `json:"fallback_applied"`
	Failed          int `json:"failed"`
}

// GatewaySyncResult summarizes one authoritative gateway sync run.
type GatewaySyncResult struct {
	UsersScanned       int `json:"users_scanned"`
	SubscriptionsFixed int `json:"subscriptions_fixed"`
	DuplicatesResolved int `json:"duplicates_resolved"`
	Failed             int `json:"failed"`
}

// ExpirySweepResult summarizes one subscription expiry enforcement run.
type ExpirySweepResult struct {
	Scanned      int `json:"scanned"`
	Expired      int `json:"expired"`
	CancelFailed int `json:"cancel_failed"`
}
