/**
 * @description
 * This package provides the client for the Stripe payment gateway. It wraps
 * the stripe-go SDK behind a small surface the application service and the
 * reconciliation sweeps depend on: Checkout Session creation, subscription
 * listing by customer, and subscription cancellation.
 *
 * Error classification lives here so callers can treat "not found" and
 * "already cancelled" as idempotent successes during the expiry sweep without
 * inspecting SDK internals.
 *
 * @dependencies
 * - github.com/stripe/stripe-go/v76: The Stripe SDK.
 */
package stripegateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/subscription"
)

// Client is a thin wrapper over the stripe-go SDK.
type Client struct {
	callTimeout time.Duration
}

// NewClient configures the SDK with the secret key and returns a client whose
// outbound calls are bounded by callTimeout.
func NewClient(secretKey string, callTimeout time.Duration) *Client {
	stripe.Key = secretKey
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Client{callTimeout: callTimeout}
}

// CheckoutSessionParams carries everything needed to open a hosted checkout
// for one ledger payment.
type CheckoutSessionParams struct {
	PaymentID      string
	RegistrationID string
	EventTitle     string
	CustomerEmail  string
	Amount         int64 // in cents
	Currency       string
	SuccessURL     string
	CancelURL      string
	ExpiresAt      time.Time
}

// CheckoutSession is the subset of the gateway session the service persists.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// Subscription is the gateway's authoritative view of one subscription.
type Subscription struct {
	ID               string
	PlanID           string
	Status           string
	CurrentPeriodEnd time.Time
}

// CreateCheckoutSession opens a Stripe Checkout Session for a single payment.
// The payment id and registration id ride along as metadata so the webhook
// and any manual gateway inspection can be tied back to the ledger row.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Params:        stripe.Params{Context: ctx},
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:    stripe.String(p.SuccessURL),
		CancelURL:     stripe.String(p.CancelURL),
		CustomerEmail: stripe.String(p.CustomerEmail),
		ExpiresAt:     stripe.Int64(p.ExpiresAt.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(p.Currency)),
					UnitAmount: stripe.Int64(p.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.EventTitle),
					},
				},
			},
		},
	}
	params.AddMetadata("payment_id", p.PaymentID)
	params.AddMetadata("registration_id", p.RegistrationID)

	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session create failed: %w", err)
	}

	return &CheckoutSession{
		ID:        s.ID,
		URL:       s.URL,
		ExpiresAt: time.Unix(s.ExpiresAt, 0).UTC(),
	}, nil
}

// ListActiveSubscriptions returns the customer's currently-active
// subscriptions as reported by the gateway. The gateway is the source of
// truth; callers overwrite local state with what comes back here.
func (c *Client) ListActiveSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx

	var subs []Subscription
	iter := subscription.List(params)
	for iter.Next() {
		s := iter.Subscription()
		subs = append(subs, fromStripeSubscription(s))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe subscription list failed: %w", err)
	}
	return subs, nil
}

// CancelSubscription cancels a subscription at the gateway immediately.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	params := &stripe.SubscriptionCancelParams{
		Params: stripe.Params{Context: ctx},
	}
	if _, err := subscription.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("stripe subscription cancel failed: %w", err)
	}
	return nil
}

func fromStripeSubscription(s *stripe.Subscription) Subscription {
	sub := Subscription{
		ID:               s.ID,
		Status:           string(s.Status),
		CurrentPeriodEnd: time.Unix(s.CurrentPeriodEnd, 0).UTC(),
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		sub.PlanID = s.Items.Data[0].Price.ID
	}
	return sub
}

// IsNotFound reports whether the error is the gateway saying the resource
// does not exist.
func IsNotFound(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == 404
	}
	return false
}

// IsAlreadyCanceled reports whether the error is the gateway rejecting a
// cancel because the subscription is already in a canceled state. Stripe
// signals this as an invalid request rather than a dedicated code, so the
// message is inspected.
func IsAlreadyCanceled(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Type == stripe.ErrorTypeInvalidRequest &&
			strings.Contains(strings.ToLower(stripeErr.Msg), "canceled")
	}
	return false
}
