/**
 * @description
 * This file contains the core business logic for the payment-service. The
 * `Service` struct orchestrates the payment ledger and registration
 * aggregates, coordinating between the database repository, the Stripe
 * gateway client, and the message broker.
 *
 * Key features:
 * - Checkout initiation: pending registration + pending ledger row + hosted
 *   checkout session, with rollback when the gateway call fails.
 * - Additional (installment/final) payments with the minimum-installment rule.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/stripegateway, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daytradedak/payment-service/internal/domain"
	"github.com/daytradedak/payment-service/internal/store"
	"github.com/daytradedak/payment-service/pkg/rabbitmq"
	"github.com/daytradedak/payment-service/pkg/stripegateway"
)

var (
	ErrAmountBelowMinimum     = errors.New("amount is below the event's minimum deposit")
	ErrAmountBelowInstallment = errors.New("amount is below the minimum installment")
	ErrAmountExceedsBalance   = errors.New("amount exceeds the remaining balance")
	ErrFinalPaymentMismatch   = errors.New("final payment must equal the remaining balance exactly")
	ErrRegistrationConflict   = errors.New("a committed registration already exists for this event and email")
	ErrAlreadyFullyPaid       = errors.New("registration is already fully paid")
	ErrPartialNotAllowed      = errors.New("event does not allow partial payments")
	ErrPaymentModeMismatch    = errors.New("payment amount does not match the selected payment mode")
	ErrEmailRequired          = errors.New("email is required")
)

// Gateway is the payment-gateway surface the service depends on. The
// concrete implementation is pkg/stripegateway; tests substitute fakes.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params stripegateway.CheckoutSessionParams) (*stripegateway.CheckoutSession, error)
	ListActiveSubscriptions(ctx context.Context, customerID string) ([]stripegateway.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// Options carries the tunables injected at startup.
type Options struct {
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	DefaultCurrency    string
	CheckoutExpiry     time.Duration
	MinDepositPercent  float64
	Region             string
	GatewaySyncBatch   int
	ExpirySweepBatch   int
	CollectorBatch     int
	// Now is the injectable clock; defaults to time.Now. Sweeps and expiry
	// checks use it so scenarios can be tested deterministically.
	Now func() time.Time
}

// Service provides the core business logic for the payment ledger.
type Service struct {
	repo          store.Repository
	gateway       Gateway
	eventProducer rabbitmq.Publisher
	dedupe        *WebhookDedupe
	opts          Options
	now           func() time.Time
}

// NewService creates a new payment service instance.
func NewService(repo store.Repository, gateway Gateway, producer rabbitmq.Publisher, dedupe *WebhookDedupe, opts Options) *Service {
	if opts.CheckoutExpiry <= 0 {
		opts.CheckoutExpiry = 2 * time.Hour
	}
	if opts.MinDepositPercent <= 0 || opts.MinDepositPercent > 100 {
		opts.MinDepositPercent = 20.0
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "usd"
	}
	if opts.GatewaySyncBatch <= 0 {
		opts.GatewaySyncBatch = 100
	}
	if opts.ExpirySweepBatch <= 0 {
		opts.ExpirySweepBatch = 200
	}
	if opts.CollectorBatch <= 0 {
		opts.CollectorBatch = 200
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:          repo,
		gateway:       gateway,
		eventProducer: producer,
		dedupe:        dedupe,
		opts:          opts,
		now:           now,
	}
}

// minimumDeposit resolves the event's deposit floor: the flat minimum when
// configured, otherwise a percentage of the price (service default 20%).
func (s *Service) minimumDeposit(event *domain.Event) int64 {
	if event.MinDeposit > 0 {
		return event.MinDeposit
	}
	percent := event.MinDepositPercent
	if percent <= 0 {
		percent = s.opts.MinDepositPercent
	}
	return int64(math.Round(float64(event.Price) * percent / 100.0))
}

// InitiateCheckout creates a pending registration, a pending ledger row, and
// a gateway checkout session, returning the redirect URL. A gateway failure
// rolls the registration back so no orphan aggregate survives without a
// usable checkout path.
func (s *Service) InitiateCheckout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" {
		return nil, ErrEmailRequired
	}

	amount, err := domain.ParseAmountToCents(req.Amount)
	if err != nil {
		return nil, err
	}

	event, err := s.repo.FindEventByID(ctx, req.EventID)
	if err != nil {
		return nil, err
	}

	paymentMode := req.PaymentMode
	if paymentMode == "" {
		paymentMode = domain.PaymentModeFull
	}

	switch paymentMode {
	case domain.PaymentModeFull:
		if amount != event.Price {
			return nil, ErrPaymentModeMismatch
		}
	case domain.PaymentModePartial:
		if !event.AllowPartial {
			return nil, ErrPartialNotAllowed
		}
		if amount < s.minimumDeposit(event) {
			return nil, ErrAmountBelowMinimum
		}
		if amount > event.Price {
			return nil, ErrAmountExceedsBalance
		}
	default:
		return nil, ErrPaymentModeMismatch
	}

	// A prior registration with zero completed payments is an abandoned
	// draft, not a commitment: purge it so the email+event slot is reusable.
	existing, err := s.repo.FindRegistrationByEventAndEmail(ctx, event.ID, email)
	if err != nil && !errors.Is(err, store.ErrRegistrationNotFound) {
		return nil, fmt.Errorf("failed to check existing registration: %w", err)
	}
	if existing != nil {
		deleted, delErr := s.repo.DeleteRegistrationIfUnpaid(ctx, existing.ID)
		if delErr != nil {
			return nil, fmt.Errorf("failed to purge draft registration: %w", delErr)
		}
		if !deleted {
			return nil, ErrRegistrationConflict
		}
		log.Printf("level=info component=service flow=checkout msg=\"purged abandoned draft registration\" registration_id=%s event_id=%s", existing.ID, event.ID)
	}

	nowTS := s.now().UTC()
	expiresAt := nowTS.Add(s.opts.CheckoutExpiry)

	reg := &domain.Registration{
		ID:                uuid.New(),
		EventID:           event.ID,
		Email:             email,
		ReferralCode:      req.ReferralCode,
		PaymentMode:       paymentMode,
		Status:            domain.RegistrationStatusPending,
		TotalAmount:       event.Price,
		TotalPaid:         0,
		RemainingBalance:  event.Price,
		IsFullyPaid:       false,
		CheckoutExpiresAt: &expiresAt,
	}
	if err := s.repo.CreateRegistration(ctx, reg); err != nil {
		return nil, fmt.Errorf("failed to create registration: %w", err)
	}

	paymentID := uuid.NewString()
	session, err := s.gateway.CreateCheckoutSession(ctx, stripegateway.CheckoutSessionParams{
		PaymentID:      paymentID,
		RegistrationID: reg.ID.String(),
		EventTitle:     event.Title,
		CustomerEmail:  email,
		Amount:         amount,
		Currency:       currencyOrDefault(event.Currency, s.opts.DefaultCurrency),
		SuccessURL:     s.opts.CheckoutSuccessURL,
		CancelURL:      s.opts.CheckoutCancelURL,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		// No orphan aggregates without a usable checkout path.
		s.rollbackRegistration(ctx, reg.ID)
		return nil, fmt.Errorf("gateway checkout session failed: %w", err)
	}

	paymentType := domain.PaymentTypeFull
	if paymentMode == domain.PaymentModePartial {
		paymentType = domain.PaymentTypeDeposit
	}
	payment := &domain.PaymentRecord{
		ID:              uuid.New(),
		PaymentID:       paymentID,
		StripeSessionID: &session.ID,
		RegistrationID:  reg.ID,
		EventID:         event.ID,
		Amount:          amount,
		Currency:        currencyOrDefault(event.Currency, s.opts.DefaultCurrency),
		PaymentType:     paymentType,
		Status:          domain.PaymentStatusPending,
		PreviousBalance: event.Price,
		NewBalance:      event.Price,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		s.rollbackRegistration(ctx, reg.ID)
		return nil, fmt.Errorf("failed to create payment record: %w", err)
	}

	log.Printf("level=info component=service flow=checkout msg=\"checkout initiated\" registration_id=%s payment_id=%s amount=%s mode=%s",
		reg.ID, payment.PaymentID, domain.FormatCents(amount), paymentMode)

	return &domain.CheckoutResponse{
		RegistrationID: reg.ID,
		PaymentID:      payment.PaymentID,
		CheckoutURL:    session.URL,
		ExpiresAt:      expiresAt,
	}, nil
}

// rollbackRegistration removes a just-created registration after a downstream
// failure. The unpaid guard keeps a racing webhook completion safe.
func (s *Service) rollbackRegistration(ctx context.Context, registrationID uuid.UUID) {
	deleted, err := s.repo.DeleteRegistrationIfUnpaid(ctx, registrationID)
	if err != nil {
		log.Printf("level=error component=service flow=checkout msg=\"registration rollback failed\" registration_id=%s err=%v", registrationID, err)
		return
	}
	if !deleted {
		log.Printf("level=warn component=service flow=checkout msg=\"registration rollback skipped; completed payment present\" registration_id=%s", registrationID)
	}
}

// AddPayment creates a pending installment or final payment against an
// existing registration and opens a checkout session for it.
//
// Amount rule: when the remaining balance has dropped below the event's
// minimum installment, the request must equal the remaining balance exactly,
// forcing a clean final payment instead of leaving a sub-minimum residual.
func (s *Service) AddPayment(ctx context.Context, registrationID uuid.UUID, req domain.AdditionalPaymentRequest) (*domain.CheckoutResponse, error) {
	amount, err := domain.ParseAmountToCents(req.Amount)
	if err != nil {
		return nil, err
	}

	reg, err := s.repo.FindRegistrationByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.IsFullyPaid {
		return nil, ErrAlreadyFullyPaid
	}
	if reg.PaymentMode != domain.PaymentModePartial {
		return nil, ErrPartialNotAllowed
	}

	event, err := s.repo.FindEventByID(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}

	remaining := reg.RemainingBalance
	minInstallment := event.MinimumInstallment
	if remaining < minInstallment {
		// Sub-minimum residual: only an exact final payment is accepted.
		if amount != remaining {
			return nil, ErrFinalPaymentMismatch
		}
	} else {
		if amount < minInstallment {
			return nil, ErrAmountBelowInstallment
		}
		if amount > remaining {
			return nil, ErrAmountExceedsBalance
		}
	}

	paymentType := domain.PaymentTypeInstallment
	if amount == remaining {
		paymentType = domain.PaymentTypeFinal
	}

	nowTS := s.now().UTC()
	sessionExpiry := nowTS.Add(s.opts.CheckoutExpiry)
	paymentID := uuid.NewString()

	// Session first: a gateway failure must never leave an orphaned pending
	// ledger row behind.
	session, err := s.gateway.CreateCheckoutSession(ctx, stripegateway.CheckoutSessionParams{
		PaymentID:      paymentID,
		RegistrationID: reg.ID.String(),
		EventTitle:     event.Title,
		CustomerEmail:  reg.Email,
		Amount:         amount,
		Currency:       currencyOrDefault(event.Currency, s.opts.DefaultCurrency),
		SuccessURL:     s.opts.CheckoutSuccessURL,
		CancelURL:      s.opts.CheckoutCancelURL,
		ExpiresAt:      sessionExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway checkout session failed: %w", err)
	}

	payment := &domain.PaymentRecord{
		ID:              uuid.New(),
		PaymentID:       paymentID,
		StripeSessionID: &session.ID,
		RegistrationID:  reg.ID,
		EventID:         event.ID,
		Amount:          amount,
		Currency:        currencyOrDefault(event.Currency, s.opts.DefaultCurrency),
		PaymentType:     paymentType,
		Status:          domain.PaymentStatusPending,
		PreviousBalance: remaining,
		NewBalance:      remaining,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment record: %w", err)
	}

	log.Printf("level=info component=service flow=additional_payment msg=\"payment session created\" registration_id=%s payment_id=%s amount=%s type=%s",
		reg.ID, paymentID, domain.FormatCents(amount), paymentType)

	return &domain.CheckoutResponse{
		RegistrationID: reg.ID,
		PaymentID:      paymentID,
		CheckoutURL:    session.URL,
		ExpiresAt:      sessionExpiry,
	}, nil
}

// GetLedger returns the admin inspection view of a registration: the
// aggregate plus its full ledger and history.
func (s *Service) GetLedger(ctx context.Context, registrationID uuid.UUID) (*domain.LedgerView, error) {
	reg, err := s.repo.FindRegistrationByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPaymentsByRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListHistoryByRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	return &domain.LedgerView{Registration: reg, Payments: payments, History: history}, nil
}

// HardDeleteRegistration is the operator escape hatch: it removes a
// registration with its entire ledger and history, no guards.
func (s *Service) HardDeleteRegistration(ctx context.Context, registrationID uuid.UUID) error {
	if err := s.repo.DeleteRegistrationCascade(ctx, registrationID); err != nil {
		return err
	}
	log.Printf("level=warn component=service flow=admin msg=\"registration hard-deleted\" registration_id=%s", registrationID)
	return nil
}

func currencyOrDefault(currency, fallback string) string {
	c := strings.ToLower(strings.TrimSpace(currency))
	if c == "" {
		return fallback
	}
	return c
}
