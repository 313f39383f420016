package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/daytradedak/payment-service/internal/domain"
	"github.com/daytradedak/payment-service/internal/store"
	"github.com/daytradedak/payment-service/pkg/stripegateway"
)

// fakeRepository is an in-memory store.Repository with the same idempotency
// semantics as the Postgres implementation.
type fakeRepository struct {
	events        map[uuid.UUID]*domain.Event
	registrations map[uuid.UUID]*domain.Registration
	payments      map[string]*domain.PaymentRecord
	history       []domain.PaymentHistoryEntry

	users         []domain.User
	subscriptions map[uuid.UUID]*domain.SubscriptionEntry
	subHistory    []domain.SubscriptionHistoryEntry

	createPaymentErr      error
	createRegistrationErr error
	historyErr            error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		events:        make(map[uuid.UUID]*domain.Event),
		registrations: make(map[uuid.UUID]*domain.Registration),
		payments:      make(map[string]*domain.PaymentRecord),
		subscriptions: make(map[uuid.UUID]*domain.SubscriptionEntry),
	}
}

func (f *fakeRepository) FindEventByID(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	ev, ok := f.events[eventID]
	if !ok {
		return nil, store.ErrEventNotFound
	}
	copy := *ev
	return &copy, nil
}

func (f *fakeRepository) FindRegistrationByID(ctx context.Context, registrationID uuid.UUID) (*domain.Registration, error) {
	reg, ok := f.registrations[registrationID]
	if !ok {
		return nil, store.ErrRegistrationNotFound
	}
	copy := *reg
	return &copy, nil
}

func (f *fakeRepository) FindRegistrationByEventAndEmail(ctx context.Context, eventID uuid.UUID, email string) (*domain.Registration, error) {
	for _, reg := range f.registrations {
		if reg.EventID == eventID && reg.Email == email {
			copy := *reg
			return &copy, nil
		}
	}
	return nil, store.ErrRegistrationNotFound
}

func (f *fakeRepository) CreateRegistration(ctx context.Context, reg *domain.Registration) error {
	if f.createRegistrationErr != nil {
		return f.createRegistrationErr
	}
	copy := *reg
	f.registrations[reg.ID] = &copy
	return nil
}

func (f *fakeRepository) hasCompletedPayment(registrationID uuid.UUID) bool {
	for _, p := range f.payments {
		if p.RegistrationID == registrationID && p.Status == domain.PaymentStatusCompleted {
			return true
		}
	}
	return false
}

func (f *fakeRepository) DeleteRegistrationIfUnpaid(ctx context.Context, registrationID uuid.UUID) (bool, error) {
	if _, ok := f.registrations[registrationID]; !ok {
		return false, store.ErrRegistrationNotFound
	}
	if f.hasCompletedPayment(registrationID) {
		return false, nil
	}
	delete(f.registrations, registrationID)
	for id, p := range f.payments {
		if p.RegistrationID == registrationID {
			delete(f.payments, id)
		}
	}
	return true, nil
}

func (f *fakeRepository) DeleteRegistrationCascade(ctx context.Context, registrationID uuid.UUID) error {
	delete(f.registrations, registrationID)
	for id, p := range f.payments {
		if p.RegistrationID == registrationID {
			delete(f.payments, id)
		}
	}
	return nil
}

func (f *fakeRepository) ListExpiredUnpaidRegistrations(ctx context.Context, asOf time.Time, limit int) ([]domain.Registration, error) {
	var out []domain.Registration
	for _, reg := range f.registrations {
		if reg.Status != domain.RegistrationStatusPending || reg.TotalPaid > 0 {
			continue
		}
		if reg.CheckoutExpiresAt == nil || !reg.CheckoutExpiresAt.Before(asOf) {
			continue
		}
		out = append(out, *reg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepository) ListPartialRegistrationIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, reg := range f.registrations {
		if reg.PaymentMode == domain.PaymentModePartial {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeRepository) OverwriteRegistrationBalances(ctx context.Context, registrationID uuid.UUID, summary domain.BalanceSummary, status string) error {
	reg, ok := f.registrations[registrationID]
	if !ok {
		return store.ErrRegistrationNotFound
	}
	reg.TotalPaid = summary.TotalPaid
	reg.RemainingBalance = summary.RemainingBalance
	reg.IsFullyPaid = summary.IsFullyPaid
	reg.Status = status
	return nil
}

func (f *fakeRepository) CreatePayment(ctx context.Context, payment *domain.PaymentRecord) error {
	if f.createPaymentErr != nil {
		return f.createPaymentErr
	}
	if _, exists := f.payments[payment.PaymentID]; exists {
		return store.ErrDuplicatePaymentID
	}
	copy := *payment
	f.payments[payment.PaymentID] = &copy
	return nil
}

func (f *fakeRepository) FindPaymentByPaymentID(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	copy := *p
	return &copy, nil
}

func (f *fakeRepository) ListPaymentsByRegistration(ctx context.Context, registrationID uuid.UUID) ([]domain.PaymentRecord, error) {
	var out []domain.PaymentRecord
	for _, p := range f.payments {
		if p.RegistrationID == registrationID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeRepository) ListCompletedPaymentsByRegistration(ctx context.Context, registrationID uuid.UUID) ([]domain.PaymentRecord, error) {
	var out []domain.PaymentRecord
	for _, p := range f.payments {
		if p.RegistrationID == registrationID && p.Status == domain.PaymentStatusCompleted {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeRepository) ListHistoryByRegistration(ctx context.Context, registrationID uuid.UUID) ([]domain.PaymentHistoryEntry, error) {
	var out []domain.PaymentHistoryEntry
	for _, e := range f.history {
		if e.RegistrationID == registrationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRepository) ApplyPaymentCompletion(ctx context.Context, params store.ApplyPaymentCompletionParams) (*domain.PaymentApplication, error) {
	payment, ok := f.payments[params.PaymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	reg, ok := f.registrations[payment.RegistrationID]
	if !ok {
		return nil, store.ErrRegistrationNotFound
	}

	if payment.Status != domain.PaymentStatusPending && payment.Status != domain.PaymentStatusProcessing {
		pc := *payment
		rc := *reg
		return &domain.PaymentApplication{Payment: &pc, Registration: &rc, AlreadyCompleted: true}, nil
	}

	wasFullyPaid := reg.IsFullyPaid

	payment.Status = domain.PaymentStatusCompleted
	payment.StripePaymentIntentID = &params.StripePaymentIntentID
	if params.ReceiptURL != nil {
		payment.ReceiptURL = params.ReceiptURL
	}
	payment.PreviousBalance = reg.RemainingBalance
	processedAt := params.ProcessedAt
	payment.ProcessedAt = &processedAt

	ledger, _ := f.ListCompletedPaymentsByRegistration(ctx, reg.ID)
	summary := domain.RecomputeBalances(reg.TotalAmount, ledger)
	reg.TotalPaid = summary.TotalPaid
	reg.RemainingBalance = summary.RemainingBalance
	reg.IsFullyPaid = summary.IsFullyPaid
	reg.Status = domain.RegistrationStatusConfirmed
	payment.NewBalance = summary.RemainingBalance

	f.history = append(f.history, domain.PaymentHistoryEntry{
		ID:                    uuid.New(),
		RegistrationID:        reg.ID,
		PaymentID:             payment.PaymentID,
		Amount:                payment.Amount,
		PaymentType:           payment.PaymentType,
		StripePaymentIntentID: payment.StripePaymentIntentID,
		ReceiptURL:            payment.ReceiptURL,
		RecordedAt:            processedAt,
	})

	pc := *payment
	rc := *reg
	return &domain.PaymentApplication{
		Payment:        &pc,
		Registration:   &rc,
		FirstFullyPaid: summary.IsFullyPaid && !wasFullyPaid,
	}, nil
}

func (f *fakeRepository) ListRecentCompletedSubscriptionPayments(ctx context.Context, since time.Time) ([]domain.PaymentRecord, error) {
	var out []domain.PaymentRecord
	for _, p := range f.payments {
		if p.Status == domain.PaymentStatusCompleted && p.StripeSubscriptionID != nil &&
			p.ProcessedAt != nil && !p.ProcessedAt.Before(since) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeRepository) ListUsersWithStripeCustomer(ctx context.Context, region string, limit, offset int) ([]domain.User, error) {
	if offset >= len(f.users) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.users) {
		end = len(f.users)
	}
	return append([]domain.User(nil), f.users[offset:end]...), nil
}

func (f *fakeRepository) ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]domain.SubscriptionEntry, error) {
	var out []domain.SubscriptionEntry
	for _, sub := range f.subscriptions {
		if sub.UserID == userID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeRepository) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.SubscriptionEntry, error) {
	for _, sub := range f.subscriptions {
		if sub.StripeSubscriptionID == stripeSubscriptionID {
			copy := *sub
			return &copy, nil
		}
	}
	return nil, store.ErrSubscriptionNotFound
}

func (f *fakeRepository) ListLapsedActiveSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]domain.SubscriptionEntry, error) {
	var out []domain.SubscriptionEntry
	for _, sub := range f.subscriptions {
		if sub.Status != domain.SubscriptionStatusActive {
			continue
		}
		lapsed := sub.CurrentPeriodEnd.Before(asOf) ||
			(sub.ExpiresAt != nil && sub.ExpiresAt.Before(asOf))
		if lapsed {
			out = append(out, *sub)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRepository) AdvanceSubscriptionPeriodEnd(ctx context.Context, subscriptionID uuid.UUID, newPeriodEnd time.Time) (bool, error) {
	sub, ok := f.subscriptions[subscriptionID]
	if !ok {
		return false, store.ErrSubscriptionNotFound
	}
	if !sub.CurrentPeriodEnd.Before(newPeriodEnd) {
		return false, nil
	}
	sub.CurrentPeriodEnd = newPeriodEnd
	return true, nil
}

func (f *fakeRepository) UpdateSubscription(ctx context.Context, in *domain.SubscriptionEntry) error {
	sub, ok := f.subscriptions[in.ID]
	if !ok {
		return store.ErrSubscriptionNotFound
	}
	*sub = *in
	return nil
}

func (f *fakeRepository) MarkSubscriptionExpired(ctx context.Context, subscriptionID uuid.UUID) error {
	sub, ok := f.subscriptions[subscriptionID]
	if !ok || sub.Status != domain.SubscriptionStatusActive {
		return store.ErrSubscriptionNotFound
	}
	sub.Status = domain.SubscriptionStatusExpired
	return nil
}

func (f *fakeRepository) AppendSubscriptionHistory(ctx context.Context, entry *domain.SubscriptionHistoryEntry) error {
	if f.historyErr != nil {
		return f.historyErr
	}
	f.subHistory = append(f.subHistory, *entry)
	return nil
}

var _ store.Repository = (*fakeRepository)(nil)

// fakeGateway records calls and returns canned sessions and errors.
type fakeGateway struct {
	sessionErr     error
	sessions       int
	listBySub      map[string][]stripegateway.Subscription
	cancelErr      map[string]error
	cancelledIDs   []string
	listErr        error
	sessionURL     string
	lastListedCust string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		listBySub:  make(map[string][]stripegateway.Subscription),
		cancelErr:  make(map[string]error),
		sessionURL: "https://checkout.stripe.test/session",
	}
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, params stripegateway.CheckoutSessionParams) (*stripegateway.CheckoutSession, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	f.sessions++
	return &stripegateway.CheckoutSession{
		ID:        "cs_test_" + params.PaymentID,
		URL:       f.sessionURL,
		ExpiresAt: params.ExpiresAt,
	}, nil
}

func (f *fakeGateway) ListActiveSubscriptions(ctx context.Context, customerID string) ([]stripegateway.Subscription, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.lastListedCust = customerID
	return f.listBySub[customerID], nil
}

func (f *fakeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if err, ok := f.cancelErr[subscriptionID]; ok {
		return err
	}
	f.cancelledIDs = append(f.cancelledIDs, subscriptionID)
	return nil
}

// fakePublisher records published events; Publish can be made to fail.
type fakePublisher struct {
	published  []string
	publishErr error
}

func (f *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, routingKey)
	return nil
}

func (f *fakePublisher) Close() {}
